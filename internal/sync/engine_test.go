package sync

import (
	"context"
	"fmt"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/supplied-app/supplied/internal/auth"
	apperrors "github.com/supplied-app/supplied/internal/errors"
	"github.com/supplied-app/supplied/internal/logging"
	"github.com/supplied-app/supplied/internal/models"
	"github.com/supplied-app/supplied/internal/store"
	"github.com/supplied-app/supplied/internal/sync/queue"
)

// fakeCloud is an in-memory CloudSyncer with the same last-write-wins
// behavior as the real client.
type fakeCloud struct {
	mu        gosync.Mutex
	buildings map[string]models.CloudBuilding  // keyed by local id
	supplies  map[string]models.CloudSupplyItem
	buying    map[string]models.CloudBuyingItem
	nextID    int
	failAll   bool
	failSync  map[string]bool // SyncBuilding fails for these local ids
	listCalls int
	release   chan struct{} // when set, GetBuildings blocks until closed
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		buildings: make(map[string]models.CloudBuilding),
		supplies:  make(map[string]models.CloudSupplyItem),
		buying:    make(map[string]models.CloudBuyingItem),
	}
}

func (f *fakeCloud) assignID() string {
	f.nextID++
	return fmt.Sprintf("remote-%d", f.nextID)
}

func (f *fakeCloud) SyncBuilding(ctx context.Context, b models.Building) models.SyncResult[models.CloudBuilding] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failSync[b.ID] {
		return models.Fail[models.CloudBuilding]("remote unavailable")
	}
	existing, ok := f.buildings[b.ID]
	if ok && existing.UpdatedAt.After(b.UpdatedAt) {
		result := models.Ok(existing)
		result.ConflictResolved = true
		return result
	}
	row := models.CloudBuilding{
		ID: existing.ID, LocalID: b.ID, UserID: "user-1",
		Name: b.Name, Description: b.Description, Address: b.Address,
		CreatedAt: b.CreatedAt, UpdatedAt: b.UpdatedAt,
	}
	if !ok {
		row.ID = f.assignID()
	}
	f.buildings[b.ID] = row
	return models.Ok(row)
}

func (f *fakeCloud) SyncSupplyItem(ctx context.Context, item models.SupplyItem) models.SyncResult[models.CloudSupplyItem] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return models.Fail[models.CloudSupplyItem]("remote unavailable")
	}
	parent, ok := f.buildings[item.BuildingID]
	if !ok {
		return models.Fail[models.CloudSupplyItem](
			apperrors.Newf(apperrors.ErrParentNotFound, "building %s has no remote row", item.BuildingID).Error())
	}
	existing, ok := f.supplies[item.ID]
	if ok && existing.UpdatedAt.After(item.UpdatedAt) {
		result := models.Ok(existing)
		result.ConflictResolved = true
		return result
	}
	row := models.CloudSupplyItem{
		ID: existing.ID, BuildingID: parent.ID, LocalID: item.ID,
		Name: item.Name, Description: item.Description, Quantity: item.Quantity,
		Category: item.Category, StorageRoom: item.StorageRoom, ShoppingHint: item.ShoppingHint,
		PreferredBrands: item.PreferredBrands, CreatedAt: item.CreatedAt, UpdatedAt: item.UpdatedAt,
	}
	if !ok {
		row.ID = f.assignID()
	}
	f.supplies[item.ID] = row
	return models.Ok(row)
}

func (f *fakeCloud) SyncBuyingItem(ctx context.Context, item models.BuyingItem) models.SyncResult[models.CloudBuyingItem] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return models.Fail[models.CloudBuyingItem]("remote unavailable")
	}
	var remoteBuilding string
	if item.BuildingID != "" {
		parent, ok := f.buildings[item.BuildingID]
		if !ok {
			return models.Fail[models.CloudBuyingItem](
				apperrors.Newf(apperrors.ErrParentNotFound, "building %s has no remote row", item.BuildingID).Error())
		}
		remoteBuilding = parent.ID
	}
	existing, ok := f.buying[item.ID]
	if ok && existing.UpdatedAt.After(item.UpdatedAt) {
		result := models.Ok(existing)
		result.ConflictResolved = true
		return result
	}
	row := models.CloudBuyingItem{
		ID: existing.ID, BuildingID: remoteBuilding, LocalID: item.ID, SupplyItemID: item.SupplyItemID,
		Name: item.Name, Quantity: item.Quantity, Notes: item.Notes,
		IsBought: item.IsBought, AddedAt: item.AddedAt, BoughtAt: item.BoughtAt, UpdatedAt: item.UpdatedAt,
	}
	if !ok {
		row.ID = f.assignID()
	}
	f.buying[item.ID] = row
	return models.Ok(row)
}

func (f *fakeCloud) DeleteBuilding(ctx context.Context, localID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("remote unavailable")
	}
	delete(f.buildings, localID)
	return nil
}

func (f *fakeCloud) DeleteSupplyItem(ctx context.Context, localID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("remote unavailable")
	}
	delete(f.supplies, localID)
	return nil
}

func (f *fakeCloud) DeleteBuyingItem(ctx context.Context, localID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("remote unavailable")
	}
	delete(f.buying, localID)
	return nil
}

func (f *fakeCloud) GetBuildings(ctx context.Context) ([]models.CloudBuilding, error) {
	f.mu.Lock()
	release := f.release
	f.listCalls++
	f.mu.Unlock()
	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, fmt.Errorf("remote unavailable")
	}
	rows := make([]models.CloudBuilding, 0, len(f.buildings))
	for _, row := range f.buildings {
		rows = append(rows, row)
	}
	return rows, nil
}

func (f *fakeCloud) GetSupplyItems(ctx context.Context, buildingRemoteID string) ([]models.CloudSupplyItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []models.CloudSupplyItem
	for _, row := range f.supplies {
		if row.BuildingID == buildingRemoteID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (f *fakeCloud) GetBuyingItems(ctx context.Context, buildingRemoteID string) ([]models.CloudBuyingItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []models.CloudBuyingItem
	for _, row := range f.buying {
		if row.BuildingID == buildingRemoteID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (f *fakeCloud) MigrateLocalData(ctx context.Context, bundles []models.BuildingBundle, onProgress func(models.MigrationProgress)) (models.MigrationProgress, error) {
	progress := models.MigrationProgress{Total: len(bundles)}
	for _, bundle := range bundles {
		if r := f.SyncBuilding(ctx, bundle.Building); !r.Success {
			progress.Errors = append(progress.Errors, r.Error)
			progress.Completed++
			continue
		}
		for _, item := range bundle.SupplyItems {
			if r := f.SyncSupplyItem(ctx, item); !r.Success {
				progress.Errors = append(progress.Errors, r.Error)
			}
		}
		for _, item := range bundle.BuyingItems {
			if r := f.SyncBuyingItem(ctx, item); !r.Success {
				progress.Errors = append(progress.Errors, r.Error)
			}
		}
		progress.Completed++
		if onProgress != nil {
			onProgress(progress)
		}
	}
	return progress, nil
}

func (f *fakeCloud) buildingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buildings)
}

// recordingNotifier captures sync notices as "title: detail" strings.
type recordingNotifier struct {
	mu        gosync.Mutex
	successes []string
	failures  []string
}

func (n *recordingNotifier) Success(title, detail string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, title+": "+detail)
}

func (n *recordingNotifier) Failure(title, detail string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, title+": "+detail)
}

func (n *recordingNotifier) last(list *[]string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(*list) == 0 {
		return ""
	}
	return (*list)[len(*list)-1]
}

type engineFixture struct {
	engine   *Engine
	store    *store.Store
	cloud    *fakeCloud
	auth     *auth.Signal
	notifier *recordingNotifier
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	st, err := store.Open(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sig := auth.NewSignal()
	sig.Set(auth.State{IsAuthenticated: true, UserID: "user-1"})

	cl := newFakeCloud()
	n := &recordingNotifier{}
	e, err := NewEngine(st, cl, sig, n, logging.Discard(), Options{
		QueueDir: t.TempDir(),
		Queue:    queue.Options{DrainDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return &engineFixture{engine: e, store: st, cloud: cl, auth: sig, notifier: n}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// goOnline flips the engine online and waits for the automatic
// reconnect sync pass to finish, so a later explicit sync call does
// not collide with it on the re-entrant guard.
func (fx *engineFixture) goOnline(t *testing.T) {
	t.Helper()
	fx.engine.SetOnline(true)
	waitFor(t, func() bool {
		fx.cloud.mu.Lock()
		calls := fx.cloud.listCalls
		fx.cloud.mu.Unlock()
		return calls >= 1 && !fx.engine.Status().IsSyncing
	})
}

func TestOfflineWriteQueuesAndDrainsOnReconnect(t *testing.T) {
	fx := newEngineFixture(t)

	b, err := fx.store.CreateBuilding(store.CreateBuilding{Name: "Home"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Offline: the push lands in the queue, not the cloud.
	fx.engine.SyncBuildingToCloud(context.Background(), *b, models.OperationCreate)
	if fx.cloud.buildingCount() != 0 {
		t.Fatal("offline push must not reach the cloud")
	}
	if fx.engine.Status().PendingOperations != 1 {
		t.Fatalf("expected 1 queued operation, got %d", fx.engine.Status().PendingOperations)
	}

	fx.engine.SetOnline(true)
	waitFor(t, func() bool { return fx.cloud.buildingCount() == 1 })
	waitFor(t, func() bool { return fx.engine.Status().PendingOperations == 0 })
}

func TestWriteThroughPushesWhenOnline(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.SetOnline(true)

	b, _ := fx.store.CreateBuilding(store.CreateBuilding{Name: "Home"})
	fx.engine.SyncBuildingToCloud(context.Background(), *b, models.OperationCreate)

	if fx.cloud.buildingCount() != 1 {
		t.Fatal("online push must reach the cloud directly")
	}
	if n := fx.engine.Status().PendingOperations; n != 0 {
		t.Fatalf("online push must not queue, got %d pending", n)
	}
}

func TestPushFailureFallsBackToQueue(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.SetOnline(true)
	fx.cloud.failAll = true

	b, _ := fx.store.CreateBuilding(store.CreateBuilding{Name: "Home"})
	fx.engine.SyncBuildingToCloud(context.Background(), *b, models.OperationCreate)

	waitFor(t, func() bool { return fx.engine.Status().PendingOperations >= 1 })
}

func TestInitialSyncMigratesToEmptyCloud(t *testing.T) {
	fx := newEngineFixture(t)
	fx.goOnline(t)

	b, _ := fx.store.CreateBuilding(store.CreateBuilding{Name: "Home"})
	if _, err := fx.store.CreateSupplyItem(store.CreateSupplyItem{BuildingID: b.ID, Name: "Soap"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := fx.engine.PerformInitialSync(context.Background()); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}
	if fx.cloud.buildingCount() != 1 {
		t.Fatal("building not migrated")
	}
	fx.cloud.mu.Lock()
	supplies := len(fx.cloud.supplies)
	fx.cloud.mu.Unlock()
	if supplies != 1 {
		t.Fatalf("expected 1 migrated supply item, got %d", supplies)
	}
	if fx.engine.Status().LastSync == nil {
		t.Fatal("last sync time not recorded")
	}
	if got := fx.notifier.last(&fx.notifier.successes); !strings.Contains(got, "1 buildings migrated") {
		t.Fatalf("completion notice lacks the migrated count: %q", got)
	}
}

func TestMigrationErrorsNotifiedWithCounts(t *testing.T) {
	fx := newEngineFixture(t)
	fx.goOnline(t)

	if _, err := fx.store.CreateBuilding(store.CreateBuilding{Name: "Home"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	bad, _ := fx.store.CreateBuilding(store.CreateBuilding{Name: "Cottage"})
	fx.cloud.mu.Lock()
	fx.cloud.failSync = map[string]bool{bad.ID: true}
	fx.cloud.mu.Unlock()

	if err := fx.engine.PerformInitialSync(context.Background()); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}

	got := fx.notifier.last(&fx.notifier.failures)
	if !strings.Contains(got, "2 of 2 buildings migrated") || !strings.Contains(got, "1 errors") {
		t.Fatalf("partial-failure notice lacks counts: %q", got)
	}
	if fx.notifier.last(&fx.notifier.successes) != "" {
		t.Fatalf("partial failure must not read as a clean success: %q",
			fx.notifier.last(&fx.notifier.successes))
	}
}

func TestInitialSyncPullsExistingCloudData(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.SetOnline(true)

	now := time.Now().UTC().Truncate(time.Millisecond)
	fx.cloud.buildings["b-1"] = models.CloudBuilding{
		ID: "remote-1", LocalID: "b-1", UserID: "user-1", Name: "Cottage",
		CreatedAt: now, UpdatedAt: now,
	}
	fx.cloud.supplies["s-1"] = models.CloudSupplyItem{
		ID: "remote-2", BuildingID: "remote-1", LocalID: "s-1", Name: "Firewood",
		CreatedAt: now, UpdatedAt: now,
	}

	var mapped [][2]string
	var mu gosync.Mutex
	fx.engine.OnBuildingMapped(func(remoteID, localID string) {
		mu.Lock()
		mapped = append(mapped, [2]string{remoteID, localID})
		mu.Unlock()
	})

	if err := fx.engine.PerformInitialSync(context.Background()); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}

	b, err := fx.store.GetBuilding("b-1")
	if err != nil || b == nil || b.Name != "Cottage" {
		t.Fatalf("building not pulled: %+v err=%v", b, err)
	}
	item, err := fx.store.GetSupplyItem("s-1")
	if err != nil || item == nil || item.BuildingID != "b-1" {
		t.Fatalf("supply item not pulled or not remapped: %+v err=%v", item, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(mapped) == 0 || mapped[0] != [2]string{"remote-1", "b-1"} {
		t.Fatalf("building mapping not reported: %v", mapped)
	}
	if got := fx.notifier.last(&fx.notifier.successes); !strings.Contains(got, "1 buildings synced") {
		t.Fatalf("completion notice lacks the synced count: %q", got)
	}
}

func TestConflictCountResetsEachSyncPass(t *testing.T) {
	fx := newEngineFixture(t)
	fx.goOnline(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	if err := fx.store.PutBuilding(models.Building{ID: "b-1", Name: "Old name", CreatedAt: base, UpdatedAt: base}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	fx.cloud.buildings["b-1"] = models.CloudBuilding{
		ID: "remote-1", LocalID: "b-1", UserID: "user-1", Name: "New name",
		CreatedAt: base, UpdatedAt: base.Add(time.Minute),
	}

	if err := fx.engine.SyncWithCloud(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if fx.engine.Status().ConflictsResolved != 1 {
		t.Fatalf("expected 1 conflict in the first pass, got %d", fx.engine.Status().ConflictsResolved)
	}

	// Both sides now agree; the next pass starts its count at zero.
	if err := fx.engine.SyncWithCloud(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if got := fx.engine.Status().ConflictsResolved; got != 0 {
		t.Fatalf("conflict count carried over between passes: %d", got)
	}
}

func TestTwoDeviceLastWriteWins(t *testing.T) {
	fx := newEngineFixture(t)
	fx.goOnline(t)

	base := time.Now().UTC().Truncate(time.Millisecond)

	// This device wrote earlier; another device pushed a newer rename.
	if err := fx.store.PutBuilding(models.Building{ID: "b-1", Name: "Old name", CreatedAt: base, UpdatedAt: base}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	fx.cloud.buildings["b-1"] = models.CloudBuilding{
		ID: "remote-1", LocalID: "b-1", UserID: "user-1", Name: "New name",
		CreatedAt: base, UpdatedAt: base.Add(time.Minute),
	}

	if err := fx.engine.SyncWithCloud(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	b, _ := fx.store.GetBuilding("b-1")
	if b.Name != "New name" {
		t.Fatalf("newer remote edit lost: %+v", b)
	}
	if fx.engine.Status().ConflictsResolved == 0 {
		t.Fatal("resolved conflict not counted")
	}

	// The losing write must not have overwritten the cloud.
	fx.cloud.mu.Lock()
	remote := fx.cloud.buildings["b-1"]
	fx.cloud.mu.Unlock()
	if remote.Name != "New name" {
		t.Fatalf("stale local write clobbered the cloud: %+v", remote)
	}
}

func TestTwoDeviceQuantityConflict(t *testing.T) {
	fx := newEngineFixture(t)
	fx.goOnline(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	fx.cloud.buildings["b-1"] = models.CloudBuilding{
		ID: "remote-1", LocalID: "b-1", UserID: "user-1", Name: "Home",
		CreatedAt: base, UpdatedAt: base,
	}
	if err := fx.store.PutBuilding(models.Building{ID: "b-1", Name: "Home", CreatedAt: base, UpdatedAt: base}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// This device set quantity 2; another device later set 5.
	if err := fx.store.PutSupplyItem(models.SupplyItem{
		ID: "s-1", BuildingID: "b-1", Name: "Soap", Quantity: 2,
		CreatedAt: base, UpdatedAt: base.Add(time.Second),
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	fx.cloud.supplies["s-1"] = models.CloudSupplyItem{
		ID: "remote-2", BuildingID: "remote-1", LocalID: "s-1", Name: "Soap", Quantity: 5,
		CreatedAt: base, UpdatedAt: base.Add(time.Minute),
	}

	if err := fx.engine.SyncWithCloud(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	item, _ := fx.store.GetSupplyItem("s-1")
	if item.Quantity != 5 {
		t.Fatalf("later quantity edit lost: %+v", item)
	}
	fx.cloud.mu.Lock()
	remote := fx.cloud.supplies["s-1"]
	fx.cloud.mu.Unlock()
	if remote.Quantity != 5 {
		t.Fatalf("stale quantity clobbered the cloud: %+v", remote)
	}
	if fx.engine.Status().ConflictsResolved == 0 {
		t.Fatal("resolved conflict not counted")
	}
}

func TestLocalNewerEditWinsOnSync(t *testing.T) {
	fx := newEngineFixture(t)
	fx.goOnline(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	fx.cloud.buildings["b-1"] = models.CloudBuilding{
		ID: "remote-1", LocalID: "b-1", UserID: "user-1", Name: "Old name",
		CreatedAt: base, UpdatedAt: base,
	}
	if err := fx.store.PutBuilding(models.Building{ID: "b-1", Name: "Fresh name", CreatedAt: base, UpdatedAt: base.Add(time.Minute)}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := fx.engine.SyncWithCloud(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	fx.cloud.mu.Lock()
	remote := fx.cloud.buildings["b-1"]
	fx.cloud.mu.Unlock()
	if remote.Name != "Fresh name" {
		t.Fatalf("newer local edit lost: %+v", remote)
	}
	b, _ := fx.store.GetBuilding("b-1")
	if b.Name != "Fresh name" {
		t.Fatalf("pull reverted the newer local edit: %+v", b)
	}
}

func TestOverlappingSyncsRunOnce(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.SetOnline(true)

	release := make(chan struct{})
	fx.cloud.mu.Lock()
	fx.cloud.release = release
	fx.cloud.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- fx.engine.SyncWithCloud(context.Background()) }()

	waitFor(t, func() bool { return fx.engine.Status().IsSyncing })

	// A second sync while the first is in flight returns immediately.
	if err := fx.engine.SyncWithCloud(context.Background()); err != nil {
		t.Fatalf("overlapping sync errored: %v", err)
	}

	fx.cloud.mu.Lock()
	fx.cloud.release = nil
	calls := fx.cloud.listCalls
	fx.cloud.mu.Unlock()
	if calls != 1 {
		t.Fatalf("overlapping sync reached the cloud: %d list calls", calls)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if fx.engine.Status().IsSyncing {
		t.Fatal("sync flag not cleared")
	}
}

func TestSyncRequiresSession(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.SetOnline(true)
	fx.auth.Set(auth.State{})

	err := fx.engine.SyncWithCloud(context.Background())
	if !apperrors.Is(err, apperrors.ErrSyncAuthRequired) {
		t.Fatalf("expected auth error, got %v", err)
	}
	err = fx.engine.PerformInitialSync(context.Background())
	if !apperrors.Is(err, apperrors.ErrSyncAuthRequired) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestQueuedDeleteReachesCloud(t *testing.T) {
	fx := newEngineFixture(t)

	fx.cloud.buildings["b-1"] = models.CloudBuilding{ID: "remote-1", LocalID: "b-1", UserID: "user-1"}
	fx.engine.DeleteFromCloud(context.Background(), models.EntityBuilding, "b-1", "")
	if fx.cloud.buildingCount() != 1 {
		t.Fatal("offline delete must not reach the cloud")
	}

	fx.engine.SetOnline(true)
	waitFor(t, func() bool { return fx.cloud.buildingCount() == 0 })
}

func TestSignInWhileOnlineTriggersInitialSync(t *testing.T) {
	fx := newEngineFixture(t)
	fx.auth.Set(auth.State{})
	fx.engine.Start()
	defer fx.engine.Stop()
	fx.engine.SetOnline(true)

	if _, err := fx.store.CreateBuilding(store.CreateBuilding{Name: "Home"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	fx.auth.Set(auth.State{IsAuthenticated: true, UserID: "user-1"})
	waitFor(t, func() bool { return fx.cloud.buildingCount() == 1 })
}

func TestStatusMergesQueueErrors(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.SetOnline(true)
	fx.cloud.failAll = true

	b, _ := fx.store.CreateBuilding(store.CreateBuilding{Name: "Home"})
	fx.engine.SyncBuildingToCloud(context.Background(), *b, models.OperationCreate)

	// Exhaust the entry's retry budget. Drain is a no-op while the
	// auto-drain from the enqueue is still running, so keep at it.
	deadline := time.Now().Add(2 * time.Second)
	for fx.engine.Queue().Len() > 0 && time.Now().Before(deadline) {
		fx.engine.Queue().Drain(context.Background())
		time.Sleep(10 * time.Millisecond)
	}
	waitFor(t, func() bool { return fx.engine.Queue().Len() == 0 })

	status := fx.engine.Status()
	if len(status.Errors) == 0 {
		t.Fatalf("exhausted queue entry missing from status: %+v", status)
	}

	fx.engine.ClearErrors()
	if len(fx.engine.Status().Errors) != 0 {
		t.Fatal("errors not cleared")
	}
}
