// Package sync orchestrates reconciliation between the local store and
// the hosted store: initial migration or pull, write-through pushes,
// offline queueing, and periodic full syncs.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supplied-app/supplied/internal/auth"
	apperrors "github.com/supplied-app/supplied/internal/errors"
	"github.com/supplied-app/supplied/internal/logging"
	"github.com/supplied-app/supplied/internal/models"
	"github.com/supplied-app/supplied/internal/notify"
	"github.com/supplied-app/supplied/internal/store"
	"github.com/supplied-app/supplied/internal/sync/conflict"
	"github.com/supplied-app/supplied/internal/sync/queue"
)

// CloudSyncer is the slice of the hosted-store client the engine
// drives.
type CloudSyncer interface {
	SyncBuilding(ctx context.Context, b models.Building) models.SyncResult[models.CloudBuilding]
	SyncSupplyItem(ctx context.Context, item models.SupplyItem) models.SyncResult[models.CloudSupplyItem]
	SyncBuyingItem(ctx context.Context, item models.BuyingItem) models.SyncResult[models.CloudBuyingItem]
	DeleteBuilding(ctx context.Context, localID string) error
	DeleteSupplyItem(ctx context.Context, localID string) error
	DeleteBuyingItem(ctx context.Context, localID string) error
	GetBuildings(ctx context.Context) ([]models.CloudBuilding, error)
	GetSupplyItems(ctx context.Context, buildingRemoteID string) ([]models.CloudSupplyItem, error)
	GetBuyingItems(ctx context.Context, buildingRemoteID string) ([]models.CloudBuyingItem, error)
	MigrateLocalData(ctx context.Context, bundles []models.BuildingBundle, onProgress func(models.MigrationProgress)) (models.MigrationProgress, error)
}

const maxErrorHistory = 10

// Engine coordinates the local store, the hosted store, and the
// offline queue. At most one full sync runs at a time; overlapping
// requests return immediately.
type Engine struct {
	store    *store.Store
	cloud    CloudSyncer
	queue    *queue.Queue
	auth     *auth.Signal
	notifier notify.Notifier
	log      *logrus.Entry

	mu                gosync.Mutex
	isSyncing         bool
	online            bool
	lastSync          *time.Time
	conflictsResolved int
	errors            []string

	// onBuildingMapped, when set, learns remote-to-local building id
	// pairs as they become known. The realtime listener feeds on it.
	onBuildingMapped func(remoteID, localID string)

	unsubscribeAuth func()
}

// Options tune engine construction.
type Options struct {
	// QueueDir is where the offline queue persists its snapshot.
	QueueDir string
	// Queue tunes the offline queue.
	Queue queue.Options
}

// NewEngine builds the engine and its offline queue. The engine itself
// dispatches drained queue entries.
func NewEngine(st *store.Store, cl CloudSyncer, sig *auth.Signal, notifier notify.Notifier, log *logrus.Logger, opts Options) (*Engine, error) {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	e := &Engine{
		store:    st,
		cloud:    cl,
		auth:     sig,
		notifier: notifier,
		log:      logging.Component(log, "sync"),
	}
	q, err := queue.New(opts.QueueDir, e, log, opts.Queue)
	if err != nil {
		return nil, err
	}
	e.queue = q
	return e, nil
}

// Queue exposes the offline queue for inspection and manual retries.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// DrainQueue replays pending offline operations.
func (e *Engine) DrainQueue(ctx context.Context) {
	e.queue.Drain(ctx)
}

// IsOnline reports the last connectivity state the engine was told.
func (e *Engine) IsOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// OnBuildingMapped registers a sink for remote-to-local building id
// pairs discovered during pushes and pulls.
func (e *Engine) OnBuildingMapped(fn func(remoteID, localID string)) {
	e.mu.Lock()
	e.onBuildingMapped = fn
	e.mu.Unlock()
}

// Start begins following authentication transitions. Signing in while
// online kicks off an initial sync in the background.
func (e *Engine) Start() {
	e.unsubscribeAuth = e.auth.Subscribe(func(state auth.State) {
		if !state.IsAuthenticated {
			return
		}
		e.mu.Lock()
		online := e.online
		e.mu.Unlock()
		if online {
			go func() {
				if err := e.PerformInitialSync(context.Background()); err != nil {
					e.log.WithError(err).Warn("initial sync failed")
				}
			}()
		}
	})
}

// Stop stops following authentication transitions.
func (e *Engine) Stop() {
	if e.unsubscribeAuth != nil {
		e.unsubscribeAuth()
		e.unsubscribeAuth = nil
	}
}

// SetOnline records connectivity. Coming online drains the offline
// queue and, with an active session, runs a full sync.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	wasOnline := e.online
	e.online = online
	e.mu.Unlock()

	e.queue.SetOnline(online)

	if online && !wasOnline && e.auth.Current().IsAuthenticated {
		go func() {
			if err := e.SyncWithCloud(context.Background()); err != nil {
				e.log.WithError(err).Warn("sync after reconnect failed")
			}
		}()
	}
}

// Status reports the engine's aggregate view: connectivity, sync
// activity, pending queue depth, and the rolling error history merged
// from the engine and the queue.
func (e *Engine) Status() models.SyncStatus {
	e.mu.Lock()
	status := models.SyncStatus{
		IsOnline:          e.online,
		IsSyncing:         e.isSyncing,
		LastSync:          e.lastSync,
		ConflictsResolved: e.conflictsResolved,
	}
	errs := make([]string, len(e.errors))
	copy(errs, e.errors)
	e.mu.Unlock()

	status.PendingOperations = e.queue.Len()
	errs = append(errs, e.queue.Errors()...)
	if len(errs) > maxErrorHistory {
		errs = errs[len(errs)-maxErrorHistory:]
	}
	status.Errors = errs
	return status
}

// ClearErrors resets the rolling error history of the engine and the
// queue.
func (e *Engine) ClearErrors() {
	e.mu.Lock()
	e.errors = nil
	e.mu.Unlock()
	e.queue.ClearErrors()
}

// beginSync marks the engine as syncing and resets the per-pass
// conflict count. It reports false when another sync is already
// running.
func (e *Engine) beginSync() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isSyncing {
		return false
	}
	e.isSyncing = true
	e.conflictsResolved = 0
	return true
}

func (e *Engine) endSync() {
	now := time.Now().UTC()
	e.mu.Lock()
	e.isSyncing = false
	e.lastSync = &now
	e.mu.Unlock()
}

// pushError appends to the rolling error history.
func (e *Engine) pushError(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, msg)
	if len(e.errors) > maxErrorHistory {
		e.errors = e.errors[len(e.errors)-maxErrorHistory:]
	}
}

func (e *Engine) countConflict() {
	e.mu.Lock()
	e.conflictsResolved++
	e.mu.Unlock()
}

func (e *Engine) mapBuilding(remoteID, localID string) {
	e.mu.Lock()
	fn := e.onBuildingMapped
	e.mu.Unlock()
	if fn != nil && remoteID != "" && localID != "" {
		fn(remoteID, localID)
	}
}

// PerformInitialSync reconciles a fresh session. An empty hosted store
// receives the local data wholesale; otherwise the hosted data is
// pulled and merged. Pending offline operations drain afterwards.
func (e *Engine) PerformInitialSync(ctx context.Context) error {
	if !e.auth.Current().IsAuthenticated {
		return apperrors.New(apperrors.ErrSyncAuthRequired, "initial sync requires a session")
	}
	if !e.beginSync() {
		e.log.Debug("initial sync skipped, sync already running")
		return nil
	}
	defer e.endSync()

	remote, err := e.cloud.GetBuildings(ctx)
	if err != nil {
		e.pushError(fmt.Sprintf("initial sync: %v", err))
		e.notifier.Failure("Sync failed", err.Error())
		return apperrors.Wrap(apperrors.ErrSyncFailed, "failed to inspect hosted store", err)
	}

	if len(remote) == 0 {
		progress, err := e.migrateLocal(ctx)
		if err != nil {
			e.notifier.Failure("Migration failed", err.Error())
			return err
		}
		e.queue.Drain(ctx)
		if len(progress.Errors) > 0 {
			e.notifier.Failure("Migration completed with errors",
				fmt.Sprintf("%d of %d buildings migrated, %d errors",
					progress.Completed, progress.Total, len(progress.Errors)))
		} else {
			e.notifier.Success("Migration complete",
				fmt.Sprintf("%d buildings migrated", progress.Total))
		}
		return nil
	}

	if err := e.pullRemote(ctx, remote); err != nil {
		e.notifier.Failure("Sync failed", err.Error())
		return err
	}
	e.queue.Drain(ctx)
	e.notifier.Success("Sync complete",
		fmt.Sprintf("%d buildings synced", len(remote)))
	return nil
}

// SyncWithCloud runs a full two-way reconciliation: every local record
// is pushed under last-write-wins, then the hosted state is pulled and
// merged. Pending offline operations drain first so queued intent is
// not overwritten by the push.
func (e *Engine) SyncWithCloud(ctx context.Context) error {
	if !e.auth.Current().IsAuthenticated {
		return apperrors.New(apperrors.ErrSyncAuthRequired, "sync requires a session")
	}
	if !e.beginSync() {
		e.log.Debug("sync skipped, sync already running")
		return nil
	}
	defer e.endSync()

	e.queue.Drain(ctx)

	if err := e.pushLocal(ctx); err != nil {
		e.pushError(fmt.Sprintf("push: %v", err))
		return err
	}

	remote, err := e.cloud.GetBuildings(ctx)
	if err != nil {
		e.pushError(fmt.Sprintf("pull: %v", err))
		return apperrors.Wrap(apperrors.ErrSyncFailed, "failed to list hosted buildings", err)
	}
	if err := e.pullRemote(ctx, remote); err != nil {
		e.pushError(fmt.Sprintf("pull: %v", err))
		return err
	}
	return nil
}

// migrateLocal pushes the entire local dataset to an empty hosted
// store and reports what happened for the completion notice.
func (e *Engine) migrateLocal(ctx context.Context) (models.MigrationProgress, error) {
	bundles, err := e.localBundles()
	if err != nil {
		return models.MigrationProgress{}, err
	}

	progress, err := e.cloud.MigrateLocalData(ctx, bundles, func(p models.MigrationProgress) {
		e.log.WithFields(logrus.Fields{
			"completed": p.Completed,
			"total":     p.Total,
			"current":   p.Current,
		}).Info("migration progress")
	})
	if err != nil {
		return progress, apperrors.Wrap(apperrors.ErrMigration, "local data migration failed", err)
	}
	for _, msg := range progress.Errors {
		e.pushError("migration: " + msg)
	}

	// Unlinked buying items are not part of any bundle.
	if err := e.pushUnlinkedBuyingItems(ctx); err != nil {
		return progress, err
	}

	e.log.WithField("buildings", progress.Total).Info("local data migrated")
	return progress, nil
}

// pushLocal pushes every local record to the hosted store.
func (e *Engine) pushLocal(ctx context.Context) error {
	bundles, err := e.localBundles()
	if err != nil {
		return err
	}

	for _, bundle := range bundles {
		result := e.cloud.SyncBuilding(ctx, bundle.Building)
		if !result.Success {
			e.pushError(fmt.Sprintf("building %q: %s", bundle.Building.Name, result.Error))
			continue
		}
		e.noteBuildingResult(result)

		for _, item := range bundle.SupplyItems {
			r := e.cloud.SyncSupplyItem(ctx, item)
			e.noteSupplyResult(item, r)
		}
		for _, item := range bundle.BuyingItems {
			r := e.cloud.SyncBuyingItem(ctx, item)
			e.noteBuyingResult(item, r)
		}
	}

	return e.pushUnlinkedBuyingItems(ctx)
}

func (e *Engine) pushUnlinkedBuyingItems(ctx context.Context) error {
	items, err := e.store.GetAllBuyingItems()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to list buying items", err)
	}
	for _, item := range items {
		if item.BuildingID != "" {
			continue
		}
		r := e.cloud.SyncBuyingItem(ctx, item)
		e.noteBuyingResult(item, r)
	}
	return nil
}

// noteBuildingResult records mapping and conflict bookkeeping for one
// pushed building. A resolved conflict means the hosted version was
// newer; it is written back into the local store.
func (e *Engine) noteBuildingResult(result models.SyncResult[models.CloudBuilding]) {
	if !result.Success || result.Data == nil {
		return
	}
	e.mapBuilding(result.Data.ID, result.Data.LocalID)
	if result.ConflictResolved {
		e.countConflict()
		if err := e.store.PutBuilding(result.Data.ToLocal()); err != nil {
			e.pushError(fmt.Sprintf("building %s: %v", result.Data.LocalID, err))
		}
	}
}

func (e *Engine) noteSupplyResult(local models.SupplyItem, result models.SyncResult[models.CloudSupplyItem]) {
	if !result.Success {
		e.pushError(fmt.Sprintf("supply item %q: %s", local.Name, result.Error))
		return
	}
	if result.ConflictResolved && result.Data != nil {
		e.countConflict()
		if err := e.store.PutSupplyItem(result.Data.ToLocal(local.BuildingID)); err != nil {
			e.pushError(fmt.Sprintf("supply item %s: %v", local.ID, err))
		}
	}
}

func (e *Engine) noteBuyingResult(local models.BuyingItem, result models.SyncResult[models.CloudBuyingItem]) {
	if !result.Success {
		e.pushError(fmt.Sprintf("buying item %q: %s", local.Name, result.Error))
		return
	}
	if result.ConflictResolved && result.Data != nil {
		e.countConflict()
		if err := e.store.PutBuyingItem(result.Data.ToLocal(local.BuildingID)); err != nil {
			e.pushError(fmt.Sprintf("buying item %s: %v", local.ID, err))
		}
	}
}

// pullRemote merges hosted rows into the local store. A hosted row
// strictly newer than the local copy overwrites it and counts as a
// resolved conflict; an older row is ignored by the store's clamp.
func (e *Engine) pullRemote(ctx context.Context, remote []models.CloudBuilding) error {
	for _, row := range remote {
		e.mapBuilding(row.ID, row.LocalID)

		existing, err := e.store.GetBuilding(row.LocalID)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to read building", err)
		}
		if existing != nil && row.UpdatedAt.After(existing.UpdatedAt) {
			e.countConflict()
		}
		if existing == nil || conflict.IncomingWins(row.UpdatedAt, existing.UpdatedAt) {
			if err := e.store.PutBuilding(row.ToLocal()); err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "failed to apply building", err)
			}
		}

		if err := e.pullItems(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) pullItems(ctx context.Context, building models.CloudBuilding) error {
	supplies, err := e.cloud.GetSupplyItems(ctx, building.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncFailed, "failed to list hosted supply items", err)
	}
	for _, row := range supplies {
		existing, err := e.store.GetSupplyItem(row.LocalID)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to read supply item", err)
		}
		if existing != nil && row.UpdatedAt.After(existing.UpdatedAt) {
			e.countConflict()
		}
		if existing == nil || conflict.IncomingWins(row.UpdatedAt, existing.UpdatedAt) {
			if err := e.store.PutSupplyItem(row.ToLocal(building.LocalID)); err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "failed to apply supply item", err)
			}
		}
	}

	buying, err := e.cloud.GetBuyingItems(ctx, building.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncFailed, "failed to list hosted buying items", err)
	}
	for _, row := range buying {
		existing, err := e.store.GetBuyingItem(row.LocalID)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to read buying item", err)
		}
		if existing != nil && row.UpdatedAt.After(existing.UpdatedAt) {
			e.countConflict()
		}
		if existing == nil || conflict.IncomingWins(row.UpdatedAt, existing.UpdatedAt) {
			if err := e.store.PutBuyingItem(row.ToLocal(building.LocalID)); err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "failed to apply buying item", err)
			}
		}
	}
	return nil
}

// localBundles assembles every local building with its items.
func (e *Engine) localBundles() ([]models.BuildingBundle, error) {
	buildings, err := e.store.GetAllBuildings()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list buildings", err)
	}
	bundles := make([]models.BuildingBundle, 0, len(buildings))
	for _, b := range buildings {
		supplies, err := e.store.ListSupplyItems(b.ID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list supply items", err)
		}
		buying, err := e.store.ListBuyingItems(b.ID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list buying items", err)
		}
		bundles = append(bundles, models.BuildingBundle{
			Building:    b,
			SupplyItems: supplies,
			BuyingItems: buying,
		})
	}
	return bundles, nil
}

// canReachCloud reports whether a write-through push is possible right
// now.
func (e *Engine) canReachCloud() bool {
	e.mu.Lock()
	online := e.online
	e.mu.Unlock()
	return online && e.auth.Current().IsAuthenticated
}

// SyncBuildingToCloud pushes one building immediately when possible,
// otherwise queues it for later drain. The local write has already
// happened; this never fails the caller.
func (e *Engine) SyncBuildingToCloud(ctx context.Context, b models.Building, opType models.OperationType) {
	if !e.canReachCloud() {
		e.queue.EnqueueBuilding(opType, b)
		return
	}
	result := e.cloud.SyncBuilding(ctx, b)
	if !result.Success {
		e.log.WithField("building_id", b.ID).Debug("push failed, queueing")
		e.queue.EnqueueBuilding(opType, b)
		return
	}
	e.noteBuildingResult(result)
}

// SyncSupplyItemToCloud pushes one supply item, queueing on failure.
func (e *Engine) SyncSupplyItemToCloud(ctx context.Context, item models.SupplyItem, opType models.OperationType) {
	if !e.canReachCloud() {
		e.queue.EnqueueSupplyItem(opType, item)
		return
	}
	result := e.cloud.SyncSupplyItem(ctx, item)
	if !result.Success {
		e.log.WithField("item_id", item.ID).Debug("push failed, queueing")
		e.queue.EnqueueSupplyItem(opType, item)
		return
	}
	e.noteSupplyResult(item, result)
}

// SyncBuyingItemToCloud pushes one buying item, queueing on failure.
func (e *Engine) SyncBuyingItemToCloud(ctx context.Context, item models.BuyingItem, opType models.OperationType) {
	if !e.canReachCloud() {
		e.queue.EnqueueBuyingItem(opType, item)
		return
	}
	result := e.cloud.SyncBuyingItem(ctx, item)
	if !result.Success {
		e.log.WithField("item_id", item.ID).Debug("push failed, queueing")
		e.queue.EnqueueBuyingItem(opType, item)
		return
	}
	e.noteBuyingResult(item, result)
}

// DeleteFromCloud propagates a local deletion, queueing on failure.
func (e *Engine) DeleteFromCloud(ctx context.Context, entity models.EntityType, entityID, buildingID string) {
	if !e.canReachCloud() {
		e.queue.EnqueueDelete(entity, entityID, buildingID)
		return
	}
	if err := e.deleteRemote(ctx, entity, entityID); err != nil {
		e.log.WithError(err).WithField("entity_id", entityID).Debug("remote delete failed, queueing")
		e.queue.EnqueueDelete(entity, entityID, buildingID)
	}
}

func (e *Engine) deleteRemote(ctx context.Context, entity models.EntityType, entityID string) error {
	switch entity {
	case models.EntityBuilding:
		return e.cloud.DeleteBuilding(ctx, entityID)
	case models.EntitySupplyItem:
		return e.cloud.DeleteSupplyItem(ctx, entityID)
	case models.EntityBuyingItem:
		return e.cloud.DeleteBuyingItem(ctx, entityID)
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown entity type %q", entity)
	}
}

// Dispatch replays one drained queue entry against the hosted store.
// It implements queue.Dispatcher.
func (e *Engine) Dispatch(ctx context.Context, op models.QueuedOperation) error {
	switch op.Type {
	case models.OperationDelete:
		return e.deleteRemote(ctx, op.Entity, op.EntityID)
	case models.OperationCreate, models.OperationUpdate:
		return e.dispatchUpsert(ctx, op)
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown operation type %q", op.Type)
	}
}

func (e *Engine) dispatchUpsert(ctx context.Context, op models.QueuedOperation) error {
	if op.Data == nil {
		return apperrors.Newf(apperrors.ErrInvalid, "queued %s for %s carries no payload", op.Type, op.EntityID)
	}
	switch op.Entity {
	case models.EntityBuilding:
		if op.Data.Building == nil {
			return apperrors.Newf(apperrors.ErrInvalid, "queued building %s carries no payload", op.EntityID)
		}
		result := e.cloud.SyncBuilding(ctx, *op.Data.Building)
		if !result.Success {
			return apperrors.New(apperrors.ErrSyncFailed, result.Error)
		}
		e.noteBuildingResult(result)
		return nil
	case models.EntitySupplyItem:
		if op.Data.SupplyItem == nil {
			return apperrors.Newf(apperrors.ErrInvalid, "queued supply item %s carries no payload", op.EntityID)
		}
		result := e.cloud.SyncSupplyItem(ctx, *op.Data.SupplyItem)
		if !result.Success {
			return apperrors.New(apperrors.ErrSyncFailed, result.Error)
		}
		e.noteSupplyResult(*op.Data.SupplyItem, result)
		return nil
	case models.EntityBuyingItem:
		if op.Data.BuyingItem == nil {
			return apperrors.Newf(apperrors.ErrInvalid, "queued buying item %s carries no payload", op.EntityID)
		}
		result := e.cloud.SyncBuyingItem(ctx, *op.Data.BuyingItem)
		if !result.Success {
			return apperrors.New(apperrors.ErrSyncFailed, result.Error)
		}
		e.noteBuyingResult(*op.Data.BuyingItem, result)
		return nil
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown entity type %q", op.Entity)
	}
}
