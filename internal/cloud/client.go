package cloud

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/supplied-app/supplied/internal/auth"
	apperrors "github.com/supplied-app/supplied/internal/errors"
	"github.com/supplied-app/supplied/internal/logging"
	"github.com/supplied-app/supplied/internal/models"
	"github.com/supplied-app/supplied/internal/sync/conflict"
)

// Hosted store table names, shared with the realtime change feed.
const (
	TableBuildings   = "cloud_buildings"
	TableSupplyItems = "cloud_supply_items"
	TableBuyingItems = "cloud_buying_items"
)

// Client reconciles local entities with their hosted rows. Every sync
// operation is an upsert guarded by last-write-wins: a row is looked up
// by its client-generated local_id, inserted when absent, and
// overwritten only when the local copy is at least as new.
type Client struct {
	api  rowAPI
	auth *auth.Signal
	log  *logrus.Entry
}

// NewClient builds a client against the hosted store's REST endpoint.
func NewClient(baseURL, apiKey string, token TokenSource, sig *auth.Signal, log *logrus.Logger) *Client {
	return &Client{
		api:  newRESTAPI(baseURL, apiKey, token),
		auth: sig,
		log:  logging.Component(log, "cloud"),
	}
}

func newClientWithAPI(api rowAPI, sig *auth.Signal, log *logrus.Logger) *Client {
	return &Client{api: api, auth: sig, log: logging.Component(log, "cloud")}
}

// userID returns the signed-in user, or an auth error when no session
// is active.
func (c *Client) userID() (string, error) {
	state := c.auth.Current()
	if !state.IsAuthenticated || state.UserID == "" {
		return "", apperrors.New(apperrors.ErrSyncAuthRequired, "no authenticated user")
	}
	return state.UserID, nil
}

// SyncBuilding pushes one building to the hosted store. When the hosted
// row is strictly newer the hosted version is returned unchanged and
// the result is flagged as a resolved conflict.
func (c *Client) SyncBuilding(ctx context.Context, b models.Building) models.SyncResult[models.CloudBuilding] {
	uid, err := c.userID()
	if err != nil {
		return models.Fail[models.CloudBuilding](err.Error())
	}

	existing, err := selectOne[models.CloudBuilding](ctx, c.api, TableBuildings,
		map[string]string{"local_id": b.ID, "user_id": uid})
	if err != nil {
		return models.Fail[models.CloudBuilding](err.Error())
	}

	row := models.CloudBuilding{
		LocalID:     b.ID,
		UserID:      uid,
		Name:        b.Name,
		Description: b.Description,
		Address:     b.Address,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}

	if existing == nil {
		stored, err := insertRow(ctx, c.api, TableBuildings, row)
		if err != nil {
			return models.Fail[models.CloudBuilding](err.Error())
		}
		c.log.WithField("building_id", b.ID).Debug("building created remotely")
		return models.Ok(*stored)
	}

	if out := conflict.Resolve(b.UpdatedAt, existing.UpdatedAt); out.Resolved {
		c.log.WithFields(logrus.Fields{
			"building_id": b.ID,
			"local_ts":    b.UpdatedAt,
			"remote_ts":   existing.UpdatedAt,
		}).Info("remote building newer, keeping remote version")
		result := models.Ok(*existing)
		result.ConflictResolved = true
		return result
	}

	row.ID = existing.ID
	stored, err := updateRow(ctx, c.api, TableBuildings,
		map[string]string{"id": existing.ID}, row)
	if err != nil {
		return models.Fail[models.CloudBuilding](err.Error())
	}
	return models.Ok(*stored)
}

// SyncSupplyItem pushes one supply item. The parent building must
// already exist remotely; otherwise the result carries a parent-not-
// found error and the caller should retry after the building syncs.
func (c *Client) SyncSupplyItem(ctx context.Context, item models.SupplyItem) models.SyncResult[models.CloudSupplyItem] {
	uid, err := c.userID()
	if err != nil {
		return models.Fail[models.CloudSupplyItem](err.Error())
	}

	remoteBuildingID, err := c.resolveBuildingRemoteID(ctx, item.BuildingID, uid)
	if err != nil {
		return models.Fail[models.CloudSupplyItem](err.Error())
	}

	existing, err := selectOne[models.CloudSupplyItem](ctx, c.api, TableSupplyItems,
		map[string]string{"local_id": item.ID, "building_id": remoteBuildingID})
	if err != nil {
		return models.Fail[models.CloudSupplyItem](err.Error())
	}

	row := models.CloudSupplyItem{
		BuildingID:      remoteBuildingID,
		LocalID:         item.ID,
		Name:            item.Name,
		Description:     item.Description,
		Quantity:        item.Quantity,
		Category:        item.Category,
		StorageRoom:     item.StorageRoom,
		ShoppingHint:    item.ShoppingHint,
		PreferredBrands: item.PreferredBrands,
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	}

	if existing == nil {
		stored, err := insertRow(ctx, c.api, TableSupplyItems, row)
		if err != nil {
			return models.Fail[models.CloudSupplyItem](err.Error())
		}
		return models.Ok(*stored)
	}

	if out := conflict.Resolve(item.UpdatedAt, existing.UpdatedAt); out.Resolved {
		result := models.Ok(*existing)
		result.ConflictResolved = true
		return result
	}

	row.ID = existing.ID
	stored, err := updateRow(ctx, c.api, TableSupplyItems,
		map[string]string{"id": existing.ID}, row)
	if err != nil {
		return models.Fail[models.CloudSupplyItem](err.Error())
	}
	return models.Ok(*stored)
}

// SyncBuyingItem pushes one buying item. The building link is optional;
// when present it is resolved to the remote building id first.
func (c *Client) SyncBuyingItem(ctx context.Context, item models.BuyingItem) models.SyncResult[models.CloudBuyingItem] {
	uid, err := c.userID()
	if err != nil {
		return models.Fail[models.CloudBuyingItem](err.Error())
	}

	var remoteBuildingID string
	if item.BuildingID != "" {
		remoteBuildingID, err = c.resolveBuildingRemoteID(ctx, item.BuildingID, uid)
		if err != nil {
			return models.Fail[models.CloudBuyingItem](err.Error())
		}
	}

	existing, err := selectOne[models.CloudBuyingItem](ctx, c.api, TableBuyingItems,
		map[string]string{"local_id": item.ID})
	if err != nil {
		return models.Fail[models.CloudBuyingItem](err.Error())
	}

	row := models.CloudBuyingItem{
		BuildingID:      remoteBuildingID,
		LocalID:         item.ID,
		SupplyItemID:    item.SupplyItemID,
		Name:            item.Name,
		Description:     item.Description,
		Quantity:        item.Quantity,
		ShoppingHint:    item.ShoppingHint,
		Category:        item.Category,
		StorageRoom:     item.StorageRoom,
		PreferredBrands: item.PreferredBrands,
		Notes:           item.Notes,
		IsBought:        item.IsBought,
		AddedAt:         item.AddedAt,
		BoughtAt:        item.BoughtAt,
		UpdatedAt:       item.UpdatedAt,
	}

	if existing == nil {
		stored, err := insertRow(ctx, c.api, TableBuyingItems, row)
		if err != nil {
			return models.Fail[models.CloudBuyingItem](err.Error())
		}
		return models.Ok(*stored)
	}

	if out := conflict.Resolve(item.UpdatedAt, existing.UpdatedAt); out.Resolved {
		result := models.Ok(*existing)
		result.ConflictResolved = true
		return result
	}

	row.ID = existing.ID
	stored, err := updateRow(ctx, c.api, TableBuyingItems,
		map[string]string{"id": existing.ID}, row)
	if err != nil {
		return models.Fail[models.CloudBuyingItem](err.Error())
	}
	return models.Ok(*stored)
}

// DeleteBuilding removes a building's hosted row together with its
// item rows. A building that never reached the hosted store is a
// no-op.
func (c *Client) DeleteBuilding(ctx context.Context, localID string) error {
	uid, err := c.userID()
	if err != nil {
		return err
	}

	remoteID, err := c.resolveBuildingRemoteID(ctx, localID, uid)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrParentNotFound) {
			return nil
		}
		return err
	}

	if err := c.api.Delete(ctx, TableSupplyItems, map[string]string{"building_id": remoteID}); err != nil {
		return err
	}
	if err := c.api.Delete(ctx, TableBuyingItems, map[string]string{"building_id": remoteID}); err != nil {
		return err
	}
	return c.api.Delete(ctx, TableBuildings, map[string]string{"id": remoteID})
}

// DeleteSupplyItem removes a supply item's hosted row by local id.
func (c *Client) DeleteSupplyItem(ctx context.Context, localID string) error {
	if _, err := c.userID(); err != nil {
		return err
	}
	return c.api.Delete(ctx, TableSupplyItems, map[string]string{"local_id": localID})
}

// DeleteBuyingItem removes a buying item's hosted row by local id.
func (c *Client) DeleteBuyingItem(ctx context.Context, localID string) error {
	if _, err := c.userID(); err != nil {
		return err
	}
	return c.api.Delete(ctx, TableBuyingItems, map[string]string{"local_id": localID})
}

// GetBuildings returns every building row owned by the signed-in user.
func (c *Client) GetBuildings(ctx context.Context) ([]models.CloudBuilding, error) {
	uid, err := c.userID()
	if err != nil {
		return nil, err
	}
	var rows []models.CloudBuilding
	if err := c.api.Select(ctx, TableBuildings, map[string]string{"user_id": uid}, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetSupplyItems returns the supply item rows of one remote building.
func (c *Client) GetSupplyItems(ctx context.Context, buildingRemoteID string) ([]models.CloudSupplyItem, error) {
	var rows []models.CloudSupplyItem
	if err := c.api.Select(ctx, TableSupplyItems, map[string]string{"building_id": buildingRemoteID}, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetBuyingItems returns the buying item rows of one remote building.
func (c *Client) GetBuyingItems(ctx context.Context, buildingRemoteID string) ([]models.CloudBuyingItem, error) {
	var rows []models.CloudBuyingItem
	if err := c.api.Select(ctx, TableBuyingItems, map[string]string{"building_id": buildingRemoteID}, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// MigrateLocalData walks every local building bundle and pushes it to
// the hosted store. A failed record is recorded and skipped; the walk
// continues. onProgress, when non-nil, is invoked after every building.
func (c *Client) MigrateLocalData(ctx context.Context, bundles []models.BuildingBundle, onProgress func(models.MigrationProgress)) (models.MigrationProgress, error) {
	progress := models.MigrationProgress{Total: len(bundles)}

	if _, err := c.userID(); err != nil {
		return progress, err
	}

	for _, bundle := range bundles {
		progress.Current = bundle.Building.Name

		result := c.SyncBuilding(ctx, bundle.Building)
		if !result.Success {
			progress.Errors = append(progress.Errors,
				fmt.Sprintf("building %q: %s", bundle.Building.Name, result.Error))
			progress.Completed++
			report(onProgress, progress)
			continue
		}

		for _, item := range bundle.SupplyItems {
			if r := c.SyncSupplyItem(ctx, item); !r.Success {
				progress.Errors = append(progress.Errors,
					fmt.Sprintf("supply item %q: %s", item.Name, r.Error))
			}
		}
		for _, item := range bundle.BuyingItems {
			if r := c.SyncBuyingItem(ctx, item); !r.Success {
				progress.Errors = append(progress.Errors,
					fmt.Sprintf("buying item %q: %s", item.Name, r.Error))
			}
		}

		progress.Completed++
		report(onProgress, progress)
	}

	c.log.WithFields(logrus.Fields{
		"buildings": progress.Total,
		"errors":    len(progress.Errors),
	}).Info("local data migration finished")
	return progress, nil
}

// resolveBuildingRemoteID maps a local building id to the hosted row
// id, returning a parent-not-found error when the building has not been
// synced yet.
func (c *Client) resolveBuildingRemoteID(ctx context.Context, localBuildingID, uid string) (string, error) {
	row, err := selectOne[models.CloudBuilding](ctx, c.api, TableBuildings,
		map[string]string{"local_id": localBuildingID, "user_id": uid})
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", apperrors.Newf(apperrors.ErrParentNotFound,
			"building %s has no remote row", localBuildingID)
	}
	return row.ID, nil
}

func report(onProgress func(models.MigrationProgress), p models.MigrationProgress) {
	if onProgress != nil {
		onProgress(p)
	}
}

// selectOne returns the first matching row, or nil when none match.
func selectOne[T any](ctx context.Context, api rowAPI, table string, filters map[string]string) (*T, error) {
	var rows []T
	if err := api.Select(ctx, table, filters, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// insertRow inserts one row and returns the stored representation.
func insertRow[T any](ctx context.Context, api rowAPI, table string, row T) (*T, error) {
	var rows []T
	if err := api.Insert(ctx, table, row, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &row, nil
	}
	return &rows[0], nil
}

// updateRow updates matching rows and returns the stored
// representation.
func updateRow[T any](ctx context.Context, api rowAPI, table string, filters map[string]string, row T) (*T, error) {
	var rows []T
	if err := api.Update(ctx, table, filters, row, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &row, nil
	}
	return &rows[0], nil
}
