package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// InventoryRun is one full-warehouse counting campaign. A business has at
// most one ACTIVE run at a time; finalized and cancelled runs are retained as
// history.
type InventoryRun struct {
	ID            int                `gorm:"primary_key" json:"id"`
	BusinessId    string             `gorm:"index;not null" json:"business_id"`
	WarehouseId   int                `gorm:"not null" json:"warehouse_id"`
	Description   string             `gorm:"type:text" json:"description"`
	CurrentStatus InventoryRunStatus `gorm:"type:enum('ACTIVE','FINALIZED','CANCELLED');not null" json:"current_status"`
	// ActiveKey turns the single-active-run rule into a unique index: the key
	// is the bare business id while the run is ACTIVE and becomes
	// "<business_id>:<id>" when the run closes, freeing the slot.
	ActiveKey    string        `gorm:"size:100;uniqueIndex" json:"-"`
	SectorCounts []SectorCount `gorm:"foreignKey:InventoryRunId" json:"sector_counts"`
	CreatedBy    int           `gorm:"not null" json:"created_by"`
	ClosedBy     int           `json:"closed_by"`
	ClosedAt     *time.Time    `json:"closed_at"`
	CreatedAt    time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInventoryRun struct {
	WarehouseId int    `json:"warehouse_id" validate:"required"`
	Description string `json:"description"`
}

/*
caches:
	ActiveRun:$businessId
*/

func ActiveRunCacheKey(businessId string) string {
	return "ActiveRun:" + businessId
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// CreateInventoryRun opens a counting campaign and one sector count per
// active sector of the warehouse. Fails with a CONSISTENCY error while
// another run is still ACTIVE; the ActiveKey unique index backs the check
// against concurrent creates.
func CreateInventoryRun(ctx context.Context, input *NewInventoryRun) (*InventoryRun, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, utils.NewValidationError("user id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Warehouse](ctx, businessId, input.WarehouseId); err != nil {
		return nil, utils.NewValidationError("warehouse not found")
	}

	active, err := utils.ResourceCountWhere[InventoryRun](ctx, businessId, "current_status = ?", InventoryRunStatusActive)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, utils.NewConsistencyError("an active inventory run already exists for this business")
	}

	sectors, err := ListActiveSectors(ctx, businessId, input.WarehouseId)
	if err != nil {
		return nil, err
	}
	if len(sectors) == 0 {
		return nil, utils.NewValidationError("warehouse has no active sectors to count")
	}

	sectorCounts := make([]SectorCount, 0, len(sectors))
	for _, sector := range sectors {
		sectorCounts = append(sectorCounts, SectorCount{
			BusinessId:        businessId,
			SectorId:          sector.ID,
			Counter1Finalized: utils.NewFalse(),
			Counter2Finalized: utils.NewFalse(),
		})
	}

	run := InventoryRun{
		BusinessId:    businessId,
		WarehouseId:   input.WarehouseId,
		Description:   input.Description,
		CurrentStatus: InventoryRunStatusActive,
		ActiveKey:     businessId,
		SectorCounts:  sectorCounts,
		CreatedBy:     userId,
	}

	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, utils.NewConsistencyError("an active inventory run already exists for this business")
		}
		return nil, err
	}

	if err := config.SetRedisValue(ActiveRunCacheKey(businessId), strconv.Itoa(run.ID), 0); err != nil {
		return nil, err
	}
	return &run, nil
}

func GetInventoryRun(ctx context.Context, runId int) (*InventoryRun, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	var run InventoryRun
	if err := db.WithContext(ctx).Preload("SectorCounts").
		Where("business_id = ? AND id = ?", businessId, runId).
		First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewNotFoundError("inventory run not found")
		}
		return nil, err
	}
	return &run, nil
}

// GetActiveInventoryRun returns the business's ACTIVE run, or a NOT_FOUND
// error when none is open. Redis fast path, DB authoritative.
func GetActiveInventoryRun(ctx context.Context) (*InventoryRun, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if cached, exists, err := config.GetRedisValue(ActiveRunCacheKey(businessId)); err == nil && exists {
		if runId, convErr := strconv.Atoi(cached); convErr == nil {
			run, err := GetInventoryRun(ctx, runId)
			if err == nil && run.CurrentStatus == InventoryRunStatusActive {
				return run, nil
			}
			// Stale cache entry: fall through to the DB and repair below.
			_ = config.RemoveRedisKey(ActiveRunCacheKey(businessId))
		}
	}

	var run InventoryRun
	if err := db.WithContext(ctx).Preload("SectorCounts").
		Where("business_id = ? AND current_status = ?", businessId, InventoryRunStatusActive).
		First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewNotFoundError("no active inventory run")
		}
		return nil, err
	}
	if err := config.SetRedisValue(ActiveRunCacheKey(businessId), strconv.Itoa(run.ID), 0); err != nil {
		return nil, err
	}
	return &run, nil
}

// CancelInventoryRun discards an unfinished campaign. The collected counts
// are retained for audit but never committed, and book stock is untouched.
// Cancelling an already-cancelled run is a no-op; a finalized run cannot be
// cancelled.
func CancelInventoryRun(ctx context.Context, runId int) (*InventoryRun, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, utils.NewValidationError("user id is required")
	}

	var cancelled *InventoryRun
	err := db.Transaction(func(tx *gorm.DB) error {
		var run InventoryRun
		if err := tx.WithContext(ctx).
			Where("business_id = ? AND id = ?", businessId, runId).
			First(&run).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.NewNotFoundError("inventory run not found")
			}
			return err
		}
		if run.CurrentStatus == InventoryRunStatusCancelled {
			cancelled = &run
			return nil
		}
		if run.CurrentStatus == InventoryRunStatusFinalized {
			return utils.NewStateConflictError("inventory run %d is already finalized", run.ID)
		}

		now := time.Now().UTC()
		if err := tx.WithContext(ctx).Model(&run).Updates(map[string]interface{}{
			"current_status": InventoryRunStatusCancelled,
			"active_key":     fmt.Sprintf("%s:%d", businessId, run.ID),
			"closed_by":      userId,
			"closed_at":      now,
		}).Error; err != nil {
			return err
		}
		run.CurrentStatus = InventoryRunStatusCancelled
		run.ClosedBy = userId
		run.ClosedAt = &now
		cancelled = &run
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := config.RemoveRedisKey(ActiveRunCacheKey(businessId)); err != nil {
		return nil, err
	}
	return cancelled, nil
}
