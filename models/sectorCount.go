package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SectorCount is one sector's counting assignment within an inventory run.
//
// The overall status is never stored: it is derived from the persisted flags
// below (DeriveStatus), so a flag and a status column cannot disagree. The
// counter1/counter2 columns map to CounterSlotPrimary/CounterSlotSecondary
// and are only touched through the slot accessors.
type SectorCount struct {
	ID             int    `gorm:"primary_key" json:"id"`
	BusinessId     string `gorm:"index;not null" json:"business_id"`
	InventoryRunId int    `gorm:"index;not null" json:"inventory_run_id"`
	SectorId       int    `gorm:"index;not null" json:"sector_id"`

	Counter1Id        *int  `gorm:"index" json:"counter1_id"`
	Counter2Id        *int  `gorm:"index" json:"counter2_id"`
	Counter1Finalized *bool `gorm:"not null;default:false" json:"counter1_finalized"`
	Counter2Finalized *bool `gorm:"not null;default:false" json:"counter2_finalized"`
	Counter1Entries   int   `gorm:"not null;default:0" json:"counter1_entries"`
	Counter2Entries   int   `gorm:"not null;default:0" json:"counter2_entries"`

	ProductsCounted int        `gorm:"not null;default:0" json:"products_counted"`
	RecountRound    int        `gorm:"not null;default:0" json:"recount_round"`
	FinalizedAt     *time.Time `json:"finalized_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (sc *SectorCount) CounterId(slot CounterSlot) *int {
	switch slot {
	case CounterSlotPrimary:
		return sc.Counter1Id
	case CounterSlotSecondary:
		return sc.Counter2Id
	}
	panic(errInvalidCounterSlot)
}

func (sc *SectorCount) IsCounterFinalized(slot CounterSlot) bool {
	switch slot {
	case CounterSlotPrimary:
		return utils.DereferencePtr(sc.Counter1Finalized)
	case CounterSlotSecondary:
		return utils.DereferencePtr(sc.Counter2Finalized)
	}
	panic(errInvalidCounterSlot)
}

func (sc *SectorCount) EntryTally(slot CounterSlot) int {
	switch slot {
	case CounterSlotPrimary:
		return sc.Counter1Entries
	case CounterSlotSecondary:
		return sc.Counter2Entries
	}
	panic(errInvalidCounterSlot)
}

// SlotForUser resolves which slot a submitter occupies on this sector.
func (sc *SectorCount) SlotForUser(userId int) (CounterSlot, bool) {
	for _, slot := range AllCounterSlots {
		if id := sc.CounterId(slot); id != nil && *id == userId {
			return slot, true
		}
	}
	return "", false
}

// DeriveStatus computes the sector's lifecycle state from the stored flags.
//
//	PENDING_ASSIGNMENT -> ASSIGNED -> COUNTING -> PENDING_RECONCILIATION
//	  -> FINALIZED (terminal) | RECOUNTING -> PENDING_RECONCILIATION -> ...
func (sc *SectorCount) DeriveStatus() SectorCountStatus {
	if sc.FinalizedAt != nil {
		return SectorCountStatusFinalized
	}
	if sc.Counter1Id == nil || sc.Counter2Id == nil {
		return SectorCountStatusPendingAssignment
	}
	if sc.IsCounterFinalized(CounterSlotPrimary) && sc.IsCounterFinalized(CounterSlotSecondary) {
		return SectorCountStatusPendingReconciliation
	}
	if sc.RecountRound > 0 {
		return SectorCountStatusRecounting
	}
	if sc.Counter1Entries+sc.Counter2Entries > 0 {
		return SectorCountStatusCounting
	}
	return SectorCountStatusAssigned
}

// Progress derives one counter's status for assignment dashboards.
func (sc *SectorCount) Progress(slot CounterSlot) CounterProgress {
	if sc.IsCounterFinalized(slot) || sc.FinalizedAt != nil {
		return CounterProgressFinished
	}
	if sc.EntryTally(slot) > 0 {
		return CounterProgressInProgress
	}
	return CounterProgressNotStarted
}

// Transition guards. Pure over the struct; every caller runs them inside the
// sector's locked transaction so the check and the write cannot race.

func (sc *SectorCount) guardAssignCounters() error {
	switch st := sc.DeriveStatus(); st {
	case SectorCountStatusPendingAssignment, SectorCountStatusAssigned:
		return nil
	default:
		return utils.NewStateConflictError("cannot assign counters while sector count %d is %s", sc.ID, st)
	}
}

func (sc *SectorCount) guardAcceptsEntries(slot CounterSlot) error {
	switch st := sc.DeriveStatus(); st {
	case SectorCountStatusAssigned, SectorCountStatusCounting, SectorCountStatusRecounting:
		if sc.IsCounterFinalized(slot) {
			return utils.NewStateConflictError("counter has already finalized their count for sector count %d", sc.ID)
		}
		return nil
	default:
		return utils.NewStateConflictError("sector count %d does not accept entries while %s", sc.ID, st)
	}
}

func (sc *SectorCount) guardFinalizeCounter(slot CounterSlot) error {
	if sc.IsCounterFinalized(slot) {
		// Idempotent flag-set: repeating the call is not a conflict.
		return nil
	}
	switch st := sc.DeriveStatus(); st {
	case SectorCountStatusAssigned, SectorCountStatusCounting, SectorCountStatusRecounting:
		return nil
	default:
		return utils.NewStateConflictError("cannot finalize count while sector count %d is %s", sc.ID, st)
	}
}

func (sc *SectorCount) guardReconcile() error {
	if st := sc.DeriveStatus(); st != SectorCountStatusPendingReconciliation {
		return utils.NewStateConflictError("sector count %d is %s; both counters must finalize before reconciliation", sc.ID, st)
	}
	return nil
}

func (run *InventoryRun) guardActive() error {
	if run.CurrentStatus != InventoryRunStatusActive {
		return utils.NewStateConflictError("inventory run %d is %s", run.ID, run.CurrentStatus)
	}
	return nil
}

// fetchSectorCountForUpdate loads the sector count under FOR UPDATE together
// with its run. All mutating sector operations go through this row lock.
func fetchSectorCountForUpdate(tx *gorm.DB, ctx context.Context, businessId string, sectorCountId int) (*SectorCount, *InventoryRun, error) {
	var sectorCount SectorCount
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, sectorCountId).
		First(&sectorCount).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, utils.NewNotFoundError("sector count not found")
		}
		return nil, nil, err
	}
	var run InventoryRun
	if err := tx.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, sectorCount.InventoryRunId).
		First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, utils.NewNotFoundError("inventory run not found")
		}
		return nil, nil, err
	}
	return &sectorCount, &run, nil
}

func GetSectorCount(ctx context.Context, sectorCountId int) (*SectorCount, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	var sectorCount SectorCount
	if err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, sectorCountId).
		First(&sectorCount).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewNotFoundError("sector count not found")
		}
		return nil, err
	}
	return &sectorCount, nil
}

func ListSectorCounts(ctx context.Context, runId int) ([]SectorCount, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	var sectorCounts []SectorCount
	if err := db.WithContext(ctx).
		Where("business_id = ? AND inventory_run_id = ?", businessId, runId).
		Order("sector_id").
		Find(&sectorCounts).Error; err != nil {
		return nil, err
	}
	return sectorCounts, nil
}

// AssignSectorCounters sets the two counter identities for a sector. Both
// must be active counters of the business and distinct; reassignment is
// allowed until counting starts.
func AssignSectorCounters(ctx context.Context, sectorCountId int, primaryUserId int, secondaryUserId int) (*SectorCount, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}
	if primaryUserId == 0 || secondaryUserId == 0 {
		return nil, utils.NewValidationError("both counter identities are required")
	}
	if primaryUserId == secondaryUserId {
		return nil, utils.NewValidationError("the two counters must be distinct users")
	}
	for _, userId := range []int{primaryUserId, secondaryUserId} {
		valid, err := IsValidCounter(ctx, businessId, userId)
		if err != nil {
			return nil, err
		}
		if !valid {
			return nil, utils.NewValidationError("user %d is not an eligible counter for this business", userId)
		}
	}

	var assigned *SectorCount
	err := db.Transaction(func(tx *gorm.DB) error {
		sectorCount, run, err := fetchSectorCountForUpdate(tx, ctx, businessId, sectorCountId)
		if err != nil {
			return err
		}
		if err := run.guardActive(); err != nil {
			return err
		}
		if err := sectorCount.guardAssignCounters(); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Model(sectorCount).Updates(map[string]interface{}{
			"counter1_id": primaryUserId,
			"counter2_id": secondaryUserId,
		}).Error; err != nil {
			return err
		}
		sectorCount.Counter1Id = &primaryUserId
		sectorCount.Counter2Id = &secondaryUserId
		assigned = sectorCount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

// FinalizeCounterCount marks the calling counter's tally as finished. The two
// counters finalize independently; the sector reaches PENDING_RECONCILIATION
// once both flags are set, regardless of arrival order. Repeating the call
// for an already-finalized counter is a no-op.
func FinalizeCounterCount(ctx context.Context, sectorCountId int) (*SectorCount, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, utils.NewValidationError("user id is required")
	}

	var finalized *SectorCount
	err := db.Transaction(func(tx *gorm.DB) error {
		sectorCount, run, err := fetchSectorCountForUpdate(tx, ctx, businessId, sectorCountId)
		if err != nil {
			return err
		}
		if err := run.guardActive(); err != nil {
			return err
		}
		slot, ok := sectorCount.SlotForUser(userId)
		if !ok {
			return utils.NewAuthorizationError("user %d is not an assigned counter for sector count %d", userId, sectorCountId)
		}
		if err := sectorCount.guardFinalizeCounter(slot); err != nil {
			return err
		}
		if sectorCount.IsCounterFinalized(slot) {
			finalized = sectorCount
			return nil
		}

		var column string
		switch slot {
		case CounterSlotPrimary:
			column = "counter1_finalized"
			sectorCount.Counter1Finalized = utils.NewTrue()
		case CounterSlotSecondary:
			column = "counter2_finalized"
			sectorCount.Counter2Finalized = utils.NewTrue()
		}
		if err := tx.WithContext(ctx).Model(sectorCount).Update(column, true).Error; err != nil {
			return err
		}
		finalized = sectorCount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return finalized, nil
}

// ReconcileSectorCount evaluates a sector in PENDING_RECONCILIATION and moves
// it forward: FINALIZED when every product's two totals agree, otherwise into
// a recount round (finalize flags cleared, disagreeing products reopened).
// Returns the reconciliation report either way.
func ReconcileSectorCount(ctx context.Context, sectorCountId int) (*SectorReconciliation, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	var report *SectorReconciliation
	err := db.Transaction(func(tx *gorm.DB) error {
		sectorCount, run, err := fetchSectorCountForUpdate(tx, ctx, businessId, sectorCountId)
		if err != nil {
			return err
		}
		if err := run.guardActive(); err != nil {
			return err
		}
		if err := sectorCount.guardReconcile(); err != nil {
			return err
		}

		report, err = computeDiscrepanciesTx(tx, ctx, sectorCount)
		if err != nil {
			return err
		}

		if !report.HasDiscrepancies() {
			now := time.Now().UTC()
			if err := tx.WithContext(ctx).Model(sectorCount).Update("finalized_at", now).Error; err != nil {
				return err
			}
			sectorCount.FinalizedAt = &now
			report.Outcome = SectorCountStatusFinalized
			return nil
		}

		if err := tx.WithContext(ctx).Model(sectorCount).Updates(map[string]interface{}{
			"counter1_finalized": false,
			"counter2_finalized": false,
			"recount_round":      sectorCount.RecountRound + 1,
		}).Error; err != nil {
			return err
		}
		sectorCount.Counter1Finalized = utils.NewFalse()
		sectorCount.Counter2Finalized = utils.NewFalse()
		sectorCount.RecountRound++
		report.Outcome = SectorCountStatusRecounting
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
