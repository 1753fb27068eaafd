package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
	"gorm.io/gorm"
)

// CountDetail is one tally entry for one product within a sector count.
// A counter may submit several partial entries for the same product before
// finalizing (incremental scanning); the ACTIVE entries per slot are summed
// into that counter's total. Recount submissions supersede instead of
// deleting, so the full history stays queryable for audit.
type CountDetail struct {
	ID            int         `gorm:"primary_key" json:"id"`
	BusinessId    string      `gorm:"index;not null" json:"business_id"`
	SectorCountId int         `gorm:"index;not null" json:"sector_count_id"`
	ProductId     int         `gorm:"index;not null" json:"product_id"`
	CounterSlot   CounterSlot `gorm:"type:enum('PRIMARY','SECONDARY');not null" json:"counter_slot"`
	Qty           int         `gorm:"not null" json:"qty"`
	// Formula keeps the raw shorthand the counter typed ("3*12+5"); Qty is
	// its resolved value. Blank when the counter entered a plain number.
	Formula           string          `gorm:"size:255" json:"formula"`
	BookStockSnapshot int             `gorm:"not null;default:0" json:"book_stock_snapshot"`
	EntryState        CountEntryState `gorm:"type:enum('ACTIVE','SUPERSEDED');default:'ACTIVE'" json:"entry_state"`
	RecountRound      int             `gorm:"not null;default:0" json:"recount_round"`
	SubmittedBy       int             `gorm:"not null" json:"submitted_by"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCountDetail struct {
	SectorCountId int    `json:"sector_count_id" validate:"required"`
	ProductId     int    `json:"product_id" validate:"required"`
	Qty           *int   `json:"qty"`
	Formula       string `json:"formula"`
}

// resolveQty turns the input into a concrete quantity: the formula wins when
// present, otherwise a plain quantity is required. Negative counts are
// rejected; a physical tally cannot go below zero.
func (input *NewCountDetail) resolveQty() (int, error) {
	if input.Formula != "" {
		qty, err := utils.EvaluateCountFormula(input.Formula)
		if err != nil {
			return 0, err
		}
		if qty < 0 {
			return 0, utils.NewValidationError("formula result %d is negative", qty)
		}
		return qty, nil
	}
	if input.Qty == nil {
		return 0, utils.NewValidationError("either qty or formula is required")
	}
	if *input.Qty < 0 {
		return 0, utils.NewValidationError("qty cannot be negative")
	}
	return *input.Qty, nil
}

// AddCountEntry appends one tally entry to the sector's ledger. Writes are
// serialized per sector count (redis lock + row lock) so the two counters'
// concurrent submissions cannot interleave into a torn read of totals.
func AddCountEntry(ctx context.Context, input *NewCountDetail) (*CountDetail, error) {
	return writeCountEntry(ctx, input, false)
}

// ReplaceEntriesForRecount supersedes the submitter's prior ACTIVE entries
// for the product and inserts the resubmitted tally. Only legal during the
// recount sub-cycle, and only for products whose totals still disagree.
func ReplaceEntriesForRecount(ctx context.Context, input *NewCountDetail) (*CountDetail, error) {
	return writeCountEntry(ctx, input, true)
}

func writeCountEntry(ctx context.Context, input *NewCountDetail, replace bool) (*CountDetail, error) {
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
	qty, err := input.resolveQty()
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Product](ctx, businessId, input.ProductId); err != nil {
		return nil, utils.NewValidationError("product not found")
	}

	lock, err := utils.ObtainEntryLock(ctx, businessId, input.SectorCountId)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release(ctx) }()

	var entry *CountDetail
	err = db.Transaction(func(tx *gorm.DB) error {
		sectorCount, run, err := fetchSectorCountForUpdate(tx, ctx, businessId, input.SectorCountId)
		if err != nil {
			return err
		}
		if err := run.guardActive(); err != nil {
			return err
		}
		slot, ok := sectorCount.SlotForUser(userId)
		if !ok {
			return utils.NewAuthorizationError("user %d is not an assigned counter for sector count %d", userId, input.SectorCountId)
		}
		if err := sectorCount.guardAcceptsEntries(slot); err != nil {
			return err
		}

		status := sectorCount.DeriveStatus()
		if replace && status != SectorCountStatusRecounting {
			return utils.NewStateConflictError("sector count %d is %s; recount replacement requires RECOUNTING", sectorCount.ID, status)
		}
		if status == SectorCountStatusRecounting {
			// The recount round only reopens the disagreeing products.
			report, err := computeDiscrepanciesTx(tx, ctx, sectorCount)
			if err != nil {
				return err
			}
			open := false
			for _, productId := range report.RecountProducts() {
				if productId == input.ProductId {
					open = true
					break
				}
			}
			if !open {
				return utils.NewStateConflictError("product %d is not open for recount in sector count %d", input.ProductId, sectorCount.ID)
			}
		}

		if replace {
			if err := tx.WithContext(ctx).Model(&CountDetail{}).
				Where("business_id = ? AND sector_count_id = ? AND product_id = ? AND counter_slot = ? AND entry_state = ?",
					businessId, sectorCount.ID, input.ProductId, slot, CountEntryStateActive).
				Update("entry_state", CountEntryStateSuperseded).Error; err != nil {
				return err
			}
		}

		bookStock, err := GetBookStock(tx, ctx, businessId, sectorCount.SectorId, input.ProductId)
		if err != nil {
			return err
		}

		entry = &CountDetail{
			BusinessId:        businessId,
			SectorCountId:     sectorCount.ID,
			ProductId:         input.ProductId,
			CounterSlot:       slot,
			Qty:               qty,
			Formula:           input.Formula,
			BookStockSnapshot: bookStock,
			EntryState:        CountEntryStateActive,
			RecountRound:      sectorCount.RecountRound,
			SubmittedBy:       userId,
		}
		if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
			return err
		}

		return refreshSectorTallies(tx, ctx, sectorCount)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// refreshSectorTallies recomputes the per-slot entry counters and the
// distinct-products counter from ACTIVE ledger rows. Runs inside the sector's
// locked transaction.
func refreshSectorTallies(tx *gorm.DB, ctx context.Context, sectorCount *SectorCount) error {
	type tallyRow struct {
		CounterSlot CounterSlot
		Entries     int
	}
	var rows []tallyRow
	if err := tx.WithContext(ctx).Model(&CountDetail{}).
		Select("counter_slot, COUNT(*) AS entries").
		Where("business_id = ? AND sector_count_id = ? AND entry_state = ?",
			sectorCount.BusinessId, sectorCount.ID, CountEntryStateActive).
		Group("counter_slot").
		Scan(&rows).Error; err != nil {
		return err
	}

	counter1Entries, counter2Entries := 0, 0
	for _, row := range rows {
		switch row.CounterSlot {
		case CounterSlotPrimary:
			counter1Entries = row.Entries
		case CounterSlotSecondary:
			counter2Entries = row.Entries
		}
	}

	var productsCounted int64
	if err := tx.WithContext(ctx).Model(&CountDetail{}).
		Where("business_id = ? AND sector_count_id = ? AND entry_state = ?",
			sectorCount.BusinessId, sectorCount.ID, CountEntryStateActive).
		Distinct("product_id").
		Count(&productsCounted).Error; err != nil {
		return err
	}

	if err := tx.WithContext(ctx).Model(sectorCount).Updates(map[string]interface{}{
		"counter1_entries": counter1Entries,
		"counter2_entries": counter2Entries,
		"products_counted": int(productsCounted),
	}).Error; err != nil {
		return err
	}
	sectorCount.Counter1Entries = counter1Entries
	sectorCount.Counter2Entries = counter2Entries
	sectorCount.ProductsCounted = int(productsCounted)
	return nil
}

// TotalsForProduct sums the ACTIVE entries per slot for one product.
func TotalsForProduct(ctx context.Context, sectorCountId int, productId int) (primaryTotal int, secondaryTotal int, err error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return 0, 0, utils.NewValidationError("business id is required")
	}

	type totalRow struct {
		CounterSlot CounterSlot
		Total       int
	}
	var rows []totalRow
	if err := db.WithContext(ctx).Model(&CountDetail{}).
		Select("counter_slot, COALESCE(SUM(qty), 0) AS total").
		Where("business_id = ? AND sector_count_id = ? AND product_id = ? AND entry_state = ?",
			businessId, sectorCountId, productId, CountEntryStateActive).
		Group("counter_slot").
		Scan(&rows).Error; err != nil {
		return 0, 0, err
	}
	for _, row := range rows {
		switch row.CounterSlot {
		case CounterSlotPrimary:
			primaryTotal = row.Total
		case CounterSlotSecondary:
			secondaryTotal = row.Total
		}
	}
	return primaryTotal, secondaryTotal, nil
}

// ListCountDetails returns a sector's ledger entries, newest last. Superseded
// rows are excluded unless includeSuperseded is set (audit display).
func ListCountDetails(ctx context.Context, sectorCountId int, includeSuperseded bool) ([]CountDetail, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	dbCtx := db.WithContext(ctx).
		Where("business_id = ? AND sector_count_id = ?", businessId, sectorCountId)
	if !includeSuperseded {
		dbCtx = dbCtx.Where("entry_state = ?", CountEntryStateActive)
	}
	var details []CountDetail
	if err := dbCtx.Order("id").Find(&details).Error; err != nil {
		return nil, err
	}
	return details, nil
}
