package models

import (
	"context"
	"sort"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"gorm.io/gorm"
)

// ReconciledProduct is the per-product discrepancy view of a sector count:
// the two counters' totals, their difference, and the difference against book
// stock. FinalQty exists only when the two totals agree; the engine never
// averages or prefers one counter, so a disagreement always yields
// NeedsRecount instead of a final quantity.
type ReconciledProduct struct {
	ProductId      int  `json:"product_id"`
	PrimaryTotal   int  `json:"primary_total"`
	SecondaryTotal int  `json:"secondary_total"`
	BookStock      int  `json:"book_stock"`
	FinalQty       *int `json:"final_qty"`
	// DiffBetweenCounters = primary - secondary.
	DiffBetweenCounters int `json:"diff_between_counters"`
	// DiffVsBook = final - book; undefined until the counters agree.
	DiffVsBook   *int `json:"diff_vs_book"`
	NeedsRecount bool `json:"needs_recount"`
	// Sub-entries feeding each total, kept for audit display in recount mode.
	PrimaryEntries   []CountDetail `json:"primary_entries"`
	SecondaryEntries []CountDetail `json:"secondary_entries"`
}

// Total returns the slot's consolidated quantity; lookups stay exhaustive.
func (rp *ReconciledProduct) Total(slot CounterSlot) int {
	switch slot {
	case CounterSlotPrimary:
		return rp.PrimaryTotal
	case CounterSlotSecondary:
		return rp.SecondaryTotal
	}
	panic(errInvalidCounterSlot)
}

// SectorReconciliation is the report an administrator reviews before deciding
// on finalization.
type SectorReconciliation struct {
	SectorCountId int                 `json:"sector_count_id"`
	SectorId      int                 `json:"sector_id"`
	RecountRound  int                 `json:"recount_round"`
	Products      []ReconciledProduct `json:"products"`
	// Outcome is filled by ReconcileSectorCount: FINALIZED or RECOUNTING.
	Outcome SectorCountStatus `json:"outcome,omitempty"`
}

func (r *SectorReconciliation) HasDiscrepancies() bool {
	for i := range r.Products {
		if r.Products[i].NeedsRecount {
			return true
		}
	}
	return false
}

// RecountProducts returns the product ids still open for recount.
func (r *SectorReconciliation) RecountProducts() []int {
	var ids []int
	for i := range r.Products {
		if r.Products[i].NeedsRecount {
			ids = append(ids, r.Products[i].ProductId)
		}
	}
	return ids
}

// ConsolidateCountDetails folds a sector's ACTIVE ledger entries into the
// per-product reconciliation view. Pure: callers load the entries (and keep
// superseded rows out). The book stock of a product is the snapshot taken on
// its most recent entry.
func ConsolidateCountDetails(details []CountDetail) []ReconciledProduct {
	byProduct := make(map[int]*ReconciledProduct)
	latestEntryId := make(map[int]int)

	for _, detail := range details {
		rp, ok := byProduct[detail.ProductId]
		if !ok {
			rp = &ReconciledProduct{ProductId: detail.ProductId}
			byProduct[detail.ProductId] = rp
		}
		switch detail.CounterSlot {
		case CounterSlotPrimary:
			rp.PrimaryTotal += detail.Qty
			rp.PrimaryEntries = append(rp.PrimaryEntries, detail)
		case CounterSlotSecondary:
			rp.SecondaryTotal += detail.Qty
			rp.SecondaryEntries = append(rp.SecondaryEntries, detail)
		}
		if detail.ID >= latestEntryId[detail.ProductId] {
			latestEntryId[detail.ProductId] = detail.ID
			rp.BookStock = detail.BookStockSnapshot
		}
	}

	products := make([]ReconciledProduct, 0, len(byProduct))
	for _, rp := range byProduct {
		rp.DiffBetweenCounters = rp.PrimaryTotal - rp.SecondaryTotal
		if rp.DiffBetweenCounters == 0 {
			finalQty := rp.PrimaryTotal
			diffVsBook := finalQty - rp.BookStock
			rp.FinalQty = &finalQty
			rp.DiffVsBook = &diffVsBook
		} else {
			rp.NeedsRecount = true
		}
		products = append(products, *rp)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ProductId < products[j].ProductId })
	return products
}

func computeDiscrepanciesTx(tx *gorm.DB, ctx context.Context, sectorCount *SectorCount) (*SectorReconciliation, error) {
	var details []CountDetail
	if err := tx.WithContext(ctx).
		Where("business_id = ? AND sector_count_id = ? AND entry_state = ?",
			sectorCount.BusinessId, sectorCount.ID, CountEntryStateActive).
		Order("id").
		Find(&details).Error; err != nil {
		return nil, err
	}

	return &SectorReconciliation{
		SectorCountId: sectorCount.ID,
		SectorId:      sectorCount.SectorId,
		RecountRound:  sectorCount.RecountRound,
		Products:      ConsolidateCountDetails(details),
	}, nil
}

// ComputeDiscrepancies builds the reconciliation report for a sector without
// changing its state.
func ComputeDiscrepancies(ctx context.Context, sectorCountId int) (*SectorReconciliation, error) {
	db := config.GetDB()

	sectorCount, err := GetSectorCount(ctx, sectorCountId)
	if err != nil {
		return nil, err
	}
	return computeDiscrepanciesTx(db, ctx, sectorCount)
}

// HasOutstandingDiscrepancies gates the sector finalize transition.
func HasOutstandingDiscrepancies(ctx context.Context, sectorCountId int) (bool, error) {
	report, err := ComputeDiscrepancies(ctx, sectorCountId)
	if err != nil {
		return false, err
	}
	return report.HasDiscrepancies(), nil
}
