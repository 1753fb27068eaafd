package models

import "testing"

// DB-free consolidation tests: the fold from ledger entries to per-product
// reconciliation rows is pure, so the agree/disagree/supersession semantics
// are pinned here without a database.

func entry(id, productId int, slot CounterSlot, qty int, bookStock int) CountDetail {
	return CountDetail{
		ID:                id,
		SectorCountId:     1,
		ProductId:         productId,
		CounterSlot:       slot,
		Qty:               qty,
		BookStockSnapshot: bookStock,
		EntryState:        CountEntryStateActive,
	}
}

func TestConsolidateAgreeingTotalsProduceFinalQty(t *testing.T) {
	// Primary counts 97 in two partial entries, secondary in one. Book says 95.
	details := []CountDetail{
		entry(1, 7, CounterSlotPrimary, 90, 95),
		entry(2, 7, CounterSlotPrimary, 7, 95),
		entry(3, 7, CounterSlotSecondary, 97, 95),
	}
	products := ConsolidateCountDetails(details)
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	p := products[0]
	if p.PrimaryTotal != 97 || p.SecondaryTotal != 97 {
		t.Fatalf("totals = %d/%d, want 97/97", p.PrimaryTotal, p.SecondaryTotal)
	}
	if p.NeedsRecount {
		t.Error("agreeing totals must not need recount")
	}
	if p.FinalQty == nil || *p.FinalQty != 97 {
		t.Fatalf("FinalQty = %v, want 97", p.FinalQty)
	}
	if p.DiffBetweenCounters != 0 {
		t.Errorf("DiffBetweenCounters = %d, want 0", p.DiffBetweenCounters)
	}
	if p.DiffVsBook == nil || *p.DiffVsBook != 2 {
		t.Errorf("DiffVsBook = %v, want 2", p.DiffVsBook)
	}
	if p.BookStock != 95 {
		t.Errorf("BookStock = %d, want 95", p.BookStock)
	}
}

func TestConsolidateDisagreeingTotalsNeedRecount(t *testing.T) {
	details := []CountDetail{
		entry(1, 7, CounterSlotPrimary, 97, 95),
		entry(2, 7, CounterSlotSecondary, 95, 95),
	}
	products := ConsolidateCountDetails(details)
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	p := products[0]
	if !p.NeedsRecount {
		t.Error("disagreeing totals must need recount")
	}
	// No final quantity until the counters agree; the engine never averages.
	if p.FinalQty != nil {
		t.Errorf("FinalQty = %d, want nil", *p.FinalQty)
	}
	if p.DiffVsBook != nil {
		t.Errorf("DiffVsBook = %d, want nil", *p.DiffVsBook)
	}
	if p.DiffBetweenCounters != 2 {
		t.Errorf("DiffBetweenCounters = %d, want 2", p.DiffBetweenCounters)
	}
}

func TestConsolidateMixedProductsSortedAndIndependent(t *testing.T) {
	details := []CountDetail{
		entry(1, 20, CounterSlotPrimary, 5, 5),
		entry(2, 20, CounterSlotSecondary, 5, 5),
		entry(3, 10, CounterSlotPrimary, 40, 38),
		entry(4, 10, CounterSlotSecondary, 41, 38),
		// Counted by one counter only: the other slot totals zero, so the
		// product disagrees and is reopened.
		entry(5, 30, CounterSlotPrimary, 12, 0),
	}
	products := ConsolidateCountDetails(details)
	if len(products) != 3 {
		t.Fatalf("expected 3 products, got %d", len(products))
	}
	if products[0].ProductId != 10 || products[1].ProductId != 20 || products[2].ProductId != 30 {
		t.Fatalf("products not sorted by id: %d, %d, %d",
			products[0].ProductId, products[1].ProductId, products[2].ProductId)
	}
	if !products[0].NeedsRecount {
		t.Error("product 10: 40 vs 41 must need recount")
	}
	if products[1].NeedsRecount || products[1].FinalQty == nil || *products[1].FinalQty != 5 {
		t.Errorf("product 20: want agreed final 5, got %+v", products[1])
	}
	if !products[2].NeedsRecount || products[2].SecondaryTotal != 0 {
		t.Errorf("product 30: one-sided count must need recount, got %+v", products[2])
	}

	report := SectorReconciliation{Products: products}
	if !report.HasDiscrepancies() {
		t.Error("report with disagreeing products must have discrepancies")
	}
	open := report.RecountProducts()
	if len(open) != 2 || open[0] != 10 || open[1] != 30 {
		t.Errorf("RecountProducts() = %v, want [10 30]", open)
	}
}

func TestConsolidateUsesLatestBookStockSnapshot(t *testing.T) {
	// Stock moved between the two entries; the later snapshot wins.
	details := []CountDetail{
		entry(1, 7, CounterSlotPrimary, 10, 8),
		entry(2, 7, CounterSlotSecondary, 10, 9),
	}
	products := ConsolidateCountDetails(details)
	if products[0].BookStock != 9 {
		t.Errorf("BookStock = %d, want snapshot of latest entry 9", products[0].BookStock)
	}
	if products[0].DiffVsBook == nil || *products[0].DiffVsBook != 1 {
		t.Errorf("DiffVsBook = %v, want 1", products[0].DiffVsBook)
	}
}

func TestConsolidateRecountReplacementTotals(t *testing.T) {
	// Callers load ACTIVE rows only, so after a recount replacement the
	// resubmitted entries stand alone instead of stacking on round zero.
	details := []CountDetail{
		entry(3, 7, CounterSlotPrimary, 95, 95),
		entry(4, 7, CounterSlotSecondary, 95, 95),
	}
	products := ConsolidateCountDetails(details)
	p := products[0]
	if p.PrimaryTotal != 95 || p.SecondaryTotal != 95 || p.NeedsRecount {
		t.Errorf("replacement round should agree at 95/95, got %+v", p)
	}
}
