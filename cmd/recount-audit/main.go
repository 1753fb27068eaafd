// recount-audit prints the reconciliation picture of an inventory run: per
// sector, the two counters' totals per product, which products still disagree,
// and how many superseded entries each recount round left behind.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/models"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	runID := flag.Int("run-id", 0, "Inventory run id (defaults to the active run)")
	sectorCountID := flag.Int("sector-count-id", 0, "Optional: limit to one sector count")
	showEntries := flag.Bool("entries", false, "Print every ledger entry including superseded rows")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, strings.TrimSpace(*businessID))
	ctx = utils.SetUserNameInContext(ctx, "recount-audit")

	var (
		run *models.InventoryRun
		err error
	)
	if *runID > 0 {
		run, err = models.GetInventoryRun(ctx, *runID)
	} else {
		run, err = models.GetActiveInventoryRun(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "lookup run: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Run #%d status=%s warehouse=%d\n", run.ID, run.CurrentStatus, run.WarehouseId)
	for _, sc := range run.SectorCounts {
		if *sectorCountID > 0 && sc.ID != *sectorCountID {
			continue
		}
		auditSectorCount(ctx, &sc, *showEntries)
	}
}

func auditSectorCount(ctx context.Context, sc *models.SectorCount, showEntries bool) {
	fmt.Printf("\nsector_count=%d sector=%d status=%s recount_round=%d products_counted=%d\n",
		sc.ID, sc.SectorId, sc.DeriveStatus(), sc.RecountRound, sc.ProductsCounted)

	report, err := models.ComputeDiscrepancies(ctx, sc.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  compute discrepancies: %v\n", err)
		return
	}
	for _, p := range report.Products {
		marker := "ok"
		if p.NeedsRecount {
			marker = "RECOUNT"
		}
		final := "-"
		if p.FinalQty != nil {
			final = fmt.Sprintf("%d", *p.FinalQty)
		}
		fmt.Printf("  product=%d primary=%d secondary=%d book=%d final=%s diff=%d [%s]\n",
			p.ProductId, p.PrimaryTotal, p.SecondaryTotal, p.BookStock, final, p.DiffBetweenCounters, marker)
	}

	if !showEntries {
		return
	}
	details, err := models.ListCountDetails(ctx, sc.ID, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  list entries: %v\n", err)
		return
	}
	for _, d := range details {
		formula := ""
		if d.Formula != "" {
			formula = fmt.Sprintf(" formula=%q", d.Formula)
		}
		fmt.Printf("    entry=%d product=%d slot=%s qty=%d round=%d state=%s by=%d%s\n",
			d.ID, d.ProductId, d.CounterSlot, d.Qty, d.RecountRound, d.EntryState, d.SubmittedBy, formula)
	}
}
