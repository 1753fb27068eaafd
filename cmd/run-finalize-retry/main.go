// run-finalize-retry re-drives the stock commit of an inventory run whose
// earlier finalize attempt partially failed. The commit is idempotent per
// (run, sector count, product), so sectors that already made it into the
// ledger are skipped.
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
	"bitbucket.org/mmdatafocus/stocktake_backend/workflow"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	runID := flag.Int("run-id", 0, "Required: inventory run id")
	userID := flag.Int("user-id", 1, "User id recorded as closed_by")
	dryRun := flag.Bool("dry-run", true, "Report what would be committed without writing (pass -dry-run=false to execute)")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}
	if *runID <= 0 {
		fmt.Fprintln(os.Stderr, "--run-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, strings.TrimSpace(*businessID))
	ctx = utils.SetUserIdInContext(ctx, *userID)
	ctx = utils.SetUserNameInContext(ctx, "run-finalize-retry")

	run, err := models.GetInventoryRun(ctx, *runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lookup run: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Run #%d status=%s warehouse=%d sectors=%d\n",
		run.ID, run.CurrentStatus, run.WarehouseId, len(run.SectorCounts))

	if *dryRun {
		var keys []models.IdempotencyKey
		if err := db.WithContext(ctx).
			Where("business_id = ? AND handler_name = ? AND message_id LIKE ?",
				*businessID, workflow.StockCommitHandlerName, fmt.Sprintf("run:%d:%%", run.ID)).
			Find(&keys).Error; err != nil {
			fmt.Fprintf(os.Stderr, "lookup idempotency keys: %v\n", err)
			os.Exit(1)
		}
		succeeded, failed := 0, 0
		for _, k := range keys {
			switch k.Status {
			case models.IdempotencyStatusSucceeded:
				succeeded++
			case models.IdempotencyStatusFailed:
				failed++
				lastErr := ""
				if k.LastError != nil {
					lastErr = *k.LastError
				}
				fmt.Printf("  FAILED %s: %s\n", k.MessageId, lastErr)
			}
		}
		for _, sc := range run.SectorCounts {
			fmt.Printf("  sector_count=%d sector=%d status=%s recount_round=%d\n",
				sc.ID, sc.SectorId, sc.DeriveStatus(), sc.RecountRound)
		}
		fmt.Printf("Dry run: %d product commits recorded succeeded, %d failed. Pass -dry-run=false to retry.\n", succeeded, failed)
		return
	}

	report, err := workflow.FinalizeInventoryRun(ctx, run.ID, workflow.NewStockCommitter())
	if err != nil {
		fmt.Fprintf(os.Stderr, "finalize failed: %v\n", err)
		if report != nil {
			for _, f := range report.FailedSectorCounts {
				fmt.Fprintf(os.Stderr, "  sector_count=%d: %s\n", f.SectorCountId, f.Error)
			}
		}
		os.Exit(1)
	}
	fmt.Printf("Finalized run #%d: %d sector counts committed, %d products committed, %d skipped (already committed)\n",
		run.ID, len(report.CommittedSectorCounts), report.ProductsCommitted, report.ProductsSkipped)
}
