package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/models"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RunCommitReport summarizes a finalize attempt: which sector counts made it
// into the stock ledger and which failed. A partial result leaves the run
// ACTIVE so the attempt can be retried; already-committed sectors are skipped
// on retry by their idempotency keys.
type RunCommitReport struct {
	InventoryRunId        int                   `json:"inventory_run_id"`
	CommittedSectorCounts []int                 `json:"committed_sector_counts"`
	FailedSectorCounts    []SectorCommitFailure `json:"failed_sector_counts"`
	ProductsCommitted     int                   `json:"products_committed"`
	ProductsSkipped       int                   `json:"products_skipped"`
}

type SectorCommitFailure struct {
	SectorCountId int    `json:"sector_count_id"`
	Error         string `json:"error"`
}

func (r *RunCommitReport) Succeeded() bool {
	return len(r.FailedSectorCounts) == 0
}

// FinalizeInventoryRun closes an ACTIVE run whose sector counts are all
// FINALIZED, folding every agreed final quantity back into sector stock.
//
// Each sector commits in its own transaction under the business posting lock,
// and each product adjustment is guarded by a durable idempotency key, so a
// crashed or partially failed attempt can be re-run without double-applying
// deltas. On partial failure the run stays ACTIVE and a GATEWAY error carries
// the commit report; only a fully committed run transitions to FINALIZED.
// Finalizing an already FINALIZED run is a no-op.
func FinalizeInventoryRun(ctx context.Context, runId int, committer SectorStockCommitter) (*RunCommitReport, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, utils.NewValidationError("user id is required")
	}

	run, err := models.GetInventoryRun(ctx, runId)
	if err != nil {
		return nil, err
	}
	report := &RunCommitReport{InventoryRunId: run.ID}
	if run.CurrentStatus == models.InventoryRunStatusFinalized {
		return report, nil
	}
	if run.CurrentStatus != models.InventoryRunStatusActive {
		return nil, utils.NewStateConflictError("inventory run %d is %s", run.ID, run.CurrentStatus)
	}

	sectorCounts, err := models.ListSectorCounts(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	var unfinalized []int
	for i := range sectorCounts {
		if sectorCounts[i].DeriveStatus() != models.SectorCountStatusFinalized {
			unfinalized = append(unfinalized, sectorCounts[i].ID)
		}
	}
	if len(unfinalized) > 0 {
		return nil, utils.NewConsistencyError("sector counts %v are not finalized; the run cannot close", unfinalized)
	}

	stockDate := time.Now().UTC()
	for i := range sectorCounts {
		sectorCount := &sectorCounts[i]
		if err := commitSectorCount(ctx, db, run, sectorCount, committer, stockDate, report); err != nil {
			config.LogError(logger, "workflow", "FinalizeInventoryRun", "commit sector count", logrus.Fields{
				"business_id":     businessId,
				"run_id":          run.ID,
				"sector_count_id": sectorCount.ID,
			}, err)
			report.FailedSectorCounts = append(report.FailedSectorCounts, SectorCommitFailure{
				SectorCountId: sectorCount.ID,
				Error:         err.Error(),
			})
			continue
		}
		report.CommittedSectorCounts = append(report.CommittedSectorCounts, sectorCount.ID)
	}

	if !report.Succeeded() {
		return report, utils.NewGatewayError(report, nil,
			"inventory run %d committed %d of %d sector counts; run remains ACTIVE for retry",
			run.ID, len(report.CommittedSectorCounts), len(sectorCounts))
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		closedAt := time.Now().UTC()
		return tx.WithContext(ctx).Model(&models.InventoryRun{}).
			Where("business_id = ? AND id = ? AND current_status = ?", businessId, run.ID, models.InventoryRunStatusActive).
			Updates(map[string]interface{}{
				"current_status": models.InventoryRunStatusFinalized,
				"active_key":     fmt.Sprintf("%s:%d", businessId, run.ID),
				"closed_by":      userId,
				"closed_at":      closedAt,
			}).Error
	})
	if err != nil {
		return report, err
	}
	if err := config.RemoveRedisKey(models.ActiveRunCacheKey(businessId)); err != nil {
		return report, err
	}
	return report, nil
}

// commitSectorCount applies one sector's final quantities in a single
// transaction. The posting lock serializes commits per business across
// instances; the idempotency keys make the per-product writes at-most-once
// across retries.
func commitSectorCount(ctx context.Context, db *gorm.DB, run *models.InventoryRun, sectorCount *models.SectorCount, committer SectorStockCommitter, stockDate time.Time, report *RunCommitReport) error {
	reconciliation, err := models.ComputeDiscrepancies(ctx, sectorCount.ID)
	if err != nil {
		return err
	}
	if reconciliation.HasDiscrepancies() {
		return utils.NewConsistencyError("sector count %d has unresolved discrepancies", sectorCount.ID)
	}

	var failedProduct *models.ReconciledProduct
	committed, skipped := 0, 0
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := AcquireBusinessPostingLock(tx, run.BusinessId); err != nil {
			return err
		}
		defer ReleaseBusinessPostingLock(tx, run.BusinessId)

		for i := range reconciliation.Products {
			product := &reconciliation.Products[i]
			if product.FinalQty == nil {
				return utils.NewConsistencyError("product %d in sector count %d has no final quantity", product.ProductId, sectorCount.ID)
			}

			messageId := commitMessageId(run.ID, sectorCount.ID, product.ProductId)
			skip, err := BeginIdempotency(tx, run.BusinessId, StockCommitHandlerName, messageId)
			if err != nil {
				failedProduct = product
				return err
			}
			if skip {
				skipped++
				continue
			}

			adj := ProductAdjustment{
				BusinessId:     run.BusinessId,
				WarehouseId:    run.WarehouseId,
				SectorId:       sectorCount.SectorId,
				ProductId:      product.ProductId,
				InventoryRunId: run.ID,
				SectorCountId:  sectorCount.ID,
				FinalQty:       *product.FinalQty,
				StockDate:      stockDate,
			}
			if err := committer.CommitProduct(tx, ctx, &adj); err != nil {
				failedProduct = product
				return err
			}
			if err := MarkIdempotencySucceeded(tx, run.BusinessId, StockCommitHandlerName, messageId); err != nil {
				failedProduct = product
				return err
			}
			committed++
		}
		return nil
	})
	if err == nil {
		report.ProductsCommitted += committed
		report.ProductsSkipped += skipped
	}
	if err != nil && failedProduct != nil {
		// The sector transaction rolled back, taking its STARTED rows with it.
		// Record the failure durably so retry tooling can see what broke.
		messageId := commitMessageId(run.ID, sectorCount.ID, failedProduct.ProductId)
		markErr := db.Transaction(func(tx *gorm.DB) error {
			if _, beginErr := BeginIdempotency(tx, run.BusinessId, StockCommitHandlerName, messageId); beginErr != nil {
				return beginErr
			}
			return MarkIdempotencyFailed(tx, run.BusinessId, StockCommitHandlerName, messageId, err)
		})
		if markErr != nil {
			config.LogError(config.GetLogger(), "workflow", "commitSectorCount", "mark idempotency failed", logrus.Fields{
				"business_id":     run.BusinessId,
				"sector_count_id": sectorCount.ID,
				"message_id":      messageId,
			}, markErr)
		}
	}
	return err
}
