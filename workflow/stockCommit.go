package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stocktake_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockCommitHandlerName keys the idempotency rows of the stock commit
// gateway.
const StockCommitHandlerName = "STOCKTAKE_COMMIT"

func commitMessageId(runId, sectorCountId, productId int) string {
	return fmt.Sprintf("run:%d:sector:%d:product:%d", runId, sectorCountId, productId)
}

// ProductAdjustment is one agreed final quantity to fold back into the sector
// stock ledger.
type ProductAdjustment struct {
	BusinessId     string
	WarehouseId    int
	SectorId       int
	ProductId      int
	InventoryRunId int
	SectorCountId  int
	FinalQty       int
	StockDate      time.Time
}

// SectorStockCommitter applies one product adjustment inside the caller's
// transaction. The production implementation writes the stock ledger; tests
// substitute a fake to drive partial-failure paths.
type SectorStockCommitter interface {
	CommitProduct(tx *gorm.DB, ctx context.Context, adj *ProductAdjustment) error
}

type gormStockCommitter struct{}

func NewStockCommitter() SectorStockCommitter {
	return gormStockCommitter{}
}

// CommitProduct sets the sector stock row to the final counted quantity and
// appends the delta to the stock take history. The history row records the
// adjustment (final minus on-hand) and the closing quantity; a zero delta is
// still recorded so the run's audit trail covers every counted product.
func (gormStockCommitter) CommitProduct(tx *gorm.DB, ctx context.Context, adj *ProductAdjustment) error {
	sectorStock, _, err := models.FirstOrCreateSectorStock(tx, adj.BusinessId, adj.WarehouseId, adj.SectorId, adj.ProductId)
	if err != nil {
		return err
	}

	finalQty := decimal.NewFromInt(int64(adj.FinalQty))
	delta := finalQty.Sub(sectorStock.CurrentQty)

	history := models.StockTakeHistory{
		BusinessId:     adj.BusinessId,
		WarehouseId:    adj.WarehouseId,
		SectorId:       adj.SectorId,
		ProductId:      adj.ProductId,
		StockDate:      adj.StockDate,
		Qty:            delta,
		ClosingQty:     finalQty,
		Description:    fmt.Sprintf("Stock Take #%d", adj.InventoryRunId),
		ReferenceType:  models.StockReferenceTypeStockTake,
		InventoryRunId: adj.InventoryRunId,
		SectorCountId:  adj.SectorCountId,
	}
	if err := tx.WithContext(ctx).Create(&history).Error; err != nil {
		return err
	}

	return tx.WithContext(ctx).Model(sectorStock).
		Update("current_qty", finalQty).Error
}
