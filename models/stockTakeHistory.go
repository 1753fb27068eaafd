package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockTakeHistory is the append-only delta ledger written when a finalized
// inventory run is folded back into sector stock. Qty is the adjustment
// (final count minus book stock), ClosingQty the resulting on-hand value.
// Rows are never updated or deleted; a retried commit is deduplicated by the
// gateway's idempotency key, not by rewriting history.
type StockTakeHistory struct {
	ID              int                `gorm:"primary_key" json:"id"`
	BusinessId      string             `gorm:"index;not null" json:"business_id"`
	WarehouseId     int                `gorm:"index;not null" json:"warehouse_id"`
	SectorId        int                `gorm:"index;not null" json:"sector_id"`
	ProductId       int                `gorm:"index;not null" json:"product_id"`
	StockDate       time.Time          `gorm:"not null" json:"stock_date"`
	Qty             decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"qty"`
	ClosingQty      decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"closing_qty"`
	Description     string             `gorm:"index;size:100;not null" json:"description"`
	ReferenceType   StockReferenceType `gorm:"type:enum('STK')" json:"reference_type"`
	InventoryRunId  int                `gorm:"index;not null" json:"inventory_run_id"`
	SectorCountId   int                `gorm:"index;not null" json:"sector_count_id"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}
