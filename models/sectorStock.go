package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SectorStock is the per-sector stock ledger of record: one row per
// (business, sector, product) with the current on-hand quantity. Only the
// stock commit gateway writes it; the engine reads it as "book stock".
type SectorStock struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index;not null;uniqueIndex:uniq_sector_stock" json:"business_id"`
	WarehouseId int             `gorm:"index;not null" json:"warehouse_id"`
	SectorId    int             `gorm:"index;not null;uniqueIndex:uniq_sector_stock" json:"sector_id"`
	ProductId   int             `gorm:"index;not null;uniqueIndex:uniq_sector_stock" json:"product_id"`
	CurrentQty  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_qty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// FirstOrCreateSectorStock fetches the stock row under a row lock, creating
// it with zero quantity when the product has never been stocked in the
// sector. Must run inside the caller's transaction.
func FirstOrCreateSectorStock(tx *gorm.DB, businessId string, warehouseId int, sectorId int, productId int) (*SectorStock, bool, error) {
	isNew := false
	sectorStock := SectorStock{
		BusinessId:  businessId,
		WarehouseId: warehouseId,
		SectorId:    sectorId,
		ProductId:   productId,
	}
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND sector_id = ? AND product_id = ?", businessId, sectorId, productId).
		FirstOrCreate(&sectorStock)
	if result.Error != nil {
		return nil, isNew, result.Error
	}
	if result.RowsAffected == 1 {
		isNew = true
	}
	return &sectorStock, isNew, nil
}
