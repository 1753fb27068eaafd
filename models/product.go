package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
	"gorm.io/gorm"
)

type Product struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Sku        string    `gorm:"size:100;not null" json:"sku"`
	Barcode    string    `gorm:"size:100" json:"barcode"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Sku     string `json:"sku" validate:"required"`
	Barcode string `json:"barcode"`
	Name    string `json:"name" validate:"required"`
}

func (input *NewProduct) validate(ctx context.Context, businessId string, id int) error {
	if err := utils.ValidateUnique[Product](ctx, businessId, "sku", input.Sku, id); err != nil {
		return err
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	product := Product{
		BusinessId: businessId,
		Sku:        input.Sku,
		Barcode:    input.Barcode,
		Name:       input.Name,
		IsActive:   utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// GetBookStock returns the sector's current stock value for a product prior
// to the physical count. A product with no sector stock row has book stock 0.
// Uses the given tx so uncommitted updates in the same transaction are seen.
func GetBookStock(tx *gorm.DB, ctx context.Context, businessId string, sectorId int, productId int) (int, error) {
	var stock SectorStock
	err := tx.WithContext(ctx).
		Where("business_id = ? AND sector_id = ? AND product_id = ?", businessId, sectorId, productId).
		First(&stock).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(stock.CurrentQty.IntPart()), nil
}
