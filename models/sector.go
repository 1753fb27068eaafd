package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// Sector is a physical subdivision of a warehouse, the unit of count
// assignment: each inventory run creates one SectorCount per active sector.
type Sector struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id"`
	WarehouseId int       `gorm:"index;not null" json:"warehouse_id"`
	Code        string    `gorm:"size:20;not null" json:"code"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSector struct {
	WarehouseId int    `json:"warehouse_id" validate:"required"`
	Code        string `json:"code" validate:"required"`
	Name        string `json:"name" validate:"required"`
}

func (input *NewSector) validate(ctx context.Context, businessId string, id int) error {
	if err := utils.ValidateResourceId[Warehouse](ctx, businessId, input.WarehouseId); err != nil {
		return utils.NewValidationError("warehouse not found")
	}
	if err := utils.ValidateUnique[Sector](ctx, businessId, "code", input.Code, id); err != nil {
		return err
	}
	return nil
}

func CreateSector(ctx context.Context, input *NewSector) (*Sector, error) {
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

	sector := Sector{
		BusinessId:  businessId,
		WarehouseId: input.WarehouseId,
		Code:        input.Code,
		Name:        input.Name,
		IsActive:    utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&sector).Error; err != nil {
		return nil, err
	}
	return &sector, nil
}

func ListActiveSectors(ctx context.Context, businessId string, warehouseId int) ([]Sector, error) {
	db := config.GetDB()
	var sectors []Sector
	if err := db.WithContext(ctx).
		Where("business_id = ? AND warehouse_id = ? AND is_active = true", businessId, warehouseId).
		Order("code").
		Find(&sectors).Error; err != nil {
		return nil, err
	}
	return sectors, nil
}
