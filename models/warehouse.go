package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

type Warehouse struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	Address    string    `gorm:"type:text" json:"address"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewWarehouse struct {
	Name    string `json:"name" validate:"required"`
	Address string `json:"address"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewWarehouse) validate(ctx context.Context, businessId string, id int) error {
	if err := utils.ValidateUnique[Warehouse](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreateWarehouse(ctx context.Context, input *NewWarehouse) (*Warehouse, error) {
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

	warehouse := Warehouse{
		BusinessId: businessId,
		Name:       input.Name,
		Address:    input.Address,
		IsActive:   utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&warehouse).Error; err != nil {
		return nil, err
	}
	return &warehouse, nil
}
