package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Business struct {
	ID        uuid.UUID `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Email     string    `gorm:"size:100" json:"email"`
	Timezone  string    `gorm:"size:100" json:"timezone"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	Timezone string `json:"timezone"`
}

/*
caches:
	Business:$businessId
*/

func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	db := config.GetDB()

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	business := Business{
		ID:       uuid.New(),
		Name:     input.Name,
		Email:    input.Email,
		Timezone: input.Timezone,
		IsActive: utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&business).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

func GetBusinessById(ctx context.Context, businessId string) (*Business, error) {
	var business Business

	redisKey := "Business:" + businessId
	exists, err := config.GetRedisObject(redisKey, &business)
	if err != nil {
		return nil, err
	}
	if exists {
		return &business, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(&business).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewNotFoundError("business not found")
		}
		return nil, err
	}
	if err := config.SetRedisObject(redisKey, &business, 0); err != nil {
		return nil, err
	}
	return &business, nil
}

func (business Business) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("Business:" + business.ID.String())
}
