package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
	"gorm.io/gorm"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index" json:"business_id"`
	Username   string    `gorm:"size:100;not null;unique" json:"username"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	Email      *string   `gorm:"size:100" json:"email"`
	Password   string    `gorm:"size:255;not null" json:"password"`
	IsActive   *bool     `gorm:"not null" json:"is_active"`
	Role       UserRole  `gorm:"type:enum('A','O','C');default:C" json:"role"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string   `json:"username" validate:"required"`
	Name     string   `json:"name" validate:"required"`
	Email    string   `json:"email" validate:"omitempty,email"`
	Password string   `json:"password" validate:"required,min=8"`
	Role     UserRole `json:"role" validate:"required,oneof=A O C"`
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[User](ctx, "", "username", input.Username, 0); err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		BusinessId: businessId,
		Username:   input.Username,
		Name:       input.Name,
		Email:      utils.NilIfEmpty(input.Email),
		Password:   string(hashed),
		IsActive:   utils.NewTrue(),
		Role:       input.Role,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUser(ctx context.Context, businessId string, userId int) (*User, error) {
	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).Where("business_id = ? AND id = ?", businessId, userId).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewNotFoundError("user not found")
		}
		return nil, err
	}
	return &user, nil
}

// IsValidCounter reports whether the user can be assigned as a sector
// counter: an active owner or counter belonging to the business. Platform
// admins are not counters.
func IsValidCounter(ctx context.Context, businessId string, userId int) (bool, error) {
	count, err := utils.ResourceCountWhere[User](ctx, businessId,
		"id = ? AND is_active = true AND role IN ?", userId, []UserRole{UserRoleOwner, UserRoleCounter})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DisplayName resolves a user id for assignment/report display.
func DisplayName(ctx context.Context, businessId string, userId int) (string, error) {
	db := config.GetDB()
	var name string
	if err := db.WithContext(ctx).Model(&User{}).
		Where("business_id = ? AND id = ?", businessId, userId).
		Select("name").Scan(&name).Error; err != nil {
		return "", err
	}
	if name == "" {
		return "", utils.NewNotFoundError("user not found")
	}
	return name, nil
}
