// seed-admin creates or updates the admin console user (username: stocktakeAdmin).
// Admin users have role = 'A'; they bypass tenant scoping for maintenance tooling.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/models"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
	"gorm.io/gorm"
)

const (
	adminUsername = "stocktakeAdmin"
	adminPassword = "St0ckT@keAdmin"
	adminName     = "Stocktake Admin"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	// Tenant-guarded models require business + user info in context. Attach a
	// real business id (first business in DB) and mark this as admin/bypass.
	var biz models.Business
	if err := db.WithContext(ctx).Model(&models.Business{}).Select("id").First(&biz).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fmt.Fprintln(os.Stderr, "no businesses found in DB. Create a business first, then rerun seed-admin.")
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "failed to lookup business: %v\n", err)
		os.Exit(1)
	}

	businessID := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Seed")
	ctx = utils.SetIsAdminInContext(ctx, true)
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	hashed, err := utils.HashPassword(adminPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			Username:   adminUsername,
			Name:       adminName,
			Password:   hashedStr,
			IsActive:   utils.NewTrue(),
			Role:       models.UserRoleAdmin,
			BusinessId: businessID,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q (role=Admin)\n", adminUsername)
		return
	}

	// Update existing user: ensure password and admin role
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Updates(map[string]any{
		"password":    hashedStr,
		"name":        adminName,
		"is_active":   utils.NewTrue(),
		"business_id": businessID,
		"role":        models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated admin user: username=%q (role=Admin)\n", adminUsername)
}
