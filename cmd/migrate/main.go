// migrate runs the GORM AutoMigrate for all engine tables.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/migrate
package main

import (
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/models"
)

func main() {
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()
	fmt.Println("migration complete")
}
