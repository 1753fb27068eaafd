package models

import (
	"log"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &User{},
		&Warehouse{}, &Sector{},
		&Product{}, &SectorStock{},
		&InventoryRun{}, &SectorCount{}, &CountDetail{},
		&StockTakeHistory{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
