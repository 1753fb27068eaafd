package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/models"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
	"bitbucket.org/mmdatafocus/stocktake_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestDualCountLifecycleRecountAndCommit(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "stocktake_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  "Count Co",
		Email: "owner@count.test",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	ctx = utils.SetBusinessIdInContext(ctx, biz.ID.String())
	ctx = utils.SetUserNameInContext(ctx, "Test")

	owner, err := models.CreateUser(ctx, &models.NewUser{
		Username: "owner@count.test", Name: "Owner", Password: "ownerpass1", Role: models.UserRoleOwner,
	})
	if err != nil {
		t.Fatalf("CreateUser owner: %v", err)
	}
	alice, err := models.CreateUser(ctx, &models.NewUser{
		Username: "alice@count.test", Name: "Alice", Password: "alicepass1", Role: models.UserRoleCounter,
	})
	if err != nil {
		t.Fatalf("CreateUser alice: %v", err)
	}
	bob, err := models.CreateUser(ctx, &models.NewUser{
		Username: "bob@count.test", Name: "Bob", Password: "bobpass12", Role: models.UserRoleCounter,
	})
	if err != nil {
		t.Fatalf("CreateUser bob: %v", err)
	}
	ownerCtx := utils.SetUserIdInContext(ctx, owner.ID)
	aliceCtx := utils.SetUserIdInContext(ctx, alice.ID)
	bobCtx := utils.SetUserIdInContext(ctx, bob.ID)

	warehouse, err := models.CreateWarehouse(ownerCtx, &models.NewWarehouse{Name: "Main Warehouse"})
	if err != nil {
		t.Fatalf("CreateWarehouse: %v", err)
	}
	sectorA, err := models.CreateSector(ownerCtx, &models.NewSector{WarehouseId: warehouse.ID, Code: "A-01", Name: "Aisle 1"})
	if err != nil {
		t.Fatalf("CreateSector A: %v", err)
	}
	if _, err := models.CreateSector(ownerCtx, &models.NewSector{WarehouseId: warehouse.ID, Code: "B-01", Name: "Aisle 2"}); err != nil {
		t.Fatalf("CreateSector B: %v", err)
	}

	stapler, err := models.CreateProduct(ownerCtx, &models.NewProduct{Sku: "STAPLER-001", Name: "Stapler"})
	if err != nil {
		t.Fatalf("CreateProduct stapler: %v", err)
	}
	tape, err := models.CreateProduct(ownerCtx, &models.NewProduct{Sku: "TAPE-001", Name: "Tape"})
	if err != nil {
		t.Fatalf("CreateProduct tape: %v", err)
	}

	// Seed book stock: 40 staplers and 10 tapes in sector A.
	seedSectorStock(t, db, biz.ID.String(), warehouse.ID, sectorA.ID, stapler.ID, 40)
	seedSectorStock(t, db, biz.ID.String(), warehouse.ID, sectorA.ID, tape.ID, 10)

	// 1) Open the run: one sector count per active sector, second run rejected.
	run, err := models.CreateInventoryRun(ownerCtx, &models.NewInventoryRun{WarehouseId: warehouse.ID, Description: "Annual count"})
	if err != nil {
		t.Fatalf("CreateInventoryRun: %v", err)
	}
	if len(run.SectorCounts) != 2 {
		t.Fatalf("expected 2 sector counts, got %d", len(run.SectorCounts))
	}
	if _, err := models.CreateInventoryRun(ownerCtx, &models.NewInventoryRun{WarehouseId: warehouse.ID}); !utils.HasErrorCode(err, utils.ErrorCodeConsistency) {
		t.Fatalf("second active run: expected CONSISTENCY error, got %v", err)
	}

	var scA, scB models.SectorCount
	for _, sc := range run.SectorCounts {
		if sc.SectorId == sectorA.ID {
			scA = sc
		} else {
			scB = sc
		}
	}

	// 2) Assign the two counters to both sectors.
	for _, scID := range []int{scA.ID, scB.ID} {
		if _, err := models.AssignSectorCounters(ownerCtx, scID, alice.ID, bob.ID); err != nil {
			t.Fatalf("AssignSectorCounters(%d): %v", scID, err)
		}
	}

	// 3) Count sector A. Staplers agree at 41 (alice tallies by the dozen),
	// tapes disagree 10 vs 12.
	mustAddEntry(t, aliceCtx, &models.NewCountDetail{SectorCountId: scA.ID, ProductId: stapler.ID, Formula: "3*12+5"})
	mustAddEntry(t, bobCtx, &models.NewCountDetail{SectorCountId: scA.ID, ProductId: stapler.ID, Qty: qty(41)})
	mustAddEntry(t, aliceCtx, &models.NewCountDetail{SectorCountId: scA.ID, ProductId: tape.ID, Qty: qty(10)})
	mustAddEntry(t, bobCtx, &models.NewCountDetail{SectorCountId: scA.ID, ProductId: tape.ID, Qty: qty(12)})

	// An unassigned user is rejected.
	if _, err := models.AddCountEntry(ownerCtx, &models.NewCountDetail{SectorCountId: scA.ID, ProductId: tape.ID, Qty: qty(1)}); !utils.HasErrorCode(err, utils.ErrorCodeAuthorization) {
		t.Fatalf("unassigned submitter: expected AUTHORIZATION error, got %v", err)
	}

	mustFinalizeCounter(t, aliceCtx, scA.ID)
	mustFinalizeCounter(t, bobCtx, scA.ID)

	// 4) Reconcile: tapes disagree, so the sector enters a recount round.
	report, err := models.ReconcileSectorCount(ownerCtx, scA.ID)
	if err != nil {
		t.Fatalf("ReconcileSectorCount: %v", err)
	}
	if report.Outcome != models.SectorCountStatusRecounting {
		t.Fatalf("outcome = %s, want RECOUNTING", report.Outcome)
	}
	if open := report.RecountProducts(); len(open) != 1 || open[0] != tape.ID {
		t.Fatalf("RecountProducts() = %v, want [%d]", open, tape.ID)
	}

	// Agreed products are closed to the recount round.
	if _, err := models.ReplaceEntriesForRecount(aliceCtx, &models.NewCountDetail{SectorCountId: scA.ID, ProductId: stapler.ID, Qty: qty(41)}); !utils.HasErrorCode(err, utils.ErrorCodeStateConflict) {
		t.Fatalf("recount of agreed product: expected STATE_CONFLICT, got %v", err)
	}

	// 5) Recount the tapes: both now find 12.
	mustReplaceEntry(t, aliceCtx, &models.NewCountDetail{SectorCountId: scA.ID, ProductId: tape.ID, Qty: qty(12)})
	mustReplaceEntry(t, bobCtx, &models.NewCountDetail{SectorCountId: scA.ID, ProductId: tape.ID, Qty: qty(12)})
	mustFinalizeCounter(t, aliceCtx, scA.ID)
	mustFinalizeCounter(t, bobCtx, scA.ID)

	report, err = models.ReconcileSectorCount(ownerCtx, scA.ID)
	if err != nil {
		t.Fatalf("ReconcileSectorCount after recount: %v", err)
	}
	if report.Outcome != models.SectorCountStatusFinalized {
		t.Fatalf("outcome after recount = %s, want FINALIZED", report.Outcome)
	}

	// The superseded round stays in the ledger for audit.
	allEntries, err := models.ListCountDetails(ownerCtx, scA.ID, true)
	if err != nil {
		t.Fatalf("ListCountDetails: %v", err)
	}
	superseded := 0
	for _, d := range allEntries {
		if d.EntryState == models.CountEntryStateSuperseded {
			superseded++
		}
	}
	if superseded != 2 {
		t.Fatalf("superseded entries = %d, want 2 (one per counter)", superseded)
	}

	// 6) Sector B agrees first time: five staplers each.
	mustAddEntry(t, aliceCtx, &models.NewCountDetail{SectorCountId: scB.ID, ProductId: stapler.ID, Qty: qty(5)})
	mustAddEntry(t, bobCtx, &models.NewCountDetail{SectorCountId: scB.ID, ProductId: stapler.ID, Qty: qty(5)})
	mustFinalizeCounter(t, aliceCtx, scB.ID)
	mustFinalizeCounter(t, bobCtx, scB.ID)
	report, err = models.ReconcileSectorCount(ownerCtx, scB.ID)
	if err != nil {
		t.Fatalf("ReconcileSectorCount B: %v", err)
	}
	if report.Outcome != models.SectorCountStatusFinalized {
		t.Fatalf("sector B outcome = %s, want FINALIZED", report.Outcome)
	}

	// 7) Close the run: book stock snaps to the final counts.
	commitReport, err := workflow.FinalizeInventoryRun(ownerCtx, run.ID, workflow.NewStockCommitter())
	if err != nil {
		t.Fatalf("FinalizeInventoryRun: %v", err)
	}
	if len(commitReport.CommittedSectorCounts) != 2 || commitReport.ProductsCommitted != 3 {
		t.Fatalf("commit report = %+v, want 2 sectors / 3 products", commitReport)
	}

	assertSectorStock(t, db, biz.ID.String(), sectorA.ID, stapler.ID, 41)
	assertSectorStock(t, db, biz.ID.String(), sectorA.ID, tape.ID, 12)
	assertSectorStock(t, db, biz.ID.String(), scB.SectorId, stapler.ID, 5)

	var histories []models.StockTakeHistory
	if err := db.WithContext(ownerCtx).Where("business_id = ? AND inventory_run_id = ?", biz.ID.String(), run.ID).Find(&histories).Error; err != nil {
		t.Fatalf("load stock take histories: %v", err)
	}
	if len(histories) != 3 {
		t.Fatalf("stock take history rows = %d, want 3", len(histories))
	}
	for _, h := range histories {
		if h.SectorId == sectorA.ID && h.ProductId == stapler.ID {
			if !h.Qty.Equal(decimal.NewFromInt(1)) || !h.ClosingQty.Equal(decimal.NewFromInt(41)) {
				t.Fatalf("stapler history qty=%s closing=%s, want 1/41", h.Qty, h.ClosingQty)
			}
		}
	}

	// 8) Finalize again: idempotent no-op, nothing recommitted.
	commitReport, err = workflow.FinalizeInventoryRun(ownerCtx, run.ID, workflow.NewStockCommitter())
	if err != nil {
		t.Fatalf("repeat FinalizeInventoryRun: %v", err)
	}
	if commitReport.ProductsCommitted != 0 {
		t.Fatalf("repeat finalize committed %d products, want 0", commitReport.ProductsCommitted)
	}

	// 9) The active slot is free again.
	if _, err := models.CreateInventoryRun(ownerCtx, &models.NewInventoryRun{WarehouseId: warehouse.ID, Description: "Next cycle"}); err != nil {
		t.Fatalf("CreateInventoryRun after close: %v", err)
	}
}

func qty(v int) *int { return &v }

func mustAddEntry(t *testing.T, ctx context.Context, input *models.NewCountDetail) {
	t.Helper()
	if _, err := models.AddCountEntry(ctx, input); err != nil {
		t.Fatalf("AddCountEntry(%+v): %v", input, err)
	}
}

func mustReplaceEntry(t *testing.T, ctx context.Context, input *models.NewCountDetail) {
	t.Helper()
	if _, err := models.ReplaceEntriesForRecount(ctx, input); err != nil {
		t.Fatalf("ReplaceEntriesForRecount(%+v): %v", input, err)
	}
}

func mustFinalizeCounter(t *testing.T, ctx context.Context, sectorCountId int) {
	t.Helper()
	if _, err := models.FinalizeCounterCount(ctx, sectorCountId); err != nil {
		t.Fatalf("FinalizeCounterCount(%d): %v", sectorCountId, err)
	}
}

func seedSectorStock(t *testing.T, db *gorm.DB, businessId string, warehouseId, sectorId, productId, currentQty int) {
	t.Helper()
	stock := models.SectorStock{
		BusinessId:  businessId,
		WarehouseId: warehouseId,
		SectorId:    sectorId,
		ProductId:   productId,
		CurrentQty:  decimal.NewFromInt(int64(currentQty)),
	}
	if err := db.Create(&stock).Error; err != nil {
		t.Fatalf("seed sector stock (sector=%d product=%d): %v", sectorId, productId, err)
	}
}

func assertSectorStock(t *testing.T, db *gorm.DB, businessId string, sectorId, productId, wantQty int) {
	t.Helper()
	var stock models.SectorStock
	if err := db.Where("business_id = ? AND sector_id = ? AND product_id = ?", businessId, sectorId, productId).
		First(&stock).Error; err != nil {
		t.Fatalf("load sector stock (sector=%d product=%d): %v", sectorId, productId, err)
	}
	if !stock.CurrentQty.Equal(decimal.NewFromInt(int64(wantQty))) {
		t.Fatalf("sector stock (sector=%d product=%d) = %s, want %d", sectorId, productId, stock.CurrentQty, wantQty)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("stocktake-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("stocktake-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=stocktake_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
