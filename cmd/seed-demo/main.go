// seed-demo creates a demo business with a warehouse, zoned locations,
// items and an opening stock snapshot so a fresh environment can exercise
// the full count cycle end to end.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-demo
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const demoPassword = "Counter@123"

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	business, err := models.CreateBusiness(ctx, models.NewBusiness{
		Name:     "Demo Warehouse Co",
		Email:    fmt.Sprintf("demo+%d@example.com", time.Now().Unix()),
		Timezone: "Asia/Yangon",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create business: %v\n", err)
		os.Exit(1)
	}
	businessId := business.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessId)
	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "Seed")

	var roles []*models.Role
	if err := db.WithContext(ctx).Where("business_id = ?", businessId).Order("tier").Find(&roles).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to load default roles: %v\n", err)
		os.Exit(1)
	}
	roleByTier := make(map[models.ApprovalTier]*models.Role, len(roles))
	for _, role := range roles {
		roleByTier[role.Tier] = role
	}

	demoUsers := []models.NewUser{
		{Username: "counter.a", Name: "Counter A", Password: demoPassword, RoleId: roleByTier[models.TierOperator].ID, Zones: "A"},
		{Username: "counter.b", Name: "Counter B", Password: demoPassword, RoleId: roleByTier[models.TierOperator].ID, Zones: "B", ShiftStart: "08:00", ShiftEnd: "17:00"},
		{Username: "lead.demo", Name: "Shift Lead", Password: demoPassword, RoleId: roleByTier[models.TierLead].ID},
		{Username: "supervisor.demo", Name: "Supervisor", Password: demoPassword, RoleId: roleByTier[models.TierSupervisor].ID},
		{Username: "manager.demo", Name: "Manager", Password: demoPassword, RoleId: roleByTier[models.TierManager].ID},
	}
	for _, input := range demoUsers {
		input.BusinessId = businessId
		if _, err := models.CreateUser(ctx, input); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create user %s: %v\n", input.Username, err)
			os.Exit(1)
		}
	}

	warehouse, err := models.CreateWarehouse(ctx, models.NewWarehouse{Name: "Main DC", Code: "DC1"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create warehouse: %v\n", err)
		os.Exit(1)
	}

	locationCodes := []struct {
		Code string
		Zone string
	}{
		{"A-01-01", "A"}, {"A-01-02", "A"}, {"A-02-01", "A"},
		{"B-01-01", "B"}, {"B-01-02", "B"},
	}
	locations := make([]*models.Location, 0, len(locationCodes))
	for _, lc := range locationCodes {
		location, err := models.CreateLocation(ctx, models.NewLocation{
			WarehouseId: warehouse.ID,
			Code:        lc.Code,
			Zone:        lc.Zone,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create location %s: %v\n", lc.Code, err)
			os.Exit(1)
		}
		locations = append(locations, location)
	}

	demoItems := []models.NewItem{
		{Sku: "SKU-1001", Name: "Engine Oil 1L", Unit: "ea", CostPrice: decimal.NewFromInt(12), AbcClass: models.ABCClassA},
		{Sku: "SKU-1002", Name: "Air Filter", Unit: "ea", CostPrice: decimal.NewFromInt(8), AbcClass: models.ABCClassA},
		{Sku: "SKU-2001", Name: "Brake Pad Set", Unit: "set", CostPrice: decimal.NewFromInt(25), AbcClass: models.ABCClassB},
		{Sku: "SKU-3001", Name: "Wiper Blade", Unit: "ea", CostPrice: decimal.NewFromInt(4), AbcClass: models.ABCClassC},
	}
	items := make([]*models.Item, 0, len(demoItems))
	for _, input := range demoItems {
		item, err := models.CreateItem(ctx, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create item %s: %v\n", input.Sku, err)
			os.Exit(1)
		}
		items = append(items, item)
	}

	now := time.Now().UTC()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for li, location := range locations {
			for ii, item := range items {
				qty := decimal.NewFromInt(int64(20 + li*10 + ii*5))
				if err := models.UpsertStockQty(ctx, tx, businessId, item.ID, location.ID, qty, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed stock: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Seeded business %s (%s)\n", business.Name, businessId)
	fmt.Printf("Users: counter.a counter.b lead.demo supervisor.demo manager.demo (password %q)\n", demoPassword)
	fmt.Printf("Warehouse %s with %d locations, %d items\n", warehouse.Name, len(locations), len(items))
}
