// stock-import loads an on-hand stock snapshot from an xlsx workbook.
// Expected columns (first sheet, header row): SKU, LocationCode, Qty.
// Items and locations must already exist; unknown rows are reported and
// skipped unless --strict is set.
//
// Usage:
//   go run ./cmd/stock-import --business-id=<uuid> --file=snapshot.xlsx
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	file := flag.String("file", "", "Required: path to xlsx snapshot")
	strict := flag.Bool("strict", false, "Fail on unknown SKU or location instead of skipping")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" || strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "--business-id and --file are required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetBusinessIdInContext(context.Background(), *businessID)
	ctx = utils.SetUserNameInContext(ctx, "StockImport")

	var biz models.Business
	if err := db.WithContext(ctx).Where("id = ?", *businessID).First(&biz).Error; err != nil {
		fmt.Fprintf(os.Stderr, "business not found: %v\n", err)
		os.Exit(1)
	}

	f, err := excelize.OpenFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open workbook: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read sheet %s: %v\n", sheet, err)
		os.Exit(1)
	}
	if len(rows) < 2 {
		fmt.Fprintln(os.Stderr, "workbook has no data rows")
		os.Exit(1)
	}

	itemIds := make(map[string]int)
	var items []*models.Item
	if err := db.WithContext(ctx).Where("business_id = ?", *businessID).Find(&items).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to load items: %v\n", err)
		os.Exit(1)
	}
	for _, item := range items {
		itemIds[item.Sku] = item.ID
	}

	locationIds := make(map[string]int)
	var locations []*models.Location
	if err := db.WithContext(ctx).Where("business_id = ?", *businessID).Find(&locations).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to load locations: %v\n", err)
		os.Exit(1)
	}
	for _, location := range locations {
		locationIds[location.Code] = location.ID
	}

	imported, skipped := 0, 0
	now := time.Now().UTC()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, row := range rows[1:] {
			if len(row) < 3 {
				continue
			}
			sku := strings.TrimSpace(row[0])
			code := strings.TrimSpace(row[1])
			qty, qtyErr := decimal.NewFromString(strings.TrimSpace(row[2]))

			itemId, itemOk := itemIds[sku]
			locationId, locOk := locationIds[code]
			if !itemOk || !locOk || qtyErr != nil {
				if *strict {
					return fmt.Errorf("row %d: unknown sku/location or bad qty (%s, %s, %s)", i+2, sku, code, row[2])
				}
				fmt.Fprintf(os.Stderr, "skipping row %d: %s / %s\n", i+2, sku, code)
				skipped++
				continue
			}

			if err := models.UpsertStockQty(ctx, tx, *businessID, itemId, locationId, qty, now); err != nil {
				return err
			}
			imported++
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed (rolled back): %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Imported %d stock rows (%d skipped) for business %s\n", imported, skipped, biz.Name)
}
