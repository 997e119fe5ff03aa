package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockSummary is the system-of-record on-hand quantity per item and
// location. Journal lines snapshot ExpectedQty from here at generation time;
// reconciliation writes corrections back.
type StockSummary struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"size:64;not null;index:uniq_stock,unique" json:"business_id"`
	ItemId        int             `gorm:"not null;index:uniq_stock,unique" json:"item_id"`
	Item          Item            `gorm:"foreignKey:ItemId" json:"item"`
	LocationId    int             `gorm:"not null;index:uniq_stock,unique" json:"location_id"`
	Location      Location        `gorm:"foreignKey:LocationId" json:"location"`
	Qty           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	LastCountedAt *time.Time      `json:"last_counted_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetStockQty reads the current on-hand quantity; missing rows count as zero.
func GetStockQty(ctx context.Context, tx *gorm.DB, businessId string, itemId, locationId int) (decimal.Decimal, error) {
	var summary StockSummary
	err := tx.WithContext(ctx).
		Where("business_id = ? AND item_id = ? AND location_id = ?", businessId, itemId, locationId).
		First(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return summary.Qty, nil
}

// UpsertStockQty overwrites the on-hand quantity for an item/location pair
// and stamps last_counted_at. Used by reconciliation only.
func UpsertStockQty(ctx context.Context, tx *gorm.DB, businessId string, itemId, locationId int, qty decimal.Decimal, countedAt time.Time) error {
	summary := StockSummary{
		BusinessId:    businessId,
		ItemId:        itemId,
		LocationId:    locationId,
		Qty:           qty,
		LastCountedAt: &countedAt,
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "business_id"}, {Name: "item_id"}, {Name: "location_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"qty", "last_counted_at"}),
	}).Create(&summary).Error
}

// ListStockByLocations returns on-hand rows for the given locations, used by
// journal generation to snapshot expected quantities.
func ListStockByLocations(ctx context.Context, businessId string, locationIds []int) ([]*StockSummary, error) {
	db := config.GetDB()
	var rows []*StockSummary
	err := db.WithContext(ctx).
		Preload("Item").
		Where("business_id = ? AND location_id IN ?", businessId, locationIds).
		Order("location_id, item_id").
		Find(&rows).Error
	return rows, err
}

// ListStockByItems returns on-hand rows for the given items across all
// locations of a warehouse.
func ListStockByItems(ctx context.Context, businessId string, warehouseId int, itemIds []int) ([]*StockSummary, error) {
	db := config.GetDB()
	var rows []*StockSummary
	err := db.WithContext(ctx).
		Preload("Item").
		Joins("JOIN locations ON locations.id = stock_summaries.location_id").
		Where("stock_summaries.business_id = ? AND locations.warehouse_id = ? AND stock_summaries.item_id IN ?", businessId, warehouseId, itemIds).
		Order("stock_summaries.location_id, stock_summaries.item_id").
		Find(&rows).Error
	return rows, err
}

// ListStockByABCClass selects on-hand rows whose item carries the given ABC
// class within a warehouse.
func ListStockByABCClass(ctx context.Context, businessId string, warehouseId int, classes []ABCClass) ([]*StockSummary, error) {
	db := config.GetDB()
	var rows []*StockSummary
	err := db.WithContext(ctx).
		Preload("Item").
		Joins("JOIN locations ON locations.id = stock_summaries.location_id").
		Joins("JOIN items ON items.id = stock_summaries.item_id").
		Where("stock_summaries.business_id = ? AND locations.warehouse_id = ? AND items.abc_class IN ?", businessId, warehouseId, classes).
		Order("stock_summaries.location_id, stock_summaries.item_id").
		Find(&rows).Error
	return rows, err
}
