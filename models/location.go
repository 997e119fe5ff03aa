package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
)

// Location is a bin or shelf inside a warehouse. Zone groups locations for
// plan selection (e.g. "A-RACK", "COLD").
type Location struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id" binding:"required"`
	WarehouseId int       `gorm:"index;not null" json:"warehouse_id" binding:"required"`
	Warehouse   Warehouse `gorm:"foreignKey:WarehouseId" json:"warehouse"`
	Code        string    `gorm:"size:50;not null;index" json:"code" binding:"required"`
	Zone        string    `gorm:"size:50;index" json:"zone"`
	Aisle       string    `gorm:"size:20" json:"aisle"`
	Rack        string    `gorm:"size:20" json:"rack"`
	Level       string    `gorm:"size:20" json:"level"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewLocation struct {
	WarehouseId int    `json:"warehouse_id" binding:"required"`
	Code        string `json:"code" binding:"required"`
	Zone        string `json:"zone"`
	Aisle       string `json:"aisle"`
	Rack        string `json:"rack"`
	Level       string `json:"level"`
	IsActive    *bool  `json:"is_active"`
}

func (obj Location) GetId() int {
	return obj.ID
}

func (input NewLocation) validate(ctx context.Context, businessId string) error {
	if err := utils.ValidateResourceId[Warehouse](ctx, businessId, input.WarehouseId); err != nil {
		return errors.New("warehouse not found")
	}
	if input.Code == "" {
		return errors.New("location code is required")
	}
	return nil
}

func CreateLocation(ctx context.Context, input NewLocation) (*Location, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	count, err := utils.ResourceCountWhere[Location](ctx, businessId, "warehouse_id = ? AND code = ?", input.WarehouseId, input.Code)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("location code already exists in warehouse")
	}

	location := Location{
		BusinessId:  businessId,
		WarehouseId: input.WarehouseId,
		Code:        input.Code,
		Zone:        input.Zone,
		Aisle:       input.Aisle,
		Rack:        input.Rack,
		Level:       input.Level,
		IsActive:    input.IsActive,
	}
	if location.IsActive == nil {
		location.IsActive = utils.NewTrue()
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&location).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

func ListLocationsByWarehouse(ctx context.Context, warehouseId int) ([]*Location, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	var locations []*Location
	err := db.WithContext(ctx).
		Where("business_id = ? AND warehouse_id = ?", businessId, warehouseId).
		Order("code").
		Find(&locations).Error
	return locations, err
}
