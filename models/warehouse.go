package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
)

type Warehouse struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id" binding:"required"`
	Name       string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Code       string    `gorm:"size:20" json:"code"`
	Address    string    `gorm:"type:text" json:"address"`
	City       string    `gorm:"size:100" json:"city"`
	Phone      string    `gorm:"size:20" json:"phone"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewWarehouse struct {
	Name     string `json:"name" binding:"required"`
	Code     string `json:"code"`
	Address  string `json:"address"`
	City     string `json:"city"`
	Phone    string `json:"phone"`
	IsActive *bool  `json:"is_active"`
}

func (obj Warehouse) GetId() int {
	return obj.ID
}

func CreateWarehouse(ctx context.Context, input NewWarehouse) (*Warehouse, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateUnique[Warehouse](ctx, businessId, "name", input.Name, 0); err != nil {
		return nil, err
	}

	warehouse := Warehouse{
		BusinessId: businessId,
		Name:       input.Name,
		Code:       input.Code,
		Address:    input.Address,
		City:       input.City,
		Phone:      input.Phone,
		IsActive:   input.IsActive,
	}
	if warehouse.IsActive == nil {
		warehouse.IsActive = utils.NewTrue()
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&warehouse).Error; err != nil {
		return nil, err
	}
	return &warehouse, nil
}

func GetWarehouse(ctx context.Context, id int) (*Warehouse, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Warehouse](ctx, businessId, id)
}

func ListWarehouses(ctx context.Context) ([]*Warehouse, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[Warehouse](ctx, businessId)
}
