package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"github.com/shopspring/decimal"
)

type ABCClass string

const (
	ABCClassA ABCClass = "A"
	ABCClassB ABCClass = "B"
	ABCClassC ABCClass = "C"
)

type Item struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id" binding:"required"`
	Sku        string          `gorm:"size:100;not null;index" json:"sku" binding:"required"`
	Name       string          `gorm:"size:255;not null;index" json:"name" binding:"required"`
	Barcode    string          `gorm:"size:100;index" json:"barcode"`
	Unit       string          `gorm:"size:50" json:"unit"`
	CostPrice  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost_price"`
	AbcClass   ABCClass        `gorm:"type:enum('A','B','C');default:C;index" json:"abc_class"`
	ImageUrl   string          `json:"image_url"`
	IsActive   *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewItem struct {
	Sku       string          `json:"sku" binding:"required"`
	Name      string          `json:"name" binding:"required"`
	Barcode   string          `json:"barcode"`
	Unit      string          `json:"unit"`
	CostPrice decimal.Decimal `json:"cost_price"`
	AbcClass  ABCClass        `json:"abc_class"`
	ImageUrl  string          `json:"image_url"`
	IsActive  *bool           `json:"is_active"`
}

func (obj Item) GetId() int {
	return obj.ID
}

func CreateItem(ctx context.Context, input NewItem) (*Item, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateUnique[Item](ctx, businessId, "sku", input.Sku, 0); err != nil {
		return nil, err
	}

	item := Item{
		BusinessId: businessId,
		Sku:        input.Sku,
		Name:       input.Name,
		Barcode:    input.Barcode,
		Unit:       input.Unit,
		CostPrice:  input.CostPrice,
		AbcClass:   input.AbcClass,
		ImageUrl:   input.ImageUrl,
		IsActive:   input.IsActive,
	}
	if item.AbcClass == "" {
		item.AbcClass = ABCClassC
	}
	if item.IsActive == nil {
		item.IsActive = utils.NewTrue()
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func GetItem(ctx context.Context, id int) (*Item, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Item](ctx, businessId, id)
}

func ListItems(ctx context.Context) ([]*Item, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[Item](ctx, businessId)
}
