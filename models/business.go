package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Business struct {
	ID          uuid.UUID `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName string    `gorm:"size:100" json:"contact_name"`
	Email       string    `gorm:"size:255" json:"email"`
	Phone       string    `gorm:"size:20" json:"phone"`
	Address     string    `gorm:"type:text" json:"address"`
	Country     string    `gorm:"size:100" json:"country"`
	City        string    `gorm:"size:100" json:"city"`
	Timezone    string    `gorm:"size:50" json:"timezone"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name        string `json:"name" binding:"required"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email" binding:"required"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	Country     string `json:"country"`
	City        string `json:"city"`
	Timezone    string `json:"timezone"`
}

/*
caches:
	Business:$businessId
*/

func GetBusinessById(ctx context.Context, businessId string) (*Business, error) {
	var business Business
	exists, err := config.GetRedisObject("Business:"+businessId, &business)
	if err != nil {
		return nil, err
	}
	if exists {
		return &business, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(&business).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("business not found")
		}
		return nil, err
	}
	_ = config.SetRedisObject("Business:"+businessId, &business, 0)
	return &business, nil
}

func CreateBusiness(ctx context.Context, input NewBusiness) (*Business, error) {
	db := config.GetDB()

	business := Business{
		ID:          uuid.New(),
		Name:        input.Name,
		ContactName: input.ContactName,
		Email:       input.Email,
		Phone:       input.Phone,
		Address:     input.Address,
		Country:     input.Country,
		City:        input.City,
		Timezone:    input.Timezone,
	}
	if business.Timezone == "" {
		business.Timezone = "Asia/Yangon"
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&business).Error; err != nil {
			return err
		}
		return seedBusinessDefaults(tx, business.ID.String())
	})
	if err != nil {
		return nil, err
	}
	return &business, nil
}
