package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
)

// Role carries the approval authority tier used by the approval workflow.
// A counter can hold an approval tier and still be ineligible to approve a
// journal they counted themselves.
type Role struct {
	ID         int          `gorm:"primary_key" json:"id"`
	BusinessId string       `gorm:"index;not null" json:"business_id" binding:"required"`
	Name       string       `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Tier       ApprovalTier `gorm:"not null;default:0" json:"tier"`
	CanCount   *bool        `gorm:"not null;default:true" json:"can_count"`
	CreatedAt  time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewRole struct {
	Name     string       `json:"name" binding:"required"`
	Tier     ApprovalTier `json:"tier"`
	CanCount *bool        `json:"can_count"`
}

func (obj Role) GetId() int {
	return obj.ID
}

func (input NewRole) validate(businessId string) error {
	if input.Name == "" {
		return errors.New("role name is required")
	}
	if input.Tier < TierOperator || input.Tier > TierManager {
		return errors.New("role tier out of range")
	}
	return nil
}

func CreateRole(ctx context.Context, input NewRole) (*Role, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(businessId); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[Role](ctx, businessId, "name", input.Name, 0); err != nil {
		return nil, err
	}

	role := Role{
		BusinessId: businessId,
		Name:       input.Name,
		Tier:       input.Tier,
		CanCount:   input.CanCount,
	}
	if role.CanCount == nil {
		role.CanCount = utils.NewTrue()
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&role).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

// GetRoleTier resolves a user's approval tier, caching by role id.
func GetRoleTier(ctx context.Context, businessId string, roleId int) (ApprovalTier, error) {
	cached, err := utils.RetrieveRedis[Role](roleId)
	if err != nil {
		return TierOperator, err
	}
	if cached != nil && cached.BusinessId == businessId {
		return cached.Tier, nil
	}

	var role Role
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("business_id = ? AND id = ?", businessId, roleId).First(&role).Error; err != nil {
		return TierOperator, err
	}
	_ = utils.StoreRedis[Role](&role, roleId)
	return role.Tier, nil
}
