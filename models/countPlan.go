package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"gorm.io/gorm"
)

// CountPlan defines the scope of a counting campaign. Releasing a plan
// materializes journals: one journal per location in scope, lines snapshot
// the expected quantity from stock summaries at release time.
type CountPlan struct {
	ID            int               `gorm:"primary_key" json:"id"`
	BusinessId    string            `gorm:"index;not null" json:"business_id" binding:"required"`
	PlanNumber    string            `gorm:"size:50;not null;index" json:"plan_number"`
	SequenceNo    int64             `gorm:"index" json:"sequence_no"`
	Name          string            `gorm:"size:255;not null" json:"name" binding:"required"`
	WarehouseId   int               `gorm:"index;not null" json:"warehouse_id" binding:"required"`
	Warehouse     Warehouse         `gorm:"foreignKey:WarehouseId" json:"warehouse"`
	SelectionMode PlanSelectionMode `gorm:"type:enum('Location','Item','ABC');not null" json:"selection_mode" binding:"required"`
	Selector      []byte            `gorm:"type:blob" json:"selector"`
	Status        PlanStatus        `gorm:"type:enum('Draft','Released','Completed','Cancelled');not null;default:Draft;index" json:"status"`
	DueDate       *time.Time        `json:"due_date"`
	ReleasedAt    *time.Time        `json:"released_at"`
	ReleasedBy    int               `json:"released_by"`
	Journals      []CountJournal    `gorm:"foreignKey:PlanId" json:"journals"`
	CreatedBy     int               `gorm:"not null" json:"created_by"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedBy     int               `json:"updated_by"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// PlanSelector is the decoded form of CountPlan.Selector. Exactly one of the
// fields is honored, matching SelectionMode.
type PlanSelector struct {
	LocationIds []int      `json:"location_ids,omitempty"`
	ItemIds     []int      `json:"item_ids,omitempty"`
	AbcClasses  []ABCClass `json:"abc_classes,omitempty"`
}

type NewCountPlan struct {
	Name          string            `json:"name" binding:"required"`
	WarehouseId   int               `json:"warehouse_id" binding:"required"`
	SelectionMode PlanSelectionMode `json:"selection_mode" binding:"required"`
	Selector      PlanSelector      `json:"selector"`
	DueDate       *time.Time        `json:"due_date"`
}

func (obj CountPlan) GetId() int {
	return obj.ID
}

func (plan *CountPlan) DecodeSelector() (PlanSelector, error) {
	var sel PlanSelector
	if len(plan.Selector) == 0 {
		return sel, nil
	}
	err := json.Unmarshal(plan.Selector, &sel)
	return sel, err
}

func (input NewCountPlan) validate(ctx context.Context, businessId string) error {
	if err := utils.ValidateResourceId[Warehouse](ctx, businessId, input.WarehouseId); err != nil {
		return errors.New("warehouse not found")
	}
	switch input.SelectionMode {
	case PlanSelectionModeLocation:
		if len(input.Selector.LocationIds) == 0 {
			return errors.New("location selection requires location ids")
		}
		if err := utils.ValidateResourcesId[Location](ctx, businessId, input.Selector.LocationIds); err != nil {
			return errors.New("one or more locations not found")
		}
	case PlanSelectionModeItem:
		if len(input.Selector.ItemIds) == 0 {
			return errors.New("item selection requires item ids")
		}
		if err := utils.ValidateResourcesId[Item](ctx, businessId, input.Selector.ItemIds); err != nil {
			return errors.New("one or more items not found")
		}
	case PlanSelectionModeABC:
		if len(input.Selector.AbcClasses) == 0 {
			return errors.New("abc selection requires at least one class")
		}
		for _, class := range input.Selector.AbcClasses {
			if class != ABCClassA && class != ABCClassB && class != ABCClassC {
				return fmt.Errorf("invalid abc class %q", class)
			}
		}
	default:
		return errors.New("invalid selection mode")
	}
	return nil
}

func CreateCountPlan(ctx context.Context, input NewCountPlan) (*CountPlan, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	selectorBytes, err := json.Marshal(input.Selector)
	if err != nil {
		return nil, err
	}

	seq, err := utils.GetSequence[CountPlan](ctx, businessId)
	if err != nil {
		return nil, err
	}

	plan := CountPlan{
		BusinessId:    businessId,
		PlanNumber:    fmt.Sprintf("CP-%06d", seq),
		SequenceNo:    seq,
		Name:          input.Name,
		WarehouseId:   input.WarehouseId,
		SelectionMode: input.SelectionMode,
		Selector:      selectorBytes,
		Status:        PlanStatusDraft,
		DueDate:       input.DueDate,
		CreatedBy:     userId,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func GetCountPlan(ctx context.Context, id int) (*CountPlan, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[CountPlan](ctx, businessId, id, "Warehouse", "Journals")
}

func ListCountPlans(ctx context.Context) ([]*CountPlan, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[CountPlan](ctx, businessId, "Warehouse")
}

// CancelCountPlan cancels a draft plan. Released plans cannot be cancelled
// because journals may already be in flight.
func CancelCountPlan(ctx context.Context, id int) (*CountPlan, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}

	plan, err := utils.FetchModel[CountPlan](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	if plan.Status != PlanStatusDraft {
		return nil, ErrInvalidTransition
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(plan).
		Updates(map[string]interface{}{"status": PlanStatusCancelled}).Error
	if err != nil {
		return nil, err
	}
	plan.Status = PlanStatusCancelled
	return plan, nil
}

// MarkPlanCompletedIfDone flips a released plan to Completed once every
// journal under it is reconciled. Called inside the reconciliation
// transaction.
func MarkPlanCompletedIfDone(ctx context.Context, tx *gorm.DB, businessId string, planId int) error {
	var remaining int64
	err := tx.WithContext(ctx).Model(&CountJournal{}).
		Where("business_id = ? AND plan_id = ? AND status <> ?", businessId, planId, JournalStatusReconciled).
		Count(&remaining).Error
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return tx.WithContext(ctx).Model(&CountPlan{}).
		Where("business_id = ? AND id = ? AND status = ?", businessId, planId, PlanStatusReleased).
		Updates(map[string]interface{}{"status": PlanStatusCompleted}).Error
}
