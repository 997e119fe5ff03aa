package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// VarianceRecord is the classified delta for one line of one pass. Records
// are immutable once written; a recount pass produces a new set.
type VarianceRecord struct {
	ID          int              `gorm:"primary_key" json:"id"`
	BusinessId  string           `gorm:"size:64;index;not null" json:"business_id"`
	JournalId   int              `gorm:"index;not null" json:"journal_id"`
	LineId      int              `gorm:"index;not null" json:"line_id"`
	ItemId      int              `gorm:"index;not null" json:"item_id"`
	PassNumber  int              `gorm:"not null;default:1" json:"pass_number"`
	ExpectedQty decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"expected_qty"`
	CountedQty  decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"counted_qty"`
	DeltaQty    decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"delta_qty"`
	DeltaPct    decimal.Decimal  `gorm:"type:decimal(10,4);not null" json:"delta_pct"`
	Severity    VarianceSeverity `gorm:"type:enum('None','Minor','Major','Critical');not null;index" json:"severity"`
	DeltaValue  decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"delta_value"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// VarianceThreshold is a per-business classification rule. Rules are
// evaluated highest severity first; the first satisfied rule wins.
type VarianceThreshold struct {
	ID          int              `gorm:"primary_key" json:"id"`
	BusinessId  string           `gorm:"size:64;not null;index:uniq_threshold,unique" json:"business_id"`
	Severity    VarianceSeverity `gorm:"type:enum('Minor','Major','Critical');not null;index:uniq_threshold,unique" json:"severity"`
	MinPct      decimal.Decimal  `gorm:"type:decimal(10,4);not null" json:"min_pct"`
	MinAbsQty   *decimal.Decimal `gorm:"type:decimal(20,4)" json:"min_abs_qty"`
	IsActive    *bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewVarianceThreshold struct {
	Severity  VarianceSeverity `json:"severity" binding:"required"`
	MinPct    decimal.Decimal  `json:"min_pct" binding:"required"`
	MinAbsQty *decimal.Decimal `json:"min_abs_qty"`
}

/*
caches:
	VarianceThresholdList:$businessId
*/

// GetVarianceThresholds returns the active thresholds for a business ordered
// by severity rank descending.
func GetVarianceThresholds(ctx context.Context, businessId string) ([]*VarianceThreshold, error) {
	cached, err := utils.RetrieveRedisList[VarianceThreshold](businessId)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	var thresholds []*VarianceThreshold
	db := config.GetDB()
	err = db.WithContext(ctx).
		Where("business_id = ? AND is_active = ?", businessId, true).
		Find(&thresholds).Error
	if err != nil {
		return nil, err
	}
	sortThresholdsBySeverity(thresholds)
	_ = utils.StoreRedisList[VarianceThreshold](thresholds, businessId)
	return thresholds, nil
}

func sortThresholdsBySeverity(thresholds []*VarianceThreshold) {
	for i := 0; i < len(thresholds); i++ {
		for j := i + 1; j < len(thresholds); j++ {
			if thresholds[j].Severity.Rank() > thresholds[i].Severity.Rank() {
				thresholds[i], thresholds[j] = thresholds[j], thresholds[i]
			}
		}
	}
}

func UpdateVarianceThreshold(ctx context.Context, input NewVarianceThreshold) (*VarianceThreshold, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	if input.Severity == VarianceSeverityNone {
		return nil, errors.New("threshold severity cannot be None")
	}
	if input.MinPct.IsNegative() {
		return nil, errors.New("min pct must be zero or positive")
	}

	db := config.GetDB()
	var threshold VarianceThreshold
	err := db.WithContext(ctx).
		Where("business_id = ? AND severity = ?", businessId, input.Severity).
		First(&threshold).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		threshold = VarianceThreshold{
			BusinessId: businessId,
			Severity:   input.Severity,
			MinPct:     input.MinPct,
			MinAbsQty:  input.MinAbsQty,
			IsActive:   utils.NewTrue(),
		}
		if err := db.WithContext(ctx).Create(&threshold).Error; err != nil {
			return nil, err
		}
	} else {
		err = db.WithContext(ctx).Model(&threshold).Updates(map[string]interface{}{
			"min_pct":     input.MinPct,
			"min_abs_qty": input.MinAbsQty,
		}).Error
		if err != nil {
			return nil, err
		}
		threshold.MinPct = input.MinPct
		threshold.MinAbsQty = input.MinAbsQty
	}

	_ = utils.RemoveRedisList[VarianceThreshold](businessId)
	return &threshold, nil
}

// ListVarianceRecords returns the variance records of a journal's latest
// pass.
func ListVarianceRecords(ctx context.Context, journalId int, passNumber int) ([]*VarianceRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	var records []*VarianceRecord
	dbCtx := db.WithContext(ctx).Where("business_id = ? AND journal_id = ?", businessId, journalId)
	if passNumber > 0 {
		dbCtx = dbCtx.Where("pass_number = ?", passNumber)
	}
	err := dbCtx.Order("line_id").Find(&records).Error
	return records, err
}
