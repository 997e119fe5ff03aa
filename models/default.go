package models

import (
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// seedBusinessDefaults installs the roles and variance thresholds every new
// business starts with.
func seedBusinessDefaults(tx *gorm.DB, businessId string) error {
	if err := createDefaultRoles(tx, businessId); err != nil {
		return err
	}
	return createDefaultThresholds(tx, businessId)
}

func createDefaultRoles(tx *gorm.DB, businessId string) error {
	roles := []Role{
		{BusinessId: businessId, Name: "Operator", Tier: TierOperator, CanCount: utils.NewTrue()},
		{BusinessId: businessId, Name: "Lead", Tier: TierLead, CanCount: utils.NewTrue()},
		{BusinessId: businessId, Name: "Supervisor", Tier: TierSupervisor, CanCount: utils.NewFalse()},
		{BusinessId: businessId, Name: "Manager", Tier: TierManager, CanCount: utils.NewFalse()},
	}
	return tx.Create(&roles).Error
}

// Default classification rules. Percent thresholds are fractions of the
// expected quantity; Critical also fires on absolute deltas of 50 and above
// so large counts cannot hide behind a big denominator.
func createDefaultThresholds(tx *gorm.DB, businessId string) error {
	criticalAbs := decimal.NewFromInt(50)
	thresholds := []VarianceThreshold{
		{
			BusinessId: businessId,
			Severity:   VarianceSeverityCritical,
			MinPct:     decimal.NewFromFloat(0.50),
			MinAbsQty:  &criticalAbs,
			IsActive:   utils.NewTrue(),
		},
		{
			BusinessId: businessId,
			Severity:   VarianceSeverityMajor,
			MinPct:     decimal.NewFromFloat(0.10),
			IsActive:   utils.NewTrue(),
		},
		{
			BusinessId: businessId,
			Severity:   VarianceSeverityMinor,
			MinPct:     decimal.Zero,
			IsActive:   utils.NewTrue(),
		},
	}
	return tx.Create(&thresholds).Error
}
