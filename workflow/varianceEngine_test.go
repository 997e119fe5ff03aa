package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"github.com/shopspring/decimal"
)

// defaultThresholds mirrors the per-business seed: Critical at 50% or 50
// units absolute, Major at 10%, Minor catching any non-zero delta. Ordered
// highest severity first, the way GetVarianceThresholds returns them.
func defaultThresholds() []*models.VarianceThreshold {
	abs50 := decimal.NewFromInt(50)
	return []*models.VarianceThreshold{
		{Severity: models.VarianceSeverityCritical, MinPct: decimal.NewFromFloat(0.50), MinAbsQty: &abs50},
		{Severity: models.VarianceSeverityMajor, MinPct: decimal.NewFromFloat(0.10)},
		{Severity: models.VarianceSeverityMinor, MinPct: decimal.Zero},
	}
}

func TestClassifyLine_Severities(t *testing.T) {
	cases := []struct {
		name     string
		expected int64
		counted  int64
		severity models.VarianceSeverity
	}{
		{"exact match", 100, 100, models.VarianceSeverityNone},
		{"one unit off", 100, 99, models.VarianceSeverityMinor},
		{"thirty percent short", 100, 70, models.VarianceSeverityMajor},
		{"thirty percent over", 100, 130, models.VarianceSeverityMajor},
		{"more than half missing", 100, 45, models.VarianceSeverityCritical},
		{"large absolute delta at low percent", 1000, 940, models.VarianceSeverityCritical},
		{"surprise item in empty bin", 0, 3, models.VarianceSeverityCritical},
	}
	thresholds := defaultThresholds()
	for _, tc := range cases {
		result := ClassifyLine(VarianceInput{
			LineId:      1,
			ExpectedQty: decimal.NewFromInt(tc.expected),
			CountedQty:  decimal.NewFromInt(tc.counted),
		}, thresholds)
		if result.Severity != tc.severity {
			t.Fatalf("%s: expected %s, got %s (delta %s, pct %s)",
				tc.name, tc.severity, result.Severity, result.DeltaQty, result.DeltaPct)
		}
	}
}

func TestClassifyLine_SkippedIsAlwaysNone(t *testing.T) {
	result := ClassifyLine(VarianceInput{
		LineId:      7,
		ExpectedQty: decimal.NewFromInt(100),
		CountedQty:  decimal.Zero,
		Skipped:     true,
	}, defaultThresholds())
	if result.Severity != models.VarianceSeverityNone {
		t.Fatalf("skipped line classified %s, want None", result.Severity)
	}
	if !result.DeltaQty.IsZero() {
		t.Fatalf("skipped line has delta %s, want zero", result.DeltaQty)
	}
}

func TestClassifyLine_DeltaValueUsesUnitCost(t *testing.T) {
	result := ClassifyLine(VarianceInput{
		LineId:      1,
		ExpectedQty: decimal.NewFromInt(100),
		CountedQty:  decimal.NewFromInt(70),
		UnitCost:    decimal.NewFromFloat(2.5),
	}, defaultThresholds())
	if result.DeltaQty.String() != "-30" {
		t.Fatalf("delta qty = %s, want -30", result.DeltaQty)
	}
	if result.DeltaValue.String() != "-75" {
		t.Fatalf("delta value = %s, want -75", result.DeltaValue)
	}
	if result.DeltaPct.String() != "0.3" {
		t.Fatalf("delta pct = %s, want 0.3", result.DeltaPct)
	}
}

func TestClassifyLine_Deterministic(t *testing.T) {
	input := VarianceInput{
		LineId:      3,
		ExpectedQty: decimal.NewFromFloat(123.4567),
		CountedQty:  decimal.NewFromFloat(98.7654),
		UnitCost:    decimal.NewFromFloat(1.99),
	}
	thresholds := defaultThresholds()
	first := ClassifyLine(input, thresholds)
	for i := 0; i < 100; i++ {
		again := ClassifyLine(input, thresholds)
		if again.Severity != first.Severity || !again.DeltaQty.Equal(first.DeltaQty) ||
			!again.DeltaPct.Equal(first.DeltaPct) || !again.DeltaValue.Equal(first.DeltaValue) {
			t.Fatalf("classification drifted on run %d: %+v vs %+v", i, again, first)
		}
	}
}

func TestClassifyJournal_WorstSeverityWins(t *testing.T) {
	inputs := []VarianceInput{
		{LineId: 1, ExpectedQty: decimal.NewFromInt(50), CountedQty: decimal.NewFromInt(50)},
		{LineId: 2, ExpectedQty: decimal.NewFromInt(100), CountedQty: decimal.NewFromInt(99)},
		{LineId: 3, ExpectedQty: decimal.NewFromInt(100), CountedQty: decimal.NewFromInt(70)},
		{LineId: 4, ExpectedQty: decimal.NewFromInt(20), CountedQty: decimal.Zero, Skipped: true},
	}
	results, worst := ClassifyJournal(inputs, defaultThresholds())
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if worst != models.VarianceSeverityMajor {
		t.Fatalf("worst = %s, want Major", worst)
	}
	if models.RequiredTier(worst) != models.TierSupervisor {
		t.Fatalf("required tier = %s, want Supervisor", models.RequiredTier(worst))
	}
}

func TestClassifyJournal_CleanJournalNeedsOnlyLead(t *testing.T) {
	inputs := []VarianceInput{
		{LineId: 1, ExpectedQty: decimal.NewFromInt(100), CountedQty: decimal.NewFromInt(100)},
		{LineId: 2, ExpectedQty: decimal.NewFromInt(40), CountedQty: decimal.NewFromInt(40)},
	}
	_, worst := ClassifyJournal(inputs, defaultThresholds())
	if worst != models.VarianceSeverityNone {
		t.Fatalf("worst = %s, want None", worst)
	}
	if models.RequiredTier(worst) != models.TierLead {
		t.Fatalf("required tier = %s, want Lead", models.RequiredTier(worst))
	}
}
