package workflow

import (
	"bitbucket.org/mmdatafocus/cyclecount_backend/models"
	"github.com/shopspring/decimal"
)

// VarianceInput is one line's expected/counted pair for classification.
type VarianceInput struct {
	LineId      int
	ItemId      int
	ExpectedQty decimal.Decimal
	CountedQty  decimal.Decimal
	UnitCost    decimal.Decimal
	Skipped     bool
}

// VarianceResult is the classified outcome for one line.
type VarianceResult struct {
	LineId      int
	ItemId      int
	ExpectedQty decimal.Decimal
	CountedQty  decimal.Decimal
	DeltaQty    decimal.Decimal
	DeltaPct    decimal.Decimal
	DeltaValue  decimal.Decimal
	Severity    models.VarianceSeverity
}

var one = decimal.NewFromInt(1)

// ClassifyLine computes the delta for a single line and assigns a severity
// from the given thresholds. Thresholds must be ordered highest severity
// first; the first satisfied rule wins. A rule is satisfied when the percent
// deviation reaches MinPct, or when MinAbsQty is set and the absolute delta
// reaches it.
//
// Percent deviation divides by max(expected, 1) so that counting a surprise
// item in an empty bin yields a finite percentage. Skipped lines always
// classify as None.
func ClassifyLine(input VarianceInput, thresholds []*models.VarianceThreshold) VarianceResult {
	result := VarianceResult{
		LineId:      input.LineId,
		ItemId:      input.ItemId,
		ExpectedQty: input.ExpectedQty,
		CountedQty:  input.CountedQty,
		Severity:    models.VarianceSeverityNone,
	}
	if input.Skipped {
		return result
	}

	result.DeltaQty = input.CountedQty.Sub(input.ExpectedQty)
	denominator := decimal.Max(input.ExpectedQty, one)
	result.DeltaPct = result.DeltaQty.Abs().Div(denominator)
	result.DeltaValue = result.DeltaQty.Mul(input.UnitCost)

	if result.DeltaQty.IsZero() {
		return result
	}

	absDelta := result.DeltaQty.Abs()
	for _, threshold := range thresholds {
		if result.DeltaPct.GreaterThanOrEqual(threshold.MinPct) && !threshold.MinPct.IsZero() {
			result.Severity = threshold.Severity
			return result
		}
		if threshold.MinAbsQty != nil && absDelta.GreaterThanOrEqual(*threshold.MinAbsQty) {
			result.Severity = threshold.Severity
			return result
		}
		// A zero MinPct rule catches any non-zero delta.
		if threshold.MinPct.IsZero() && threshold.MinAbsQty == nil {
			result.Severity = threshold.Severity
			return result
		}
	}
	return result
}

// ClassifyJournal classifies every line of a pass and reports the worst
// severity across them. Skipped lines contribute None.
func ClassifyJournal(inputs []VarianceInput, thresholds []*models.VarianceThreshold) ([]VarianceResult, models.VarianceSeverity) {
	worst := models.VarianceSeverityNone
	results := make([]VarianceResult, 0, len(inputs))
	for _, input := range inputs {
		result := ClassifyLine(input, thresholds)
		worst = models.MaxSeverity(worst, result.Severity)
		results = append(results, result)
	}
	return results, worst
}
