package reports

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
	"github.com/shopspring/decimal"
)

type VarianceSummaryRow struct {
	JournalId     int             `json:"journal_id"`
	JournalNumber string          `json:"journal_number"`
	PlanNumber    string          `json:"plan_number"`
	LocationCode  string          `json:"location_code"`
	Zone          string          `json:"zone"`
	PassNumber    int             `json:"pass_number"`
	Status        string          `json:"status"`
	LineCount     int             `json:"line_count"`
	CountedLines  int             `json:"counted_lines"`
	SkippedLines  int             `json:"skipped_lines"`
	MinorCount    int             `json:"minor_count"`
	MajorCount    int             `json:"major_count"`
	CriticalCount int             `json:"critical_count"`
	AbsDeltaQty   decimal.Decimal `json:"abs_delta_qty"`
	AbsDeltaValue decimal.Decimal `json:"abs_delta_value"`
}

// GetVarianceSummaryReport aggregates the latest-pass variance records per
// journal for a plan. Pass planId 0 for all plans of the business.
func GetVarianceSummaryReport(ctx context.Context, planId int) ([]*VarianceSummaryRow, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	query := `
        SELECT
            cj.id AS journal_id,
            cj.journal_number,
            cp.plan_number,
            loc.code AS location_code,
            loc.zone,
            cj.pass_number,
            cj.status,
            COUNT(DISTINCT jl.id) AS line_count,
            COUNT(DISTINCT CASE WHEN jl.status = 'Counted' THEN jl.id END) AS counted_lines,
            COUNT(DISTINCT CASE WHEN jl.status = 'Skipped' THEN jl.id END) AS skipped_lines,
            COUNT(DISTINCT CASE WHEN vr.severity = 'Minor' THEN vr.id END) AS minor_count,
            COUNT(DISTINCT CASE WHEN vr.severity = 'Major' THEN vr.id END) AS major_count,
            COUNT(DISTINCT CASE WHEN vr.severity = 'Critical' THEN vr.id END) AS critical_count,
            COALESCE(SUM(ABS(vr.delta_qty)), 0) AS abs_delta_qty,
            COALESCE(SUM(ABS(vr.delta_value)), 0) AS abs_delta_value
        FROM
            count_journals AS cj
            JOIN count_plans AS cp ON cp.id = cj.plan_id
            JOIN locations AS loc ON loc.id = cj.location_id
            LEFT JOIN journal_lines AS jl ON jl.journal_id = cj.id
            LEFT JOIN variance_records AS vr ON vr.journal_id = cj.id
                AND vr.pass_number = cj.pass_number
        WHERE
            cj.business_id = ?
            AND (? = 0 OR cj.plan_id = ?)
        GROUP BY
            cj.id, cj.journal_number, cp.plan_number, loc.code, loc.zone,
            cj.pass_number, cj.status
        ORDER BY
            cp.plan_number, cj.sequence_no;
    `

	var rows []*VarianceSummaryRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(query, businessId, planId, planId).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
