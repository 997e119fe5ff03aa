package reports

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/utils"
)

type CountAccuracyRow struct {
	Zone         string  `json:"zone"`
	JournalCount int     `json:"journal_count"`
	CountedLines int     `json:"counted_lines"`
	CleanLines   int     `json:"clean_lines"`
	AccuracyPct  float64 `json:"accuracy_pct"`
}

// GetCountAccuracyReport returns per-zone count accuracy: the share of
// counted lines whose latest-pass variance classified as None.
func GetCountAccuracyReport(ctx context.Context, warehouseId int) ([]*CountAccuracyRow, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	query := `
        SELECT
            loc.zone,
            COUNT(DISTINCT cj.id) AS journal_count,
            COUNT(DISTINCT CASE WHEN jl.status = 'Counted' THEN jl.id END) AS counted_lines,
            COUNT(DISTINCT CASE WHEN jl.status = 'Counted' AND vr.severity = 'None' THEN jl.id END) AS clean_lines,
            CASE
                WHEN COUNT(DISTINCT CASE WHEN jl.status = 'Counted' THEN jl.id END) = 0 THEN 0
                ELSE COUNT(DISTINCT CASE WHEN jl.status = 'Counted' AND vr.severity = 'None' THEN jl.id END)
                    / COUNT(DISTINCT CASE WHEN jl.status = 'Counted' THEN jl.id END) * 100
            END AS accuracy_pct
        FROM
            count_journals AS cj
            JOIN locations AS loc ON loc.id = cj.location_id
            LEFT JOIN journal_lines AS jl ON jl.journal_id = cj.id
            LEFT JOIN variance_records AS vr ON vr.line_id = jl.id
                AND vr.pass_number = cj.pass_number
        WHERE
            cj.business_id = ?
            AND (? = 0 OR cj.warehouse_id = ?)
            AND cj.status IN ('Submitted', 'UnderReview', 'Approved', 'Reconciled')
        GROUP BY
            loc.zone
        ORDER BY
            loc.zone;
    `

	var rows []*CountAccuracyRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(query, businessId, warehouseId, warehouseId).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
