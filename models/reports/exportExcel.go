package reports

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ExportVarianceSummaryExcel writes the variance summary for a plan as an
// xlsx workbook to w.
func ExportVarianceSummaryExcel(ctx context.Context, planId int, w io.Writer) error {
	rows, err := GetVarianceSummaryReport(ctx, planId)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	sheetName := "VarianceSummary"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headings := []string{
		"Plan", "Journal", "Location", "Zone", "Pass", "Status",
		"Lines", "Counted", "Skipped", "Minor", "Major", "Critical",
		"AbsDeltaQty", "AbsDeltaValue",
	}
	col := 'A'
	for _, h := range headings {
		f.SetCellValue(sheetName, string(col)+"1", h)
		col++
	}

	for i, d := range rows {
		rowNo := fmt.Sprint(i + 2)
		f.SetCellValue(sheetName, "A"+rowNo, d.PlanNumber)
		f.SetCellValue(sheetName, "B"+rowNo, d.JournalNumber)
		f.SetCellValue(sheetName, "C"+rowNo, d.LocationCode)
		f.SetCellValue(sheetName, "D"+rowNo, d.Zone)
		f.SetCellValue(sheetName, "E"+rowNo, d.PassNumber)
		f.SetCellValue(sheetName, "F"+rowNo, d.Status)
		f.SetCellValue(sheetName, "G"+rowNo, d.LineCount)
		f.SetCellValue(sheetName, "H"+rowNo, d.CountedLines)
		f.SetCellValue(sheetName, "I"+rowNo, d.SkippedLines)
		f.SetCellValue(sheetName, "J"+rowNo, d.MinorCount)
		f.SetCellValue(sheetName, "K"+rowNo, d.MajorCount)
		f.SetCellValue(sheetName, "L"+rowNo, d.CriticalCount)
		f.SetCellValue(sheetName, "M"+rowNo, d.AbsDeltaQty.InexactFloat64())
		f.SetCellValue(sheetName, "N"+rowNo, d.AbsDeltaValue.InexactFloat64())
	}

	if _, err := f.WriteTo(w); err != nil {
		return err
	}
	return nil
}
