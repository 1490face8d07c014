package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/staffexpense_sync/models"
)

// MonthlySummary is the per-month rollup shown on the device and exported to
// the spreadsheet.
type MonthlySummary struct {
	EmployeeID    string          `json:"employee_id"`
	EmployeeName  string          `json:"employee_name"`
	Month         time.Month      `json:"month"`
	Year          int             `json:"year"`
	ReceiptTotal  decimal.Decimal `json:"receipt_total"`
	ReceiptCount  int             `json:"receipt_count"`
	MileageTotal  decimal.Decimal `json:"mileage_total"`
	MileageCost   decimal.Decimal `json:"mileage_cost"`
	HoursTotal    decimal.Decimal `json:"hours_total"`
	BillableHours decimal.Decimal `json:"billable_hours"`
}

func GetMonthlySummary(ctx context.Context, db *gorm.DB, employeeId string, month time.Month, year int) (*MonthlySummary, error) {
	if employeeId == "" {
		return nil, errors.New("employee id is required")
	}
	emp, err := models.GetEmployeeById(ctx, db, employeeId)
	if err != nil {
		return nil, err
	}

	receipts, err := models.QueryReceiptsByEmployeeAndRange(ctx, db, employeeId, month, year)
	if err != nil {
		return nil, err
	}
	mileage, err := models.QueryMileageByEmployeeAndRange(ctx, db, employeeId, month, year)
	if err != nil {
		return nil, err
	}
	timeEntries, err := models.QueryTimeEntriesByEmployeeAndRange(ctx, db, employeeId, month, year)
	if err != nil {
		return nil, err
	}

	summary := &MonthlySummary{
		EmployeeID:   emp.ID,
		EmployeeName: emp.Name,
		Month:        month,
		Year:         year,
	}
	for _, r := range receipts {
		summary.ReceiptTotal = summary.ReceiptTotal.Add(r.Amount)
		summary.ReceiptCount++
	}
	for _, m := range mileage {
		summary.MileageTotal = summary.MileageTotal.Add(m.Miles)
		summary.MileageCost = summary.MileageCost.Add(m.Cost)
	}
	for _, t := range timeEntries {
		summary.HoursTotal = summary.HoursTotal.Add(t.Hours)
		if t.Billable != nil && *t.Billable {
			summary.BillableHours = summary.BillableHours.Add(t.Hours)
		}
	}
	return summary, nil
}

// ExportMonthlyExpenseReport writes the month's receipts and mileage for one
// employee to an xlsx workbook, one sheet per kind plus a summary sheet.
func ExportMonthlyExpenseReport(ctx context.Context, db *gorm.DB, employeeId string, month time.Month, year int, filename string) error {
	summary, err := GetMonthlySummary(ctx, db, employeeId, month, year)
	if err != nil {
		return err
	}
	receipts, err := models.QueryReceiptsByEmployeeAndRange(ctx, db, employeeId, month, year)
	if err != nil {
		return err
	}
	mileage, err := models.QueryMileageByEmployeeAndRange(ctx, db, employeeId, month, year)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writeSummarySheet(f, summary); err != nil {
		return err
	}
	if err := writeReceiptSheet(f, receipts); err != nil {
		return err
	}
	if err := writeMileageSheet(f, mileage); err != nil {
		return err
	}

	return f.SaveAs(filename)
}

func writeSummarySheet(f *excelize.File, summary *MonthlySummary) error {
	sheet := "Sheet1"
	f.SetCellValue(sheet, "A1", "Employee")
	f.SetCellValue(sheet, "B1", summary.EmployeeName)
	f.SetCellValue(sheet, "A2", "Period")
	f.SetCellValue(sheet, "B2", fmt.Sprintf("%s %d", summary.Month, summary.Year))
	f.SetCellValue(sheet, "A4", "ReceiptCount")
	f.SetCellValue(sheet, "B4", summary.ReceiptCount)
	f.SetCellValue(sheet, "A5", "ReceiptTotal")
	f.SetCellValue(sheet, "B5", summary.ReceiptTotal.String())
	f.SetCellValue(sheet, "A6", "MileageMiles")
	f.SetCellValue(sheet, "B6", summary.MileageTotal.String())
	f.SetCellValue(sheet, "A7", "MileageCost")
	f.SetCellValue(sheet, "B7", summary.MileageCost.String())
	f.SetCellValue(sheet, "A8", "HoursTotal")
	f.SetCellValue(sheet, "B8", summary.HoursTotal.String())
	f.SetCellValue(sheet, "A9", "BillableHours")
	f.SetCellValue(sheet, "B9", summary.BillableHours.String())
	return nil
}

func writeReceiptSheet(f *excelize.File, receipts []models.Receipt) error {
	sheet := "Receipts"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	// Add headers
	f.SetCellValue(sheet, "A1", "Date")
	f.SetCellValue(sheet, "B1", "Vendor")
	f.SetCellValue(sheet, "C1", "Category")
	f.SetCellValue(sheet, "D1", "Amount")
	f.SetCellValue(sheet, "E1", "Reimbursable")

	// Add data
	for i, r := range receipts {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(sheet, "A"+row, r.ReceiptDate.Format("2006-01-02"))
		f.SetCellValue(sheet, "B"+row, r.Vendor)
		f.SetCellValue(sheet, "C"+row, r.Category)
		f.SetCellValue(sheet, "D"+row, r.Amount.String())
		f.SetCellValue(sheet, "E"+row, r.Reimbursable != nil && *r.Reimbursable)
	}
	return nil
}

func writeMileageSheet(f *excelize.File, entries []models.MileageEntry) error {
	sheet := "Mileage"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	// Add headers
	f.SetCellValue(sheet, "A1", "Date")
	f.SetCellValue(sheet, "B1", "From")
	f.SetCellValue(sheet, "C1", "To")
	f.SetCellValue(sheet, "D1", "Miles")
	f.SetCellValue(sheet, "E1", "Cost")
	f.SetCellValue(sheet, "F1", "Purpose")

	// Add data
	for i, m := range entries {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(sheet, "A"+row, m.EntryDate.Format("2006-01-02"))
		f.SetCellValue(sheet, "B"+row, m.StartLocation)
		f.SetCellValue(sheet, "C"+row, m.EndLocation)
		f.SetCellValue(sheet, "D"+row, m.Miles.String())
		f.SetCellValue(sheet, "E"+row, m.Cost.String())
		f.SetCellValue(sheet, "F"+row, m.Purpose)
	}
	return nil
}
