package reports

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// WriteMaterialsCSV serialises the material-wise summary.
func WriteMaterialsCSV(w io.Writer, report MaterialReport) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Material", "Unit", "Opening", "In", "Out", "Closing"}); err != nil {
		return err
	}
	for _, row := range report.Rows {
		if err := writer.Write([]string{
			row.Name,
			row.Unit,
			row.Opening.String(),
			row.TotalIn.String(),
			row.TotalOut.String(),
			row.Closing.String(),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WritePartiesCSV serialises the party-wise summary.
func WritePartiesCSV(w io.Writer, report PartyReport) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Party", "Material", "Received", "Used", "Balance"}); err != nil {
		return err
	}
	for _, row := range report.Rows {
		if err := writer.Write([]string{
			row.PartyName,
			row.MaterialName,
			row.Received.String(),
			row.Used.String(),
			row.Balance.String(),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteOrdersCSV serialises the order-wise view.
func WriteOrdersCSV(w io.Writer, report OrderReport) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(lineHeader(false)); err != nil {
		return err
	}
	for _, line := range report.Lines {
		if err := writer.Write(lineRecord(line, false)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteLedgerCSV serialises the detailed ledger. Each material starts with an
// opening row and ends with a closing row.
func WriteLedgerCSV(w io.Writer, report LedgerReport) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(lineHeader(true)); err != nil {
		return err
	}
	for _, section := range report.Sections {
		sum := section.Summary
		if err := writer.Write([]string{"", sum.Name, "Opening", "", "", "", "", "", sum.Opening.String(), ""}); err != nil {
			return err
		}
		for _, line := range section.Lines {
			if err := writer.Write(lineRecord(line, true)); err != nil {
				return err
			}
		}
		if err := writer.Write([]string{"", sum.Name, "Closing", "", "", "", sum.TotalIn.String(), sum.TotalOut.String(), sum.Closing.String(), ""}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func lineHeader(withBalance bool) []string {
	header := []string{"Date", "Material", "Direction", "Tag", "Party", "Order", "In", "Out"}
	if withBalance {
		header = append(header, "Balance")
	}
	return append(header, "Remarks")
}

func lineRecord(line Line, withBalance bool) []string {
	record := []string{
		line.Date.Format(time.DateOnly),
		line.MaterialName,
		line.Direction,
		line.Tag,
		line.PartyName,
		line.OrderNumber,
		line.In.String(),
		line.Out.String(),
	}
	if withBalance {
		balance := ""
		if line.Balance.Valid {
			balance = line.Balance.Decimal.String()
		}
		record = append(record, balance)
	}
	return append(record, line.Remarks)
}

const (
	sheetSummary = "Summary"
	sheetLedger  = "Ledger"
)

// WriteLedgerXLSX writes a workbook with the material summary on one sheet
// and the detailed ledger on another.
func WriteLedgerXLSX(w io.Writer, report LedgerReport) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return err
	}
	if _, err := f.NewSheet(sheetLedger); err != nil {
		return err
	}

	summary := [][]any{{"Material", "Unit", "Opening", "In", "Out", "Closing"}}
	for _, s := range report.Sections {
		row := s.Summary
		summary = append(summary, []any{row.Name, row.Unit, number(row.Opening), number(row.TotalIn), number(row.TotalOut), number(row.Closing)})
	}
	if err := writeRows(f, sheetSummary, summary); err != nil {
		return err
	}

	header := lineHeader(true)
	rows := [][]any{make([]any, len(header))}
	for i, h := range header {
		rows[0][i] = h
	}
	for _, s := range report.Sections {
		for _, line := range s.Lines {
			balance := any("")
			if line.Balance.Valid {
				balance = number(line.Balance.Decimal)
			}
			rows = append(rows, []any{
				line.Date.Format(time.DateOnly), line.MaterialName, line.Direction, line.Tag,
				line.PartyName, line.OrderNumber, number(line.In), number(line.Out), balance, line.Remarks,
			})
		}
	}
	if err := writeRows(f, sheetLedger, rows); err != nil {
		return err
	}
	return f.Write(w)
}

// WriteMaterialsXLSX writes the material-wise summary as a single sheet.
func WriteMaterialsXLSX(w io.Writer, report MaterialReport) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return err
	}
	rows := [][]any{{"Material", "Unit", "Opening", "In", "Out", "Closing"}}
	for _, row := range report.Rows {
		rows = append(rows, []any{row.Name, row.Unit, number(row.Opening), number(row.TotalIn), number(row.TotalOut), number(row.Closing)})
	}
	if err := writeRows(f, sheetSummary, rows); err != nil {
		return err
	}
	return f.Write(w)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("reports: write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func number(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}
