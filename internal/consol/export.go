package consol

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"
)

const (
	balanceSheetName = "Balances"
	warningSheetName = "Warnings"
)

// WriteXLSX renders a batch grid as a workbook: one row per account, one
// column per period in the given order. Accounts that failed to compute are
// left blank with the failure in the last column.
func WriteXLSX(w io.Writer, periods []string, res BatchResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", balanceSheetName); err != nil {
		return fmt.Errorf("xlsx: rename sheet: %w", err)
	}
	header := append([]any{"Account", "Name", "Type"}, stringsToAny(periods)...)
	header = append(header, "Error")
	if err := f.SetSheetRow(balanceSheetName, "A1", &header); err != nil {
		return fmt.Errorf("xlsx: header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("xlsx: style: %w", err)
	}
	lastHeader, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(balanceSheetName, "A1", lastHeader, bold); err != nil {
		return fmt.Errorf("xlsx: header style: %w", err)
	}
	numFmt := "#,##0.00;[Red]-#,##0.00"
	amountStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		return fmt.Errorf("xlsx: style: %w", err)
	}

	for i, account := range gridAccounts(res) {
		rowNum := i + 2
		row := []any{account, res.AccountNames[account], string(res.AccountTypes[account])}
		values, ok := res.Balances[account]
		for _, p := range periods {
			if !ok {
				row = append(row, nil)
				continue
			}
			row = append(row, values[p].InexactFloat64())
		}
		row = append(row, res.Errors[account])
		start, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(balanceSheetName, start, &row); err != nil {
			return fmt.Errorf("xlsx: row %s: %w", account, err)
		}
		if len(periods) > 0 {
			first, _ := excelize.CoordinatesToCellName(4, rowNum)
			last, _ := excelize.CoordinatesToCellName(3+len(periods), rowNum)
			if err := f.SetCellStyle(balanceSheetName, first, last, amountStyle); err != nil {
				return fmt.Errorf("xlsx: amount style: %w", err)
			}
		}
	}
	if err := f.SetColWidth(balanceSheetName, "B", "B", 40); err != nil {
		return err
	}

	if len(res.Warnings) > 0 {
		if _, err := f.NewSheet(warningSheetName); err != nil {
			return fmt.Errorf("xlsx: warnings sheet: %w", err)
		}
		for i, warning := range res.Warnings {
			cell, _ := excelize.CoordinatesToCellName(1, i+1)
			if err := f.SetCellValue(warningSheetName, cell, warning); err != nil {
				return err
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx: write: %w", err)
	}
	return nil
}

// gridAccounts lists every account of the result once, sorted.
func gridAccounts(res BatchResult) []string {
	seen := make(map[string]struct{}, len(res.Balances)+len(res.Errors))
	for account := range res.Balances {
		seen[account] = struct{}{}
	}
	for account := range res.Errors {
		seen[account] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for account := range seen {
		out = append(out, account)
	}
	sort.Strings(out)
	return out
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
