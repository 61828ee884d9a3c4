// Package report renders a user's transactions for people rather than for
// the ledger engine.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"kakeibo/internal/core"
)

const (
	SheetName = "Transactions"
	MimeType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var headers = []string{"Date", "Type", "Category", "Account", "Amount", "Note"}

var columnWidths = []struct {
	from, to string
	width    float64
}{
	{"A", "A", 12},
	{"B", "B", 10},
	{"C", "D", 18},
	{"E", "E", 12},
	{"F", "F", 30},
}

// WriteXLSX writes views as a single-sheet workbook, one row per
// transaction in the given order. Dates are rendered in loc.
func WriteXLSX(w io.Writer, views []core.TransactionView, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	for i, h := range headers {
		if err := f.SetCellValue(SheetName, fmt.Sprintf("%c1", 'A'+i), h); err != nil {
			return err
		}
	}

	for idx, v := range views {
		row := []any{
			v.Date.In(loc).Format("2006-01-02"),
			string(v.Type),
			categoryLabel(v),
			accountName(v),
			v.Amount,
			v.Note,
		}
		cell, err := excelize.CoordinatesToCellName(1, idx+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", idx+2, err)
		}
	}

	for _, c := range columnWidths {
		if err := f.SetColWidth(SheetName, c.from, c.to, c.width); err != nil {
			return fmt.Errorf("set width of %s:%s: %w", c.from, c.to, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Dangling references render as the raw id.
func categoryLabel(v core.TransactionView) string {
	if v.Category != nil {
		return v.Category.Label
	}
	return v.CategoryID
}

func accountName(v core.TransactionView) string {
	if v.Account != nil {
		return v.Account.Name
	}
	return v.AccountID
}
