package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"kakeibo/internal/core"
)

func TestWriteXLSX(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skip("tzdata not available")
	}
	views := []core.TransactionView{
		{
			Transaction: core.Transaction{
				ID: "t1", Amount: 1200, Type: core.Expense, Note: "groceries",
				Date:       time.Date(2024, 5, 19, 23, 30, 0, 0, time.UTC),
				CategoryID: "food", AccountID: "cash",
			},
			Category: &core.Category{ID: "food", Label: "Food"},
			Account:  &core.Account{ID: "cash", Name: "Cash"},
		},
		{
			Transaction: core.Transaction{
				ID: "t2", Amount: 2500, Type: core.Income,
				Date:       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
				CategoryID: "gone",
			},
		},
	}

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, views, rome); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	for _, c := range columnWidths {
		w, err := f.GetColWidth(SheetName, c.from)
		if err != nil || w != c.width {
			t.Errorf("width of %s = %v (%v), want %v", c.from, w, err, c.width)
		}
	}

	if sheets := f.GetSheetList(); len(sheets) != 1 || sheets[0] != SheetName {
		t.Fatalf("sheets = %v", sheets)
	}
	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows", len(rows))
	}

	tests := []struct {
		row  int
		want []string
	}{
		{0, []string{"Date", "Type", "Category", "Account", "Amount", "Note"}},
		{1, []string{"2024-05-20", "expense", "Food", "Cash", "1200", "groceries"}},
		{2, []string{"2024-05-01", "income", "gone", "", "2500"}},
	}
	for _, tt := range tests {
		got := rows[tt.row]
		if len(got) > len(headers) {
			t.Fatalf("row %d = %q", tt.row, got)
		}
		for i := range tt.want {
			var cell string
			if i < len(got) {
				cell = got[i]
			}
			if cell != tt.want[i] {
				t.Errorf("row %d col %d = %q, want %q", tt.row, i, cell, tt.want[i])
			}
		}
	}
}

func TestWriteXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, nil, nil); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(SheetName)
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
}
