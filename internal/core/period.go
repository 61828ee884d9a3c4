package core

import (
	"fmt"
	"time"
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

type (
	// Period is an inclusive time range labelled for display.
	Period struct {
		Label string
		Start time.Time
		End   time.Time
	}

	// CategoryTotal is the amount booked against one category in a period.
	CategoryTotal struct {
		CategoryID string `json:"categoryId"`
		Label      string `json:"label,omitempty"`
		Amount     int64  `json:"amount"`
	}

	PeriodStats struct {
		ExpenseTotal int64           `json:"expenseTotal"`
		IncomeTotal  int64           `json:"incomeTotal"`
		TotalAssets  int64           `json:"totalAssets"`
		PeriodLabel  string          `json:"month"`
		ByCategory   []CategoryTotal `json:"byCategory"`
	}
)

// ParseDate accepts YYYY-MM-DD, interpreted as midnight in loc, or a full
// RFC 3339 timestamp.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(dayLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, Invalid("date", "must be YYYY-MM-DD or RFC 3339")
	}
	return t, nil
}

// MonthPeriod returns the calendar month named by label ("YYYY-MM") in loc.
// An empty label selects the month containing now.
func MonthPeriod(label string, now time.Time, loc *time.Location) (Period, error) {
	if loc == nil {
		loc = time.UTC
	}
	var first time.Time
	if label == "" {
		n := now.In(loc)
		first = time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, loc)
	} else {
		t, err := time.ParseInLocation(monthLayout, label, loc)
		if err != nil {
			return Period{}, Invalid("month", fmt.Sprintf("%q is not YYYY-MM", label))
		}
		first = t
	}
	return Period{
		Label: first.Format(monthLayout),
		Start: first,
		End:   first.AddDate(0, 1, 0).Add(-time.Millisecond),
	}, nil
}
