package services

import (
	"context"
	"fmt"
	"log/slog"

	"kakeibo/internal/core"
	"kakeibo/internal/storage"
)

// PeriodStats summarizes one calendar month ("YYYY-MM") for the user. An
// empty month means the current month in the service location.
func (s *LedgerService) PeriodStats(ctx context.Context, userID, month string) (core.PeriodStats, error) {
	period, err := core.MonthPeriod(month, s.now(), s.loc)
	if err != nil {
		return core.PeriodStats{}, err
	}

	key := fmt.Sprintf("%s|%s|%d", userID, period.Label, s.manager.Generation())
	if s.stats != nil {
		if st, ok := s.stats.Get(key); ok {
			return st, nil
		}
	}

	var st core.PeriodStats
	var generation uint64
	err = s.manager.View(ctx, func(l *storage.Ledger) error {
		generation = s.manager.Generation()
		var err error
		st, err = computePeriodStats(ctx, l, userID, period)
		return err
	})
	if err != nil {
		return core.PeriodStats{}, err
	}

	if s.stats != nil {
		// The generation may have moved while waiting for the lock.
		s.stats.Set(fmt.Sprintf("%s|%s|%d", userID, period.Label, generation), st)
	}
	slog.DebugContext(ctx, "Period stats computed",
		"user_id", userID,
		"month", period.Label,
		"expense_total", st.ExpenseTotal,
		"income_total", st.IncomeTotal)
	return st, nil
}

func computePeriodStats(ctx context.Context, l *storage.Ledger, userID string, p core.Period) (core.PeriodStats, error) {
	expense, income, err := l.PeriodTotals(ctx, userID, p.Start, p.End)
	if err != nil {
		return core.PeriodStats{}, err
	}
	assets, err := l.TotalAssets(ctx, userID)
	if err != nil {
		return core.PeriodStats{}, err
	}
	byCategory, err := l.CategoryBreakdown(ctx, userID, p.Start, p.End, core.Expense)
	if err != nil {
		return core.PeriodStats{}, err
	}
	return core.PeriodStats{
		ExpenseTotal: expense,
		IncomeTotal:  income,
		TotalAssets:  assets,
		PeriodLabel:  p.Label,
		ByCategory:   byCategory,
	}, nil
}

// AllTimeTotals sums every transaction of the user per type.
func (s *LedgerService) AllTimeTotals(ctx context.Context, userID string) (map[core.TransactionType]int64, error) {
	var out map[core.TransactionType]int64
	err := s.manager.View(ctx, func(l *storage.Ledger) error {
		var err error
		out, err = l.TotalsByType(ctx, userID)
		return err
	})
	return out, err
}
