package storage

import (
	"context"
	"fmt"
	"time"

	"kakeibo/internal/core"
)

// PeriodTotals sums the user's expenses and incomes dated within
// [start, end].
func (l *Ledger) PeriodTotals(ctx context.Context, userID string, start, end time.Time) (expense, income int64, err error) {
	txs, err := l.TransactionsInRange(ctx, userID, start, end)
	if err != nil {
		return 0, 0, err
	}
	for _, t := range txs {
		switch t.Type {
		case core.Income:
			income += t.Amount
		default:
			expense += t.Amount
		}
	}
	return expense, income, nil
}

// TotalsByType sums all of the user's transactions per type.
func (l *Ledger) TotalsByType(ctx context.Context, userID string) (map[core.TransactionType]int64, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT type, SUM(amount) FROM expenses WHERE user_id = ? GROUP BY type`, userID)
	if err != nil {
		return nil, fmt.Errorf("totals by type: %w", err)
	}
	defer rows.Close()

	out := map[core.TransactionType]int64{core.Expense: 0, core.Income: 0}
	for rows.Next() {
		var (
			typ string
			sum int64
		)
		if err := rows.Scan(&typ, &sum); err != nil {
			return nil, fmt.Errorf("scan totals by type: %w", err)
		}
		out[core.TransactionType(typ)] += sum
	}
	return out, rows.Err()
}

// TotalAssets sums the balances of every account visible to the user.
func (l *Ledger) TotalAssets(ctx context.Context, userID string) (int64, error) {
	if err := l.ready(); err != nil {
		return 0, err
	}
	var total int64
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(balance), 0) FROM accounts WHERE user_id IN (?, ?)`,
		userID, core.SystemOwner).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total assets: %w", err)
	}
	return total, nil
}

// CategoryBreakdown sums the user's transactions of one type per category
// within [start, end], largest first. Labels are empty for categories that
// no longer exist.
func (l *Ledger) CategoryBreakdown(ctx context.Context, userID string, start, end time.Time, typ core.TransactionType) ([]core.CategoryTotal, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT e.category_id, COALESCE(c.label, ''), SUM(e.amount) AS total
		FROM expenses e LEFT JOIN categories c ON c.id = e.category_id
		WHERE e.user_id = ? AND e.type = ? AND e.date >= ? AND e.date <= ?
		GROUP BY e.category_id
		ORDER BY total DESC, e.category_id`,
		userID, string(typ), toMillis(start), toMillis(end))
	if err != nil {
		return nil, fmt.Errorf("category breakdown: %w", err)
	}
	defer rows.Close()

	out := []core.CategoryTotal{}
	for rows.Next() {
		var ct core.CategoryTotal
		if err := rows.Scan(&ct.CategoryID, &ct.Label, &ct.Amount); err != nil {
			return nil, fmt.Errorf("scan category breakdown: %w", err)
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}
