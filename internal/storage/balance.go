package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kakeibo/internal/core"
)

// Drift is an account whose stored balance disagrees with its ledger.
type Drift struct {
	AccountID string
	Stored    int64
	Ledger    int64
}

const ledgerSum = `COALESCE((
	SELECT SUM(CASE WHEN e.type = 'income' THEN e.amount ELSE -e.amount END)
	FROM expenses e WHERE e.account_id = accounts.id
), 0)`

// applyDelta adds delta to the account balance. Unassigned transactions
// (empty account id) touch nothing.
func applyDelta(ctx context.Context, q querier, accountID string, delta int64, now time.Time) error {
	if accountID == "" || delta == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ?`,
		delta, toMillis(now), accountID)
	if err != nil {
		return fmt.Errorf("apply balance delta to %s: %w", accountID, err)
	}
	return nil
}

// revertApply removes the previous contribution and adds the new one. The
// two accounts may differ.
func revertApply(ctx context.Context, q querier, prev, next core.Financials, now time.Time) error {
	if err := applyDelta(ctx, q, prev.AccountID, -prev.Delta(), now); err != nil {
		return err
	}
	return applyDelta(ctx, q, next.AccountID, next.Delta(), now)
}

// RecalculateBalances sets every account balance to the signed sum of the
// transactions booked against it. Running it twice changes nothing.
func (l *Ledger) RecalculateBalances(ctx context.Context) error {
	if err := l.ready(); err != nil {
		return err
	}
	res, err := l.db.ExecContext(ctx, `UPDATE accounts SET balance = `+ledgerSum)
	if err != nil {
		return fmt.Errorf("recalculate balances: %w", err)
	}
	l.changes++
	n, _ := res.RowsAffected()
	slog.DebugContext(ctx, "Balances recalculated", "accounts", n)
	return nil
}

// CheckBalances lists accounts whose stored balance drifted from the ledger.
func (l *Ledger) CheckBalances(ctx context.Context) ([]Drift, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, balance, `+ledgerSum+` AS expected FROM accounts WHERE balance <> `+ledgerSum+` ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("check balances: %w", err)
	}
	defer rows.Close()

	var out []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.AccountID, &d.Stored, &d.Ledger); err != nil {
			return nil, fmt.Errorf("scan balance drift: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
