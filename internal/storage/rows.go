package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kakeibo/internal/core"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Explicit projections; decoding never depends on physical column order.
const (
	categoryColumns    = `id, user_id, label, icon, color, parent_id, created_at, updated_at`
	accountColumns     = `id, user_id, name, type, balance, icon, color, created_at, updated_at`
	transactionColumns = `id, user_id, amount, date, note, category_id, account_id, type, created_at, updated_at`
)

type (
	scanner interface {
		Scan(dest ...any) error
	}

	// querier is satisfied by both *sql.DB and *sql.Tx.
	querier interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	}
)

func scanCategory(s scanner) (core.Category, error) {
	var (
		out              core.Category
		icon, color, par sql.NullString
		created, updated int64
	)
	err := s.Scan(&out.ID, &out.UserID, &out.Label, &icon, &color, &par, &created, &updated)
	if err != nil {
		return core.Category{}, err
	}
	out.Icon = icon.String
	out.Color = color.String
	out.ParentID = par.String
	out.CreatedAt = fromMillis(created)
	out.UpdatedAt = fromMillis(updated)
	return out, nil
}

func scanAccount(s scanner) (core.Account, error) {
	var (
		out              core.Account
		typ, icon, color sql.NullString
		created, updated int64
	)
	err := s.Scan(&out.ID, &out.UserID, &out.Name, &typ, &out.Balance, &icon, &color, &created, &updated)
	if err != nil {
		return core.Account{}, err
	}
	out.Type = core.AccountType(typ.String)
	out.Icon = icon.String
	out.Color = color.String
	out.CreatedAt = fromMillis(created)
	out.UpdatedAt = fromMillis(updated)
	return out, nil
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		out                    core.Transaction
		note, account          sql.NullString
		typ                    string
		date, created, updated int64
	)
	err := s.Scan(&out.ID, &out.UserID, &out.Amount, &date, &note, &out.CategoryID, &account, &typ, &created, &updated)
	if err != nil {
		return core.Transaction{}, err
	}
	out.Date = fromMillis(date)
	out.Note = note.String
	out.AccountID = account.String
	out.Type = core.TransactionType(typ)
	out.CreatedAt = fromMillis(created)
	out.UpdatedAt = fromMillis(updated)
	return out, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isConstraint reports whether err is a primary key or unique violation.
func isConstraint(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	default:
		return false
	}
}
