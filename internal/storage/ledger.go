package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kakeibo/internal/core"
	"kakeibo/internal/snapshot"
)

// DatabaseFile is the name of the working copy inside the ledger directory.
const DatabaseFile = "ledger.db"

// Ledger is the embedded relational store holding categories, accounts and
// transactions for every user. It is loaded from a full database image and
// exported back to one; all methods expect external serialization.
type Ledger struct {
	db   *sql.DB
	dir  string
	path string
	now  func() time.Time

	// changes counts committed writes since Open.
	changes uint64
}

// Open materializes image into dir, migrates it to the current schema and
// recomputes every account balance. A nil image starts an empty ledger.
func Open(ctx context.Context, dir string, image []byte) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	path := filepath.Join(dir, DatabaseFile)

	if image != nil {
		if err := snapshot.ValidateImage(image); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, image, 0o600); err != nil {
			return nil, fmt.Errorf("write ledger image: %w", err)
		}
	}

	if err := RunMigrations(ctx, path); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	l := &Ledger{db: db, dir: dir, path: path, now: time.Now}
	if err := l.RecalculateBalances(ctx); err != nil {
		db.Close()
		return nil, err
	}

	slog.InfoContext(ctx, "Ledger opened", "path", path, "image_bytes", len(image))
	return l, nil
}

// Changes reports how many writes have been committed since Open. A caller
// compares it before and after a sequence of calls to learn whether the
// ledger moved, even when a later call in the sequence failed.
func (l *Ledger) Changes() uint64 { return l.changes }

// Close releases the database handle. Later calls report ErrNotInitialized.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// Export returns a consistent, self-contained image of the whole database.
func (l *Ledger) Export(ctx context.Context) ([]byte, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(l.dir, "export-*.db")
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	name := tmp.Name()
	tmp.Close()
	// VACUUM INTO refuses to overwrite an existing file.
	os.Remove(name)
	defer os.Remove(name)

	if _, err := l.db.ExecContext(ctx, `VACUUM INTO ?`, name); err != nil {
		return nil, fmt.Errorf("vacuum into export file: %w", err)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}
	return data, nil
}

func (l *Ledger) ready() error {
	if l == nil || l.db == nil {
		return core.ErrNotInitialized
	}
	return nil
}

func (l *Ledger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListCategories returns the user's categories and the system ones in
// creation order.
func (l *Ledger) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE user_id IN (?, ?) ORDER BY rowid`,
		userID, core.SystemOwner)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListAccounts returns the user's accounts and the system ones in creation
// order.
func (l *Ledger) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return listAccounts(ctx, l.db,
		`WHERE user_id IN (?, ?) ORDER BY rowid`, userID, core.SystemOwner)
}

func listAccounts(ctx context.Context, q querier, where string, args ...any) ([]core.Account, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListTransactions returns every transaction owned by the user, newest first,
// joined with its category and account.
func (l *Ledger) ListTransactions(ctx context.Context, userID string) ([]core.TransactionView, error) {
	return l.ListTransactionsPage(ctx, userID, -1, 0)
}

// ListTransactionsPage is ListTransactions restricted to a window. A negative
// limit means no limit.
func (l *Ledger) ListTransactionsPage(ctx context.Context, userID string, limit, offset int) ([]core.TransactionView, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM expenses WHERE user_id = ?
		ORDER BY date DESC, rowid DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	txs, err := collectTransactions(rows)
	if err != nil {
		return nil, err
	}
	return l.join(ctx, txs)
}

// GetTransactionView returns one joined transaction, or nil when absent.
func (l *Ledger) GetTransactionView(ctx context.Context, id string) (*core.TransactionView, error) {
	t, err := l.GetTransaction(ctx, id)
	if err != nil || t == nil {
		return nil, err
	}
	views, err := l.join(ctx, []core.Transaction{*t})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// TransactionsInRange returns the user's transactions dated within
// [start, end], without joins.
func (l *Ledger) TransactionsInRange(ctx context.Context, userID string, start, end time.Time) ([]core.Transaction, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM expenses
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date DESC, rowid DESC`,
		userID, toMillis(start), toMillis(end))
	if err != nil {
		return nil, fmt.Errorf("list transactions in range: %w", err)
	}
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	defer rows.Close()
	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// join resolves category and account references. Dangling references leave
// the joined side nil.
func (l *Ledger) join(ctx context.Context, txs []core.Transaction) ([]core.TransactionView, error) {
	if len(txs) == 0 {
		return []core.TransactionView{}, nil
	}
	catIDs := make([]any, 0, len(txs))
	accIDs := make([]any, 0, len(txs))
	for _, t := range txs {
		catIDs = append(catIDs, t.CategoryID)
		if t.AccountID != "" {
			accIDs = append(accIDs, t.AccountID)
		}
	}

	cats := make(map[string]*core.Category)
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id IN (`+placeholders(len(catIDs))+`)`, catIDs...)
	if err != nil {
		return nil, fmt.Errorf("join categories: %w", err)
	}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan category: %w", err)
		}
		cats[c.ID] = &c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("join categories: %w", err)
	}

	accs := make(map[string]*core.Account)
	if len(accIDs) > 0 {
		list, err := listAccounts(ctx, l.db, `WHERE id IN (`+placeholders(len(accIDs))+`)`, accIDs...)
		if err != nil {
			return nil, err
		}
		for i := range list {
			accs[list[i].ID] = &list[i]
		}
	}

	out := make([]core.TransactionView, len(txs))
	for i, t := range txs {
		out[i] = core.TransactionView{
			Transaction: t,
			Category:    cats[t.CategoryID],
			Account:     accs[t.AccountID],
		}
	}
	return out, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// GetTransaction returns the transaction with id, or nil when absent.
func (l *Ledger) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	t, err := scanTransaction(l.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM expenses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return &t, nil
}

// GetCategory returns the category with id, or nil when absent.
func (l *Ledger) GetCategory(ctx context.Context, id string) (*core.Category, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	c, err := scanCategory(l.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category %s: %w", id, err)
	}
	return &c, nil
}

// GetAccount returns the account with id, or nil when absent.
func (l *Ledger) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	a, err := scanAccount(l.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return &a, nil
}

func (l *Ledger) CreateCategory(ctx context.Context, c core.Category) error {
	if err := l.ready(); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Label, c.Icon, c.Color, nullable(c.ParentID),
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt))
	if isConstraint(err) {
		return fmt.Errorf("category %s: %w", c.ID, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	l.changes++
	slog.InfoContext(ctx, "Category created", "id", c.ID, "user_id", c.UserID, "parent_id", c.ParentID)
	return nil
}

func (l *Ledger) CreateAccount(ctx context.Context, a core.Account) error {
	if err := l.ready(); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, string(a.Type), a.Balance, a.Icon, a.Color,
		toMillis(a.CreatedAt), toMillis(a.UpdatedAt))
	if isConstraint(err) {
		return fmt.Errorf("account %s: %w", a.ID, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	l.changes++
	slog.InfoContext(ctx, "Account created", "id", a.ID, "user_id", a.UserID, "type", a.Type)
	return nil
}

// CreateTransaction inserts t and applies its delta to its account in the
// same database transaction.
func (l *Ledger) CreateTransaction(ctx context.Context, t core.Transaction) error {
	if err := l.ready(); err != nil {
		return err
	}
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO expenses (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.UserID, t.Amount, toMillis(t.Date), nullable(t.Note), t.CategoryID,
			nullable(t.AccountID), string(t.Type), toMillis(t.CreatedAt), toMillis(t.UpdatedAt))
		if isConstraint(err) {
			return fmt.Errorf("transaction %s: %w", t.ID, core.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return applyDelta(ctx, tx, t.AccountID, t.Financials().Delta(), l.now())
	})
	if err != nil {
		return err
	}
	l.changes++
	slog.InfoContext(ctx, "Transaction created",
		"id", t.ID,
		"user_id", t.UserID,
		"type", t.Type,
		"amount", t.Amount,
		"account_id", t.AccountID)
	return nil
}

// UpdateTransaction stores merged and moves the balance contribution from
// prev to the merged financials.
func (l *Ledger) UpdateTransaction(ctx context.Context, merged core.Transaction, prev core.Financials) error {
	if err := l.ready(); err != nil {
		return err
	}
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE expenses SET amount = ?, date = ?, note = ?, category_id = ?, account_id = ?,
			type = ?, updated_at = ? WHERE id = ?`,
			merged.Amount, toMillis(merged.Date), nullable(merged.Note), merged.CategoryID,
			nullable(merged.AccountID), string(merged.Type), toMillis(merged.UpdatedAt), merged.ID)
		if err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("transaction %s: %w", merged.ID, core.ErrNotFound)
		}
		return revertApply(ctx, tx, prev, merged.Financials(), l.now())
	})
	if err != nil {
		return err
	}
	l.changes++
	slog.InfoContext(ctx, "Transaction updated",
		"id", merged.ID,
		"previous_account_id", prev.AccountID,
		"account_id", merged.AccountID,
		"previous_delta", prev.Delta(),
		"delta", merged.Financials().Delta())
	return nil
}

// DeleteTransaction reverts the transaction's contribution and removes it.
// A missing id is not an error.
func (l *Ledger) DeleteTransaction(ctx context.Context, id string) error {
	if err := l.ready(); err != nil {
		return err
	}
	deleted := false
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		t, err := scanTransaction(tx.QueryRowContext(ctx,
			`SELECT `+transactionColumns+` FROM expenses WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load transaction %s: %w", id, err)
		}
		if err := applyDelta(ctx, tx, t.AccountID, -t.Financials().Delta(), l.now()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return err
	}
	if deleted {
		l.changes++
		slog.InfoContext(ctx, "Transaction deleted", "id", id)
	}
	return nil
}
