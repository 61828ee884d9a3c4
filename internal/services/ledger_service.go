package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kakeibo/internal/cache"
	"kakeibo/internal/core"
	"kakeibo/internal/storage"
)

type ServiceOptions struct {
	// Location decides calendar days and months. Defaults to UTC.
	Location *time.Location
	// StatsCache memoizes PeriodStats per ledger generation. Optional.
	StatsCache cache.Cache[core.PeriodStats]
	Now        func() time.Time
}

// LedgerService is the entry point for reads and writes on behalf of a user.
// The user id is trusted; authenticating it happens upstream.
type LedgerService struct {
	manager *Manager
	loc     *time.Location
	stats   cache.Cache[core.PeriodStats]
	now     func() time.Time
	newID   func() string
}

func NewLedgerService(manager *Manager, opts ServiceOptions) *LedgerService {
	s := &LedgerService{
		manager: manager,
		loc:     opts.Location,
		stats:   opts.StatsCache,
		now:     opts.Now,
		newID:   uuid.NewString,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *LedgerService) Manager() *Manager { return s.manager }

func (s *LedgerService) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	var out []core.Category
	err := s.manager.View(ctx, func(l *storage.Ledger) error {
		var err error
		out, err = l.ListCategories(ctx, userID)
		return err
	})
	return out, err
}

// CreateCategory adds a user category. ParentID must name a category the
// user can see. The category is returned even when err is a PersistError.
func (s *LedgerService) CreateCategory(ctx context.Context, userID string, in core.NewCategory) (core.Category, error) {
	if err := core.Validate(in); err != nil {
		return core.Category{}, err
	}
	now := s.now()
	c := core.Category{
		ID:        in.ID,
		UserID:    userID,
		Label:     in.Label,
		Icon:      in.Icon,
		Color:     in.Color,
		ParentID:  in.ParentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c.ID == "" {
		c.ID = s.newID()
	}

	err := s.manager.Update(ctx, "create category", func(l *storage.Ledger) error {
		if c.ParentID != "" {
			parent, err := l.GetCategory(ctx, c.ParentID)
			if err != nil {
				return err
			}
			if parent == nil || !core.VisibleTo(parent.UserID, userID) {
				return core.Invalid("parentId", "unknown category "+c.ParentID)
			}
		}
		return l.CreateCategory(ctx, c)
	})
	if err != nil && !errors.Is(err, core.ErrNotPersisted) {
		return core.Category{}, err
	}
	return c, err
}

func (s *LedgerService) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	var out []core.Account
	err := s.manager.View(ctx, func(l *storage.Ledger) error {
		var err error
		out, err = l.ListAccounts(ctx, userID)
		return err
	})
	return out, err
}

// CreateAccount adds a user account with its initial balance.
func (s *LedgerService) CreateAccount(ctx context.Context, userID string, in core.NewAccount) (core.Account, error) {
	if err := core.Validate(in); err != nil {
		return core.Account{}, err
	}
	now := s.now()
	a := core.Account{
		ID:        s.newID(),
		UserID:    userID,
		Name:      in.Name,
		Type:      in.Type,
		Balance:   in.Balance,
		Icon:      in.Icon,
		Color:     in.Color,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if a.Type == "" {
		a.Type = core.AccountCash
	}

	err := s.manager.Update(ctx, "create account", func(l *storage.Ledger) error {
		return l.CreateAccount(ctx, a)
	})
	if err != nil && !errors.Is(err, core.ErrNotPersisted) {
		return core.Account{}, err
	}
	return a, err
}

// ListTransactions returns a page of the user's transactions, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, page core.Page) ([]core.TransactionView, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	var out []core.TransactionView
	err = s.manager.View(ctx, func(l *storage.Ledger) error {
		var err error
		out, err = l.ListTransactionsPage(ctx, userID, page.Limit, page.Offset)
		return err
	})
	return out, err
}

// CreateTransaction books an expense or income and updates the account
// balance. The joined view is returned even when err is a PersistError.
func (s *LedgerService) CreateTransaction(ctx context.Context, userID string, in core.NewTransaction) (core.TransactionView, error) {
	if err := core.Validate(in); err != nil {
		return core.TransactionView{}, err
	}
	date, err := core.ParseDate(in.Date, s.loc)
	if err != nil {
		return core.TransactionView{}, err
	}
	now := s.now()
	t := core.Transaction{
		ID:         s.newID(),
		UserID:     userID,
		Amount:     in.Amount,
		Date:       date,
		Note:       in.Note,
		CategoryID: in.CategoryID,
		AccountID:  in.AccountID,
		Type:       in.Type,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if t.Type == "" {
		t.Type = core.Expense
	}

	var view *core.TransactionView
	err = s.manager.Update(ctx, "create transaction", func(l *storage.Ledger) error {
		if err := checkReferences(ctx, l, userID, t.CategoryID, t.AccountID); err != nil {
			return err
		}
		if err := l.CreateTransaction(ctx, t); err != nil {
			return err
		}
		var err error
		view, err = l.GetTransactionView(ctx, t.ID)
		return err
	})
	return result(view, &t, err)
}

// UpdateTransaction applies patch to a transaction the user owns and moves
// its balance contribution accordingly.
func (s *LedgerService) UpdateTransaction(ctx context.Context, userID, id string, patch core.TransactionPatch) (core.TransactionView, error) {
	if err := core.Validate(patch); err != nil {
		return core.TransactionView{}, err
	}
	var date *time.Time
	if patch.Date != nil {
		d, err := core.ParseDate(*patch.Date, s.loc)
		if err != nil {
			return core.TransactionView{}, err
		}
		date = &d
	}

	if patch.Empty() {
		var view *core.TransactionView
		err := s.manager.View(ctx, func(l *storage.Ledger) error {
			var err error
			view, err = ownedView(ctx, l, userID, id)
			return err
		})
		return result(view, nil, err)
	}

	var view *core.TransactionView
	var written *core.Transaction
	err := s.manager.Update(ctx, "update transaction", func(l *storage.Ledger) error {
		cur, err := l.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil || cur.UserID != userID {
			return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
		}
		merged := merge(*cur, patch, date)
		merged.UpdatedAt = s.now()

		category, account := "", ""
		if patch.CategoryID != nil {
			category = merged.CategoryID
		}
		if patch.AccountID != nil {
			account = merged.AccountID
		}
		if err := checkReferences(ctx, l, userID, category, account); err != nil {
			return err
		}
		if err := l.UpdateTransaction(ctx, merged, cur.Financials()); err != nil {
			return err
		}
		written = &merged
		view, err = l.GetTransactionView(ctx, id)
		return err
	})
	return result(view, written, err)
}

// DeleteTransaction removes a transaction the user owns and reverts its
// balance contribution.
func (s *LedgerService) DeleteTransaction(ctx context.Context, userID, id string) error {
	return s.manager.Update(ctx, "delete transaction", func(l *storage.Ledger) error {
		cur, err := l.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil || cur.UserID != userID {
			return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
		}
		return l.DeleteTransaction(ctx, id)
	})
}

func merge(cur core.Transaction, p core.TransactionPatch, date *time.Time) core.Transaction {
	if p.Amount != nil {
		cur.Amount = *p.Amount
	}
	if date != nil {
		cur.Date = *date
	}
	if p.Note != nil {
		cur.Note = *p.Note
	}
	if p.CategoryID != nil {
		cur.CategoryID = *p.CategoryID
	}
	if p.AccountID != nil {
		cur.AccountID = *p.AccountID
	}
	if p.Type != nil {
		cur.Type = *p.Type
	}
	return cur
}

// checkReferences rejects category or account ids the user cannot see.
// Empty ids are not checked.
func checkReferences(ctx context.Context, l *storage.Ledger, userID, categoryID, accountID string) error {
	if categoryID != "" {
		c, err := l.GetCategory(ctx, categoryID)
		if err != nil {
			return err
		}
		if c == nil || !core.VisibleTo(c.UserID, userID) {
			return core.Invalid("categoryId", "unknown category "+categoryID)
		}
	}
	if accountID != "" {
		a, err := l.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if a == nil || !core.VisibleTo(a.UserID, userID) {
			return core.Invalid("accountId", "unknown account "+accountID)
		}
	}
	return nil
}

func ownedView(ctx context.Context, l *storage.Ledger, userID, id string) (*core.TransactionView, error) {
	v, err := l.GetTransactionView(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil || v.UserID != userID {
		return nil, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return v, nil
}

// result keeps the view alongside a persist failure and drops it otherwise.
// When the write landed but the view could not be read back, the written
// transaction is returned without its joins.
func result(view *core.TransactionView, written *core.Transaction, err error) (core.TransactionView, error) {
	if err != nil && !errors.Is(err, core.ErrNotPersisted) {
		return core.TransactionView{}, err
	}
	if view == nil {
		if written != nil && err != nil {
			return core.TransactionView{Transaction: *written}, err
		}
		return core.TransactionView{}, err
	}
	return *view, err
}

// CheckBalances reports accounts whose stored balance differs from the one
// implied by the ledger. Nothing is changed.
func (s *LedgerService) CheckBalances(ctx context.Context) ([]storage.Drift, error) {
	var drift []storage.Drift
	err := s.manager.View(ctx, func(l *storage.Ledger) error {
		var err error
		drift, err = l.CheckBalances(ctx)
		return err
	})
	return drift, err
}

// Recalculate rebuilds every balance from the ledger and persists the
// result. It returns the drift found before rebuilding.
func (s *LedgerService) Recalculate(ctx context.Context) ([]storage.Drift, error) {
	var drift []storage.Drift
	err := s.manager.Update(ctx, "recalculate balances", func(l *storage.Ledger) error {
		var err error
		if drift, err = l.CheckBalances(ctx); err != nil {
			return err
		}
		return l.RecalculateBalances(ctx)
	})
	return drift, err
}
