package core

import (
	"time"
)

// SystemOwner owns the shared default categories and accounts.
const SystemOwner = "system"

const (
	Expense TransactionType = "expense"
	Income  TransactionType = "income"
)

const (
	AccountCash       AccountType = "cash"
	AccountBank       AccountType = "bank"
	AccountCard       AccountType = "card"
	AccountInvestment AccountType = "investment"
)

type (
	TransactionType string

	// AccountType is only used to group accounts for display.
	AccountType string

	Category struct {
		ID        string    `json:"id"`
		UserID    string    `json:"userId"`
		Label     string    `json:"label"`
		Icon      string    `json:"icon"`
		Color     string    `json:"color"`
		ParentID  string    `json:"parentId,omitempty"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Account.Balance is a materialized view over the ledger: the signed sum
	// of every transaction booked against the account, in minor units.
	Account struct {
		ID        string      `json:"id"`
		UserID    string      `json:"userId"`
		Name      string      `json:"name"`
		Type      AccountType `json:"type"`
		Balance   int64       `json:"balance"`
		Icon      string      `json:"icon"`
		Color     string      `json:"color"`
		CreatedAt time.Time   `json:"createdAt"`
		UpdatedAt time.Time   `json:"updatedAt"`
	}

	// Transaction is one expense or income row of the ledger. Amount is
	// always a positive magnitude; Type carries the sign.
	Transaction struct {
		ID         string          `json:"id"`
		UserID     string          `json:"userId"`
		Amount     int64           `json:"amount"`
		Date       time.Time       `json:"date"`
		Note       string          `json:"note,omitempty"`
		CategoryID string          `json:"categoryId"`
		AccountID  string          `json:"accountId,omitempty"`
		Type       TransactionType `json:"type"`
		CreatedAt  time.Time       `json:"createdAt"`
		UpdatedAt  time.Time       `json:"updatedAt"`
	}

	// TransactionView is a transaction joined with its category and account.
	// Either side is nil when the reference no longer resolves.
	TransactionView struct {
		Transaction
		Category *Category `json:"category"`
		Account  *Account  `json:"account"`
	}

	// Financials are the fields of a transaction that affect a balance.
	Financials struct {
		Amount    int64
		Type      TransactionType
		AccountID string
	}
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	return t == Expense || t == Income
}

// Valid reports whether t is one of the known account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountCash, AccountBank, AccountCard, AccountInvestment:
		return true
	default:
		return false
	}
}

// SignedAmount returns +amount for income and -amount for anything else.
func SignedAmount(t TransactionType, amount int64) int64 {
	if t == Income {
		return amount
	}
	return -amount
}

// Delta is the contribution of these financials to their account balance.
func (f Financials) Delta() int64 {
	return SignedAmount(f.Type, f.Amount)
}

// Financials returns the balance-relevant part of the transaction.
func (t Transaction) Financials() Financials {
	return Financials{Amount: t.Amount, Type: t.Type, AccountID: t.AccountID}
}

// VisibleTo reports whether a row owned by owner can be seen by userID.
func VisibleTo(owner, userID string) bool {
	return owner == userID || owner == SystemOwner
}
