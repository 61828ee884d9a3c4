package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 1000
)

type (
	NewCategory struct {
		ID       string `json:"id" validate:"omitempty,max=64"`
		Label    string `json:"label" validate:"required,max=100"`
		Icon     string `json:"icon" validate:"required"`
		Color    string `json:"color" validate:"required"`
		ParentID string `json:"parentId" validate:"omitempty,max=64"`
	}

	NewAccount struct {
		Name    string      `json:"name" validate:"required,max=100"`
		Type    AccountType `json:"type" validate:"omitempty,account_type"`
		Balance int64       `json:"balance"`
		Icon    string      `json:"icon"`
		Color   string      `json:"color"`
	}

	// NewTransaction.Date accepts a calendar day (YYYY-MM-DD) or an RFC 3339
	// timestamp. An empty Type means expense.
	NewTransaction struct {
		Amount     int64           `json:"amount" validate:"gt=0"`
		Date       string          `json:"date" validate:"required"`
		Note       string          `json:"note" validate:"max=500"`
		CategoryID string          `json:"categoryId" validate:"required"`
		AccountID  string          `json:"accountId"`
		Type       TransactionType `json:"type" validate:"omitempty,transaction_type"`
	}

	// TransactionPatch holds the fields to change; nil means keep. An empty
	// AccountID detaches the transaction from its account.
	TransactionPatch struct {
		Amount     *int64           `json:"amount" validate:"omitempty,gt=0"`
		Date       *string          `json:"date" validate:"omitempty,min=1"`
		Note       *string          `json:"note" validate:"omitempty,max=500"`
		CategoryID *string          `json:"categoryId" validate:"omitempty,min=1"`
		AccountID  *string          `json:"accountId"`
		Type       *TransactionType `json:"type" validate:"omitempty,transaction_type"`
	}

	Page struct {
		Limit  int
		Offset int
	}
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("transaction_type", func(fl validator.FieldLevel) bool {
			return TransactionType(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("account_type", func(fl validator.FieldLevel) bool {
			return AccountType(fl.Field().String()).Valid()
		})
		validate = v
	})
	return validate
}

// Validate checks v against its struct tags and reports the first failing
// field as a *ValidationError.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return Invalid(fe.Field(), describe(fe))
	}
	return Invalid("input", err.Error())
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "min":
		if fe.Tag() == "min" && fe.Kind() != reflect.String {
			return "must be at least " + fe.Param()
		}
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "transaction_type":
		return "must be expense or income"
	case "account_type":
		return "must be one of cash, bank, card, investment"
	default:
		return "failed " + fe.Tag()
	}
}

// Normalize fills defaults and rejects out-of-range values.
func (p Page) Normalize() (Page, error) {
	if p.Limit < 0 {
		return p, Invalid("limit", "must not be negative")
	}
	if p.Offset < 0 {
		return p, Invalid("offset", "must not be negative")
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p, nil
}

// Empty reports whether the patch changes nothing.
func (p TransactionPatch) Empty() bool {
	return p.Amount == nil && p.Date == nil && p.Note == nil &&
		p.CategoryID == nil && p.AccountID == nil && p.Type == nil
}
