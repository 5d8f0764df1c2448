package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DuplicateGuard rejects a transaction insertion when an equivalent record
// already exists. Equivalence is strict equality on (account, date, amount,
// name, import method), optionally narrowed to a source file.
type DuplicateGuard interface {
	IsDuplicate(ctx context.Context, accountID *uuid.UUID, date time.Time, amount decimal.Decimal, name, importMethod, sourceFile string) (bool, error)
}

// ExactGuard is the store-backed DuplicateGuard implementation.
type ExactGuard struct {
	store Store
}

// NewExactGuard creates a duplicate guard over the given store.
func NewExactGuard(s Store) *ExactGuard {
	return &ExactGuard{store: s}
}

// IsDuplicate reports whether an equal transaction already exists.
func (g *ExactGuard) IsDuplicate(ctx context.Context, accountID *uuid.UUID, date time.Time, amount decimal.Decimal, name, importMethod, sourceFile string) (bool, error) {
	filters := []Filter{
		Eq("date", date),
		Eq("amount", amount),
		Eq("name", name),
		Eq("import_method", importMethod),
	}
	if accountID != nil {
		filters = append(filters, Eq("account_id", *accountID))
	}
	if sourceFile != "" {
		filters = append(filters, Eq("source_file", sourceFile))
	}

	rows, err := g.store.Select(ctx, TableTransactions, filters...)
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	return len(rows) > 0, nil
}
