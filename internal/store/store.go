// Package store provides the persistence layer consumed by the import,
// categorization, and reconciliation components. Access is a generic
// table-oriented interface (select/insert/update keyed by table name and
// filter predicates) so the core stays decoupled from the schema details.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Table names known to the store. Select/Insert/Update reject anything else.
const (
	TableTransactions  = "transactions"
	TableBills         = "bills"
	TableCategories    = "categories"
	TableRules         = "categorization_rules"
	TableAccounts      = "accounts"
	TableMatchPatterns = "match_patterns"
)

var (
	ErrUnknownTable  = errors.New("store: unknown table")
	ErrInvalidColumn = errors.New("store: invalid column name")
	ErrNotFound      = errors.New("store: row not found")
	// ErrPermissionDenied is returned when the backing store rejects a
	// write for policy reasons. The categorization cascade falls back to
	// existing categories instead of failing the transaction.
	ErrPermissionDenied = errors.New("store: permission denied")
)

// Row is a single record keyed by column name.
type Row = map[string]any

// Op is a filter comparison operator.
type Op string

const (
	OpEq    Op = "="
	OpGte   Op = ">="
	OpLte   Op = "<="
	OpILike Op = "ILIKE"
)

// Filter is a single column predicate. Filters on the same query are ANDed.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq builds an equality filter, the common case.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// Gte builds a greater-or-equal filter.
func Gte(column string, value any) Filter {
	return Filter{Column: column, Op: OpGte, Value: value}
}

// Lte builds a less-or-equal filter.
func Lte(column string, value any) Filter {
	return Filter{Column: column, Op: OpLte, Value: value}
}

// ILike builds a case-insensitive pattern filter.
func ILike(column string, pattern string) Filter {
	return Filter{Column: column, Op: OpILike, Value: pattern}
}

// Store is the generic persistence interface shared by all components.
type Store interface {
	Select(ctx context.Context, table string, filters ...Filter) ([]Row, error)
	Insert(ctx context.Context, table string, rows ...Row) error
	Update(ctx context.Context, table string, id uuid.UUID, fields Row) error
	Delete(ctx context.Context, table string, id uuid.UUID) error
}

// TransactionJoiner is the join-like fetch the reconciliation matcher needs:
// transactions expanded with their linked category and bill names.
type TransactionJoiner interface {
	SelectTransactionsExpanded(ctx context.Context, filters ...Filter) ([]ExpandedTransaction, error)
}

var knownTables = map[string]struct{}{
	TableTransactions:  {},
	TableBills:         {},
	TableCategories:    {},
	TableRules:         {},
	TableAccounts:      {},
	TableMatchPatterns: {},
}

var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validateTable(table string) error {
	if _, ok := knownTables[table]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return nil
}

func validateColumn(column string) error {
	if !columnPattern.MatchString(column) {
		return fmt.Errorf("%w: %s", ErrInvalidColumn, column)
	}
	return nil
}
