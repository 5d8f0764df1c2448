package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres implements Store and TransactionJoiner over a pgx connection pool.
type Postgres struct {
	db DB
}

// NewPostgres creates a Postgres store over an existing pool.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Connect opens a pgx pool for the given DSN and wraps it in a store.
func Connect(ctx context.Context, dsn string) (*Postgres, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("store: ping: %w", err)
	}
	return NewPostgres(pool), pool, nil
}

// Select fetches rows from a known table matching all filters.
func (p *Postgres) Select(ctx context.Context, table string, filters ...Filter) ([]Row, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}

	where, args, err := buildWhere(filters)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s%s", table, where)
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: select %s: %w", table, err)
	}

	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("store: select %s: %w", table, err)
	}
	return result, nil
}

// Insert writes one or more rows into a known table. Rows must share the
// same column set; columns are ordered deterministically.
func (p *Postgres) Insert(ctx context.Context, table string, rows ...Row) error {
	if err := validateTable(table); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		if err := validateColumn(col); err != nil {
			return err
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	var (
		placeholders []string
		args         []any
	)
	for _, row := range rows {
		slots := make([]string, len(columns))
		for i, col := range columns {
			args = append(args, row[col])
			slots[i] = fmt.Sprintf("$%d", len(args))
		}
		placeholders = append(placeholders, "("+strings.Join(slots, ", ")+")")
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
	)
	if _, err := p.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("store: insert %s: %w", table, mapPgError(err))
	}
	return nil
}

// mapPgError translates permission rejections (RLS or grants) into
// ErrPermissionDenied so callers can fall back instead of failing.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42501" {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, pgErr.Message)
	}
	return err
}

// Update sets the given fields on the row with the given id.
func (p *Postgres) Update(ctx context.Context, table string, id uuid.UUID, fields Row) error {
	if err := validateTable(table); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	columns := make([]string, 0, len(fields))
	for col := range fields {
		if err := validateColumn(col); err != nil {
			return err
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	sets := make([]string, len(columns))
	args := make([]any, 0, len(columns)+1)
	for i, col := range columns {
		args = append(args, fields[col])
		sets[i] = fmt.Sprintf("%s = $%d", col, len(args))
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", table, strings.Join(sets, ", "), len(args))
	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: update %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: update %s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

// Delete removes the row with the given id.
func (p *Postgres) Delete(ctx context.Context, table string, id uuid.UUID) error {
	if err := validateTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", table)
	if _, err := p.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("store: delete %s: %w", table, err)
	}
	return nil
}

// SelectTransactionsExpanded fetches transactions with their linked category
// name and bill, the join-like fetch the reconciliation matcher needs.
// Filters apply to transaction columns.
func (p *Postgres) SelectTransactionsExpanded(ctx context.Context, filters ...Filter) ([]ExpandedTransaction, error) {
	prefixed := make([]Filter, len(filters))
	for i, f := range filters {
		prefixed[i] = Filter{Column: "t." + f.Column, Op: f.Op, Value: f.Value}
	}
	where, args, err := buildWhere(prefixed)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT t.id, t.account_id, t.date, t.name, t.description, t.merchant,
		       t.amount, t.category_id, t.bill_id, t.import_method, t.source_file,
		       c.name AS category_name,
		       b.id AS b_id, b.description AS b_description, b.amount_due, b.due_date, b.status
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.category_id
		LEFT JOIN bills b ON b.id = t.bill_id` + where

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: select transactions expanded: %w", err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("store: select transactions expanded: %w", err)
	}

	result := make([]ExpandedTransaction, 0, len(maps))
	for _, row := range maps {
		tx := ExpandedTransaction{
			Transaction:  TransactionFromRow(row),
			CategoryName: toString(row["category_name"]),
		}
		if billID := toUUIDPtr(row["b_id"]); billID != nil {
			tx.BillDue = &Bill{
				ID:          *billID,
				Description: toString(row["b_description"]),
				AmountDue:   toDecimal(row["amount_due"]),
				DueDate:     toTime(row["due_date"]),
				Status:      BillStatus(toString(row["status"])),
			}
		}
		result = append(result, tx)
	}
	return result, nil
}

func buildWhere(filters []Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		bare := strings.TrimPrefix(f.Column, "t.")
		if err := validateColumn(bare); err != nil {
			return "", nil, err
		}
		args = append(args, f.Value)
		clauses = append(clauses, fmt.Sprintf("%s %s $%d", f.Column, f.Op, len(args)))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}
