package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is an in-memory Store used by tests and local development. It
// honors the same table and column validation as Postgres.
type Memory struct {
	mu     sync.RWMutex
	tables map[string][]Row
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string][]Row)}
}

func (m *Memory) Select(ctx context.Context, table string, filters ...Filter) ([]Row, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	for _, f := range filters {
		if err := validateColumn(f.Column); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Row
	for _, row := range m.tables[table] {
		if matchesFilters(row, filters) {
			out = append(out, cloneRow(row))
		}
	}
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, table string, rows ...Row) error {
	if err := validateTable(table); err != nil {
		return err
	}
	for _, row := range rows {
		for column := range row {
			if err := validateColumn(column); err != nil {
				return err
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		m.tables[table] = append(m.tables[table], cloneRow(row))
	}
	return nil
}

func (m *Memory) Update(ctx context.Context, table string, id uuid.UUID, fields Row) error {
	if err := validateTable(table); err != nil {
		return err
	}
	for column := range fields {
		if err := validateColumn(column); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.tables[table] {
		if toUUID(row["id"]) == id {
			for column, value := range fields {
				row[column] = value
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s id %s", ErrNotFound, table, id)
}

func (m *Memory) Delete(ctx context.Context, table string, id uuid.UUID) error {
	if err := validateTable(table); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[table]
	for i, row := range rows {
		if toUUID(row["id"]) == id {
			m.tables[table] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s id %s", ErrNotFound, table, id)
}

func matchesFilters(row Row, filters []Filter) bool {
	for _, f := range filters {
		if !matchesFilter(row, f) {
			return false
		}
	}
	return true
}

func matchesFilter(row Row, f Filter) bool {
	value, ok := row[f.Column]
	if !ok {
		return false
	}
	switch f.Op {
	case OpEq:
		return equalValues(value, f.Value)
	case OpGte:
		cmp, ok := compareValues(value, f.Value)
		return ok && cmp >= 0
	case OpLte:
		cmp, ok := compareValues(value, f.Value)
		return ok && cmp <= 0
	case OpILike:
		pattern := strings.ToLower(toString(f.Value))
		pattern = strings.Trim(pattern, "%")
		return strings.Contains(strings.ToLower(toString(value)), pattern)
	}
	return false
}

func equalValues(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		return ta.Equal(toTime(b))
	}
	if da, ok := a.(decimal.Decimal); ok {
		return da.Equal(toDecimal(b))
	}
	if ua, ok := a.(uuid.UUID); ok {
		return ua == toUUID(b)
	}
	return toString(a) == toString(b)
}

// compareValues orders comparable column types; strings compare
// lexicographically, which is enough for the filters the services issue.
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case time.Time:
		bt := toTime(b)
		if av.Before(bt) {
			return -1, true
		}
		if av.After(bt) {
			return 1, true
		}
		return 0, true
	case decimal.Decimal:
		return av.Cmp(toDecimal(b)), true
	case int:
		bi := toInt(b)
		return av - bi, true
	case string:
		return strings.Compare(av, toString(b)), true
	}
	return 0, false
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
