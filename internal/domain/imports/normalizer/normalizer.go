// Package normalizer converts raw delimited rows into the canonical
// transaction tuple. The invariants live here: amounts are outflow-negative
// regardless of the source's sign convention, and a row whose date cannot
// be parsed is rejected, never defaulted.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/augielopez/homebase/internal/domain/imports/schema"
)

// Transaction is the canonical normalized shape of one source row.
type Transaction struct {
	Date        time.Time // calendar day, no time component
	Description string
	Amount      decimal.Decimal // negative = outflow
	Merchant    string          // optional hint
	Category    string          // optional hint, never authoritative
	Account     string          // optional hint
	RawRow      int             // 1-indexed source row for error reporting
}

// RowError is a per-row normalization failure with enough context to
// diagnose a schema mismatch.
type RowError struct {
	Row     int
	Field   string
	Message string
	Raw     []string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d, field %s: %s", e.Row, e.Field, e.Message)
}

// Flexible layouts tried when the schema's declared format fails or is
// absent. Month-name formats cover sources like Marcus.
var flexibleLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2006/01/02",
	"01-02-2006",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
}

// ParseDate parses a date using the declared layout first, then the
// flexible layout list. The result is truncated to a calendar day.
func ParseDate(value, layout string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if layout != "" {
		if t, err := time.Parse(layout, value); err == nil {
			return day(t), nil
		}
	}
	for _, l := range flexibleLayouts {
		if t, err := time.Parse(l, value); err == nil {
			return day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseAmount parses a raw amount cell: currency symbols and thousands
// separators are stripped, parenthesized values are negative.
func ParseAmount(value string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = strings.Trim(cleaned, "()")
	}

	cleaned = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-', r == '+':
			return r
		default:
			return -1 // drops $, €, commas, spaces
		}
	}, cleaned)
	cleaned = strings.TrimPrefix(cleaned, "+")

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable amount %q", value)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// NormalizeRow converts one raw record into the canonical shape using the
// schema's resolved columns. Missing date, description, or amount rejects
// the row.
func NormalizeRow(s *schema.BankSchema, cols schema.Columns, record []string, rowNum int) (*Transaction, *RowError) {
	get := func(idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	dateRaw := get(cols.Date)
	if dateRaw == "" {
		return nil, &RowError{Row: rowNum, Field: "date", Message: "missing date", Raw: record}
	}
	date, err := ParseDate(dateRaw, s.DateFormat)
	if err != nil {
		return nil, &RowError{Row: rowNum, Field: "date", Message: err.Error(), Raw: record}
	}

	description := collapseSpaces(get(cols.Description))
	if description == "" {
		return nil, &RowError{Row: rowNum, Field: "description", Message: "missing description", Raw: record}
	}

	amount, rowErr := normalizeAmount(s, cols, get, rowNum, record)
	if rowErr != nil {
		return nil, rowErr
	}

	tx := &Transaction{
		Date:        date,
		Description: description,
		Amount:      amount,
		Merchant:    collapseSpaces(get(cols.Merchant)),
		Account:     collapseSpaces(get(cols.Account)),
		RawRow:      rowNum,
	}

	if raw := get(cols.Category); raw != "" && !isBankCategoryCode(raw) {
		tx.Category = collapseSpaces(raw)
	}

	return tx, nil
}

// normalizeAmount applies the schema's sign convention. Debit/credit splits
// normalize so debits become negative; expense-only columns are forced
// negative; signed values pass through.
func normalizeAmount(s *schema.BankSchema, cols schema.Columns, get func(int) string, rowNum int, record []string) (decimal.Decimal, *RowError) {
	if s.Sign == schema.SignDebitCredit {
		debitRaw := get(cols.Debit)
		creditRaw := get(cols.Credit)
		if debitRaw == "" && creditRaw == "" {
			return decimal.Zero, &RowError{Row: rowNum, Field: "amount", Message: "missing debit/credit", Raw: record}
		}
		if debitRaw != "" {
			d, err := ParseAmount(debitRaw)
			if err != nil {
				return decimal.Zero, &RowError{Row: rowNum, Field: "debit", Message: err.Error(), Raw: record}
			}
			return d.Abs().Neg(), nil
		}
		c, err := ParseAmount(creditRaw)
		if err != nil {
			return decimal.Zero, &RowError{Row: rowNum, Field: "credit", Message: err.Error(), Raw: record}
		}
		return c.Abs(), nil
	}

	raw := get(cols.Amount)
	if raw == "" {
		return decimal.Zero, &RowError{Row: rowNum, Field: "amount", Message: "missing amount", Raw: record}
	}
	d, err := ParseAmount(raw)
	if err != nil {
		return decimal.Zero, &RowError{Row: rowNum, Field: "amount", Message: err.Error(), Raw: record}
	}
	if s.Sign == schema.SignAlwaysNegative {
		return d.Abs().Neg(), nil
	}
	return d, nil
}

// isBankCategoryCode reports whether a category cell is an internal bank
// code rather than a human label: purely numeric, or semicolon-joined
// numeric codes.
func isBankCategoryCode(value string) bool {
	parts := strings.Split(value, ";")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || !isDigits(part) {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
