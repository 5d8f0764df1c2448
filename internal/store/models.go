package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is the canonical persisted transaction record. Amounts are
// signed decimals with outflow negative regardless of the source format.
type Transaction struct {
	ID           uuid.UUID
	AccountID    *uuid.UUID
	Date         time.Time
	Name         string
	Description  string
	Merchant     string
	Amount       decimal.Decimal
	CategoryID   *uuid.UUID
	BillID       *uuid.UUID
	ImportMethod string
	SourceFile   string
	Embedding    []float32
	CreatedAt    time.Time
}

// BillStatus is the lifecycle state of a recurring bill.
type BillStatus string

const (
	BillActive   BillStatus = "active"
	BillInactive BillStatus = "inactive"
	BillPaid     BillStatus = "paid"
)

// Bill is a recurring obligation reconciled against transactions.
type Bill struct {
	ID          uuid.UUID
	Description string
	AmountDue   decimal.Decimal
	DueDate     time.Time
	Status      BillStatus
}

// Category is a user-visible spending category.
type Category struct {
	ID   uuid.UUID
	Name string
}

// RuleType discriminates the condition payload of a CategorizationRule.
type RuleType string

const (
	RuleKeyword     RuleType = "keyword"
	RuleMerchant    RuleType = "merchant"
	RuleAmountRange RuleType = "amount_range"
)

// CategorizationRule is a user-authored rule evaluated by cascade stage 2.
// Keywords and Merchants apply to the keyword/merchant types; MinAmount and
// MaxAmount bound the absolute amount for the amount_range type.
type CategorizationRule struct {
	ID         uuid.UUID
	Priority   int
	Active     bool
	Type       RuleType
	Keywords   []string
	Merchants  []string
	MinAmount  decimal.Decimal
	MaxAmount  decimal.Decimal
	CategoryID uuid.UUID
}

// Account identifies a holder/account a file attributes transactions to.
type Account struct {
	ID   uuid.UUID
	Name string
}

// MatchPattern is a learned (bill, merchant text) association persisted when
// a reconciliation match is confirmed; it biases future fuzzy scoring.
type MatchPattern struct {
	ID       uuid.UUID
	BillID   uuid.UUID
	Pattern  string
	HitCount int
}

// Row converts the transaction to a generic store row.
func (t Transaction) Row() Row {
	return Row{
		"id":            t.ID,
		"account_id":    uuidValue(t.AccountID),
		"date":          t.Date,
		"name":          t.Name,
		"description":   t.Description,
		"merchant":      t.Merchant,
		"amount":        t.Amount,
		"category_id":   uuidValue(t.CategoryID),
		"bill_id":       uuidValue(t.BillID),
		"import_method": t.ImportMethod,
		"source_file":   t.SourceFile,
		"embedding":     t.Embedding,
	}
}

// TransactionFromRow decodes a generic row into a Transaction. Numeric and
// date values are coerced permissively: a malformed amount decodes to zero
// and a malformed date to the zero time, so one bad record cannot abort a
// whole reconciliation period.
func TransactionFromRow(row Row) Transaction {
	return Transaction{
		ID:           toUUID(row["id"]),
		AccountID:    toUUIDPtr(row["account_id"]),
		Date:         toTime(row["date"]),
		Name:         toString(row["name"]),
		Description:  toString(row["description"]),
		Merchant:     toString(row["merchant"]),
		Amount:       toDecimal(row["amount"]),
		CategoryID:   toUUIDPtr(row["category_id"]),
		BillID:       toUUIDPtr(row["bill_id"]),
		ImportMethod: toString(row["import_method"]),
		SourceFile:   toString(row["source_file"]),
		Embedding:    toVector(row["embedding"]),
		CreatedAt:    toTime(row["created_at"]),
	}
}

// Row converts the bill to a generic store row.
func (b Bill) Row() Row {
	return Row{
		"id":          b.ID,
		"description": b.Description,
		"amount_due":  b.AmountDue,
		"due_date":    b.DueDate,
		"status":      string(b.Status),
	}
}

// BillFromRow decodes a generic row into a Bill with the same permissive
// coercion as TransactionFromRow.
func BillFromRow(row Row) Bill {
	return Bill{
		ID:          toUUID(row["id"]),
		Description: toString(row["description"]),
		AmountDue:   toDecimal(row["amount_due"]),
		DueDate:     toTime(row["due_date"]),
		Status:      BillStatus(toString(row["status"])),
	}
}

// Row converts the category to a generic store row.
func (c Category) Row() Row {
	return Row{"id": c.ID, "name": c.Name}
}

// CategoryFromRow decodes a generic row into a Category.
func CategoryFromRow(row Row) Category {
	return Category{ID: toUUID(row["id"]), Name: toString(row["name"])}
}

// Row converts the rule to a generic store row.
func (r CategorizationRule) Row() Row {
	return Row{
		"id":          r.ID,
		"priority":    r.Priority,
		"active":      r.Active,
		"rule_type":   string(r.Type),
		"keywords":    r.Keywords,
		"merchants":   r.Merchants,
		"min_amount":  r.MinAmount,
		"max_amount":  r.MaxAmount,
		"category_id": r.CategoryID,
	}
}

// RuleFromRow decodes a generic row into a CategorizationRule.
func RuleFromRow(row Row) CategorizationRule {
	return CategorizationRule{
		ID:         toUUID(row["id"]),
		Priority:   toInt(row["priority"]),
		Active:     toBool(row["active"]),
		Type:       RuleType(toString(row["rule_type"])),
		Keywords:   toStrings(row["keywords"]),
		Merchants:  toStrings(row["merchants"]),
		MinAmount:  toDecimal(row["min_amount"]),
		MaxAmount:  toDecimal(row["max_amount"]),
		CategoryID: toUUID(row["category_id"]),
	}
}

// Row converts the account to a generic store row.
func (a Account) Row() Row {
	return Row{"id": a.ID, "name": a.Name}
}

// AccountFromRow decodes a generic row into an Account.
func AccountFromRow(row Row) Account {
	return Account{ID: toUUID(row["id"]), Name: toString(row["name"])}
}

// Row converts the pattern to a generic store row.
func (p MatchPattern) Row() Row {
	return Row{
		"id":        p.ID,
		"bill_id":   p.BillID,
		"pattern":   p.Pattern,
		"hit_count": p.HitCount,
	}
}

// MatchPatternFromRow decodes a generic row into a MatchPattern.
func MatchPatternFromRow(row Row) MatchPattern {
	return MatchPattern{
		ID:       toUUID(row["id"]),
		BillID:   toUUID(row["bill_id"]),
		Pattern:  toString(row["pattern"]),
		HitCount: toInt(row["hit_count"]),
	}
}

// ExpandedTransaction is a transaction joined with its linked category and
// bill, as needed by the reconciliation matcher.
type ExpandedTransaction struct {
	Transaction
	CategoryName string
	BillDue      *Bill
}

// Coercion helpers. The store returns driver-dependent dynamic types; these
// fold them into the model types without raising.

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

func toDecimal(v any) decimal.Decimal {
	switch n := v.(type) {
	case decimal.Decimal:
		return n
	case float64:
		return decimal.NewFromFloat(n)
	case int64:
		return decimal.NewFromInt(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(n)); err == nil {
			return d
		}
	case fmt.Stringer:
		if d, err := decimal.NewFromString(n.String()); err == nil {
			return d
		}
	}
	return decimal.Zero
}

// uuidValue flattens an optional UUID so a nil pointer becomes a plain nil
// column value instead of a typed nil inside the interface.
func uuidValue(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func toUUID(v any) uuid.UUID {
	switch id := v.(type) {
	case uuid.UUID:
		return id
	case [16]byte:
		return uuid.UUID(id)
	case string:
		if parsed, err := uuid.Parse(id); err == nil {
			return parsed
		}
	}
	return uuid.Nil
}

func toUUIDPtr(v any) *uuid.UUID {
	if v == nil {
		return nil
	}
	id := toUUID(v)
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func toStrings(v any) []string {
	switch s := v.(type) {
	case nil:
		return nil
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, toString(item))
		}
		return out
	}
	return nil
}

func toVector(v any) []float32 {
	switch vec := v.(type) {
	case nil:
		return nil
	case []float32:
		return vec
	case []float64:
		out := make([]float32, len(vec))
		for i, f := range vec {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(vec))
		for _, item := range vec {
			switch f := item.(type) {
			case float64:
				out = append(out, float32(f))
			case float32:
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}
