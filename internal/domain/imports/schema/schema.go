// Package schema identifies which bank export layout a raw delimited file
// uses. Detection is a fixed cascade: filename-prefix rules, filename
// substring patterns, header matching, then generic synthesis. Static
// schemas are additive configuration; new source formats should not need
// code changes elsewhere.
package schema

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// SignConvention describes how a source encodes the direction of money flow.
type SignConvention string

const (
	// SignAsIs means amounts already carry their sign.
	SignAsIs SignConvention = "as_is"
	// SignDebitCredit means debits and credits live in separate columns;
	// debits normalize to negative.
	SignDebitCredit SignConvention = "debit_credit"
	// SignAlwaysNegative means a single expense-only column; every amount
	// is forced negative.
	SignAlwaysNegative SignConvention = "always_negative"
)

// FieldMapping names the header fields a schema reads. Matching against the
// actual header row is a case-insensitive substring check, not exact
// equality, because bank exports decorate header names.
type FieldMapping struct {
	Date        string
	Description string
	Amount      string // single amount column; empty when Debit/Credit set
	Debit       string
	Credit      string
	Merchant    string // optional
	Category    string // optional
	Account     string // optional
}

// BankSchema is a named format descriptor for one bank's export layout.
type BankSchema struct {
	Name             string
	FilenamePatterns []string // lowercase substrings matched against the filename
	Fields           FieldMapping
	DateFormat       string // Go reference layout; empty means flexible parsing
	Sign             SignConvention
	Generic          bool // synthesized at runtime, not a static schema
}

// prefixRule identifies a bank purely by filename prefix or exact stem.
// These run before any header heuristics because header names alone are
// ambiguous across these formats.
type prefixRule struct {
	prefix string // lowercase; empty when exact is set
	exact  string // lowercase stem for exact-name rules
	schema string
}

var prefixRules = []prefixRule{
	{prefix: "credit card", schema: "fidelity_credit_card"},
	{prefix: "exportedtransactions", schema: "capital_one"},
	{prefix: "history_for_account", schema: "fidelity_brokerage"},
	{exact: "marcus", schema: "marcus_savings"},
}

// accountRule attributes transactions to an account from the filename when
// the export encodes the holder or account type in the name itself.
type accountRule struct {
	pattern string // lowercase filename substring
	account string
}

var accountRules = []accountRule{
	{pattern: "credit card", account: "Fidelity Credit Card"},
	{pattern: "history_for_account", account: "Fidelity Brokerage"},
	{pattern: "marcus", account: "Marcus Savings"},
	{pattern: "exportedtransactions", account: "Capital One Checking"},
}

var builtinSchemas = []BankSchema{
	{
		Name:             "fidelity_credit_card",
		FilenamePatterns: []string{"credit card", "fidelity-credit"},
		Fields: FieldMapping{
			Date:        "date",
			Description: "name",
			Amount:      "amount",
			Merchant:    "memo",
		},
		DateFormat: "2006-01-02",
		Sign:       SignAsIs,
	},
	{
		Name:             "capital_one",
		FilenamePatterns: []string{"exportedtransactions", "capitalone"},
		Fields: FieldMapping{
			Date:        "transaction date",
			Description: "transaction description",
			Debit:       "transaction amount",
			Credit:      "transaction credit",
			Category:    "category",
		},
		DateFormat: "01/02/2006",
		Sign:       SignDebitCredit,
	},
	{
		Name:             "fidelity_brokerage",
		FilenamePatterns: []string{"history_for_account"},
		Fields: FieldMapping{
			Date:        "run date",
			Description: "action",
			Amount:      "amount",
			Account:     "account",
		},
		DateFormat: "1/2/2006",
		Sign:       SignAsIs,
	},
	{
		Name:             "marcus_savings",
		FilenamePatterns: []string{"marcus"},
		Fields: FieldMapping{
			Date:        "date",
			Description: "description",
			Amount:      "amount",
		},
		DateFormat: "Jan 2, 2006",
		Sign:       SignAsIs,
	},
	{
		Name:             "chase_card",
		FilenamePatterns: []string{"chase"},
		Fields: FieldMapping{
			Date:        "posting date",
			Description: "description",
			Amount:      "amount",
			Category:    "type",
		},
		DateFormat: "01/02/2006",
		Sign:       SignAsIs,
	},
	{
		Name:             "amex_card",
		FilenamePatterns: []string{"amex", "activity"},
		Fields: FieldMapping{
			Date:        "date",
			Description: "description",
			Amount:      "amount",
			Merchant:    "merchant",
			Category:    "category",
		},
		DateFormat: "01/02/2006",
		Sign:       SignAlwaysNegative,
	},
}

// Header token classes for generic schema synthesis.
var (
	genericDateTokens   = []string{"date", "run date", "posting date"}
	genericDescTokens   = []string{"description", "action", "name", "memo"}
	genericAmountTokens = []string{"amount", "value"}
)

// ErrNoSchema is returned when no static schema matches and generic
// synthesis cannot locate date, description, and amount columns. The file
// is rejected rather than imported with guessed columns.
var ErrNoSchema = errors.New("schema: no matching bank format")

// Registry holds the static schemas plus the filename rules. The zero
// value is unusable; use NewRegistry.
type Registry struct {
	schemas  []BankSchema
	byName   map[string]*BankSchema
	prefixes []prefixRule
	accounts []accountRule
}

// NewRegistry builds a registry with the built-in schemas and rules.
func NewRegistry() *Registry {
	r := &Registry{
		schemas:  append([]BankSchema(nil), builtinSchemas...),
		byName:   make(map[string]*BankSchema, len(builtinSchemas)),
		prefixes: prefixRules,
		accounts: accountRules,
	}
	for i := range r.schemas {
		r.byName[r.schemas[i].Name] = &r.schemas[i]
	}
	return r
}

// Register adds a schema to the registry. New formats are additive
// configuration.
func (r *Registry) Register(s BankSchema) {
	r.schemas = append(r.schemas, s)
	r.byName[s.Name] = &r.schemas[len(r.schemas)-1]
}

// Schemas returns the registered static schemas.
func (r *Registry) Schemas() []BankSchema {
	return r.schemas
}

// AccountForFilename returns the account name attributed to a filename, if
// any rule matches.
func (r *Registry) AccountForFilename(filename string) (string, bool) {
	stem := strings.ToLower(stemOf(filename))
	for _, rule := range r.accounts {
		if strings.Contains(stem, rule.pattern) {
			return rule.account, true
		}
	}
	return "", false
}

// Detect identifies the schema for a (filename, header row) pair.
// Order matters and first match wins:
//  1. filename-prefix rules
//  2. filename substring against each schema's patterns
//  3. header matching (>= 3 mapped fields found, covering date,
//     description, and amount)
//  4. generic schema synthesis from header tokens
func (r *Registry) Detect(filename string, headers []string) (*BankSchema, error) {
	stem := strings.ToLower(stemOf(filename))

	for _, rule := range r.prefixes {
		if rule.exact != "" {
			if stem == rule.exact {
				return r.byName[rule.schema], nil
			}
			continue
		}
		if strings.HasPrefix(stem, rule.prefix) {
			return r.byName[rule.schema], nil
		}
	}

	lowerName := strings.ToLower(filename)
	for i := range r.schemas {
		for _, pattern := range r.schemas[i].FilenamePatterns {
			if strings.Contains(lowerName, pattern) {
				return &r.schemas[i], nil
			}
		}
	}

	for i := range r.schemas {
		if matchesHeaders(&r.schemas[i], headers) {
			return &r.schemas[i], nil
		}
	}

	if generic := Synthesize(headers); generic != nil {
		return generic, nil
	}

	return nil, fmt.Errorf("%w: file %q headers %v", ErrNoSchema, filename, headers)
}

// matchesHeaders counts how many of the schema's mapped field names appear
// as a substring of some header cell. The schema matches when at least 3
// fields are found and date, description, and amount (or debit/credit) are
// among them.
func matchesHeaders(s *BankSchema, headers []string) bool {
	lower := lowerAll(headers)

	found := 0
	core := 0
	check := func(field string, isCore bool) {
		if field == "" {
			return
		}
		if headerContains(lower, field) {
			found++
			if isCore {
				core++
			}
		}
	}

	check(s.Fields.Date, true)
	check(s.Fields.Description, true)
	if s.Fields.Amount != "" {
		check(s.Fields.Amount, true)
	} else {
		if headerContains(lower, s.Fields.Debit) || headerContains(lower, s.Fields.Credit) {
			found++
			core++
		}
	}
	check(s.Fields.Merchant, false)
	check(s.Fields.Category, false)
	check(s.Fields.Account, false)

	return found >= 3 && core == 3
}

// Synthesize builds a one-off generic schema by locating header names that
// resemble date, description, and amount columns. Returns nil when any of
// the three classes is missing.
func Synthesize(headers []string) *BankSchema {
	lower := lowerAll(headers)

	date := firstToken(lower, genericDateTokens)
	desc := firstToken(lower, genericDescTokens)
	amount := firstToken(lower, genericAmountTokens)
	if date == "" || desc == "" || amount == "" {
		return nil
	}

	return &BankSchema{
		Name: "generic",
		Fields: FieldMapping{
			Date:        date,
			Description: desc,
			Amount:      amount,
		},
		Sign:    SignAsIs,
		Generic: true,
	}
}

// Columns maps schema fields to header indices for one file. Optional
// fields resolve to -1 when absent.
type Columns struct {
	Date        int
	Description int
	Amount      int
	Debit       int
	Credit      int
	Merchant    int
	Category    int
	Account     int
}

// ResolveColumns locates each mapped field in the header row by
// case-insensitive substring match. Date, description, and amount (or one
// of debit/credit) are required.
func ResolveColumns(s *BankSchema, headers []string) (Columns, error) {
	lower := lowerAll(headers)

	cols := Columns{
		Date:        indexContaining(lower, s.Fields.Date),
		Description: indexContaining(lower, s.Fields.Description),
		Amount:      indexContaining(lower, s.Fields.Amount),
		Debit:       indexContaining(lower, s.Fields.Debit),
		Credit:      indexContaining(lower, s.Fields.Credit),
		Merchant:    indexContaining(lower, s.Fields.Merchant),
		Category:    indexContaining(lower, s.Fields.Category),
		Account:     indexContaining(lower, s.Fields.Account),
	}

	if cols.Date < 0 || cols.Description < 0 {
		return cols, fmt.Errorf("schema %s: date/description columns not found in headers %v", s.Name, headers)
	}
	if cols.Amount < 0 && cols.Debit < 0 && cols.Credit < 0 {
		return cols, fmt.Errorf("schema %s: amount column not found in headers %v", s.Name, headers)
	}
	return cols, nil
}

func stemOf(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func lowerAll(headers []string) []string {
	lower := make([]string, len(headers))
	for i, h := range headers {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return lower
}

func headerContains(lowerHeaders []string, field string) bool {
	return indexContaining(lowerHeaders, field) >= 0
}

func indexContaining(lowerHeaders []string, field string) int {
	if field == "" {
		return -1
	}
	field = strings.ToLower(field)
	for i, h := range lowerHeaders {
		if strings.Contains(h, field) {
			return i
		}
	}
	return -1
}

func firstToken(lowerHeaders []string, tokens []string) string {
	for _, token := range tokens {
		for _, h := range lowerHeaders {
			if strings.Contains(h, token) {
				return token
			}
		}
	}
	return ""
}
