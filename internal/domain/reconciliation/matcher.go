package reconciliation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/augielopez/homebase/internal/store"
)

// Factor weights for fuzzy matching. Weights of factors with no comparable
// data are excluded and the remainder renormalized, so a transaction without
// a merchant is not penalized for it.
const (
	weightAmount   = 0.4
	weightDate     = 0.3
	weightMerchant = 0.2
	weightName     = 0.1
)

const (
	// MethodLinked marks a match produced by an explicit bill link on the
	// transaction; linked matches bypass fuzzy scoring entirely.
	MethodLinked = "linked"
	// MethodFuzzy marks a match produced by the weighted scorer.
	MethodFuzzy = "fuzzy"

	patternBonus = 0.15
)

// Config bounds the fuzzy scorer. DefaultConfig reflects the tolerances the
// matcher ships with; callers override per environment.
type Config struct {
	AmountTolerance   decimal.Decimal
	DateToleranceDays int
	MinConfidence     float64
}

// DefaultConfig returns the standard matcher tolerances: amounts within
// $5.00, due dates within 3 days, and a 0.7 confidence floor.
func DefaultConfig() Config {
	return Config{
		AmountTolerance:   decimal.NewFromInt(5),
		DateToleranceDays: 3,
		MinConfidence:     0.7,
	}
}

// Match is one (transaction, bill) pairing with the confidence that produced
// it and a human-readable rationale.
type Match struct {
	Transaction store.Transaction
	Bill        store.Bill
	Confidence  float64
	Method      string
	Rationale   string
}

// Result partitions the reconciliation inputs: every input transaction lands
// in exactly one of Matched or UnmatchedTransactions, every input bill in
// exactly one of Matched or UnmatchedBills.
type Result struct {
	Matched               []Match
	UnmatchedTransactions []store.Transaction
	UnmatchedBills        []store.Bill
}

// Matcher runs the two-phase reconciliation: explicit links first, then a
// greedy fuzzy pass over whatever remains. Each bill is consumed by at most
// one transaction.
type Matcher struct {
	cfg      Config
	patterns map[string][]string // bill ID -> learned merchant patterns
}

// NewMatcher builds a matcher with the given tolerances and learned merchant
// patterns from previously confirmed matches.
func NewMatcher(cfg Config, patterns []store.MatchPattern) *Matcher {
	byBill := make(map[string][]string, len(patterns))
	for _, p := range patterns {
		if p.Pattern == "" {
			continue
		}
		key := p.BillID.String()
		byBill[key] = append(byBill[key], p.Pattern)
	}
	return &Matcher{cfg: cfg, patterns: byBill}
}

// Reconcile pairs transactions against bills. Transactions carrying an
// explicit bill link are matched first at full confidence; the rest are
// scored greedily in descending absolute-amount order so the largest
// transactions claim bills first.
func (m *Matcher) Reconcile(transactions []store.Transaction, bills []store.Bill) Result {
	var result Result

	available := make(map[string]store.Bill, len(bills))
	order := make([]string, 0, len(bills))
	for _, b := range bills {
		key := b.ID.String()
		available[key] = b
		order = append(order, key)
	}

	var pending []store.Transaction
	for _, tx := range transactions {
		if tx.BillID != nil {
			key := tx.BillID.String()
			if bill, ok := available[key]; ok {
				result.Matched = append(result.Matched, Match{
					Transaction: tx,
					Bill:        bill,
					Confidence:  1.0,
					Method:      MethodLinked,
					Rationale:   "explicitly linked to bill",
				})
				delete(available, key)
				continue
			}
		}
		pending = append(pending, tx)
	}

	// Largest amounts first; ties broken by date then ID so the greedy
	// pass is deterministic.
	sort.SliceStable(pending, func(i, j int) bool {
		ai, aj := pending[i].Amount.Abs(), pending[j].Amount.Abs()
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		if !pending[i].Date.Equal(pending[j].Date) {
			return pending[i].Date.Before(pending[j].Date)
		}
		return pending[i].ID.String() < pending[j].ID.String()
	})

	for _, tx := range pending {
		bestKey := ""
		bestScore := 0.0
		bestRationale := ""
		for _, key := range order {
			bill, ok := available[key]
			if !ok {
				continue
			}
			score, rationale := m.score(tx, bill)
			if score > bestScore {
				bestKey, bestScore, bestRationale = key, score, rationale
			}
		}
		if bestKey != "" && bestScore >= m.cfg.MinConfidence {
			result.Matched = append(result.Matched, Match{
				Transaction: tx,
				Bill:        available[bestKey],
				Confidence:  bestScore,
				Method:      MethodFuzzy,
				Rationale:   bestRationale,
			})
			delete(available, bestKey)
			continue
		}
		result.UnmatchedTransactions = append(result.UnmatchedTransactions, tx)
	}

	for _, key := range order {
		if bill, ok := available[key]; ok {
			result.UnmatchedBills = append(result.UnmatchedBills, bill)
		}
	}
	return result
}

// score computes the weighted confidence for one candidate pairing along
// with a rationale describing the contributing factors.
func (m *Matcher) score(tx store.Transaction, bill store.Bill) (float64, string) {
	var weighted, totalWeight float64
	var reasons []string

	amountScore, amountDiff := m.amountScore(tx.Amount, bill.AmountDue)
	weighted += weightAmount * amountScore
	totalWeight += weightAmount
	if amountScore > 0 {
		reasons = append(reasons, fmt.Sprintf("amount within $%s of due", amountDiff.StringFixed(2)))
	}

	if dateScore, days, ok := m.dateScore(tx.Date, bill.DueDate); ok {
		weighted += weightDate * dateScore
		totalWeight += weightDate
		if dateScore > 0 {
			reasons = append(reasons, fmt.Sprintf("%d day(s) from due date", days))
		}
	}

	if tx.Merchant != "" && bill.Description != "" {
		sim := TextSimilarity(tx.Merchant, bill.Description)
		weighted += weightMerchant * sim
		totalWeight += weightMerchant
		reasons = append(reasons, fmt.Sprintf("merchant similarity %.2f", sim))
	}

	if tx.Name != "" && bill.Description != "" {
		sim := TextSimilarity(tx.Name, bill.Description)
		weighted += weightName * sim
		totalWeight += weightName
		reasons = append(reasons, fmt.Sprintf("name similarity %.2f", sim))
	}

	if totalWeight == 0 {
		return 0, ""
	}
	score := weighted / totalWeight

	if m.patternHit(bill, tx) {
		score += patternBonus
		if score > 1.0 {
			score = 1.0
		}
		reasons = append(reasons, "known merchant pattern for this bill")
	}

	return score, strings.Join(reasons, "; ")
}

// amountScore compares the transaction's absolute amount against the amount
// due, scaling linearly from 1.0 at an exact match to 0.0 at the tolerance
// boundary and beyond.
func (m *Matcher) amountScore(amount, due decimal.Decimal) (float64, decimal.Decimal) {
	diff := amount.Abs().Sub(due.Abs()).Abs()
	if diff.GreaterThan(m.cfg.AmountTolerance) {
		return 0, diff
	}
	ratio, _ := diff.Div(m.cfg.AmountTolerance).Float64()
	return 1.0 - ratio, diff
}

// dateScore compares the transaction date against the due date, scaling
// linearly to 0.0 at the day tolerance and beyond. Zero dates carry no
// comparable data and report false, excluding the factor from normalization.
func (m *Matcher) dateScore(date, due time.Time) (float64, int, bool) {
	if date.IsZero() || due.IsZero() {
		return 0, 0, false
	}
	days := int(date.Sub(due).Hours() / 24)
	if days < 0 {
		days = -days
	}
	if days > m.cfg.DateToleranceDays {
		return 0, days, true
	}
	return 1.0 - float64(days)/float64(m.cfg.DateToleranceDays), days, true
}

func (m *Matcher) patternHit(bill store.Bill, tx store.Transaction) bool {
	for _, pattern := range m.patterns[bill.ID.String()] {
		if PatternMatches(pattern, tx.Merchant) || PatternMatches(pattern, tx.Name) {
			return true
		}
	}
	return false
}
