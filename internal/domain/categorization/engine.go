package categorization

import (
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"

	"github.com/augielopez/homebase/internal/store"
)

// Engine evaluates user-defined rules against a transaction. Keyword and
// merchant patterns are compiled into Aho-Corasick matchers so thousands of
// rules evaluate in a single pass through the text; amount-range rules are
// checked directly. Selection order is strict descending rule priority,
// first match wins.
type Engine struct {
	mu sync.RWMutex

	rules []store.CategorizationRule // descending priority

	keywordMatcher *ahocorasick.Matcher
	keywordOwners  [][]int // pattern index -> rule indices

	merchantMatcher *ahocorasick.Matcher
	merchantOwners  [][]int
}

// NewEngine builds an engine from active rules sorted by descending
// priority.
func NewEngine(rules []store.CategorizationRule) *Engine {
	e := &Engine{}
	e.Build(rules)
	return e
}

// Build reconstructs the matchers. Call when rules change.
func (e *Engine) Build(rules []store.CategorizationRule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = rules

	e.keywordMatcher, e.keywordOwners = buildMatcher(rules, store.RuleKeyword, func(r store.CategorizationRule) []string {
		return r.Keywords
	})
	e.merchantMatcher, e.merchantOwners = buildMatcher(rules, store.RuleMerchant, func(r store.CategorizationRule) []string {
		return r.Merchants
	})
}

func buildMatcher(rules []store.CategorizationRule, ruleType store.RuleType, patternsOf func(store.CategorizationRule) []string) (*ahocorasick.Matcher, [][]int) {
	patternToIndex := make(map[string]int)
	var patterns [][]byte
	var owners [][]int

	for ruleIdx, rule := range rules {
		if rule.Type != ruleType {
			continue
		}
		for _, raw := range patternsOf(rule) {
			pattern := strings.ToUpper(strings.TrimSpace(raw))
			if pattern == "" {
				continue
			}
			idx, ok := patternToIndex[pattern]
			if !ok {
				idx = len(patterns)
				patternToIndex[pattern] = idx
				patterns = append(patterns, []byte(pattern))
				owners = append(owners, nil)
			}
			owners[idx] = append(owners[idx], ruleIdx)
		}
	}

	if len(patterns) == 0 {
		return nil, nil
	}
	return ahocorasick.NewMatcher(patterns), owners
}

// Match returns the highest-priority matching rule, or nil. Keyword rules
// match against the concatenated name+description+merchant text; merchant
// rules against merchant and name; amount-range rules against the absolute
// amount.
func (e *Engine) Match(in Input) *store.CategorizationRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.rules) == 0 {
		return nil
	}

	best := -1
	consider := func(ruleIdx int) {
		if best == -1 || ruleIdx < best {
			best = ruleIdx
		}
	}

	fullText := strings.ToUpper(in.Text())
	if e.keywordMatcher != nil {
		for _, patternIdx := range e.keywordMatcher.Match([]byte(fullText)) {
			if patternIdx >= 0 && patternIdx < len(e.keywordOwners) {
				for _, ruleIdx := range e.keywordOwners[patternIdx] {
					consider(ruleIdx)
				}
			}
		}
	}

	merchantText := strings.ToUpper(strings.TrimSpace(in.Merchant + " " + in.Name))
	if e.merchantMatcher != nil {
		for _, patternIdx := range e.merchantMatcher.Match([]byte(merchantText)) {
			if patternIdx >= 0 && patternIdx < len(e.merchantOwners) {
				for _, ruleIdx := range e.merchantOwners[patternIdx] {
					consider(ruleIdx)
				}
			}
		}
	}

	abs := in.Amount.Abs()
	for ruleIdx, rule := range e.rules {
		if rule.Type != store.RuleAmountRange {
			continue
		}
		if best != -1 && ruleIdx >= best {
			break // rules are priority-sorted; nothing later can win
		}
		if abs.GreaterThanOrEqual(rule.MinAmount) && abs.LessThanOrEqual(rule.MaxAmount) {
			consider(ruleIdx)
		}
	}

	if best == -1 {
		return nil
	}
	rule := e.rules[best]
	return &rule
}

// RuleCount returns the number of loaded rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}
