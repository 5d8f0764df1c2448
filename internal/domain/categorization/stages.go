package categorization

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/augielopez/homebase/internal/ai"
	"github.com/augielopez/homebase/internal/store"
)

// sourceLabelStage resolves a category from the raw label carried by the
// import, creating the category when it does not exist yet.
type sourceLabelStage struct {
	repo *Repository
}

func (s *sourceLabelStage) name() string { return string(MethodSourceLabel) }

func (s *sourceLabelStage) attempt(ctx context.Context, in Input) (*Result, error) {
	label := normalizeLabel(in.SourceLabel)
	if label == "" {
		return nil, nil
	}

	category, err := s.repo.ResolveOrCreate(ctx, label)
	if err != nil {
		return nil, err
	}
	if category == nil {
		return nil, nil
	}
	return &Result{
		CategoryID: &category.ID,
		Confidence: confidenceSourceLabel,
		Method:     MethodSourceLabel,
	}, nil
}

// normalizeLabel cleans the casing and spacing of a source-provided label.
func normalizeLabel(raw string) string {
	words := strings.Fields(strings.TrimSpace(raw))
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
		}
	}
	return strings.Join(words, " ")
}

// ruleStage evaluates user-defined rules through the engine. The engine is
// rebuilt whenever the repository hands back a new rule slice, so an
// in-place rule edit takes effect on the first lookup after invalidation.
type ruleStage struct {
	repo   *Repository
	engine *Engine

	mu        sync.Mutex
	lastRules []store.CategorizationRule
}

func (s *ruleStage) name() string { return string(MethodRule) }

// install points the engine at a freshly loaded rule set.
func (s *ruleStage) install(rules []store.CategorizationRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.Build(rules)
	s.lastRules = rules
}

func (s *ruleStage) attempt(ctx context.Context, in Input) (*Result, error) {
	rules, err := s.repo.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if !sameRuleSlice(s.lastRules, rules) {
		s.engine.Build(rules)
		s.lastRules = rules
	}
	s.mu.Unlock()

	rule := s.engine.Match(in)
	if rule == nil {
		return nil, nil
	}
	categoryID := rule.CategoryID
	return &Result{
		CategoryID: &categoryID,
		Confidence: confidenceRule,
		Method:     MethodRule,
	}, nil
}

// sameRuleSlice reports whether the repository returned the identical
// cached slice as last time; the cache makes a new slice on every reload.
func sameRuleSlice(a, b []store.CategorizationRule) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

// similarityStage embeds the transaction text and votes among its nearest
// previously categorized neighbors. The result is accepted only above the
// composite threshold; below it the stage is a miss.
type similarityStage struct {
	client    ai.Client
	index     *SimilarityIndex
	threshold float64
}

func (s *similarityStage) name() string { return string(MethodSimilarity) }

func (s *similarityStage) attempt(ctx context.Context, in Input) (*Result, error) {
	if s.client == nil || s.index == nil {
		return nil, nil
	}
	text := in.Text()
	if text == "" {
		return nil, nil
	}

	vector, err := s.client.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	neighbors, err := s.index.Neighbors(text, vector, similarityTopK)
	if err != nil {
		return nil, err
	}
	threshold := s.threshold
	if threshold <= 0 {
		threshold = similarityAcceptance
	}
	categoryID, score := BestCategory(neighbors)
	if categoryID == uuid.Nil || score <= threshold {
		return nil, nil
	}
	return &Result{
		CategoryID: &categoryID,
		Confidence: score,
		Method:     MethodSimilarity,
	}, nil
}

// generativeStage asks the completion service to pick one category from
// the known list. The returned name resolves by case-insensitive exact
// match only; a hallucinated name is a miss, not a fuzzy match.
type generativeStage struct {
	repo    *Repository
	client  ai.Client
	limiter *ServiceLimiter
	enabled bool
}

func (s *generativeStage) name() string { return string(MethodGenerative) }

func (s *generativeStage) attempt(ctx context.Context, in Input) (*Result, error) {
	if !s.enabled || s.client == nil || s.limiter.CoolingDown() {
		return nil, nil
	}

	categories, err := s.repo.Categories(ctx)
	if err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		return nil, nil
	}

	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = c.Name
	}

	prompt := fmt.Sprintf(
		"Pick exactly one category for this bank transaction.\n"+
			"Categories: %s\n"+
			"Name: %s\nDescription: %s\nMerchant: %s\nAmount: %s\n"+
			"Respond with the category name only.",
		strings.Join(names, ", "), in.Name, in.Description, in.Merchant, in.Amount.StringFixed(2),
	)

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	answer, err := s.client.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, ai.ErrRateLimited) {
			s.limiter.TripCooldown()
		}
		return nil, err
	}

	answer = strings.Trim(strings.TrimSpace(answer), `"'.`)
	category, err := s.repo.FindByName(ctx, answer)
	if err != nil || category == nil {
		return nil, err
	}
	return &Result{
		CategoryID: &category.ID,
		Confidence: confidenceGenerative,
		Method:     MethodGenerative,
	}, nil
}

// defaultStage resolves the fixed Other bucket. It always succeeds when a
// category store is reachable.
type defaultStage struct {
	repo *Repository
}

func (s *defaultStage) name() string { return string(MethodDefault) }

func (s *defaultStage) attempt(ctx context.Context, _ Input) (*Result, error) {
	other, err := s.repo.Other(ctx)
	if err != nil {
		return nil, err
	}
	id := other.ID
	return &Result{
		CategoryID: &id,
		Confidence: confidenceDefault,
		Method:     MethodDefault,
	}, nil
}
