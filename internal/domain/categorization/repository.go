package categorization

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/augielopez/homebase/internal/store"
)

// OtherCategoryName is the fixed fallback bucket.
const OtherCategoryName = "Other"

// Repository handles category and rule access over the generic store, with
// in-memory caches refreshed on invalidation.
type Repository struct {
	store store.Store

	mu         sync.RWMutex
	categories []store.Category
	rules      []store.CategorizationRule
}

// NewRepository creates a categorization repository.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Categories returns all categories, cached.
func (r *Repository) Categories(ctx context.Context) ([]store.Category, error) {
	r.mu.RLock()
	if r.categories != nil {
		cached := r.categories
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	rows, err := r.store.Select(ctx, store.TableCategories)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	categories := make([]store.Category, 0, len(rows))
	for _, row := range rows {
		categories = append(categories, store.CategoryFromRow(row))
	}

	r.mu.Lock()
	r.categories = categories
	r.mu.Unlock()
	return categories, nil
}

// ActiveRules returns active rules sorted by descending priority, cached.
func (r *Repository) ActiveRules(ctx context.Context) ([]store.CategorizationRule, error) {
	r.mu.RLock()
	if r.rules != nil {
		cached := r.rules
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	rows, err := r.store.Select(ctx, store.TableRules, store.Eq("active", true))
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	rules := make([]store.CategorizationRule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, store.RuleFromRow(row))
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	r.mu.Lock()
	r.rules = rules
	r.mu.Unlock()
	return rules, nil
}

// Invalidate drops the caches; the next read refetches.
func (r *Repository) Invalidate() {
	r.mu.Lock()
	r.categories = nil
	r.rules = nil
	r.mu.Unlock()
}

// FindByName resolves a category by case-insensitive exact name match.
func (r *Repository) FindByName(ctx context.Context, name string) (*store.Category, error) {
	categories, err := r.Categories(ctx)
	if err != nil {
		return nil, err
	}
	for i := range categories {
		if strings.EqualFold(categories[i].Name, name) {
			return &categories[i], nil
		}
	}
	return nil, nil
}

// FindContaining is the fuzzy fallback: the first category whose name
// contains the query (or vice versa), case-insensitive.
func (r *Repository) FindContaining(ctx context.Context, name string) (*store.Category, error) {
	categories, err := r.Categories(ctx)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(name)
	for i := range categories {
		candidate := strings.ToLower(categories[i].Name)
		if strings.Contains(candidate, lower) || strings.Contains(lower, candidate) {
			return &categories[i], nil
		}
	}
	return nil, nil
}

// Create inserts a new category and invalidates the cache. A permission
// rejection surfaces as store.ErrPermissionDenied for the caller's
// fallback chain.
func (r *Repository) Create(ctx context.Context, name string) (*store.Category, error) {
	category := store.Category{ID: uuid.New(), Name: name}
	if err := r.store.Insert(ctx, store.TableCategories, category.Row()); err != nil {
		return nil, err
	}
	r.Invalidate()
	return &category, nil
}

// ResolveOrCreate finds a category by case-insensitive exact match or
// creates it. When creation is rejected by a permissions constraint the
// fallback order is: contains search, the Other bucket, then any existing
// category. The transaction is never failed just because a label record
// could not be created.
func (r *Repository) ResolveOrCreate(ctx context.Context, name string) (*store.Category, error) {
	if existing, err := r.FindByName(ctx, name); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	created, err := r.Create(ctx, name)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, store.ErrPermissionDenied) {
		return nil, err
	}

	if contains, err := r.FindContaining(ctx, name); err == nil && contains != nil {
		return contains, nil
	}
	if other, err := r.FindByName(ctx, OtherCategoryName); err == nil && other != nil {
		return other, nil
	}
	categories, err := r.Categories(ctx)
	if err != nil || len(categories) == 0 {
		return nil, fmt.Errorf("no category available for label %q", name)
	}
	return &categories[0], nil
}

// Other resolves the fixed fallback bucket, creating it if absent.
func (r *Repository) Other(ctx context.Context) (*store.Category, error) {
	if other, err := r.FindByName(ctx, OtherCategoryName); err != nil {
		return nil, err
	} else if other != nil {
		return other, nil
	}
	return r.Create(ctx, OtherCategoryName)
}
