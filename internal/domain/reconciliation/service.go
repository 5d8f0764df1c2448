package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/augielopez/homebase/internal/store"
	"github.com/augielopez/homebase/pkg/metrics"
)

// Period is the reconciliation window. Transactions dated in [Start, End)
// are considered against bills due in the same window.
type Period struct {
	Start time.Time
	End   time.Time
}

// Month builds the period covering one calendar month.
func Month(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// Summary is the persisted outcome of one reconciliation run.
type Summary struct {
	Period                Period
	Matched               []Match
	UnmatchedTransactions []store.Transaction
	UnmatchedBills        []store.Bill
}

// Service loads the period's transactions and open bills, runs the matcher,
// and writes back bill links, paid statuses, and learned merchant patterns.
type Service struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

// NewService creates a reconciliation service with the given tolerances.
func NewService(st store.Store, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("reconciliation"),
	}
}

// Reconcile runs one pass for the period and persists its outcome. Matched
// transactions get their bill link written, matched bills are marked paid,
// and each confirmed fuzzy match records a merchant pattern so the next run
// scores the same merchant higher.
func (s *Service) Reconcile(ctx context.Context, period Period) (*Summary, error) {
	ctx, span := s.tracer.Start(ctx, "reconciliation.Reconcile")
	defer span.End()

	transactions, err := s.loadTransactions(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	bills, err := s.loadBills(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("load bills: %w", err)
	}
	patterns, err := s.loadPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("load match patterns: %w", err)
	}

	result := NewMatcher(s.cfg, patterns).Reconcile(transactions, bills)
	span.SetAttributes(
		attribute.Int("reconciliation.matched", len(result.Matched)),
		attribute.Int("reconciliation.unmatched_transactions", len(result.UnmatchedTransactions)),
		attribute.Int("reconciliation.unmatched_bills", len(result.UnmatchedBills)),
	)

	for _, match := range result.Matched {
		if err := s.persistMatch(ctx, match, patterns); err != nil {
			return nil, err
		}
		metrics.MatchOutcomes.WithLabelValues("matched").Inc()
	}
	for range result.UnmatchedTransactions {
		metrics.MatchOutcomes.WithLabelValues("unmatched_transaction").Inc()
	}
	for range result.UnmatchedBills {
		metrics.MatchOutcomes.WithLabelValues("unmatched_bill").Inc()
	}

	s.logger.Info("reconciliation complete",
		"period_start", period.Start.Format("2006-01-02"),
		"matched", len(result.Matched),
		"unmatched_transactions", len(result.UnmatchedTransactions),
		"unmatched_bills", len(result.UnmatchedBills),
	)

	return &Summary{
		Period:                period,
		Matched:               result.Matched,
		UnmatchedTransactions: result.UnmatchedTransactions,
		UnmatchedBills:        result.UnmatchedBills,
	}, nil
}

// Transactions lists the period's transactions expanded with their linked
// category name and bill, for review surfaces. Stores without join support
// fall back to the bare records.
func (s *Service) Transactions(ctx context.Context, period Period) ([]store.ExpandedTransaction, error) {
	return s.listTransactions(ctx, period, nil)
}

// SearchTransactions narrows the period listing to transactions whose name
// contains the query, case-insensitively.
func (s *Service) SearchTransactions(ctx context.Context, period Period, query string) ([]store.ExpandedTransaction, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.listTransactions(ctx, period, nil)
	}
	return s.listTransactions(ctx, period, []store.Filter{store.ILike("name", "%" + query + "%")})
}

func (s *Service) listTransactions(ctx context.Context, period Period, extra []store.Filter) ([]store.ExpandedTransaction, error) {
	filters := []store.Filter{
		store.Gte("date", period.Start),
		store.Lte("date", period.End.Add(-time.Nanosecond)),
	}
	filters = append(filters, extra...)
	if joiner, ok := s.store.(store.TransactionJoiner); ok {
		return joiner.SelectTransactionsExpanded(ctx, filters...)
	}

	rows, err := s.store.Select(ctx, store.TableTransactions, filters...)
	if err != nil {
		return nil, err
	}
	expanded := make([]store.ExpandedTransaction, 0, len(rows))
	for _, row := range rows {
		expanded = append(expanded, store.ExpandedTransaction{Transaction: store.TransactionFromRow(row)})
	}
	return expanded, nil
}

func (s *Service) loadTransactions(ctx context.Context, period Period) ([]store.Transaction, error) {
	rows, err := s.store.Select(ctx, store.TableTransactions,
		store.Gte("date", period.Start),
		store.Lte("date", period.End.Add(-time.Nanosecond)),
	)
	if err != nil {
		return nil, err
	}
	transactions := make([]store.Transaction, 0, len(rows))
	for _, row := range rows {
		transactions = append(transactions, store.TransactionFromRow(row))
	}
	return transactions, nil
}

func (s *Service) loadBills(ctx context.Context, period Period) ([]store.Bill, error) {
	rows, err := s.store.Select(ctx, store.TableBills,
		store.Eq("status", string(store.BillActive)),
		store.Gte("due_date", period.Start),
		store.Lte("due_date", period.End.Add(-time.Nanosecond)),
	)
	if err != nil {
		return nil, err
	}
	bills := make([]store.Bill, 0, len(rows))
	for _, row := range rows {
		bills = append(bills, store.BillFromRow(row))
	}
	return bills, nil
}

func (s *Service) loadPatterns(ctx context.Context) ([]store.MatchPattern, error) {
	rows, err := s.store.Select(ctx, store.TableMatchPatterns)
	if err != nil {
		return nil, err
	}
	patterns := make([]store.MatchPattern, 0, len(rows))
	for _, row := range rows {
		patterns = append(patterns, store.MatchPatternFromRow(row))
	}
	return patterns, nil
}

func (s *Service) persistMatch(ctx context.Context, match Match, patterns []store.MatchPattern) error {
	billID := match.Bill.ID
	if err := s.store.Update(ctx, store.TableTransactions, match.Transaction.ID, store.Row{
		"bill_id": billID,
	}); err != nil {
		return fmt.Errorf("link transaction %s: %w", match.Transaction.ID, err)
	}
	if err := s.store.Update(ctx, store.TableBills, billID, store.Row{
		"status": string(store.BillPaid),
	}); err != nil {
		return fmt.Errorf("mark bill %s paid: %w", billID, err)
	}
	if match.Method != MethodFuzzy {
		return nil
	}
	return s.recordPattern(ctx, billID, match.Transaction, patterns)
}

// recordPattern upserts the (bill, merchant text) association learned from a
// confirmed fuzzy match. Existing patterns get their hit count bumped.
func (s *Service) recordPattern(ctx context.Context, billID uuid.UUID, tx store.Transaction, patterns []store.MatchPattern) error {
	text := tx.Merchant
	if text == "" {
		text = tx.Name
	}
	text = normalizeText(text)
	if text == "" {
		return nil
	}
	for _, p := range patterns {
		if p.BillID == billID && normalizeText(p.Pattern) == text {
			return s.store.Update(ctx, store.TableMatchPatterns, p.ID, store.Row{
				"hit_count": p.HitCount + 1,
			})
		}
	}
	pattern := store.MatchPattern{
		ID:       uuid.New(),
		BillID:   billID,
		Pattern:  text,
		HitCount: 1,
	}
	return s.store.Insert(ctx, store.TableMatchPatterns, pattern.Row())
}
