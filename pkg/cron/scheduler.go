// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/augielopez/homebase/internal/domain/categorization"
	"github.com/augielopez/homebase/internal/domain/reconciliation"
	"github.com/augielopez/homebase/internal/store"
)

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron        *cron.Cron
	store       store.Store
	categorizer *categorization.Service
	reconciler  *reconciliation.Service
	logger      *slog.Logger
}

// NewScheduler creates a new job scheduler.
func NewScheduler(st store.Store, categorizer *categorization.Service, reconciler *reconciliation.Service, logger *slog.Logger) *Scheduler {
	// Create cron with seconds disabled (standard 5-field format)
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:        c,
		store:       st,
		categorizer: categorizer,
		reconciler:  reconciler,
		logger:      logger,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	// Similarity index rebuild: runs daily at 2:00 AM
	if _, err := s.cron.AddFunc("0 2 * * *", s.rebuildSimilarityIndex); err != nil {
		return err
	}
	// Monthly reconciliation: runs at 3:00 AM on the 1st
	if _, err := s.cron.AddFunc("0 3 1 * *", s.reconcilePreviousMonth); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow manually triggers the index rebuild (for testing/admin).
func (s *Scheduler) RunNow() {
	go s.rebuildSimilarityIndex()
}

// rebuildSimilarityIndex refreshes cached rules and re-indexes categorized
// transactions for the similarity stage.
func (s *Scheduler) rebuildSimilarityIndex() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	s.logger.Info("starting similarity index rebuild")

	if err := s.categorizer.RebuildRules(ctx); err != nil {
		s.logger.Error("failed to rebuild rules", slog.Any("error", err))
	}
	if err := s.categorizer.ReindexTransactions(ctx, s.store); err != nil {
		s.logger.Error("failed to rebuild similarity index", slog.Any("error", err))
		return
	}

	s.logger.Info("similarity index rebuild completed")
}

// reconcilePreviousMonth runs the bill matcher over the month that just
// closed.
func (s *Scheduler) reconcilePreviousMonth() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	previous := time.Now().UTC().AddDate(0, -1, 0)
	period := reconciliation.Month(previous.Year(), previous.Month())

	s.logger.Info("starting monthly reconciliation",
		slog.String("period_start", period.Start.Format("2006-01-02")),
	)

	summary, err := s.reconciler.Reconcile(ctx, period)
	if err != nil {
		s.logger.Error("monthly reconciliation failed", slog.Any("error", err))
		return
	}

	s.logger.Info("monthly reconciliation completed",
		slog.Int("matched", len(summary.Matched)),
		slog.Int("unmatched_transactions", len(summary.UnmatchedTransactions)),
		slog.Int("unmatched_bills", len(summary.UnmatchedBills)),
	)
}
