// Command homebase runs the transaction core: import bank exports,
// categorize transactions, and reconcile them against bills.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/augielopez/homebase/internal/domain/reconciliation"
	"github.com/augielopez/homebase/internal/store"
	"github.com/augielopez/homebase/pkg/config"
	"github.com/augielopez/homebase/pkg/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func usage() error {
	return fmt.Errorf("usage: homebase <import FILE... | reconcile [YYYY-MM] | transactions [YYYY-MM] [QUERY] | reindex | migrate | serve>")
}

func run(logger *slog.Logger) error {
	if len(os.Args) < 2 {
		return usage()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if os.Args[1] == "migrate" {
		return store.Migrate(ctx, cfg.Database.DSN())
	}

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	switch os.Args[1] {
	case "import":
		if len(os.Args) < 3 {
			return usage()
		}
		return runImport(ctx, deps, os.Args[2:])
	case "reconcile":
		return runReconcile(ctx, deps, os.Args[2:])
	case "transactions":
		return runTransactions(ctx, deps, os.Args[2:])
	case "reindex":
		return deps.CategorizationService.ReindexTransactions(ctx, deps.Store)
	case "serve":
		return runServe(ctx, deps)
	default:
		return usage()
	}
}

// runImport ingests each file in turn and archives the raw bytes with the
// import outcome. One bad file does not stop the rest.
func runImport(ctx context.Context, deps *Dependencies, paths []string) error {
	failures := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			deps.Logger.Error("read file", slog.String("file", path), slog.Any("error", err))
			failures++
			continue
		}

		filename := filepath.Base(path)
		result, err := deps.ImportService.ImportFile(ctx, filename, data)
		if err != nil {
			deps.Logger.Error("import failed", slog.String("file", filename), slog.Any("error", err))
			failures++
			continue
		}

		info := storage.ArchiveInfo{
			Name:       filename,
			Schema:     result.Schema,
			Imported:   result.Imported,
			Duplicates: result.Duplicates,
			Failed:     result.Failed,
		}
		if _, err := deps.Archive.Save(ctx, info, bytes.NewReader(data)); err != nil {
			deps.Logger.Warn("archive failed", slog.String("file", filename), slog.Any("error", err))
		}
		for _, warning := range result.Warnings {
			deps.Logger.Warn("row skipped", slog.String("file", filename), slog.String("reason", warning))
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d file(s) failed to import", failures)
	}
	return nil
}

func runReconcile(ctx context.Context, deps *Dependencies, args []string) error {
	when := time.Now().UTC()
	if len(args) > 0 {
		parsed, err := time.Parse("2006-01", args[0])
		if err != nil {
			return fmt.Errorf("invalid period %q, want YYYY-MM: %w", args[0], err)
		}
		when = parsed
	}

	summary, err := deps.ReconciliationService.Reconcile(ctx, reconciliation.Month(when.Year(), when.Month()))
	if err != nil {
		return err
	}
	for _, m := range summary.Matched {
		fmt.Printf("matched %s -> %s (%.2f, %s)\n",
			m.Transaction.Description, m.Bill.Description, m.Confidence, m.Rationale)
	}
	fmt.Printf("%d matched, %d transactions unmatched, %d bills unmatched\n",
		len(summary.Matched), len(summary.UnmatchedTransactions), len(summary.UnmatchedBills))
	return nil
}

func runTransactions(ctx context.Context, deps *Dependencies, args []string) error {
	when := time.Now().UTC()
	query := ""
	if len(args) > 0 {
		parsed, err := time.Parse("2006-01", args[0])
		if err != nil {
			return fmt.Errorf("invalid period %q, want YYYY-MM: %w", args[0], err)
		}
		when = parsed
	}
	if len(args) > 1 {
		query = args[1]
	}

	txs, err := deps.ReconciliationService.SearchTransactions(ctx, reconciliation.Month(when.Year(), when.Month()), query)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		line := fmt.Sprintf("%s  %10s  %s", tx.Date.Format("2006-01-02"), tx.Amount.StringFixed(2), tx.Description)
		if tx.CategoryName != "" {
			line += "  [" + tx.CategoryName + "]"
		}
		if tx.BillDue != nil {
			line += "  bill: " + tx.BillDue.Description
		}
		fmt.Println(line)
	}
	return nil
}

// runServe keeps the scheduler (index rebuilds, monthly reconciliation) and
// the metrics endpoint running until interrupted.
func runServe(ctx context.Context, deps *Dependencies) error {
	if err := deps.Scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer deps.Scheduler.Stop()

	// The similarity index is in-memory; rebuild it immediately rather
	// than waiting for the nightly run.
	deps.Scheduler.RunNow()

	if deps.Config.Observability.MetricsEnabled {
		go serveMetrics(deps)
	}

	<-ctx.Done()
	return nil
}
