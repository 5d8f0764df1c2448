// Package metrics exposes Prometheus collectors for the transaction core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsImported counts normalized rows persisted, labeled by schema.
	RowsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homebase",
		Subsystem: "imports",
		Name:      "rows_imported_total",
		Help:      "Normalized transaction rows successfully imported.",
	}, []string{"schema"})

	// RowsFailed counts rows rejected during normalization, by schema.
	RowsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homebase",
		Subsystem: "imports",
		Name:      "rows_failed_total",
		Help:      "Rows rejected during normalization.",
	}, []string{"schema"})

	// DuplicatesSkipped counts rows rejected by the duplicate guard.
	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "homebase",
		Subsystem: "imports",
		Name:      "duplicates_skipped_total",
		Help:      "Rows skipped because an equivalent transaction exists.",
	})

	// CascadeStageHits counts which cascade stage produced each category.
	CascadeStageHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homebase",
		Subsystem: "categorization",
		Name:      "stage_hits_total",
		Help:      "Categorization results by producing cascade stage.",
	}, []string{"stage"})

	// MatchOutcomes counts reconciliation partition outcomes.
	MatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homebase",
		Subsystem: "reconciliation",
		Name:      "outcomes_total",
		Help:      "Reconciliation outcomes: matched, unmatched_transaction, unmatched_bill.",
	}, []string{"outcome"})
)
