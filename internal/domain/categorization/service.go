package categorization

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/augielopez/homebase/internal/ai"
	"github.com/augielopez/homebase/internal/store"
	"github.com/augielopez/homebase/pkg/metrics"
)

// batchChunkSize bounds concurrent external-service load during batch
// categorization.
const batchChunkSize = 10

// batchChunkPause is the enforced delay between chunks when external
// services are in play, so a large batch cannot burst past their limits.
const batchChunkPause = 2 * time.Second

// Service runs the categorization cascade. Stage order is fixed: source
// label, rules, similarity, generative, default. External-service errors
// at any stage fall through to the next stage; they are never fatal.
type Service struct {
	repo    *Repository
	limiter *ServiceLimiter
	logger  *slog.Logger
	tracer  trace.Tracer

	chunkPause time.Duration
	pause      func(ctx context.Context, d time.Duration)

	source     *sourceLabelStage
	rules      *ruleStage
	similarity *similarityStage
	generative *generativeStage
	fallback   *defaultStage
}

// NewService creates a cascade service. The AI client and similarity index
// are optional; their stages degrade to misses when absent.
func NewService(repo *Repository, logger *slog.Logger) *Service {
	limiter := NewServiceLimiter()
	s := &Service{
		repo:    repo,
		limiter: limiter,
		logger:  logger,
		tracer:  otel.Tracer("categorization"),

		chunkPause: batchChunkPause,
		pause:      sleepContext,

		source:     &sourceLabelStage{repo: repo},
		rules:      &ruleStage{repo: repo, engine: NewEngine(nil)},
		similarity: &similarityStage{},
		generative: &generativeStage{repo: repo, limiter: limiter},
		fallback:   &defaultStage{repo: repo},
	}
	return s
}

// WithAIClient wires the completion-service client and enables the
// similarity and generative stages.
func (s *Service) WithAIClient(client ai.Client) *Service {
	s.similarity.client = client
	s.generative.client = client
	s.generative.enabled = true
	return s
}

// WithSimilarityIndex wires the nearest-neighbor store for stage 3.
func (s *Service) WithSimilarityIndex(index *SimilarityIndex) *Service {
	s.similarity.index = index
	return s
}

// WithGenerativeEnabled toggles the generative stage independently of
// client wiring: a client configured only for embeddings never produces
// chat-completion calls when the stage is switched off.
func (s *Service) WithGenerativeEnabled(enabled bool) *Service {
	s.generative.enabled = enabled
	return s
}

// WithSimilarityThreshold overrides the acceptance floor a stage-3
// composite must clear. Non-positive values keep the default.
func (s *Service) WithSimilarityThreshold(threshold float64) *Service {
	if threshold > 0 {
		s.similarity.threshold = threshold
	}
	return s
}

// Limiter exposes the shared throttle, mainly for tests and batch resets.
func (s *Service) Limiter() *ServiceLimiter {
	return s.limiter
}

// Categorize runs the full cascade for one transaction and always returns
// a result; when every stage misses the default bucket wins.
func (s *Service) Categorize(ctx context.Context, in Input) Result {
	ctx, span := s.tracer.Start(ctx, "categorization.Categorize")
	defer span.End()

	if result, _ := s.attemptEarly(ctx, in); result != nil {
		return *result
	}
	return s.finishLate(ctx, in, true)
}

// CategorizeBatch categorizes many transactions. Work is chunked; within a
// chunk stages 1-3 run concurrently across transactions, while generative
// calls stay serialized against the shared rate-limit timer. The moment a
// rate-limit error is observed the generative stage is disabled for the
// remainder of the batch; remaining items continue through stages 1-3 and
// the default.
func (s *Service) CategorizeBatch(ctx context.Context, ins []Input) []Result {
	ctx, span := s.tracer.Start(ctx, "categorization.CategorizeBatch")
	defer span.End()

	results := make([]Result, len(ins))
	generativeAllowed := true

	for start := 0; start < len(ins); start += batchChunkSize {
		if start > 0 && s.usesExternalService() {
			s.pause(ctx, s.chunkPause)
		}
		end := start + batchChunkSize
		if end > len(ins) {
			end = len(ins)
		}

		early := make([]*Result, end-start)
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				early[i-start], _ = s.attemptEarly(ctx, ins[i])
			}(i)
		}
		wg.Wait()

		for i := start; i < end; i++ {
			if result := early[i-start]; result != nil {
				results[i] = *result
				continue
			}
			results[i] = s.finishLate(ctx, ins[i], generativeAllowed)
			if s.limiter.CoolingDown() {
				generativeAllowed = false
			}
		}
	}
	return results
}

// usesExternalService reports whether any cascade stage will call out of
// process for this batch; local-only batches skip the inter-chunk pause.
func (s *Service) usesExternalService() bool {
	if s.similarity.client != nil && s.similarity.index != nil {
		return true
	}
	return s.generative.enabled && s.generative.client != nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// attemptEarly runs stages 1-3. A nil result means every early stage
// missed.
func (s *Service) attemptEarly(ctx context.Context, in Input) (*Result, error) {
	for _, st := range []stage{s.source, s.rules, s.similarity} {
		result, err := s.runStage(ctx, st, in)
		if result != nil {
			return result, nil
		}
		if err != nil && errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	return nil, nil
}

// finishLate runs the generative stage (when allowed) and the default.
func (s *Service) finishLate(ctx context.Context, in Input, allowGenerative bool) Result {
	if allowGenerative {
		if result, _ := s.runStage(ctx, s.generative, in); result != nil {
			return *result
		}
	}

	if result, _ := s.runStage(ctx, s.fallback, in); result != nil {
		return *result
	}
	// Even the default bucket was unreachable; return an uncategorized
	// result rather than failing the transaction.
	return Result{Confidence: confidenceDefault, Method: MethodDefault}
}

func (s *Service) runStage(ctx context.Context, st stage, in Input) (*Result, error) {
	result, err := st.attempt(ctx, in)
	if err != nil {
		if errors.Is(err, ai.ErrRateLimited) {
			s.logger.Warn("completion service rate limited, cooling down",
				"stage", st.name())
		} else {
			s.logger.Warn("cascade stage failed, falling through",
				"stage", st.name(), "error", err)
		}
		return nil, err
	}
	if result != nil {
		metrics.CascadeStageHits.WithLabelValues(st.name()).Inc()
	}
	return result, nil
}

// RebuildRules reloads rules from the store into the engine.
func (s *Service) RebuildRules(ctx context.Context) error {
	s.repo.Invalidate()
	rules, err := s.repo.ActiveRules(ctx)
	if err != nil {
		return err
	}
	s.rules.install(rules)
	return nil
}

// ReindexTransactions replaces similarity-index content from previously
// categorized transactions, typically on a schedule. Categorized rows that
// have no stored embedding yet are embedded and written back first, so the
// index grows as imports are categorized. Backfill stops early on a rate
// limit; the remaining rows wait for the next run.
func (s *Service) ReindexTransactions(ctx context.Context, source store.Store) error {
	if s.similarity.index == nil {
		return nil
	}
	rows, err := source.Select(ctx, store.TableTransactions)
	if err != nil {
		return err
	}

	backfill := s.similarity.client != nil
	txs := make([]store.Transaction, 0, len(rows))
	for _, row := range rows {
		tx := store.TransactionFromRow(row)
		if backfill && tx.CategoryID != nil && len(tx.Embedding) == 0 {
			in := Input{Name: tx.Name, Description: tx.Description, Merchant: tx.Merchant}
			text := in.Text()
			if text != "" {
				vector, err := s.similarity.client.Embed(ctx, text)
				if err != nil {
					s.logger.Warn("embedding backfill stopped", "error", err)
					backfill = false
				} else {
					tx.Embedding = vector
					if err := source.Update(ctx, store.TableTransactions, tx.ID, store.Row{"embedding": vector}); err != nil {
						return err
					}
				}
			}
		}
		txs = append(txs, tx)
	}
	return s.similarity.index.IndexTransactions(txs)
}
