package forecast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-engine/internal/types"
)

const (
	// DefaultBatchWorkers bounds concurrent per-player forecasts. This is a
	// backpressure policy for the external service, not a correctness
	// requirement: within the pool all players are independent.
	DefaultBatchWorkers = 10

	// DefaultMaxErrorSample bounds the error details carried in a batch
	// report.
	DefaultMaxErrorSample = 10

	defaultRetryBudget = 30 * time.Second
)

// PlayerSource supplies the roster records a batch run iterates.
type PlayerSource interface {
	List(ctx context.Context, playerIDs []uint) ([]types.Player, error)
}

// ProjectionSink is the persisted projection store: upsert-by-key, bulk
// capable.
type ProjectionSink interface {
	BulkUpsert(ctx context.Context, projections []types.WeeklyProjection) error
}

// BatchResult reports a batch generation run. One player's failure never
// abandons the batch; failures are isolated, counted, and sampled.
type BatchResult struct {
	BatchID   string   `json:"batch_id"`
	Requested int      `json:"requested"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Stored    int      `json:"stored"`
	Errors    []string `json:"errors,omitempty"`
}

// BatchGenerator fans forecast generation out across a bounded worker pool
// with exponential backoff on transient per-player failures.
type BatchGenerator struct {
	orchestrator *Orchestrator
	players      PlayerSource
	sink         ProjectionSink
	logger       *logrus.Logger
	workers      int
	maxErrors    int
	retryBudget  time.Duration
}

func NewBatchGenerator(orchestrator *Orchestrator, players PlayerSource, sink ProjectionSink, logger *logrus.Logger) *BatchGenerator {
	return &BatchGenerator{
		orchestrator: orchestrator,
		players:      players,
		sink:         sink,
		logger:       logger,
		workers:      DefaultBatchWorkers,
		maxErrors:    DefaultMaxErrorSample,
		retryBudget:  defaultRetryBudget,
	}
}

// NewBatchGeneratorWithOptions tunes pool size, error sample bound and the
// per-player retry budget.
func NewBatchGeneratorWithOptions(orchestrator *Orchestrator, players PlayerSource, sink ProjectionSink, logger *logrus.Logger, workers, maxErrors int, retryBudget time.Duration) *BatchGenerator {
	g := NewBatchGenerator(orchestrator, players, sink, logger)
	if workers > 0 {
		g.workers = workers
	}
	if maxErrors > 0 {
		g.maxErrors = maxErrors
	}
	if retryBudget > 0 {
		g.retryBudget = retryBudget
	}
	return g
}

// Generate runs multi-week forecasts for the given players and stores the
// results. Players without an FPL identifier are skipped. Idempotent:
// re-running with identical inputs rewrites identical projections.
func (g *BatchGenerator) Generate(ctx context.Context, playerIDs []uint, currentGameweek int) (*BatchResult, error) {
	batchID := uuid.New().String()
	log := g.logger.WithFields(logrus.Fields{
		"batch_id":         batchID,
		"player_count":     len(playerIDs),
		"current_gameweek": currentGameweek,
		"workers":          g.workers,
	})
	log.Info("Starting batch projection generation")

	players, err := g.players.List(ctx, playerIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load players for batch: %w", err)
	}

	result := &BatchResult{
		BatchID:   batchID,
		Requested: len(playerIDs),
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan types.Player)
	)

	for w := 0; w < g.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for player := range jobs {
				g.processPlayer(ctx, player, currentGameweek, result, &mu)
			}
		}()
	}

	for _, player := range players {
		if player.FplID == nil {
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			log.WithField("player_id", player.ID).Debug("Player has no FPL identifier, skipping")
			continue
		}
		select {
		case jobs <- player:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return result, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	log.WithFields(logrus.Fields{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
		"stored":    result.Stored,
	}).Info("Batch projection generation completed")

	return result, nil
}

// processPlayer forecasts and stores one player, retrying transient failures
// with exponential backoff inside the per-player budget.
func (g *BatchGenerator) processPlayer(ctx context.Context, player types.Player, currentGameweek int, result *BatchResult, mu *sync.Mutex) {
	var projections []types.WeeklyProjection

	operation := func() error {
		var err error
		projections, err = g.orchestrator.Forecast(ctx, &player, currentGameweek)
		return err
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.MaxElapsedTime = g.retryBudget

	if err := backoff.Retry(operation, backoff.WithContext(strategy, ctx)); err != nil {
		g.recordFailure(result, mu, fmt.Sprintf("player %d: forecast failed: %v", player.ID, err))
		return
	}

	if err := g.sink.BulkUpsert(ctx, projections); err != nil {
		g.recordFailure(result, mu, fmt.Sprintf("player %d: store failed: %v", player.ID, err))
		return
	}

	mu.Lock()
	result.Succeeded++
	result.Stored += len(projections)
	mu.Unlock()
}

func (g *BatchGenerator) recordFailure(result *BatchResult, mu *sync.Mutex, detail string) {
	mu.Lock()
	defer mu.Unlock()
	result.Failed++
	if len(result.Errors) < g.maxErrors {
		result.Errors = append(result.Errors, detail)
	}
}
