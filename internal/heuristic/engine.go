package heuristic

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/stitts-dev/fpl-engine/internal/types"
)

const (
	// DefaultRecencyWindow is the number of recent appearances considered.
	DefaultRecencyWindow = 8
	// DefaultMinHealthyStarts is the minutes-sample size below which the
	// sparse-data flag is set.
	DefaultMinHealthyStarts = 5

	roleLockStarts     = 3
	roleLockMinMinutes = 85.0
	roleLockP90Bonus   = 0.05

	geometricDecayRatio = 0.8
)

// baseRecencyWeights is the fixed descending scheme for windows of up to 8
// points, most recent first. Renormalized over however many points exist.
var baseRecencyWeights = []float64{0.30, 0.25, 0.20, 0.10, 0.08, 0.04, 0.02, 0.01}

// HistorySource is the narrow read interface the engine needs. Engines stay
// pure functions over already-fetched data; the gorm store satisfies this in
// production and tests supply fixtures.
type HistorySource interface {
	RecentAppearances(ctx context.Context, playerID uint, limit int) ([]types.Appearance, error)
	RecentHealthyStarts(ctx context.Context, playerID uint, limit int) ([]types.Appearance, error)
}

// Engine computes start probability and expected starting minutes from a
// recency-weighted window of appearance history.
type Engine struct {
	history          HistorySource
	logger           *logrus.Logger
	recencyWindow    int
	minHealthyStarts int
}

func NewEngine(history HistorySource, logger *logrus.Logger) *Engine {
	return &Engine{
		history:          history,
		logger:           logger,
		recencyWindow:    DefaultRecencyWindow,
		minHealthyStarts: DefaultMinHealthyStarts,
	}
}

// NewEngineWithWindow creates an engine with a non-default window, used by
// tests and by callers that tune the recency horizon.
func NewEngineWithWindow(history HistorySource, logger *logrus.Logger, recencyWindow, minHealthyStarts int) *Engine {
	return &Engine{
		history:          history,
		logger:           logger,
		recencyWindow:    recencyWindow,
		minHealthyStarts: minHealthyStarts,
	}
}

// Predict computes a projection for the player at the target gameweek.
// Returns (nil, nil) when the player has no appearance history at all; the
// caller applies position priors as last resort. That is an expected
// condition, not an error.
func (e *Engine) Predict(ctx context.Context, player *types.Player, targetGameweek int) (*types.WeeklyProjection, error) {
	appearances, err := e.history.RecentAppearances(ctx, player.ID, e.recencyWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch appearance window: %w", err)
	}
	if len(appearances) == 0 {
		e.logger.WithFields(logrus.Fields{
			"player_id": player.ID,
			"gameweek":  targetGameweek,
		}).Debug("No appearance history, deferring to priors")
		return nil, nil
	}

	starts := 0
	excluded := false
	for _, app := range appearances {
		if app.Started {
			starts++
		}
		if app.InjuryExit || app.RedCard {
			excluded = true
		}
	}
	startProbability := float64(starts) / float64(len(appearances))

	healthyStarts, err := e.history.RecentHealthyStarts(ctx, player.ID, e.recencyWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch healthy starts: %w", err)
	}

	flags := types.NewFlagSet(types.FlagRecencyWeightApplied)
	if excluded {
		flags[types.FlagInjuryExcluded] = true
	}
	if len(healthyStarts) < e.minHealthyStarts {
		flags[types.FlagSparseDataFallback] = true
	}

	var expectedMinutes float64
	if len(healthyStarts) == 0 {
		// Appearances exist but none qualify for the minutes sample; fall
		// back to the position prior for minutes while keeping the observed
		// start probability.
		prior := PriorFor(player.Position)
		expectedMinutes = prior.ExpectedMinutesIfStarting
		flags[types.FlagPositionPrior] = true
	} else {
		expectedMinutes = weightedMinutes(healthyStarts)
	}

	roleLock := hasRoleLock(healthyStarts)
	if roleLock {
		flags[types.FlagRoleLock] = true
	}

	projection := &types.WeeklyProjection{
		PlayerID:                  player.ID,
		Gameweek:                  targetGameweek,
		StartProbability:          startProbability,
		ExpectedMinutesIfStarting: expectedMinutes,
		P90:                       P90Bucket(expectedMinutes, roleLock),
		Source:                    types.SourceHeuristic,
		Flags:                     flags,
	}

	e.logger.WithFields(logrus.Fields{
		"player_id":         player.ID,
		"gameweek":          targetGameweek,
		"start_probability": projection.StartProbability,
		"expected_minutes":  projection.ExpectedMinutesIfStarting,
		"p90":               projection.P90,
		"healthy_starts":    len(healthyStarts),
		"role_lock":         roleLock,
	}).Debug("Heuristic prediction computed")

	return projection, nil
}

// RecencyWeights returns the normalized weight vector for a window of n
// points, most recent first. Weights always sum to 1.
func RecencyWeights(n int) []float64 {
	if n <= 0 {
		return nil
	}

	weights := make([]float64, n)
	if n <= len(baseRecencyWeights) {
		copy(weights, baseRecencyWeights[:n])
	} else {
		// Longer windows switch to geometric decay so older signal is never
		// fully discarded.
		w := 1.0
		for i := 0; i < n; i++ {
			weights[i] = w
			w *= geometricDecayRatio
		}
	}

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// weightedMinutes computes the recency-weighted average of healthy-start
// minutes, most recent first.
func weightedMinutes(healthyStarts []types.Appearance) float64 {
	minutes := make([]float64, len(healthyStarts))
	for i, app := range healthyStarts {
		minutes[i] = float64(app.Minutes)
	}
	return stat.Mean(minutes, RecencyWeights(len(minutes)))
}

// hasRoleLock reports an entrenched starter: the 3 most recent healthy starts
// all at 85+ minutes, breaking on the first failure.
func hasRoleLock(healthyStarts []types.Appearance) bool {
	if len(healthyStarts) < roleLockStarts {
		return false
	}
	for i := 0; i < roleLockStarts; i++ {
		if float64(healthyStarts[i].Minutes) < roleLockMinMinutes {
			return false
		}
	}
	return true
}

// p90Buckets maps expected starting minutes to ceiling confidence. Buckets
// are contiguous and non-overlapping: every value lands in exactly one.
var p90Buckets = []struct {
	minMinutes float64
	p90        float64
}{
	{95, 1.00},
	{90, 0.90},
	{88, 0.85},
	{86, 0.75},
	{84, 0.65},
	{82, 0.55},
	{80, 0.45},
	{75, 0.30},
	{70, 0.15},
}

// P90Bucket maps expected starting minutes into the granular ceiling
// confidence scheme. Role lock nudges the result up by 0.05, capped at 1.0.
func P90Bucket(expectedMinutes float64, roleLock bool) float64 {
	p90 := 0.0
	for _, bucket := range p90Buckets {
		if expectedMinutes >= bucket.minMinutes {
			p90 = bucket.p90
			break
		}
	}
	if roleLock && p90 > 0 {
		p90 = math.Min(1.0, p90+roleLockP90Bonus)
	}
	return p90
}

// positionPriors are the fixed last-resort defaults for players with no
// history at all.
var positionPriors = map[types.Position]types.WeeklyProjection{
	types.PositionGoalkeeper: {StartProbability: 0.50, ExpectedMinutesIfStarting: 90, P90: 0.90},
	types.PositionDefender:   {StartProbability: 0.50, ExpectedMinutesIfStarting: 88, P90: 0.85},
	types.PositionMidfielder: {StartProbability: 0.50, ExpectedMinutesIfStarting: 80, P90: 0.45},
	types.PositionForward:    {StartProbability: 0.50, ExpectedMinutesIfStarting: 75, P90: 0.30},
}

// PriorFor returns the position-based fallback prior. Unknown positions get
// the midfielder prior.
func PriorFor(position types.Position) types.WeeklyProjection {
	if prior, ok := positionPriors[position]; ok {
		return prior
	}
	return positionPriors[types.PositionMidfielder]
}

// PriorProjection builds a complete last-resort projection for a player with
// no history.
func PriorProjection(player *types.Player, gameweek int) *types.WeeklyProjection {
	prior := PriorFor(player.Position)
	return &types.WeeklyProjection{
		PlayerID:                  player.ID,
		Gameweek:                  gameweek,
		StartProbability:          prior.StartProbability,
		ExpectedMinutesIfStarting: prior.ExpectedMinutesIfStarting,
		P90:                       prior.P90,
		Source:                    types.SourceHeuristic,
		Flags:                     types.NewFlagSet(types.FlagSparseDataFallback, types.FlagPositionPrior),
	}
}
