package forecast

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-engine/internal/fixtures"
	"github.com/stitts-dev/fpl-engine/internal/injury"
	"github.com/stitts-dev/fpl-engine/internal/types"
)

// DefaultHorizonWeeks is the forecast horizon.
const DefaultHorizonWeeks = 14

const uncertaintyBandScale = 0.15

// HybridPredictor is the projection surface the orchestrator drives across
// the horizon.
type HybridPredictor interface {
	PredictHybrid(ctx context.Context, player *types.Player, gameweek, currentGameweek int) (*types.WeeklyProjection, error)
}

// Orchestrator drives the hybrid predictor across a fixed horizon, applying
// injury gating, the recovery ramp, fixture-difficulty adjustment, and
// confidence-based uncertainty bounds per week. Output is deterministic:
// identical inputs yield identical sequences.
type Orchestrator struct {
	predictor HybridPredictor
	fixtures  fixtures.Source
	logger    *logrus.Logger
	horizon   int
}

func NewOrchestrator(predictor HybridPredictor, fixtureSource fixtures.Source, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		predictor: predictor,
		fixtures:  fixtureSource,
		logger:    logger,
		horizon:   DefaultHorizonWeeks,
	}
}

// NewOrchestratorWithHorizon creates an orchestrator with a non-default
// horizon.
func NewOrchestratorWithHorizon(predictor HybridPredictor, fixtureSource fixtures.Source, logger *logrus.Logger, horizon int) *Orchestrator {
	o := NewOrchestrator(predictor, fixtureSource, logger)
	o.horizon = horizon
	return o
}

// Forecast produces per-gameweek projections for the player across the
// horizon, ascending by gameweek. Weeks where no baseline projection exists
// are skipped, never synthesized; downstream consumers tolerate the gaps.
func (o *Orchestrator) Forecast(ctx context.Context, player *types.Player, currentGameweek int) ([]types.WeeklyProjection, error) {
	forecastID := uuid.New().String()
	log := o.logger.WithFields(logrus.Fields{
		"forecast_id":      forecastID,
		"player_id":        player.ID,
		"current_gameweek": currentGameweek,
		"horizon_weeks":    o.horizon,
	})
	log.Debug("Starting multi-week forecast")

	var returnWeek *int
	if player.InjuryNews != "" && player.InjuryNewsAdded != nil {
		returnWeek = injury.ReturnGameweek(player.InjuryNews, *player.InjuryNewsAdded, currentGameweek)
		if returnWeek != nil {
			log.WithField("return_gameweek", *returnWeek).Debug("Injury return gameweek computed")
		}
	}

	projections := make([]types.WeeklyProjection, 0, o.horizon)
	skipped := 0

	for k := 1; k <= o.horizon; k++ {
		gameweek := currentGameweek + k

		baseline, err := o.predictor.PredictHybrid(ctx, player, gameweek, currentGameweek)
		if err != nil {
			return nil, fmt.Errorf("hybrid prediction failed for gw %d: %w", gameweek, err)
		}
		if baseline == nil {
			skipped++
			continue
		}

		projection := *baseline
		if projection.Flags == nil {
			projection.Flags = types.FlagSet{}
		}

		o.applyInjuryGating(&projection, returnWeek, gameweek)

		// The live "chance of playing next round" signal is only meaningful
		// for the immediate week; it is stale at longer horizons.
		if k == 1 && player.ChanceOfPlaying != nil {
			projection.StartProbability *= float64(*player.ChanceOfPlaying) / 100.0
			projection.Flags[types.FlagChanceOfPlayingApplied] = true
		}

		o.applyFixtureAdjustment(ctx, &projection, player, gameweek)

		confidence := injury.ConfidenceDecay(k)
		projection.Confidence = confidence
		low, high := uncertaintyBand(projection.ExpectedMinutesIfStarting, confidence)
		projection.UncertaintyLow = &low
		projection.UncertaintyHigh = &high

		projections = append(projections, projection)
	}

	log.WithFields(logrus.Fields{
		"weeks_projected": len(projections),
		"weeks_skipped":   skipped,
	}).Info("Multi-week forecast completed")

	return projections, nil
}

// applyInjuryGating zeroes weeks before the computed return gameweek and
// applies the recovery ramp at and after it.
func (o *Orchestrator) applyInjuryGating(projection *types.WeeklyProjection, returnWeek *int, gameweek int) {
	if returnWeek == nil {
		return
	}
	if gameweek < *returnWeek {
		projection.StartProbability = 0
		projection.ExpectedMinutesIfStarting = 0
		projection.P90 = 0
		projection.Flags[types.FlagInjuryAdjusted] = true
		return
	}
	multiplier := injury.RecoveryMultiplier(gameweek - *returnWeek)
	if multiplier < 1.0 {
		projection.StartProbability *= multiplier
		projection.ExpectedMinutesIfStarting *= multiplier
		projection.P90 *= multiplier
		projection.Flags[types.FlagRecoveryPhase] = true
	}
}

// applyFixtureAdjustment scales minutes and P90 by fixture difficulty.
// Missing fixture data is never fatal: the adjustment is skipped silently.
func (o *Orchestrator) applyFixtureAdjustment(ctx context.Context, projection *types.WeeklyProjection, player *types.Player, gameweek int) {
	if o.fixtures == nil {
		return
	}
	fixture, err := o.fixtures.Difficulty(ctx, player.Team, gameweek)
	if err != nil {
		o.logger.WithFields(logrus.Fields{
			"player_id": player.ID,
			"team":      player.Team,
			"gameweek":  gameweek,
		}).WithError(err).Debug("Fixture lookup failed, skipping adjustment")
		return
	}
	if fixture == nil || fixture.Postponed {
		return
	}

	multiplier := fixtures.AdjustmentMultiplier(fixture.Difficulty, player.Position)
	if multiplier == 1.0 {
		return
	}
	// Start probability is a selection question, not an opponent question.
	projection.ExpectedMinutesIfStarting *= multiplier
	projection.P90 *= multiplier
	projection.Flags[types.FlagFdrAdjusted] = true
}

// uncertaintyBand derives the bounds from confidence: band width is
// 0.15 x (1 - confidence) as a fraction of expected minutes, with both
// bounds clamped into [0, 90] and the upper bound never below the estimate.
func uncertaintyBand(expectedMinutes, confidence float64) (float64, float64) {
	width := uncertaintyBandScale * (1 - confidence)
	low := expectedMinutes * (1 - width)
	high := expectedMinutes * (1 + width)

	if low < 0 {
		low = 0
	}
	if low > 90 {
		low = 90
	}
	if high > 90 {
		high = 90
	}
	if high < expectedMinutes {
		high = expectedMinutes
	}
	return low, high
}
