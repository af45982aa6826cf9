package predictor

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-engine/internal/heuristic"
	"github.com/stitts-dev/fpl-engine/internal/mlclient"
	"github.com/stitts-dev/fpl-engine/internal/types"
)

// Forecast-distance tiers for the model/heuristic blend. The external model
// is more accurate near term; the recency heuristic degrades more slowly
// over long horizons.
const (
	modelOnlyMaxDistance = 4
	blendMaxDistance     = 8

	blendModelWeight     = 0.7
	blendHeuristicWeight = 0.3
)

// ModelService is the narrow surface of the external prediction service the
// predictor consumes.
type ModelService interface {
	Predict(ctx context.Context, req mlclient.PredictRequest) (*mlclient.PredictResponse, error)
}

// FixtureSource supplies home/away context for model requests. Optional; a
// nil source simply omits the context.
type FixtureSource interface {
	Difficulty(ctx context.Context, team string, gameweek int) (*types.Fixture, error)
}

// Provider produces a projection for a player/gameweek, or (nil, nil) when it
// has nothing to offer.
type Provider func(ctx context.Context, player *types.Player, gameweek int) (*types.WeeklyProjection, error)

// FirstSuccess composes providers into an explicit ordered fallback chain:
// each is tried in sequence and the first non-nil projection wins. Provider
// errors are treated as "nothing to offer" and the chain continues, so an
// enrichment source being down never blocks a decision.
func FirstSuccess(logger *logrus.Logger, providers ...Provider) Provider {
	return func(ctx context.Context, player *types.Player, gameweek int) (*types.WeeklyProjection, error) {
		for i, provider := range providers {
			projection, err := provider(ctx, player, gameweek)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"player_id":      player.ID,
					"gameweek":       gameweek,
					"provider_index": i,
				}).WithError(err).Warn("Projection provider failed, trying next")
				continue
			}
			if projection != nil {
				return projection, nil
			}
		}
		return nil, nil
	}
}

// Predictor orchestrates the external model and the local heuristic into a
// single projection surface with silent, observable degradation.
type Predictor struct {
	model     ModelService
	heuristic *heuristic.Engine
	history   heuristic.HistorySource
	fixtures  FixtureSource
	logger    *logrus.Logger
	window    int
}

func New(model ModelService, heuristicEngine *heuristic.Engine, history heuristic.HistorySource, fixtures FixtureSource, logger *logrus.Logger) *Predictor {
	return &Predictor{
		model:     model,
		heuristic: heuristicEngine,
		history:   history,
		fixtures:  fixtures,
		logger:    logger,
		window:    heuristic.DefaultRecencyWindow,
	}
}

// PredictWithModel delegates to the external service and falls back
// transparently to the heuristic on service error or empty history. The
// caller sees the same return shape either way; the degradation is visible
// only in logs and the projection's source field.
func (p *Predictor) PredictWithModel(ctx context.Context, player *types.Player, gameweek int) (*types.WeeklyProjection, error) {
	appearances, err := p.history.RecentAppearances(ctx, player.ID, p.window)
	if err != nil {
		return nil, err
	}
	if len(appearances) == 0 {
		p.logger.WithFields(logrus.Fields{
			"player_id": player.ID,
			"gameweek":  gameweek,
		}).Debug("No recent appearances for model features, using heuristic path")
		return p.heuristicOrPrior(ctx, player, gameweek)
	}

	response, err := p.model.Predict(ctx, p.buildRequest(ctx, player, gameweek, appearances))
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"player_id": player.ID,
			"gameweek":  gameweek,
		}).WithError(err).Warn("External model unavailable, degrading to heuristic")
		return p.heuristicOrPrior(ctx, player, gameweek)
	}

	flags := types.FlagSet{}
	for name, set := range response.Flags {
		if set {
			flags[name] = true
		}
	}

	return &types.WeeklyProjection{
		PlayerID:                  player.ID,
		Gameweek:                  gameweek,
		StartProbability:          response.StartProb,
		ExpectedMinutesIfStarting: response.XMinsStart,
		P90:                       response.P90,
		Source:                    types.SourceModel,
		Flags:                     flags,
	}, nil
}

// PredictHybrid applies the forecast-distance policy: pure model within 4
// weeks, a 70/30 model/heuristic blend at 5-8 weeks, pure heuristic beyond.
func (p *Predictor) PredictHybrid(ctx context.Context, player *types.Player, gameweek, currentGameweek int) (*types.WeeklyProjection, error) {
	distance := gameweek - currentGameweek

	switch {
	case distance <= modelOnlyMaxDistance:
		return p.PredictWithModel(ctx, player, gameweek)

	case distance <= blendMaxDistance:
		return p.predictBlended(ctx, player, gameweek)

	default:
		return p.heuristicOrPrior(ctx, player, gameweek)
	}
}

// predictBlended calls model and heuristic concurrently and linearly blends
// the numeric fields. Either side failing leaves the other to stand alone.
func (p *Predictor) predictBlended(ctx context.Context, player *types.Player, gameweek int) (*types.WeeklyProjection, error) {
	var (
		wg            sync.WaitGroup
		modelProj     *types.WeeklyProjection
		heuristicProj *types.WeeklyProjection
		heuristicErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		appearances, err := p.history.RecentAppearances(ctx, player.ID, p.window)
		if err != nil || len(appearances) == 0 {
			return
		}
		response, err := p.model.Predict(ctx, p.buildRequest(ctx, player, gameweek, appearances))
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"player_id": player.ID,
				"gameweek":  gameweek,
			}).WithError(err).Warn("Model side of hybrid blend unavailable")
			return
		}
		flags := types.FlagSet{}
		for name, set := range response.Flags {
			if set {
				flags[name] = true
			}
		}
		modelProj = &types.WeeklyProjection{
			PlayerID:                  player.ID,
			Gameweek:                  gameweek,
			StartProbability:          response.StartProb,
			ExpectedMinutesIfStarting: response.XMinsStart,
			P90:                       response.P90,
			Source:                    types.SourceModel,
			Flags:                     flags,
		}
	}()
	go func() {
		defer wg.Done()
		heuristicProj, heuristicErr = p.heuristicOrPrior(ctx, player, gameweek)
	}()
	wg.Wait()

	switch {
	case modelProj == nil && heuristicProj == nil:
		return nil, heuristicErr
	case modelProj == nil:
		return heuristicProj, nil
	case heuristicProj == nil:
		return modelProj, nil
	}

	blended := &types.WeeklyProjection{
		PlayerID:                  player.ID,
		Gameweek:                  gameweek,
		StartProbability:          blendModelWeight*modelProj.StartProbability + blendHeuristicWeight*heuristicProj.StartProbability,
		ExpectedMinutesIfStarting: blendModelWeight*modelProj.ExpectedMinutesIfStarting + blendHeuristicWeight*heuristicProj.ExpectedMinutesIfStarting,
		P90:                       blendModelWeight*modelProj.P90 + blendHeuristicWeight*heuristicProj.P90,
		Source:                    types.SourceHybrid,
		Flags:                     modelProj.Flags.Union(heuristicProj.Flags),
	}
	return blended, nil
}

// heuristicOrPrior is the local fallback chain: heuristic first, position
// prior as last resort when the player has no history at all.
func (p *Predictor) heuristicOrPrior(ctx context.Context, player *types.Player, gameweek int) (*types.WeeklyProjection, error) {
	chain := FirstSuccess(p.logger, p.HeuristicProvider(), p.PriorProvider())
	return chain(ctx, player, gameweek)
}

// HeuristicProvider exposes the heuristic engine as a chain provider.
func (p *Predictor) HeuristicProvider() Provider {
	return func(ctx context.Context, player *types.Player, gameweek int) (*types.WeeklyProjection, error) {
		return p.heuristic.Predict(ctx, player, gameweek)
	}
}

// PriorProvider exposes position-based priors as the last-resort provider.
func (p *Predictor) PriorProvider() Provider {
	return func(_ context.Context, player *types.Player, gameweek int) (*types.WeeklyProjection, error) {
		return heuristic.PriorProjection(player, gameweek), nil
	}
}

func (p *Predictor) buildRequest(ctx context.Context, player *types.Player, gameweek int, appearances []types.Appearance) mlclient.PredictRequest {
	records := make([]mlclient.AppearanceRecord, len(appearances))
	isHome := false
	if p.fixtures != nil {
		if fixture, err := p.fixtures.Difficulty(ctx, player.Team, gameweek); err == nil && fixture != nil {
			isHome = fixture.IsHome
		}
	}
	for i, app := range appearances {
		records[i] = mlclient.AppearanceRecord{
			Gameweek:   app.Gameweek,
			Started:    app.Started,
			Minutes:    app.Minutes,
			InjuryExit: app.InjuryExit,
			RedCard:    app.RedCard,
			WasHome:    app.WasHome,
			Kickoff:    app.Kickoff.Format("2006-01-02"),
		}
	}
	return mlclient.PredictRequest{
		PlayerID:       player.ID,
		Position:       player.Position,
		TargetGameweek: gameweek,
		IsHome:         isHome,
		Appearances:    records,
	}
}
