package predictor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/fpl-engine/internal/heuristic"
	"github.com/stitts-dev/fpl-engine/internal/mlclient"
	"github.com/stitts-dev/fpl-engine/internal/types"
)

type fakeModel struct {
	response *mlclient.PredictResponse
	err      error
	calls    int
}

func (f *fakeModel) Predict(_ context.Context, _ mlclient.PredictRequest) (*mlclient.PredictResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type fakeHistory struct {
	appearances []types.Appearance
}

func (f *fakeHistory) RecentAppearances(_ context.Context, _ uint, limit int) ([]types.Appearance, error) {
	if len(f.appearances) > limit {
		return f.appearances[:limit], nil
	}
	return f.appearances, nil
}

func (f *fakeHistory) RecentHealthyStarts(_ context.Context, _ uint, limit int) ([]types.Appearance, error) {
	var healthy []types.Appearance
	for _, app := range f.appearances {
		if app.IsHealthyStart() {
			healthy = append(healthy, app)
			if len(healthy) == limit {
				break
			}
		}
	}
	return healthy, nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func steadyStarterHistory() *fakeHistory {
	apps := make([]types.Appearance, 8)
	kickoff := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	for i := range apps {
		apps[i] = types.Appearance{
			PlayerID: 1, Gameweek: 28 - i, Season: "2025/26",
			Started: true, Minutes: 90, Kickoff: kickoff.AddDate(0, 0, -7*i),
		}
	}
	return &fakeHistory{appearances: apps}
}

func newTestPredictor(model ModelService, history heuristic.HistorySource) *Predictor {
	log := testLogger()
	engine := heuristic.NewEngine(history, log)
	return New(model, engine, history, nil, log)
}

func TestPredictWithModel_UsesModelWhenAvailable(t *testing.T) {
	model := &fakeModel{response: &mlclient.PredictResponse{
		StartProb:  0.92,
		XMinsStart: 87.5,
		P90:        0.80,
		Flags:      map[string]bool{"congestion": true},
	}}
	p := newTestPredictor(model, steadyStarterHistory())
	player := &types.Player{ID: 1, Position: types.PositionMidfielder}

	projection, err := p.PredictWithModel(context.Background(), player, 29)
	require.NoError(t, err)
	require.NotNil(t, projection)

	assert.Equal(t, types.SourceModel, projection.Source)
	assert.Equal(t, 0.92, projection.StartProbability)
	assert.Equal(t, 87.5, projection.ExpectedMinutesIfStarting)
	assert.True(t, projection.Flags.Has("congestion"))
	assert.Equal(t, 1, model.calls)
}

func TestPredictWithModel_FallsBackOnServiceError(t *testing.T) {
	model := &fakeModel{err: errors.New("connection refused")}
	p := newTestPredictor(model, steadyStarterHistory())
	player := &types.Player{ID: 1, Position: types.PositionMidfielder}

	projection, err := p.PredictWithModel(context.Background(), player, 29)
	require.NoError(t, err, "fallback must be silent to the caller")
	require.NotNil(t, projection)
	assert.Equal(t, types.SourceHeuristic, projection.Source)
}

func TestPredictWithModel_EmptyHistorySkipsModel(t *testing.T) {
	model := &fakeModel{response: &mlclient.PredictResponse{StartProb: 0.9}}
	p := newTestPredictor(model, &fakeHistory{})
	player := &types.Player{ID: 5, Position: types.PositionForward}

	projection, err := p.PredictWithModel(context.Background(), player, 29)
	require.NoError(t, err)
	require.NotNil(t, projection, "position prior is the last resort")

	assert.Equal(t, 0, model.calls, "model must not be called without feature history")
	assert.True(t, projection.Flags.Has(types.FlagPositionPrior))
}

func TestPredictHybrid_DistanceTiers(t *testing.T) {
	model := &fakeModel{response: &mlclient.PredictResponse{
		StartProb:  1.0,
		XMinsStart: 80,
		P90:        0.45,
	}}
	p := newTestPredictor(model, steadyStarterHistory())
	player := &types.Player{ID: 1, Position: types.PositionMidfielder}
	currentGameweek := 28

	// Distance 1-4: pure model
	projection, err := p.PredictHybrid(context.Background(), player, 30, currentGameweek)
	require.NoError(t, err)
	assert.Equal(t, types.SourceModel, projection.Source)

	// Distance 5-8: 70/30 blend. Heuristic on this history gives
	// startProb=1.0, minutes=90, p90=0.95 (role lock on the 0.90 bucket).
	projection, err = p.PredictHybrid(context.Background(), player, 34, currentGameweek)
	require.NoError(t, err)
	require.NotNil(t, projection)
	assert.Equal(t, types.SourceHybrid, projection.Source)
	assert.InDelta(t, 1.0, projection.StartProbability, 1e-9)
	assert.InDelta(t, 0.7*80+0.3*90, projection.ExpectedMinutesIfStarting, 1e-9)
	assert.InDelta(t, 0.7*0.45+0.3*0.95, projection.P90, 1e-9)
	assert.True(t, projection.Flags.Has(types.FlagRecencyWeightApplied), "flag sets are unioned")

	// Distance 9-14: pure heuristic, model untouched
	callsBefore := model.calls
	projection, err = p.PredictHybrid(context.Background(), player, 38, currentGameweek)
	require.NoError(t, err)
	assert.Equal(t, types.SourceHeuristic, projection.Source)
	assert.Equal(t, callsBefore, model.calls)
}

func TestPredictHybrid_BlendTolerantOfModelFailure(t *testing.T) {
	model := &fakeModel{err: errors.New("503 from model")}
	p := newTestPredictor(model, steadyStarterHistory())
	player := &types.Player{ID: 1, Position: types.PositionMidfielder}

	projection, err := p.PredictHybrid(context.Background(), player, 34, 28)
	require.NoError(t, err)
	require.NotNil(t, projection)
	assert.Equal(t, types.SourceHeuristic, projection.Source, "heuristic stands alone when the model side fails")
}

func TestFirstSuccess_OrderAndErrorTolerance(t *testing.T) {
	log := testLogger()
	player := &types.Player{ID: 7, Position: types.PositionDefender}

	failing := func(_ context.Context, _ *types.Player, _ int) (*types.WeeklyProjection, error) {
		return nil, errors.New("boom")
	}
	empty := func(_ context.Context, _ *types.Player, _ int) (*types.WeeklyProjection, error) {
		return nil, nil
	}
	winning := func(_ context.Context, _ *types.Player, gw int) (*types.WeeklyProjection, error) {
		return &types.WeeklyProjection{PlayerID: 7, Gameweek: gw, Source: types.SourceOverride}, nil
	}

	chain := FirstSuccess(log, failing, empty, winning)
	projection, err := chain(context.Background(), player, 30)
	require.NoError(t, err)
	require.NotNil(t, projection)
	assert.Equal(t, types.SourceOverride, projection.Source)

	// All providers empty: nil, not an error.
	chain = FirstSuccess(log, failing, empty)
	projection, err = chain(context.Background(), player, 30)
	require.NoError(t, err)
	assert.Nil(t, projection)
}
