package heuristic

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/fpl-engine/internal/types"
)

// fakeHistory serves canned appearances, most recent first, the way the gorm
// store orders them.
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

func makeAppearances(minutes []int, started []bool) []types.Appearance {
	apps := make([]types.Appearance, len(minutes))
	kickoff := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	for i := range minutes {
		apps[i] = types.Appearance{
			PlayerID: 1,
			Gameweek: 28 - i,
			Season:   "2025/26",
			Started:  started[i],
			Minutes:  minutes[i],
			Kickoff:  kickoff.AddDate(0, 0, -7*i),
		}
	}
	return apps
}

func TestRecencyWeights_SumToOne(t *testing.T) {
	for n := 1; n <= 24; n++ {
		weights := RecencyWeights(n)
		require.Len(t, weights, n)

		sum := 0.0
		for _, w := range weights {
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "weights for window %d should sum to 1", n)

		// Most recent match dominates
		for i := 1; i < n; i++ {
			assert.LessOrEqual(t, weights[i], weights[0])
		}
	}
}

func TestRecencyWeights_GeometricDecayBeyondEight(t *testing.T) {
	weights := RecencyWeights(12)
	for i := 1; i < len(weights); i++ {
		assert.InDelta(t, 0.8, weights[i]/weights[i-1], 1e-9)
	}
}

func TestP90Bucket_EndpointsAndTotality(t *testing.T) {
	tests := []struct {
		minutes float64
		want    float64
	}{
		{100, 1.00},
		{95, 1.00},
		{94.9, 0.90},
		{90, 0.90},
		{89, 0.85},
		{88, 0.85},
		{87, 0.75},
		{86, 0.75},
		{85, 0.65},
		{84, 0.65},
		{83, 0.55},
		{82, 0.55},
		{81, 0.45},
		{80, 0.45},
		{79.9, 0.30},
		{75, 0.30},
		{74, 0.15},
		{70, 0.15},
		{69.9, 0.00},
		{0, 0.00},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, P90Bucket(tt.minutes, false), "minutes=%v", tt.minutes)
	}
}

func TestP90Bucket_AboveThresholdAlwaysFull(t *testing.T) {
	for m := 95.0; m <= 120; m += 0.5 {
		assert.Equal(t, 1.0, P90Bucket(m, false))
	}
	for m := 0.0; m < 70; m += 0.5 {
		assert.Equal(t, 0.0, P90Bucket(m, false))
	}
}

func TestP90Bucket_RoleLockBonusCapped(t *testing.T) {
	assert.InDelta(t, 0.70, P90Bucket(85, true), 1e-9)
	assert.InDelta(t, 0.95, P90Bucket(90, true), 1e-9)
	assert.Equal(t, 1.0, P90Bucket(96, true), "bonus never exceeds 1.0")
	assert.Equal(t, 0.0, P90Bucket(50, true), "no bonus on the zero bucket")
}

func TestPredict_NoHistoryReturnsNil(t *testing.T) {
	engine := NewEngine(&fakeHistory{}, testLogger())
	player := &types.Player{ID: 1, Position: types.PositionMidfielder}

	projection, err := engine.Predict(context.Background(), player, 29)
	require.NoError(t, err)
	assert.Nil(t, projection, "no history is an expected condition, not an error")
}

func TestPredict_EntrenchedStarter(t *testing.T) {
	apps := makeAppearances(
		[]int{90, 88, 90, 85, 90, 90, 87, 90},
		[]bool{true, true, true, true, true, true, true, true},
	)
	engine := NewEngine(&fakeHistory{appearances: apps}, testLogger())
	player := &types.Player{ID: 1, Position: types.PositionMidfielder}

	projection, err := engine.Predict(context.Background(), player, 29)
	require.NoError(t, err)
	require.NotNil(t, projection)

	assert.Equal(t, 1.0, projection.StartProbability)
	assert.True(t, projection.Flags.Has(types.FlagRoleLock))
	assert.True(t, projection.Flags.Has(types.FlagRecencyWeightApplied))
	assert.False(t, projection.Flags.Has(types.FlagSparseDataFallback))
	assert.InDelta(t, 89.0, projection.ExpectedMinutesIfStarting, 1.0)
	assert.Equal(t, types.SourceHeuristic, projection.Source)
}

func TestPredict_RoleLockBreaksOnRecentShortStart(t *testing.T) {
	// Most recent healthy start is 60 minutes; the streak must break there
	// even though older starts are all 90.
	apps := makeAppearances(
		[]int{60, 90, 90, 90, 90},
		[]bool{true, true, true, true, true},
	)
	engine := NewEngine(&fakeHistory{appearances: apps}, testLogger())
	player := &types.Player{ID: 1, Position: types.PositionForward}

	projection, err := engine.Predict(context.Background(), player, 29)
	require.NoError(t, err)
	require.NotNil(t, projection)
	assert.False(t, projection.Flags.Has(types.FlagRoleLock))
}

func TestPredict_RotationPlayer(t *testing.T) {
	apps := makeAppearances(
		[]int{25, 90, 12, 88, 30, 90, 15, 85},
		[]bool{false, true, false, true, false, true, false, true},
	)
	engine := NewEngine(&fakeHistory{appearances: apps}, testLogger())
	player := &types.Player{ID: 2, Position: types.PositionMidfielder}

	projection, err := engine.Predict(context.Background(), player, 29)
	require.NoError(t, err)
	require.NotNil(t, projection)

	assert.InDelta(t, 0.5, projection.StartProbability, 1e-9)
	// Only 4 healthy starts in the window
	assert.True(t, projection.Flags.Has(types.FlagSparseDataFallback))
}

func TestPredict_InjuryExitExcludedFromMinutesSample(t *testing.T) {
	apps := makeAppearances(
		[]int{20, 90, 90, 90, 90, 90},
		[]bool{true, true, true, true, true, true},
	)
	// Most recent start ended early through injury; it must not drag the
	// weighted minutes down.
	apps[0].InjuryExit = true

	engine := NewEngine(&fakeHistory{appearances: apps}, testLogger())
	player := &types.Player{ID: 3, Position: types.PositionDefender}

	projection, err := engine.Predict(context.Background(), player, 29)
	require.NoError(t, err)
	require.NotNil(t, projection)

	assert.True(t, projection.Flags.Has(types.FlagInjuryExcluded))
	assert.InDelta(t, 90.0, projection.ExpectedMinutesIfStarting, 1e-9)
	assert.True(t, projection.Flags.Has(types.FlagRoleLock))
}

func TestPredict_NoHealthyStartsFallsBackToPrior(t *testing.T) {
	apps := makeAppearances(
		[]int{10, 15, 8},
		[]bool{false, false, false},
	)
	engine := NewEngine(&fakeHistory{appearances: apps}, testLogger())
	player := &types.Player{ID: 4, Position: types.PositionForward}

	projection, err := engine.Predict(context.Background(), player, 29)
	require.NoError(t, err)
	require.NotNil(t, projection)

	assert.Equal(t, 0.0, projection.StartProbability)
	assert.True(t, projection.Flags.Has(types.FlagPositionPrior))
	assert.True(t, projection.Flags.Has(types.FlagSparseDataFallback))
	assert.Equal(t, PriorFor(types.PositionForward).ExpectedMinutesIfStarting, projection.ExpectedMinutesIfStarting)
}

func TestPriorProjection_AllPositionsDefined(t *testing.T) {
	positions := []types.Position{
		types.PositionGoalkeeper,
		types.PositionDefender,
		types.PositionMidfielder,
		types.PositionForward,
	}
	for _, pos := range positions {
		projection := PriorProjection(&types.Player{ID: 9, Position: pos}, 30)
		require.NotNil(t, projection)
		assert.Equal(t, 0.50, projection.StartProbability)
		assert.True(t, projection.Flags.Has(types.FlagPositionPrior))
		assert.Equal(t, P90Bucket(projection.ExpectedMinutesIfStarting, false), projection.P90,
			"prior p90 for %s must agree with the bucket scheme", pos)
	}
}
