package optimizer

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/fpl-engine/internal/types"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func squadPlayer(id uint, name string, position types.Position, ev, ev95, xMins, eo float64) types.GameweekInput {
	return types.GameweekInput{
		PlayerID: id,
		Name:     name,
		Position: position,
		EV:       ev,
		EV95:     ev95,
		XMins:    xMins,
		EO:       eo,
	}
}

// fullSquad is a 15-player squad (2 GK, 5 DEF, 5 MID, 3 FWD). Player 13 is
// the interesting case: highest forward EV but a 45-minute rotation risk, so
// the risk-adjusted search benches him while a naive EV-max XI starts him.
func fullSquad() []types.GameweekInput {
	return []types.GameweekInput{
		squadPlayer(1, "GK One", types.PositionGoalkeeper, 4.0, 8.0, 95, 30),
		squadPlayer(2, "GK Two", types.PositionGoalkeeper, 2.0, 4.0, 30, 2),
		squadPlayer(3, "Def One", types.PositionDefender, 4.5, 12.0, 92, 25),
		squadPlayer(4, "Def Two", types.PositionDefender, 4.2, 11.0, 90, 20),
		squadPlayer(5, "Def Three", types.PositionDefender, 4.0, 10.0, 89, 15),
		squadPlayer(6, "Def Four", types.PositionDefender, 3.8, 9.5, 88, 12),
		squadPlayer(7, "Def Five", types.PositionDefender, 3.0, 7.0, 70, 5),
		squadPlayer(8, "Mid One", types.PositionMidfielder, 7.0, 18.0, 90, 60),
		squadPlayer(9, "Mid Two", types.PositionMidfielder, 6.5, 16.0, 89, 45),
		squadPlayer(10, "Mid Three", types.PositionMidfielder, 5.8, 14.0, 88, 30),
		squadPlayer(11, "Mid Four", types.PositionMidfielder, 5.2, 13.0, 86, 22),
		squadPlayer(12, "Mid Five", types.PositionMidfielder, 5.0, 12.0, 86, 18),
		squadPlayer(13, "Risky Forward", types.PositionForward, 5.6, 10.0, 45, 2),
		squadPlayer(14, "Safe Forward", types.PositionForward, 5.0, 12.0, 90, 35),
		squadPlayer(15, "Third Forward", types.PositionForward, 4.4, 11.0, 87, 20),
	}
}

func formationCounts(starters []ScoredPlayer) map[types.Position]int {
	counts := make(map[types.Position]int)
	for _, starter := range starters {
		counts[starter.Position]++
	}
	return counts
}

func TestOptimize_ReturnsValidXIShape(t *testing.T) {
	optimizer := NewOptimizer(testLogger())
	lineup, err := optimizer.Optimize(fullSquad(), "", types.DefaultEngineSettings())
	require.NoError(t, err)

	assert.Equal(t, "raev/v2", lineup.FormulaVersion)
	require.Len(t, lineup.StartingXI, 11)
	require.Len(t, lineup.Bench, 4)

	counts := formationCounts(lineup.StartingXI)
	assert.Equal(t, 1, counts[types.PositionGoalkeeper])
	assert.GreaterOrEqual(t, counts[types.PositionDefender], 3)
	assert.LessOrEqual(t, counts[types.PositionDefender], 5)
	assert.GreaterOrEqual(t, counts[types.PositionMidfielder], 3)
	assert.LessOrEqual(t, counts[types.PositionMidfielder], 5)
	assert.GreaterOrEqual(t, counts[types.PositionForward], 1)
	assert.LessOrEqual(t, counts[types.PositionForward], 3)

	total := 0.0
	for _, starter := range lineup.StartingXI {
		total += starter.RAEV
	}
	assert.InDelta(t, total, lineup.TotalScore, 1e-9)
}

func TestOptimize_BenchesRotationRiskAndReportsBleed(t *testing.T) {
	optimizer := NewOptimizer(testLogger())
	lineup, err := optimizer.Optimize(fullSquad(), "", types.DefaultEngineSettings())
	require.NoError(t, err)

	// The risk-adjusted search prefers five nailed midfielders over the
	// rotation-risk forward.
	assert.Equal(t, "3-5-2", lineup.Formation)

	benchIDs := make(map[uint]bool)
	for _, benched := range lineup.Bench {
		benchIDs[benched.PlayerID] = true
	}
	assert.True(t, benchIDs[13], "highest-EV forward is benched for rotation risk")

	// The naive EV-max XI starts player 13 (5.6 EV) over the third forward
	// (4.4 EV), so benching him costs 1.2 aggregate EV.
	assert.InDelta(t, 1.2, lineup.Bleed, 1e-6)
}

func TestOptimize_LocalSearchNeverDecreasesGreedyScore(t *testing.T) {
	settings := types.DefaultEngineSettings()
	squad := fullSquad()

	scored := make([]ScoredPlayer, len(squad))
	for i, input := range squad {
		scored[i] = ScorePlayer(input, settings)
	}
	_, greedyScore, found := greedySearch(groupByPosition(scored), Formations, raevOf)
	require.True(t, found)

	optimizer := NewOptimizer(testLogger())
	lineup, err := optimizer.Optimize(squad, "", settings)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, lineup.TotalScore, greedyScore)
}

func TestOptimize_PreferredFormation(t *testing.T) {
	optimizer := NewOptimizer(testLogger())
	lineup, err := optimizer.Optimize(fullSquad(), "4-4-2", types.DefaultEngineSettings())
	require.NoError(t, err)

	assert.Equal(t, "4-4-2", lineup.Formation)
	counts := formationCounts(lineup.StartingXI)
	assert.Equal(t, 4, counts[types.PositionDefender])
	assert.Equal(t, 4, counts[types.PositionMidfielder])
	assert.Equal(t, 2, counts[types.PositionForward])
}

func TestOptimize_UnknownPreferredFormation(t *testing.T) {
	optimizer := NewOptimizer(testLogger())
	_, err := optimizer.Optimize(fullSquad(), "2-5-3", types.DefaultEngineSettings())
	assert.ErrorIs(t, err, ErrNoValidFormation)
}

func TestOptimize_InsufficientPlayers(t *testing.T) {
	optimizer := NewOptimizer(testLogger())
	_, err := optimizer.Optimize(fullSquad()[:10], "", types.DefaultEngineSettings())
	assert.ErrorIs(t, err, ErrInsufficientPlayers)
}

func TestOptimize_UnsatisfiableSquad(t *testing.T) {
	// Eleven players but only two defenders: every candidate formation
	// needs at least three.
	squad := []types.GameweekInput{
		squadPlayer(1, "GK", types.PositionGoalkeeper, 4.0, 8.0, 95, 30),
		squadPlayer(2, "Def One", types.PositionDefender, 4.0, 10.0, 90, 20),
		squadPlayer(3, "Def Two", types.PositionDefender, 4.0, 10.0, 90, 20),
	}
	for i := uint(4); i <= 9; i++ {
		squad = append(squad, squadPlayer(i, "Mid", types.PositionMidfielder, 5.0, 12.0, 88, 20))
	}
	squad = append(squad,
		squadPlayer(10, "Fwd One", types.PositionForward, 5.0, 12.0, 88, 20),
		squadPlayer(11, "Fwd Two", types.PositionForward, 4.5, 11.0, 88, 15),
	)

	optimizer := NewOptimizer(testLogger())
	_, err := optimizer.Optimize(squad, "", types.DefaultEngineSettings())
	assert.ErrorIs(t, err, ErrNoValidFormation)
}

func TestOptimize_Deterministic(t *testing.T) {
	optimizer := NewOptimizer(testLogger())
	settings := types.DefaultEngineSettings()

	first, err := optimizer.Optimize(fullSquad(), "", settings)
	require.NoError(t, err)
	second, err := optimizer.Optimize(fullSquad(), "", settings)
	require.NoError(t, err)

	assert.Equal(t, first.Formation, second.Formation)
	assert.Equal(t, first.TotalScore, second.TotalScore)
	require.Equal(t, len(first.StartingXI), len(second.StartingXI))
	for i := range first.StartingXI {
		assert.Equal(t, first.StartingXI[i].PlayerID, second.StartingXI[i].PlayerID)
	}
}

func TestOptimize_PivotSuggestions(t *testing.T) {
	optimizer := NewOptimizer(testLogger())
	lineup, err := optimizer.Optimize(fullSquad(), "", types.DefaultEngineSettings())
	require.NoError(t, err)

	require.Len(t, lineup.Pivots, len(lineup.Bench))
	for _, pivot := range lineup.Pivots {
		// After local search no bench player beats a same-position starter
		// by more than the swap tolerance.
		assert.GreaterOrEqual(t, pivot.RAEVMargin, -swapTolerance)
		assert.NotEqual(t, pivot.BenchPlayerID, pivot.StarterPlayerID)
	}
}

func TestScorePlayer_SurchargeBelowUpsideBenchmark(t *testing.T) {
	settings := types.DefaultEngineSettings()

	risky := ScorePlayer(squadPlayer(1, "Risky", types.PositionForward, 5.6, 10.0, 45, 2), settings)
	assert.Equal(t, 0.0, risky.P90)
	assert.Equal(t, settings.XMinsRiskPenalty, risky.Surcharge)

	nailed := ScorePlayer(squadPlayer(2, "Nailed", types.PositionForward, 5.0, 12.0, 90, 35), settings)
	assert.InDelta(t, 10.8, nailed.CeilingUpside, 1e-9)
	assert.Equal(t, 0.0, nailed.Surcharge)
}

func TestScorePlayer_ShieldIsCapped(t *testing.T) {
	settings := types.DefaultEngineSettings()
	settings.ShieldRate = 0.5

	heavy := ScorePlayer(squadPlayer(1, "Template", types.PositionMidfielder, 6.0, 14.0, 90, 100), settings)
	assert.Equal(t, settings.ShieldCap, heavy.OwnershipShield)
}
