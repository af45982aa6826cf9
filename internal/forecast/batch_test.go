package forecast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/fpl-engine/internal/types"
)

type fakePlayerSource struct {
	players []types.Player
}

func (f *fakePlayerSource) List(_ context.Context, _ []uint) ([]types.Player, error) {
	return f.players, nil
}

type fakeSink struct {
	mu      sync.Mutex
	stored  []types.WeeklyProjection
	failFor map[uint]bool
}

func (f *fakeSink) BulkUpsert(_ context.Context, projections []types.WeeklyProjection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(projections) > 0 && f.failFor[projections[0].PlayerID] {
		return errors.New("sink unavailable")
	}
	f.stored = append(f.stored, projections...)
	return nil
}

func fplID(id int) *int { return &id }

func rosterOf(n int, missingFplID int) []types.Player {
	players := make([]types.Player, n)
	for i := range players {
		players[i] = types.Player{
			ID:       uint(i + 1),
			Name:     "Player",
			Team:     "ARS",
			Position: types.PositionMidfielder,
			FplID:    fplID(1000 + i),
		}
	}
	if missingFplID > 0 {
		players[missingFplID-1].FplID = nil
	}
	return players
}

func newTestBatchGenerator(players []types.Player, sink ProjectionSink) *BatchGenerator {
	log := testLogger()
	orchestrator := NewOrchestrator(&fakePredictor{baseline: baselineProjection()}, &fakeFixtures{difficulty: 3}, log)
	return NewBatchGeneratorWithOptions(orchestrator, &fakePlayerSource{players: players}, sink, log, 4, 5, time.Second)
}

func TestGenerate_SkipsPlayersWithoutFplID(t *testing.T) {
	sink := &fakeSink{}
	players := rosterOf(10, 3) // player 3 has no FPL identifier
	generator := newTestBatchGenerator(players, sink)

	ids := make([]uint, len(players))
	for i := range players {
		ids[i] = players[i].ID
	}

	result, err := generator.Generate(context.Background(), ids, 20)
	require.NoError(t, err)

	assert.Equal(t, 10, result.Requested)
	assert.Equal(t, 9, result.Succeeded)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 9*DefaultHorizonWeeks, result.Stored)
	assert.Len(t, sink.stored, 9*DefaultHorizonWeeks)
}

func TestGenerate_IsolatesPerPlayerFailures(t *testing.T) {
	players := rosterOf(6, 0)
	sink := &fakeSink{failFor: map[uint]bool{2: true, 5: true}}
	generator := newTestBatchGenerator(players, sink)

	ids := make([]uint, len(players))
	for i := range players {
		ids[i] = players[i].ID
	}

	result, err := generator.Generate(context.Background(), ids, 20)
	require.NoError(t, err, "individual failures never abandon the batch")

	assert.Equal(t, 4, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 0, result.Skipped)
	assert.Len(t, result.Errors, 2)
	assert.Equal(t, 4*DefaultHorizonWeeks, result.Stored)
}

func TestGenerate_ErrorSampleIsBounded(t *testing.T) {
	players := rosterOf(12, 0)
	failFor := make(map[uint]bool)
	for _, p := range players {
		failFor[p.ID] = true
	}
	sink := &fakeSink{failFor: failFor}

	log := testLogger()
	orchestrator := NewOrchestrator(&fakePredictor{baseline: baselineProjection()}, &fakeFixtures{difficulty: 3}, log)
	generator := NewBatchGeneratorWithOptions(orchestrator, &fakePlayerSource{players: players}, sink, log, 4, 3, time.Second)

	ids := make([]uint, len(players))
	for i := range players {
		ids[i] = players[i].ID
	}

	result, err := generator.Generate(context.Background(), ids, 20)
	require.NoError(t, err)

	assert.Equal(t, 12, result.Failed)
	assert.Len(t, result.Errors, 3, "error details are sampled, counts are complete")
}
