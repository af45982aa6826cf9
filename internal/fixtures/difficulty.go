package fixtures

import (
	"context"

	"github.com/stitts-dev/fpl-engine/internal/types"
)

// Source is the fixture-difficulty lookup the orchestrator consumes. The
// gorm store satisfies it in production; tests supply tables.
type Source interface {
	Difficulty(ctx context.Context, team string, gameweek int) (*types.Fixture, error)
}

// difficultyAdjustments maps FDR (1 easiest - 5 hardest) to the base minutes
// multiplier delta before position scaling.
var difficultyAdjustments = map[int]float64{
	1: 0.10,
	2: 0.05,
	3: 0.00,
	4: -0.05,
	5: -0.10,
}

// positionSensitivity scales the fixture effect by position: attackers'
// minutes usage is more opponent-dependent than goalkeepers'.
var positionSensitivity = map[types.Position]float64{
	types.PositionGoalkeeper: 0.5,
	types.PositionDefender:   0.7,
	types.PositionMidfielder: 1.0,
	types.PositionForward:    1.2,
}

// AdjustmentMultiplier returns the fixture-difficulty multiplier for the
// given difficulty and position. Difficulty 3 is neutral (exactly 1.0) for
// every position. Unknown difficulties are treated as neutral.
func AdjustmentMultiplier(difficulty int, position types.Position) float64 {
	base, ok := difficultyAdjustments[difficulty]
	if !ok {
		return 1.0
	}
	sensitivity, ok := positionSensitivity[position]
	if !ok {
		sensitivity = 1.0
	}
	return 1.0 + base*sensitivity
}
