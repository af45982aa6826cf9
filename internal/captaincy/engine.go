package captaincy

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-engine/internal/heuristic"
	"github.com/stitts-dev/fpl-engine/internal/types"
)

// FormulaVersion identifies the canonical scoring formula. Earlier iterations
// omitted the ceiling weight or the ownership shield; this version carries
// both, with every weight exposed through EngineSettings.
const FormulaVersion = "captaincy/v2"

// ErrMissingInput is returned when either candidate lacks per-gameweek input
// data. The caller controls these inputs, so this is a hard failure rather
// than silent degradation.
var ErrMissingInput = errors.New("captaincy: both candidates need gameweek input data")

// ScoreBreakdown shows every term of one candidate's total score.
type ScoreBreakdown struct {
	PlayerID        uint    `json:"player_id"`
	Name            string  `json:"name"`
	EV              float64 `json:"ev"`
	P90             float64 `json:"p90"`
	CeilingTerm     float64 `json:"ceiling_term"`
	OwnershipShield float64 `json:"ownership_shield"`
	VariancePenalty float64 `json:"variance_penalty"`
	TotalScore      float64 `json:"total_score"`
}

// Decision is the engine's recommendation with the EV trade-off surfaced.
type Decision struct {
	FormulaVersion string  `json:"formula_version"`
	Winner         uint    `json:"winner"`
	WinnerName     string  `json:"winner_name"`
	ScoreGap       float64 `json:"score_gap"`
	// Bleed is the raw EV given up by following the recommendation, zero
	// when the winner is also the raw-EV leader.
	Bleed       float64           `json:"bleed"`
	Scores      [2]ScoreBreakdown `json:"scores"`
	Explanation string            `json:"explanation"`
}

// Engine scores two captaincy candidates and recommends the higher total.
type Engine struct {
	logger *logrus.Logger
}

func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{logger: logger}
}

// Decide compares two candidates under the given settings. Ties break toward
// the higher-EO candidate to bias toward rank protection.
func (e *Engine) Decide(a, b *types.GameweekInput, settings types.EngineSettings) (*Decision, error) {
	if a == nil || b == nil {
		return nil, ErrMissingInput
	}

	scoreA := Score(a, settings)
	scoreB := Score(b, settings)

	winner, loser := scoreA, scoreB
	if scoreB.TotalScore > scoreA.TotalScore {
		winner, loser = scoreB, scoreA
	} else if scoreA.TotalScore == scoreB.TotalScore && b.EO > a.EO {
		winner, loser = scoreB, scoreA
	}

	winnerInput, loserInput := a, b
	if winner.PlayerID == b.PlayerID {
		winnerInput, loserInput = b, a
	}

	bleed := loserInput.EV - winnerInput.EV
	if bleed < 0 {
		bleed = 0
	}

	decision := &Decision{
		FormulaVersion: FormulaVersion,
		Winner:         winner.PlayerID,
		WinnerName:     winner.Name,
		ScoreGap:       winner.TotalScore - loser.TotalScore,
		Bleed:          bleed,
		Scores:         [2]ScoreBreakdown{scoreA, scoreB},
		Explanation:    explain(winner, loser, bleed),
	}

	e.logger.WithFields(logrus.Fields{
		"winner":    decision.Winner,
		"score_gap": decision.ScoreGap,
		"bleed":     decision.Bleed,
	}).Debug("Captaincy decision computed")

	return decision, nil
}

// Score computes one candidate's total:
// ev + (ev95-ev) x p90 x ceilingWeight + (eo/10) x ownershipRate - variancePenalty.
func Score(input *types.GameweekInput, settings types.EngineSettings) ScoreBreakdown {
	p90 := heuristic.P90Bucket(input.XMins, false)
	ceilingTerm := (input.EV95 - input.EV) * p90 * settings.CeilingWeight
	shield := (input.EO / 10.0) * settings.OwnershipRate
	penalty := VariancePenalty(input.XMins)

	return ScoreBreakdown{
		PlayerID:        input.PlayerID,
		Name:            input.Name,
		EV:              input.EV,
		P90:             p90,
		CeilingTerm:     ceilingTerm,
		OwnershipShield: shield,
		VariancePenalty: penalty,
		TotalScore:      input.EV + ceilingTerm + shield - penalty,
	}
}

// VariancePenalty grows as minutes confidence falls. Negative (a bonus)
// above 95 minutes, the extra-time scenario; unbounded above.
func VariancePenalty(xMins float64) float64 {
	return (95 - xMins) / 100.0
}

// explain names the term that dominated the decision.
func explain(winner, loser ScoreBreakdown, bleed float64) string {
	evEdge := winner.EV - loser.EV
	ceilingEdge := winner.CeilingTerm - loser.CeilingTerm
	shieldEdge := winner.OwnershipShield - loser.OwnershipShield
	penaltyEdge := loser.VariancePenalty - winner.VariancePenalty

	dominant := "raw expected points"
	dominantValue := evEdge
	if math.Abs(ceilingEdge) > math.Abs(dominantValue) {
		dominant = "ceiling upside"
		dominantValue = ceilingEdge
	}
	if math.Abs(shieldEdge) > math.Abs(dominantValue) {
		dominant = "ownership shield"
		dominantValue = shieldEdge
	}
	if math.Abs(penaltyEdge) > math.Abs(dominantValue) {
		dominant = "minutes security"
		dominantValue = penaltyEdge
	}

	explanation := fmt.Sprintf("%s wins by %.2f; %s is the deciding factor (%+.2f)",
		winner.Name, winner.TotalScore-loser.TotalScore, dominant, dominantValue)
	if bleed > 0 {
		explanation += fmt.Sprintf("; accepting %.2f EV bleed for the risk-adjusted pick", bleed)
	}
	return explanation
}
