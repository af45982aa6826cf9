package optimizer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-engine/internal/captaincy"
	"github.com/stitts-dev/fpl-engine/internal/heuristic"
	"github.com/stitts-dev/fpl-engine/internal/types"
)

// FormulaVersion identifies the risk-adjusted scoring formula.
const FormulaVersion = "raev/v2"

const (
	// swapTolerance is the minimum aggregate improvement a starter/bench
	// swap must deliver. Smaller improvements are noise at input precision.
	swapTolerance = 0.01

	// maxLocalSearchPasses caps the hill-climb so it is convergent even on
	// pathological inputs.
	maxLocalSearchPasses = 50

	startersRequired = 11
)

var (
	// ErrInsufficientPlayers is returned for squads with fewer than eleven
	// eligible players.
	ErrInsufficientPlayers = errors.New("optimizer: at least 11 eligible players required")

	// ErrNoValidFormation is returned when no candidate formation can be
	// filled from the squad's position counts.
	ErrNoValidFormation = errors.New("optimizer: no candidate formation is satisfiable")
)

// Formation is a valid outfield shape. Every formation fields exactly one
// goalkeeper.
type Formation struct {
	Name        string `json:"name"`
	Defenders   int    `json:"defenders"`
	Midfielders int    `json:"midfielders"`
	Forwards    int    `json:"forwards"`
}

// Formations is the candidate set searched when the caller expresses no
// preference.
var Formations = []Formation{
	{Name: "3-4-3", Defenders: 3, Midfielders: 4, Forwards: 3},
	{Name: "3-5-2", Defenders: 3, Midfielders: 5, Forwards: 2},
	{Name: "4-3-3", Defenders: 4, Midfielders: 3, Forwards: 3},
	{Name: "4-4-2", Defenders: 4, Midfielders: 4, Forwards: 2},
	{Name: "4-5-1", Defenders: 4, Midfielders: 5, Forwards: 1},
	{Name: "5-3-2", Defenders: 5, Midfielders: 3, Forwards: 2},
}

// ScoredPlayer carries one squad member's risk-adjusted score with its full
// term breakdown.
type ScoredPlayer struct {
	PlayerID        uint           `json:"player_id"`
	Name            string         `json:"name"`
	Position        types.Position `json:"position"`
	EV              float64        `json:"ev"`
	EO              float64        `json:"eo"`
	P90             float64        `json:"p90"`
	CeilingUpside   float64        `json:"ceiling_upside"`
	Surcharge       float64        `json:"surcharge"`
	OwnershipShield float64        `json:"ownership_shield"`
	VariancePenalty float64        `json:"variance_penalty"`
	RAEV            float64        `json:"raev"`
}

// PivotSuggestion surfaces a near-miss bench player against the weakest
// same-position starter. Informational only; it never alters the XI.
type PivotSuggestion struct {
	BenchPlayerID   uint    `json:"bench_player_id"`
	BenchName       string  `json:"bench_name"`
	StarterPlayerID uint    `json:"starter_player_id"`
	StarterName     string  `json:"starter_name"`
	RAEVMargin      float64 `json:"raev_margin"`
	EVDelta         float64 `json:"ev_delta"`
	EODelta         float64 `json:"eo_delta"`
	CeilingDelta    float64 `json:"ceiling_delta"`
}

// Lineup is the optimizer's recommendation.
type Lineup struct {
	FormulaVersion string         `json:"formula_version"`
	Formation      string         `json:"formation"`
	StartingXI     []ScoredPlayer `json:"starting_xi"`
	Bench          []ScoredPlayer `json:"bench"`
	TotalScore     float64        `json:"total_score"`
	TotalEV        float64        `json:"total_ev"`
	// Bleed is the aggregate-EV shortfall versus a naive pure-EV XI; the
	// cost of the ownership/variance-aware strategy.
	Bleed  float64           `json:"bleed"`
	Pivots []PivotSuggestion `json:"pivots"`
}

// Optimizer searches valid formations for the risk-adjusted-score-maximizing
// starting eleven.
type Optimizer struct {
	logger *logrus.Logger
}

func NewOptimizer(logger *logrus.Logger) *Optimizer {
	return &Optimizer{logger: logger}
}

// Optimize picks the best XI from the squad. With preferredFormation empty
// all candidate formations are searched; otherwise only the named shape.
// Deterministic: ties in score break by ascending player ID, ties between
// formations by candidate-set order.
func (o *Optimizer) Optimize(squad []types.GameweekInput, preferredFormation string, settings types.EngineSettings) (*Lineup, error) {
	if len(squad) < startersRequired {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientPlayers, len(squad))
	}

	candidates := Formations
	if preferredFormation != "" {
		formation, ok := formationByName(preferredFormation)
		if !ok {
			return nil, fmt.Errorf("%w: unknown formation %q", ErrNoValidFormation, preferredFormation)
		}
		candidates = []Formation{formation}
	}

	scored := make([]ScoredPlayer, len(squad))
	for i, input := range squad {
		scored[i] = ScorePlayer(input, settings)
	}
	groups := groupByPosition(scored)

	best, bestScore, found := greedySearch(groups, candidates, raevOf)
	if !found {
		return nil, ErrNoValidFormation
	}

	starters, bench := best.starters, best.bench
	starters, bench, totalScore := localSearch(starters, bench, bestScore)

	totalEV := 0.0
	for _, starter := range starters {
		totalEV += starter.EV
	}
	bleed := naiveEV(groups, candidates) - totalEV
	if bleed < 0 {
		bleed = 0
	}

	lineup := &Lineup{
		FormulaVersion: FormulaVersion,
		Formation:      best.formation.Name,
		StartingXI:     starters,
		Bench:          bench,
		TotalScore:     totalScore,
		TotalEV:        totalEV,
		Bleed:          bleed,
		Pivots:         pivotSuggestions(starters, bench),
	}

	o.logger.WithFields(logrus.Fields{
		"formation":   lineup.Formation,
		"total_score": lineup.TotalScore,
		"bleed":       lineup.Bleed,
		"pivots":      len(lineup.Pivots),
	}).Debug("XI optimization completed")

	return lineup, nil
}

// ScorePlayer computes one player's risk-adjusted score:
// ev - xMins surcharge + ownership shield - variance penalty. The surcharge
// applies when ceiling-weighted upside (ev95 x p90) falls short of the
// configured benchmark; the shield scales EO at 15% per unit, capped.
func ScorePlayer(input types.GameweekInput, settings types.EngineSettings) ScoredPlayer {
	p90 := heuristic.P90Bucket(input.XMins, false)
	upside := input.EV95 * p90

	surcharge := 0.0
	if upside < settings.XMinsRiskThreshold {
		surcharge = settings.XMinsRiskPenalty
	}

	shield := (input.EO / 15.0) * settings.ShieldRate
	if shield > settings.ShieldCap {
		shield = settings.ShieldCap
	}

	penalty := captaincy.VariancePenalty(input.XMins)

	return ScoredPlayer{
		PlayerID:        input.PlayerID,
		Name:            input.Name,
		Position:        input.Position,
		EV:              input.EV,
		EO:              input.EO,
		P90:             p90,
		CeilingUpside:   upside,
		Surcharge:       surcharge,
		OwnershipShield: shield,
		VariancePenalty: penalty,
		RAEV:            input.EV - surcharge + shield - penalty,
	}
}

type candidateXI struct {
	formation Formation
	starters  []ScoredPlayer
	bench     []ScoredPlayer
}

func raevOf(p ScoredPlayer) float64 { return p.RAEV }
func evOf(p ScoredPlayer) float64   { return p.EV }

// greedySearch fills each candidate formation with the top players per
// position by the given score and keeps the best aggregate.
func greedySearch(groups map[types.Position][]ScoredPlayer, candidates []Formation, score func(ScoredPlayer) float64) (candidateXI, float64, bool) {
	var (
		best      candidateXI
		bestScore float64
		found     bool
	)

	for _, formation := range candidates {
		starters, ok := fillFormation(groups, formation, score)
		if !ok {
			continue
		}
		total := 0.0
		for _, starter := range starters {
			total += score(starter)
		}
		if !found || total > bestScore {
			best = candidateXI{
				formation: formation,
				starters:  starters,
				bench:     benchOf(groups, starters),
			}
			bestScore = total
			found = true
		}
	}
	return best, bestScore, found
}

// fillFormation takes the top-N of each position group, ordered GK, DEF,
// MID, FWD. Returns false when any group is too small.
func fillFormation(groups map[types.Position][]ScoredPlayer, formation Formation, score func(ScoredPlayer) float64) ([]ScoredPlayer, bool) {
	required := []struct {
		position types.Position
		count    int
	}{
		{types.PositionGoalkeeper, 1},
		{types.PositionDefender, formation.Defenders},
		{types.PositionMidfielder, formation.Midfielders},
		{types.PositionForward, formation.Forwards},
	}

	starters := make([]ScoredPlayer, 0, startersRequired)
	for _, requirement := range required {
		group := append([]ScoredPlayer(nil), groups[requirement.position]...)
		if len(group) < requirement.count {
			return nil, false
		}
		sortByScoreDesc(group, score)
		starters = append(starters, group[:requirement.count]...)
	}
	return starters, true
}

func benchOf(groups map[types.Position][]ScoredPlayer, starters []ScoredPlayer) []ScoredPlayer {
	starting := make(map[uint]bool, len(starters))
	for _, starter := range starters {
		starting[starter.PlayerID] = true
	}

	var bench []ScoredPlayer
	for _, group := range groups {
		for _, player := range group {
			if !starting[player.PlayerID] {
				bench = append(bench, player)
			}
		}
	}
	sortByScoreDesc(bench, raevOf)
	return bench
}

// localSearch refines the greedy XI with pairwise same-position
// starter/bench swaps. Hill-climb: only strictly improving swaps are taken,
// so the returned score is never below the greedy score.
func localSearch(starters, bench []ScoredPlayer, total float64) ([]ScoredPlayer, []ScoredPlayer, float64) {
	for pass := 0; pass < maxLocalSearchPasses; pass++ {
		improved := false
		for si := range starters {
			for bi := range bench {
				if bench[bi].Position != starters[si].Position {
					continue
				}
				gain := bench[bi].RAEV - starters[si].RAEV
				if gain > swapTolerance {
					starters[si], bench[bi] = bench[bi], starters[si]
					total += gain
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return starters, bench, total
}

// naiveEV is the aggregate EV of the pure-EV-maximizing XI over the same
// candidate formations, the baseline for the bleed figure.
func naiveEV(groups map[types.Position][]ScoredPlayer, candidates []Formation) float64 {
	_, best, found := greedySearch(groups, candidates, evOf)
	if !found {
		return 0
	}
	return best
}

// pivotSuggestions compares each benched player against the weakest
// same-position starter.
func pivotSuggestions(starters, bench []ScoredPlayer) []PivotSuggestion {
	weakest := make(map[types.Position]*ScoredPlayer)
	for i := range starters {
		starter := &starters[i]
		current, ok := weakest[starter.Position]
		if !ok || starter.RAEV < current.RAEV {
			weakest[starter.Position] = starter
		}
	}

	suggestions := make([]PivotSuggestion, 0, len(bench))
	for _, benched := range bench {
		starter, ok := weakest[benched.Position]
		if !ok {
			continue
		}
		suggestions = append(suggestions, PivotSuggestion{
			BenchPlayerID:   benched.PlayerID,
			BenchName:       benched.Name,
			StarterPlayerID: starter.PlayerID,
			StarterName:     starter.Name,
			RAEVMargin:      starter.RAEV - benched.RAEV,
			EVDelta:         benched.EV - starter.EV,
			EODelta:         benched.EO - starter.EO,
			CeilingDelta:    benched.CeilingUpside - starter.CeilingUpside,
		})
	}
	return suggestions
}

func formationByName(name string) (Formation, bool) {
	for _, formation := range Formations {
		if formation.Name == name {
			return formation, true
		}
	}
	return Formation{}, false
}

func groupByPosition(players []ScoredPlayer) map[types.Position][]ScoredPlayer {
	groups := make(map[types.Position][]ScoredPlayer)
	for _, player := range players {
		groups[player.Position] = append(groups[player.Position], player)
	}
	return groups
}

func sortByScoreDesc(players []ScoredPlayer, score func(ScoredPlayer) float64) {
	sort.SliceStable(players, func(i, j int) bool {
		if score(players[i]) != score(players[j]) {
			return score(players[i]) > score(players[j])
		}
		return players[i].PlayerID < players[j].PlayerID
	})
}
