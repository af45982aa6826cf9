package types

import (
	"time"
)

// Position represents an FPL player position
type Position string

const (
	PositionGoalkeeper Position = "GK"
	PositionDefender   Position = "DEF"
	PositionMidfielder Position = "MID"
	PositionForward    Position = "FWD"
)

// ProjectionSource identifies which engine produced a projection
type ProjectionSource string

const (
	SourceHeuristic ProjectionSource = "heuristic"
	SourceModel     ProjectionSource = "model"
	SourceHybrid    ProjectionSource = "hybrid"
	SourceOverride  ProjectionSource = "override"
)

// Projection flag names. Flags accumulate as a projection moves through the
// pipeline; blending unions the flag sets of both inputs.
const (
	FlagSparseDataFallback     = "sparse_data_fallback"
	FlagRoleLock               = "role_lock"
	FlagRecencyWeightApplied   = "recency_weight_applied"
	FlagInjuryExcluded         = "injury_excluded"
	FlagInjuryAdjusted         = "injury_adjusted"
	FlagRecoveryPhase          = "recovery_phase"
	FlagFdrAdjusted            = "fdr_adjusted"
	FlagChanceOfPlayingApplied = "chance_of_playing_applied"
	FlagPositionPrior          = "position_prior"
)

// Player is the roster-level record the engines key off. FplID is the
// identifier on the official FPL API; players without one cannot be
// forecast and are skipped by batch jobs.
type Player struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	FplID     *int      `gorm:"index" json:"fpl_id,omitempty"`
	Name      string    `gorm:"not null" json:"name"`
	Team      string    `gorm:"not null" json:"team"`
	Position  Position  `gorm:"not null" json:"position"`
	// ChanceOfPlaying is the FPL "chance of playing next round" percentage
	// (0-100) when the player carries a flag, nil otherwise.
	ChanceOfPlaying *int      `json:"chance_of_playing,omitempty"`
	InjuryNews      string    `json:"injury_news,omitempty"`
	InjuryNewsAdded *time.Time `json:"injury_news_added,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Appearance is one player's participation record for one gameweek.
// Immutable once recorded; resync overwrites by (player, gameweek, season).
type Appearance struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PlayerID   uint      `gorm:"not null;uniqueIndex:idx_appearance_key" json:"player_id"`
	Gameweek   int       `gorm:"not null;uniqueIndex:idx_appearance_key" json:"gameweek"`
	Season     string    `gorm:"not null;uniqueIndex:idx_appearance_key" json:"season"`
	Started    bool      `json:"started"`
	Minutes    int       `json:"minutes"`
	// InjuryExit is a heuristic injury signal: the player started but was
	// substituted early.
	InjuryExit bool      `json:"injury_exit"`
	RedCard    bool      `json:"red_card"`
	Kickoff    time.Time `json:"kickoff"`
	WasHome    bool      `json:"was_home"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsHealthyStart reports whether this appearance counts toward the minutes
// sample: a start unmarred by an injury exit or a red card.
func (a Appearance) IsHealthyStart() bool {
	return a.Started && !a.InjuryExit && !a.RedCard
}

// WeeklyProjection is the per-(player, gameweek) xMins record. A later
// prediction run or manual override replaces the row for the same key.
type WeeklyProjection struct {
	ID                        uint             `gorm:"primaryKey" json:"id"`
	PlayerID                  uint             `gorm:"not null;uniqueIndex:idx_projection_key" json:"player_id"`
	Gameweek                  int              `gorm:"not null;uniqueIndex:idx_projection_key" json:"gameweek"`
	StartProbability          float64          `json:"start_probability"`
	ExpectedMinutesIfStarting float64          `json:"expected_minutes_if_starting"`
	// P90 is a confidence weight that the ceiling outcome is reachable,
	// bucketed from expected minutes. Not a literal probability of 90 minutes.
	P90             float64          `json:"p90"`
	Source          ProjectionSource `gorm:"not null" json:"source"`
	Confidence      float64          `json:"confidence"`
	UncertaintyLow  *float64         `json:"uncertainty_low,omitempty"`
	UncertaintyHigh *float64         `json:"uncertainty_high,omitempty"`
	Flags           FlagSet          `gorm:"serializer:json" json:"flags"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// EffectiveMinutes is the ownership-free headline number: start probability
// times expected minutes given a start.
func (p WeeklyProjection) EffectiveMinutes() float64 {
	return p.StartProbability * p.ExpectedMinutesIfStarting
}

// FlagSet is an order-insensitive set of projection flags.
type FlagSet map[string]bool

// NewFlagSet builds a set from the given flag names.
func NewFlagSet(flags ...string) FlagSet {
	fs := make(FlagSet, len(flags))
	for _, f := range flags {
		fs[f] = true
	}
	return fs
}

// Union returns a new set containing the flags of both sets.
func (fs FlagSet) Union(other FlagSet) FlagSet {
	out := make(FlagSet, len(fs)+len(other))
	for f := range fs {
		out[f] = true
	}
	for f := range other {
		out[f] = true
	}
	return out
}

// Has reports whether the flag is present.
func (fs FlagSet) Has(flag string) bool {
	return fs[flag]
}

// GameweekInput is the manager-supplied weekly scoring input consumed by the
// captaincy and XI engines. Its XMins field is user-entered and deliberately
// decoupled from the forecast pipeline's minutes.
type GameweekInput struct {
	PlayerID uint     `json:"player_id"`
	Name     string   `json:"name"`
	Position Position `json:"position"`
	EV       float64  `json:"ev"`
	EV95     float64  `json:"ev95"`
	XMins    float64  `json:"xmins"`
	EO       float64  `json:"eo"`
}

// InjuryConfidence is the parser's confidence tier for a duration estimate.
type InjuryConfidence string

const (
	InjuryConfidenceHigh   InjuryConfidence = "high"
	InjuryConfidenceMedium InjuryConfidence = "medium"
	InjuryConfidenceLow    InjuryConfidence = "low"
)

// InjuryDuration is the parsed absence estimate from free-text injury news.
// Best effort: downstream consumers must treat it as probabilistic.
type InjuryDuration struct {
	MinWeeksOut int              `json:"min_weeks_out"`
	MaxWeeksOut int              `json:"max_weeks_out"`
	Confidence  InjuryConfidence `json:"confidence"`
}

// InjuryWeekOutlook is the derived availability picture for one future
// gameweek.
type InjuryWeekOutlook struct {
	Gameweek           int     `json:"gameweek"`
	Available          bool    `json:"available"`
	RecoveryMultiplier float64 `json:"recovery_multiplier"`
	Confidence         float64 `json:"confidence"`
}

// InjuryOutlook is derived, never persisted.
type InjuryOutlook struct {
	Duration       InjuryDuration      `json:"duration"`
	ReturnGameweek int                 `json:"return_gameweek"`
	Weeks          []InjuryWeekOutlook `json:"weeks"`
}

// Fixture is the difficulty lookup result for (team, gameweek).
type Fixture struct {
	Team       string `gorm:"not null;uniqueIndex:idx_fixture_key" json:"team"`
	Gameweek   int    `gorm:"not null;uniqueIndex:idx_fixture_key" json:"gameweek"`
	Difficulty int    `json:"difficulty"` // 1 easiest - 5 hardest
	IsHome     bool   `json:"is_home"`
	Postponed  bool   `json:"postponed"`
}

// EngineSettings is the explicit, read-only snapshot of user-tunable weights
// threaded through every engine call. No hidden global settings state.
type EngineSettings struct {
	// Captaincy
	CeilingWeight float64 `json:"ceiling_weight"`
	OwnershipRate float64 `json:"ownership_rate"`

	// XI optimizer
	ShieldRate         float64 `json:"shield_rate"`
	ShieldCap          float64 `json:"shield_cap"`
	XMinsRiskThreshold float64 `json:"xmins_risk_threshold"`
	XMinsRiskPenalty   float64 `json:"xmins_risk_penalty"`
}

// DefaultEngineSettings returns the canonical weights used when the manager
// has no explicit settings.
func DefaultEngineSettings() EngineSettings {
	return EngineSettings{
		CeilingWeight:      0.5,
		OwnershipRate:      0.1,
		ShieldRate:         0.1,
		ShieldCap:          1.5,
		XMinsRiskThreshold: 8.0,
		XMinsRiskPenalty:   0.75,
	}
}

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}
