package injury

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stitts-dev/fpl-engine/internal/types"
)

// Confidence decay endpoints across the forecast horizon.
const (
	decayNearConfidence = 0.95
	decayFarConfidence  = 0.60
	decayHorizonWeeks   = 14
)

// recoveryRamp models sub-full-fitness minute restriction after a return from
// injury, indexed by games since return (0 = first match back).
var recoveryRamp = []float64{0.60, 0.75, 0.85, 0.95, 1.00}

var (
	reSeasonEnding = regexp.MustCompile(`(?i)(season[\s-]ending|out for the (rest of the )?season|miss the rest of the season|ruled out for the season)`)
	reMonthCount   = regexp.MustCompile(`(?i)(\d+)\s*months?`)
	reSingleMonth  = regexp.MustCompile(`(?i)\ba month\b`)
	reWeekRange    = regexp.MustCompile(`(?i)(\d+)\s*(?:-|–|to)\s*(\d+)\s*weeks?`)
	reWeekCount    = regexp.MustCompile(`(?i)(\d+)\s*weeks?`)
	reCoupleWeeks  = regexp.MustCompile(`(?i)couple of weeks`)
	reFewWeeks     = regexp.MustCompile(`(?i)(a )?few weeks`)
	reShortTerm    = regexp.MustCompile(`(?i)(day[\s-]to[\s-]day|minor knock|slight knock|late fitness test)`)
	reRecovery     = regexp.MustCompile(`(?i)(back in training|returned? to (full )?training|in full training|resumed training)`)
)

// ParseDuration parses free-text injury news into an absence estimate.
// Branches are checked in priority order, each yielding a distinct confidence
// tier. Returns nil for text that matches nothing: this is a best-effort
// classifier, never authoritative.
func ParseDuration(newsText string) *types.InjuryDuration {
	text := strings.TrimSpace(newsText)
	if text == "" {
		return nil
	}

	switch {
	case reSeasonEnding.MatchString(text):
		return &types.InjuryDuration{MinWeeksOut: 20, MaxWeeksOut: 40, Confidence: types.InjuryConfidenceHigh}

	case reMonthCount.MatchString(text):
		m := reMonthCount.FindStringSubmatch(text)
		months, err := strconv.Atoi(m[1])
		if err != nil || months <= 0 {
			return nil
		}
		return &types.InjuryDuration{MinWeeksOut: 4 * months, MaxWeeksOut: 5 * months, Confidence: types.InjuryConfidenceMedium}

	case reSingleMonth.MatchString(text):
		return &types.InjuryDuration{MinWeeksOut: 4, MaxWeeksOut: 5, Confidence: types.InjuryConfidenceMedium}

	case reWeekRange.MatchString(text):
		m := reWeekRange.FindStringSubmatch(text)
		lo, err1 := strconv.Atoi(m[1])
		hi, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || hi < lo {
			return nil
		}
		return &types.InjuryDuration{MinWeeksOut: lo, MaxWeeksOut: hi, Confidence: types.InjuryConfidenceHigh}

	case reWeekCount.MatchString(text):
		m := reWeekCount.FindStringSubmatch(text)
		weeks, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		return &types.InjuryDuration{MinWeeksOut: weeks, MaxWeeksOut: weeks, Confidence: types.InjuryConfidenceHigh}

	case reCoupleWeeks.MatchString(text):
		return &types.InjuryDuration{MinWeeksOut: 2, MaxWeeksOut: 3, Confidence: types.InjuryConfidenceLow}

	case reFewWeeks.MatchString(text):
		return &types.InjuryDuration{MinWeeksOut: 2, MaxWeeksOut: 4, Confidence: types.InjuryConfidenceLow}

	case reShortTerm.MatchString(text):
		return &types.InjuryDuration{MinWeeksOut: 0, MaxWeeksOut: 1, Confidence: types.InjuryConfidenceLow}

	case reRecovery.MatchString(text):
		return &types.InjuryDuration{MinWeeksOut: 0, MaxWeeksOut: 1, Confidence: types.InjuryConfidenceMedium}
	}

	return nil
}

// ReturnGameweek estimates the gameweek the player becomes available again:
// midpoint of the parsed range, minus full weeks already elapsed since the
// news was posted, floored at zero. Returns nil when the news is unparseable.
func ReturnGameweek(newsText string, newsAdded time.Time, currentGameweek int) *int {
	duration := ParseDuration(newsText)
	if duration == nil {
		return nil
	}

	midpoint := float64(duration.MinWeeksOut+duration.MaxWeeksOut) / 2.0
	elapsedWeeks := int(time.Since(newsAdded).Hours() / (24 * 7))
	if elapsedWeeks < 0 {
		elapsedWeeks = 0
	}

	remaining := midpoint - float64(elapsedWeeks)
	if remaining < 0 {
		remaining = 0
	}

	returnWeek := currentGameweek + int(math.Round(remaining))
	return &returnWeek
}

// RecoveryMultiplier returns the minute-restriction ramp for a player's
// first matches back from injury. 1.0 from the fifth match on.
func RecoveryMultiplier(gamesSinceReturn int) float64 {
	if gamesSinceReturn < 0 {
		return recoveryRamp[0]
	}
	if gamesSinceReturn >= len(recoveryRamp) {
		return 1.0
	}
	return recoveryRamp[gamesSinceReturn]
}

// ConfidenceDecay interpolates forecast confidence exponentially from 0.95 at
// one week ahead down to 0.60 at the 14-week horizon, clamped at the
// endpoints.
func ConfidenceDecay(weeksAhead int) float64 {
	if weeksAhead <= 1 {
		return decayNearConfidence
	}
	if weeksAhead >= decayHorizonWeeks {
		return decayFarConfidence
	}
	rate := math.Log(decayFarConfidence/decayNearConfidence) / decayHorizonWeeks
	return decayNearConfidence * math.Exp(rate*float64(weeksAhead-1))
}

// Outlook assembles the full derived availability picture for a player with
// active injury news across the forecast horizon. Nil when the news text
// yields no duration estimate.
func Outlook(newsText string, newsAdded time.Time, currentGameweek, horizonWeeks int) *types.InjuryOutlook {
	duration := ParseDuration(newsText)
	if duration == nil {
		return nil
	}
	returnWeek := ReturnGameweek(newsText, newsAdded, currentGameweek)
	if returnWeek == nil {
		return nil
	}

	weeks := make([]types.InjuryWeekOutlook, 0, horizonWeeks)
	for k := 1; k <= horizonWeeks; k++ {
		gameweek := currentGameweek + k
		week := types.InjuryWeekOutlook{
			Gameweek:   gameweek,
			Confidence: ConfidenceDecay(k),
		}
		if gameweek >= *returnWeek {
			week.Available = true
			week.RecoveryMultiplier = RecoveryMultiplier(gameweek - *returnWeek)
		}
		weeks = append(weeks, week)
	}

	return &types.InjuryOutlook{
		Duration:       *duration,
		ReturnGameweek: *returnWeek,
		Weeks:          weeks,
	}
}
