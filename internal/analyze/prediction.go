package analyze

import (
	"fmt"

	"github.com/Alias1177/doublewatch/models"
)

// MinWindow is the smallest window the engine will judge
const MinWindow = 5

// Rule names reported in Decision.Rule
const (
	RuleInsufficientData = "insufficient_data"
	RuleRunBreak         = "run_break"
	RuleAlternation      = "alternation"
	RulePostWhite        = "post_white"
	RuleCompensation     = "compensation"
	RuleNoPattern        = "no_pattern"
)

// Strategy tag names
const (
	TagGale1      = "Gale 1"
	TagGale2      = "Gale 2"
	TagCoverWhite = "Cover White"
	TagFixedStake = "Fixed Stake"
)

const (
	runMinLength        = 4
	runBaseConfidence   = 85
	runStepConfidence   = 5
	maxConfidence       = 99
	alternationLength   = 4
	alternationConf     = 78
	postWhiteConfidence = 60
	compensationLookbk  = 20
	compensationGap     = 4
	compensationConf    = 45
	noPatternConfidence = 15
)

// Predict maps a newest-first window of outcomes to a decision.
// Rules are checked in a fixed priority order and the first match wins.
// The result depends only on the colors in the window.
func Predict(window []models.Outcome) models.Decision {
	if len(window) < MinWindow {
		return models.Decision{
			Suggestion: models.SuggestWait,
			Confidence: 0,
			Reason:     "insufficient data",
			Strategies: []models.Strategy{},
			Rule:       RuleInsufficientData,
		}
	}

	if d, ok := runBreak(window); ok {
		return d
	}
	if d, ok := alternation(window); ok {
		return d
	}
	if d, ok := postWhite(window); ok {
		return d
	}
	if d, ok := compensation(window); ok {
		return d
	}

	return models.Decision{
		Suggestion: models.SuggestWait,
		Confidence: noPatternConfidence,
		Reason:     "no clear pattern",
		Strategies: []models.Strategy{},
		Rule:       RuleNoPattern,
	}
}

// runBreak fires when the newest non-white color repeated at least four times
func runBreak(window []models.Outcome) (models.Decision, bool) {
	color, length := leadingRun(window)
	if color == models.ColorWhite || length < runMinLength {
		return models.Decision{}, false
	}

	confidence := runBaseConfidence + runStepConfidence*(length-runMinLength)
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	return models.Decision{
		Suggestion: models.SuggestColor(color.Opposite()),
		Confidence: confidence,
		Reason:     fmt.Sprintf("run of %dx %s, expecting a break", length, color),
		Strategies: []models.Strategy{
			{Name: TagGale1, Active: true},
			{Name: TagGale2, Active: true},
			{Name: TagCoverWhite, Active: true},
		},
		Rule: RuleRunBreak,
	}, true
}

// alternation fires when the newest four non-white results alternate colors
func alternation(window []models.Outcome) (models.Decision, bool) {
	colored := nonWhite(window, alternationLength)
	if len(colored) < alternationLength {
		return models.Decision{}, false
	}
	for i := 1; i < len(colored); i++ {
		if colored[i] == colored[i-1] {
			return models.Decision{}, false
		}
	}

	return models.Decision{
		Suggestion: models.SuggestColor(colored[0].Opposite()),
		Confidence: alternationConf,
		Reason:     fmt.Sprintf("alternating pattern over the last %d colored rounds", alternationLength),
		Strategies: []models.Strategy{
			{Name: TagFixedStake, Active: true},
			{Name: TagGale1, Active: false},
			{Name: TagCoverWhite, Active: true},
		},
		Rule: RuleAlternation,
	}, true
}

// postWhite fires right after a white and bets on the color that preceded it
func postWhite(window []models.Outcome) (models.Decision, bool) {
	if window[0].Color != models.ColorWhite {
		return models.Decision{}, false
	}
	colored := nonWhite(window, 1)
	if len(colored) == 0 {
		return models.Decision{}, false
	}

	return models.Decision{
		Suggestion: models.SuggestColor(colored[0]),
		Confidence: postWhiteConfidence,
		Reason:     fmt.Sprintf("reversion to %s after white", colored[0]),
		Strategies: []models.Strategy{
			{Name: TagGale1, Active: true},
			{Name: TagCoverWhite, Active: false},
		},
		Rule: RulePostWhite,
	}, true
}

// compensation fires when one color dominates the recent lookback
func compensation(window []models.Outcome) (models.Decision, bool) {
	lookback := window
	if len(lookback) > compensationLookbk {
		lookback = lookback[:compensationLookbk]
	}

	var reds, blacks int
	for _, o := range lookback {
		switch o.Color {
		case models.ColorRed:
			reds++
		case models.ColorBlack:
			blacks++
		}
	}

	diff := reds - blacks
	if diff < 0 {
		diff = -diff
	}
	if diff <= compensationGap {
		return models.Decision{}, false
	}

	under := models.ColorRed
	if blacks < reds {
		under = models.ColorBlack
	}

	return models.Decision{
		Suggestion: models.SuggestColor(under),
		Confidence: compensationConf,
		Reason:     fmt.Sprintf("imbalance over last %d rounds: %d red vs %d black", len(lookback), reds, blacks),
		Strategies: []models.Strategy{
			{Name: TagGale1, Active: false},
			{Name: TagCoverWhite, Active: true},
		},
		Rule: RuleCompensation,
	}, true
}

// leadingRun returns the newest color and how many consecutive entries share it
func leadingRun(window []models.Outcome) (models.Color, int) {
	if len(window) == 0 {
		return "", 0
	}
	color := window[0].Color
	n := 0
	for _, o := range window {
		if o.Color != color {
			break
		}
		n++
	}
	return color, n
}

// nonWhite returns up to limit colors from the window, skipping whites
func nonWhite(window []models.Outcome, limit int) []models.Color {
	out := make([]models.Color, 0, limit)
	for _, o := range window {
		if o.Color == models.ColorWhite {
			continue
		}
		out = append(out, o.Color)
		if len(out) == limit {
			break
		}
	}
	return out
}
