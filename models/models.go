package models

import (
	"fmt"
	"time"
)

// Color is the resolved color of a round
type Color string

const (
	ColorRed   Color = "RED"
	ColorBlack Color = "BLACK"
	ColorWhite Color = "WHITE"
)

// Opposite returns the other non-white color. WHITE has no opposite and maps to itself.
func (c Color) Opposite() Color {
	switch c {
	case ColorRed:
		return ColorBlack
	case ColorBlack:
		return ColorRed
	default:
		return c
	}
}

// Valid reports whether c is one of the known colors
func (c Color) Valid() bool {
	return c == ColorRed || c == ColorBlack || c == ColorWhite
}

// Suggestion is what the prediction engine recommends next
type Suggestion string

const (
	SuggestRed   Suggestion = "RED"
	SuggestBlack Suggestion = "BLACK"
	SuggestWhite Suggestion = "WHITE"
	SuggestWait  Suggestion = "WAIT"
)

// SuggestColor converts a color into the matching suggestion
func SuggestColor(c Color) Suggestion {
	switch c {
	case ColorRed:
		return SuggestRed
	case ColorBlack:
		return SuggestBlack
	case ColorWhite:
		return SuggestWhite
	default:
		return SuggestWait
	}
}

// Color band defaults. WHITE is always 0, RED covers 1..DefaultRedMax and
// BLACK covers DefaultRedMax+1..DefaultMaxNumber.
const (
	WhiteNumber      = 0
	DefaultRedMax    = 7
	DefaultMaxNumber = 14
)

// Bands partitions the number range into the three colors.
// It is the only place a color is derived from a number.
type Bands struct {
	RedMax int `json:"red_max"`
	Max    int `json:"max"`
}

// DefaultBands returns the 1-7 red / 8-14 black partition
func DefaultBands() Bands {
	return Bands{RedMax: DefaultRedMax, Max: DefaultMaxNumber}
}

// Validate checks that both colored bands are non-empty
func (b Bands) Validate() error {
	if b.RedMax < 1 || b.RedMax >= b.Max {
		return fmt.Errorf("invalid color bands: red 1-%d, black %d-%d", b.RedMax, b.RedMax+1, b.Max)
	}
	return nil
}

// ColorOf maps a drawn number to its color
func (b Bands) ColorOf(n int) (Color, error) {
	switch {
	case n == WhiteNumber:
		return ColorWhite, nil
	case n >= 1 && n <= b.RedMax:
		return ColorRed, nil
	case n > b.RedMax && n <= b.Max:
		return ColorBlack, nil
	default:
		return "", fmt.Errorf("number %d out of range 0-%d", n, b.Max)
	}
}

// RawRound is a round as read from the source, before the store assigns an id
type RawRound struct {
	Color      Color     `json:"color"`
	Number     int       `json:"number"`
	ObservedAt time.Time `json:"observed_at"`
	ExternalID string    `json:"external_id,omitempty"` // set only when the source exposes a round id
	SourceTag  string    `json:"source_tag"`
}

// Outcome is a stored round
type Outcome struct {
	ID         int64     `json:"id"`
	Color      Color     `json:"color"`
	Number     int       `json:"number"`
	ObservedAt time.Time `json:"observed_at"`
	SourceTag  string    `json:"source_tag"`
}

// Strategy is an advisory tag attached to a decision
type Strategy struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Decision is the output of the prediction engine
type Decision struct {
	Suggestion Suggestion `json:"suggestion"`
	Confidence int        `json:"confidence"` // 0-100
	Reason     string     `json:"reason"`
	Strategies []Strategy `json:"strategies"`
	Rule       string     `json:"rule"`
}

// Actionable reports whether the decision recommends a bet
func (d Decision) Actionable() bool {
	return d.Suggestion != SuggestWait
}

// Stats aggregates a window of outcomes
type Stats struct {
	Total           int     `json:"total"`
	Reds            int     `json:"reds"`
	Blacks          int     `json:"blacks"`
	Whites          int     `json:"whites"`
	RedPct          float64 `json:"red_pct"`
	BlackPct        float64 `json:"black_pct"`
	WhitePct        float64 `json:"white_pct"`
	CurrentRun      int     `json:"current_run"`
	CurrentRunColor Color   `json:"current_run_color,omitempty"`
	LongestRun      int     `json:"longest_run"`
	LongestRunColor Color   `json:"longest_run_color,omitempty"`
}

// RuleResult is the backtest tally for a single rule
type RuleResult struct {
	Signals int     `json:"signals"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	WinRate float64 `json:"win_rate"`
}

// BacktestResults stores the outcome of replaying the engine over history
type BacktestResults struct {
	Rounds         int `json:"rounds"`
	Signals        int `json:"signals"`
	Waits          int `json:"waits"`
	Wins           int `json:"wins"`
	Losses         int `json:"losses"`
	WhiteHits      int `json:"white_hits"` // losses where the round was white and a "Cover White" tag was active
	MaxConsecutive struct {
		Wins   int `json:"wins"`
		Losses int `json:"losses"`
	} `json:"max_consecutive"`
	WinRate float64               `json:"win_rate"`
	ByRule  map[string]RuleResult `json:"by_rule"`
}
