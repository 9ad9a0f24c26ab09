package baktest

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Alias1177/doublewatch/internal/analyze"
	"github.com/Alias1177/doublewatch/models"
)

// ErrInsufficientHistory means the store holds too few rounds to replay anything
var ErrInsufficientHistory = errors.New("insufficient history for backtesting")

// HistoryReader is the part of the outcome store the backtest needs
type HistoryReader interface {
	Latest(ctx context.Context, n int) ([]models.Outcome, error)
}

// RunBacktest loads up to limit stored outcomes and replays the engine over them
func RunBacktest(ctx context.Context, store HistoryReader, limit, windowSize int) (*models.BacktestResults, error) {
	history, err := store.Latest(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if len(history) <= analyze.MinWindow {
		return nil, fmt.Errorf("%w, got %d rounds", ErrInsufficientHistory, len(history))
	}
	return Replay(history, windowSize), nil
}

// Replay walks a newest-first history from oldest to newest. For every round
// it predicts from the windowSize rounds before it and scores the suggestion
// against what actually came out.
func Replay(history []models.Outcome, windowSize int) *models.BacktestResults {
	results := &models.BacktestResults{
		ByRule: make(map[string]models.RuleResult),
	}
	if windowSize < analyze.MinWindow {
		windowSize = analyze.MinWindow
	}

	consecutiveWins := 0
	consecutiveLosses := 0

	// Walk from the oldest round with a full window behind it to the newest
	for target := len(history) - 1 - analyze.MinWindow; target >= 0; target-- {
		end := target + 1 + windowSize
		if end > len(history) {
			end = len(history)
		}
		window := history[target+1 : end]
		actual := history[target].Color

		results.Rounds++
		decision := analyze.Predict(window)
		if !decision.Actionable() {
			results.Waits++
			continue
		}

		results.Signals++
		rule := results.ByRule[decision.Rule]
		rule.Signals++

		wasCorrect := decision.Suggestion == models.SuggestColor(actual)
		if wasCorrect {
			results.Wins++
			rule.Wins++
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			results.Losses++
			rule.Losses++
			consecutiveLosses++
			consecutiveWins = 0
			if actual == models.ColorWhite && coversWhite(decision) {
				results.WhiteHits++
			}
		}
		results.ByRule[decision.Rule] = rule

		if consecutiveWins > results.MaxConsecutive.Wins {
			results.MaxConsecutive.Wins = consecutiveWins
		}
		if consecutiveLosses > results.MaxConsecutive.Losses {
			results.MaxConsecutive.Losses = consecutiveLosses
		}
	}

	// Normalize to percentages
	results.WinRate = winRate(results.Wins, results.Signals)
	for name, rule := range results.ByRule {
		rule.WinRate = winRate(rule.Wins, rule.Signals)
		results.ByRule[name] = rule
	}

	return results
}

func coversWhite(d models.Decision) bool {
	for _, s := range d.Strategies {
		if s.Name == analyze.TagCoverWhite && s.Active {
			return true
		}
	}
	return false
}

func winRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(wins)*10000/float64(total)) / 100
}
