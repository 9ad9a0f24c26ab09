package analyze

import (
	"math"

	"github.com/Alias1177/doublewatch/models"
)

// Summarize counts colors over a newest-first window and measures its runs
func Summarize(window []models.Outcome) models.Stats {
	stats := models.Stats{Total: len(window)}
	if len(window) == 0 {
		return stats
	}

	for _, o := range window {
		switch o.Color {
		case models.ColorRed:
			stats.Reds++
		case models.ColorBlack:
			stats.Blacks++
		case models.ColorWhite:
			stats.Whites++
		}
	}

	stats.RedPct = percent(stats.Reds, stats.Total)
	stats.BlackPct = percent(stats.Blacks, stats.Total)
	stats.WhitePct = percent(stats.Whites, stats.Total)

	stats.CurrentRunColor, stats.CurrentRun = leadingRun(window)

	// Longest run; ties keep the most recent one
	run := 1
	stats.LongestRun = 1
	stats.LongestRunColor = window[0].Color
	for i := 1; i < len(window); i++ {
		if window[i].Color == window[i-1].Color {
			run++
		} else {
			run = 1
		}
		if run > stats.LongestRun {
			stats.LongestRun = run
			stats.LongestRunColor = window[i].Color
		}
	}

	return stats
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)*10000/float64(total)) / 100
}
