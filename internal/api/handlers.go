package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/Alias1177/doublewatch/internal/analyze"
	"github.com/Alias1177/doublewatch/internal/baktest"
	"github.com/Alias1177/doublewatch/internal/collector"
	"github.com/Alias1177/doublewatch/models"
)

type historyResponse struct {
	History    []models.Outcome `json:"history"`
	Stats      models.Stats     `json:"stats"`
	Prediction models.Decision  `json:"prediction"`
}

func handleHistory(deps Deps, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(w, r, deps.WindowSize, deps.HistoryLimit)
		if !ok {
			return
		}

		history, err := deps.Store.Latest(r.Context(), limit)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load history")
			writeError(w, http.StatusInternalServerError, "failed to load history")
			return
		}

		// The prediction always looks at the configured window, whatever limit was asked for
		window := history
		if len(window) > deps.WindowSize {
			window = window[:deps.WindowSize]
		} else if len(window) < deps.WindowSize && limit < deps.WindowSize {
			window, err = deps.Store.Latest(r.Context(), deps.WindowSize)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to load prediction window")
				writeError(w, http.StatusInternalServerError, "failed to load history")
				return
			}
		}

		if history == nil {
			history = []models.Outcome{}
		}
		writeJSON(w, http.StatusOK, historyResponse{
			History:    history,
			Stats:      analyze.Summarize(history),
			Prediction: analyze.Predict(window),
		})
	}
}

func handleBacktest(deps Deps, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(w, r, deps.BacktestLimit, deps.BacktestLimit)
		if !ok {
			return
		}

		res, err := baktest.RunBacktest(r.Context(), deps.Store, limit, deps.WindowSize)
		if errors.Is(err, baktest.ErrInsufficientHistory) {
			writeError(w, http.StatusUnprocessableEntity, "not enough history to backtest")
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("Backtest failed")
			writeError(w, http.StatusInternalServerError, "backtest failed")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleStatus(deps Deps, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Collector.Status(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("Failed to read collector status")
			writeError(w, http.StatusInternalServerError, "failed to read status")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleStart(deps Deps, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Collector.Start(r.Context()); err != nil {
			logger.Error().Err(err).Msg("Failed to start collector")
			writeError(w, http.StatusServiceUnavailable, "collector failed to start")
			return
		}
		handleStatus(deps, logger)(w, r)
	}
}

func handleStop(deps Deps, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Collector.Stop(); err != nil {
			// The collector is stopped either way; only the session close failed.
			logger.Warn().Err(err).Msg("Error while stopping collector")
		}
		handleStatus(deps, logger)(w, r)
	}
}

func handleCollect(deps Deps, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Collector.CollectNow(r.Context())
		switch {
		case errors.Is(err, collector.ErrNotRunning):
			writeError(w, http.StatusConflict, "collector is not running")
			return
		case err != nil:
			logger.Error().Err(err).Msg("Manual collection failed")
			writeError(w, http.StatusBadGateway, "collection failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"inserted": n})
	}
}

func handlePurge(deps Deps, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Purge(r.Context()); err != nil {
			logger.Error().Err(err).Msg("Failed to purge history")
			writeError(w, http.StatusInternalServerError, "failed to purge history")
			return
		}
		logger.Warn().Msg("History purged")
		w.WriteHeader(http.StatusNoContent)
	}
}

// parseLimit reads ?limit=, falling back to def and capping at max
func parseLimit(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
