package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/doublewatch/internal/collector"
	"github.com/Alias1177/doublewatch/internal/metrics"
	"github.com/Alias1177/doublewatch/models"
)

// Store is the read and purge side of the outcome store
type Store interface {
	Latest(ctx context.Context, n int) ([]models.Outcome, error)
	Purge(ctx context.Context) error
}

// Collector is the control surface of the collector supervisor
type Collector interface {
	Start(ctx context.Context) error
	Stop() error
	CollectNow(ctx context.Context) (int, error)
	Status(ctx context.Context) (collector.Status, error)
}

// Deps wires the router to the rest of the service
type Deps struct {
	Store     Store
	Collector Collector
	Metrics   *metrics.Metrics

	// JWTSecret enables the admin routes. Empty leaves them unmounted.
	JWTSecret   string
	CORSOrigins []string

	WindowSize    int
	HistoryLimit  int
	BacktestLimit int
}

// NewRouter builds the HTTP handler
func NewRouter(deps Deps) http.Handler {
	if deps.WindowSize <= 0 {
		deps.WindowSize = 50
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = 2000
	}
	if deps.BacktestLimit <= 0 {
		deps.BacktestLimit = deps.HistoryLimit
	}
	logger := log.With().Str("component", "api").Logger()

	r := chi.NewRouter()
	r.Use(requestLogger(logger))

	route := func(pattern string, h http.HandlerFunc) http.HandlerFunc {
		return deps.Metrics.WrapHandler(pattern, h).ServeHTTP
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", deps.Metrics.Handler())

	r.Get("/api/history", route("/api/history", handleHistory(deps, logger)))
	r.Get("/api/backtest", route("/api/backtest", handleBacktest(deps, logger)))

	if deps.JWTSecret != "" {
		r.Group(func(r chi.Router) {
			r.Use(AdminAuth([]byte(deps.JWTSecret)))

			r.Get("/api/collector/status", route("/api/collector/status", handleStatus(deps, logger)))
			r.Post("/api/collector/start", route("/api/collector/start", handleStart(deps, logger)))
			r.Post("/api/collector/stop", route("/api/collector/stop", handleStop(deps, logger)))
			r.Post("/api/collector/collect", route("/api/collector/collect", handleCollect(deps, logger)))
			r.Delete("/api/admin/history", route("/api/admin/history", handlePurge(deps, logger)))
		})
	} else {
		logger.Warn().Msg("JWT_SECRET not set, admin routes disabled")
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins(deps.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger}),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(cors(r))
}

// requestLogger tags every request with an id and logs it once served
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("request_id", reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("Request served")
		})
	}
}

// recoveryLogger adapts zerolog to the gorilla recovery handler
type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Interface("panic", v).Msg("Recovered from panic in HTTP handler")
}
