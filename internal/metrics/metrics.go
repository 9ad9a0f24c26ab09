package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle results
const (
	ResultInserted  = "inserted"
	ResultUnchanged = "unchanged"
	ResultTimeout   = "timeout"
	ResultError     = "error"
	ResultFatal     = "fatal"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	roundsInserted prometheus.Counter
	roundsDropped  prometheus.Counter
	cyclesSkipped  prometheus.Counter
	reconnects     prometheus.Counter
	collectorState *prometheus.GaugeVec
	sinkErrors     *prometheus.CounterVec

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers the collector and HTTP metrics on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doublewatch_cycles_total",
			Help: "Collection cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "doublewatch_cycle_duration_seconds",
			Help:    "Duration of collection cycles.",
			Buckets: prometheus.DefBuckets,
		}),
		roundsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doublewatch_rounds_inserted_total",
			Help: "Rounds written to the store.",
		}),
		roundsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doublewatch_rounds_duplicate_total",
			Help: "Rounds read from the page that were already stored.",
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doublewatch_cycles_skipped_total",
			Help: "Scheduled cycles skipped because one was already running.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doublewatch_reconnects_total",
			Help: "Browser sessions rebuilt after a fatal error.",
		}),
		collectorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "doublewatch_collector_state",
			Help: "1 for the current collector state, 0 otherwise.",
		}, []string{"state"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doublewatch_sink_errors_total",
			Help: "Failed deliveries by sink.",
		}, []string{"sink"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.roundsInserted,
		m.roundsDropped,
		m.cyclesSkipped,
		m.reconnects,
		m.collectorState,
		m.sinkErrors,
		m.httpRequestsTotal,
		m.httpDuration,
	)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Cycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) Rounds(inserted, duplicates int) {
	if m == nil {
		return
	}
	m.roundsInserted.Add(float64(inserted))
	m.roundsDropped.Add(float64(duplicates))
}

func (m *Metrics) CycleSkipped() {
	if m == nil {
		return
	}
	m.cyclesSkipped.Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// SetState flips the state gauge so exactly one of states reads 1
func (m *Metrics) SetState(current string, states ...string) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.collectorState.WithLabelValues(s).Set(v)
	}
}
