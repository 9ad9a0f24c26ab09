package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Cycle(ResultInserted, time.Second)
	m.Rounds(3, 1)
	m.CycleSkipped()
	m.Reconnect()
	m.SinkError("telegram")
	m.SetState("RUNNING", "RUNNING", "STOPPED")

	h := m.WrapHandler("/x", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.Cycle(ResultInserted, 10*time.Millisecond)
	m.Cycle(ResultInserted, 10*time.Millisecond)
	m.Cycle(ResultTimeout, time.Second)
	m.Rounds(4, 2)
	m.Reconnect()

	if got := testutil.ToFloat64(m.cycles.WithLabelValues(ResultInserted)); got != 2 {
		t.Errorf("inserted cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.roundsInserted); got != 4 {
		t.Errorf("rounds inserted = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.roundsDropped); got != 2 {
		t.Errorf("rounds duplicate = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.reconnects); got != 1 {
		t.Errorf("reconnects = %v, want 1", got)
	}
}

func TestSetState(t *testing.T) {
	m := New()
	states := []string{"STOPPED", "RUNNING", "RECONNECTING"}

	m.SetState("RUNNING", states...)
	m.SetState("RECONNECTING", states...)

	for _, s := range states {
		want := 0.0
		if s == "RECONNECTING" {
			want = 1
		}
		if got := testutil.ToFloat64(m.collectorState.WithLabelValues(s)); got != want {
			t.Errorf("state %s = %v, want %v", s, got, want)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.WrapHandler("/api/history", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/history", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `http_requests_total{route="/api/history",status="200"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}
