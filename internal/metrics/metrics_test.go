package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ObserveExecute(PhaseDecode, time.Millisecond, nil)
	m.AddTokens(PhaseDecode, 3)
	m.ObserveRun(4, "eos", 1, 2)
	m.ObserveRequest("200")
	m.TrackInflight()()
	if m.Registry() != nil {
		t.Fatal("nil metrics returned a registry")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveExecute(PhasePrefill, 2*time.Millisecond, nil)
	m.ObserveExecute(PhaseDecode, time.Millisecond, errors.New("boom"))
	m.AddTokens(PhaseDecode, 7)
	m.ObserveRun(12, "budget", 100, 50)
	done := m.TrackInflight()
	done()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`kvrun_execute_duration_seconds_count{phase="prefill"} 1`,
		`kvrun_execute_failures_total{phase="decode"} 1`,
		`kvrun_tokens_total{phase="decode"} 7`,
		`kvrun_generation_stops_total{reason="budget"} 1`,
		`kvrun_tokens_per_second{phase="decode"} 50`,
		`kvrun_http_requests_in_flight 0`,
		`go_goroutines`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in exposition", want)
		}
	}
}
