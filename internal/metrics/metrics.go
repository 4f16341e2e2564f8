// Package metrics exposes driver and server counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kvrun"

// Phase labels.
const (
	PhasePrefill = "prefill"
	PhaseDecode  = "decode"
)

// Metrics holds the collectors of one registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	reg *prometheus.Registry

	executeDuration *prometheus.HistogramVec
	executeFailures *prometheus.CounterVec
	tokens          *prometheus.CounterVec
	stops           *prometheus.CounterVec
	tokensPerSecond *prometheus.GaugeVec
	promptTokens    prometheus.Histogram
	requests        *prometheus.CounterVec
	inflight        prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		executeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execute_duration_seconds",
			Help:      "Duration of graph execute calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"phase"}),
		executeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execute_failures_total",
			Help:      "Graph execute calls that returned an error.",
		}, []string{"phase"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens processed, by phase.",
		}, []string{"phase"}),
		stops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_stops_total",
			Help:      "Finished generations by stop reason.",
		}, []string{"reason"}),
		tokensPerSecond: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tokens_per_second",
			Help:      "Throughput of the last completed run, by phase.",
		}, []string{"phase"}),
		promptTokens: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Distribution of prompt lengths.",
			Buckets:   []float64{16, 64, 128, 256, 512, 1024, 2048, 4096, 8192},
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP generation requests by outcome.",
		}, []string{"code"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Generation requests being served or waiting for the driver.",
		}),
	}
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveExecute(phase string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.executeDuration.WithLabelValues(phase).Observe(d.Seconds())
	if err != nil {
		m.executeFailures.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) AddTokens(phase string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokens.WithLabelValues(phase).Add(float64(n))
}

func (m *Metrics) ObserveRun(promptLen int, reason string, prefillTPS, decodeTPS float64) {
	if m == nil {
		return
	}
	m.promptTokens.Observe(float64(promptLen))
	m.stops.WithLabelValues(reason).Inc()
	m.tokensPerSecond.WithLabelValues(PhasePrefill).Set(prefillTPS)
	m.tokensPerSecond.WithLabelValues(PhaseDecode).Set(decodeTPS)
}

func (m *Metrics) ObserveRequest(code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(code).Inc()
}

// TrackInflight increments the in-flight gauge and returns its decrement.
func (m *Metrics) TrackInflight() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}
