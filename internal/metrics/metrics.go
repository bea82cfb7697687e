// Package metrics exposes server counters for the admin endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	reg           *prometheus.Registry
	connections   prometheus.Gauge
	activeMatches prometheus.Gauge
	messages      *prometheus.CounterVec
	matchEnds     *prometheus.CounterVec
	rateLimited   prometheus.Counter
	handlerTime   *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "xiangqi_connections",
			Help: "Open client connections.",
		}),
		activeMatches: f.NewGauge(prometheus.GaugeOpts{
			Name: "xiangqi_active_matches",
			Help: "Matches currently in play.",
		}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xiangqi_messages_total",
			Help: "Dispatched messages by type.",
		}, []string{"type"}),
		matchEnds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xiangqi_match_end_total",
			Help: "Finished matches by end reason.",
		}, []string{"reason"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "xiangqi_rate_limited_total",
			Help: "Messages rejected by the per-connection limiter.",
		}),
		handlerTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xiangqi_handler_seconds",
			Help:    "Handler latency including the wait for the coordinator lock.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1},
		}, []string{"type"}),
	}
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}

func (m *Metrics) SetActiveMatches(n int) {
	if m != nil {
		m.activeMatches.Set(float64(n))
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) MatchEnded(reason string) {
	if m != nil {
		m.matchEnds.WithLabelValues(reason).Inc()
	}
}

// Observe records one dispatched message. Unknown types share a label so
// clients cannot grow the series set.
func (m *Metrics) Observe(msgType string, known bool, d time.Duration) {
	if m == nil {
		return
	}
	if !known {
		msgType = "unknown"
	}
	m.messages.WithLabelValues(msgType).Inc()
	m.handlerTime.WithLabelValues(msgType).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry is exposed for tests and for callers adding collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
