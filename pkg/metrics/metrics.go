// Package metrics exposes Prometheus collectors for the notifier.
//
// Every recorder method is safe to call on a nil *Metrics, so components can
// take an optional collector without guarding each call site.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options control collector registration.
type Options struct {
	// Namespace prefixes every metric. Defaults to "notifier".
	Namespace string
	// DisableRuntimeCollectors skips the Go and process collectors.
	DisableRuntimeCollectors bool
}

// Metrics owns a private registry and the notifier collectors.
type Metrics struct {
	registry *prometheus.Registry

	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	channelOutcomes  *prometheus.CounterVec
	pushResults      *prometheus.CounterVec
	pushPruned       prometheus.Counter
	digestRuns       *prometheus.CounterVec
	digestSent       *prometheus.CounterVec
	digestDuration   *prometheus.HistogramVec
	realtimeSessions *prometheus.GaugeVec
	realtimeDropped  prometheus.Counter
	httpLatency      *prometheus.HistogramVec
}

// New registers the notifier collectors on a fresh registry.
func New(opts Options) (*Metrics, error) {
	ns := opts.Namespace
	if ns == "" {
		ns = "notifier"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "dispatches_total",
			Help:      "Dispatched events by kind and result",
		}, []string{"kind", "result"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent persisting a dispatched event",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		channelOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "channel_outcomes_total",
			Help:      "Background channel deliveries by channel and outcome",
		}, []string{"channel", "outcome"}),
		pushResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "push_results_total",
			Help:      "Per-endpoint push results",
		}, []string{"result"}),
		pushPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "push_subscriptions_pruned_total",
			Help:      "Push subscriptions removed after the endpoint reported gone",
		}),
		digestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "digest_runs_total",
			Help:      "Digest job runs by period and result",
		}, []string{"period", "result"}),
		digestSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "digest_deliveries_total",
			Help:      "Per-user digest outcomes",
		}, []string{"period", "outcome"}),
		digestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "digest_run_duration_seconds",
			Help:      "Digest job duration",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"period"}),
		realtimeSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "realtime_sessions",
			Help:      "Open realtime sessions by transport",
		}, []string{"transport"}),
		realtimeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "realtime_dropped_sessions_total",
			Help:      "Realtime sessions dropped for falling behind",
		}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	if !opts.DisableRuntimeCollectors {
		if err := m.registry.Register(collectors.NewGoCollector()); err != nil {
			return nil, err
		}
		if err := m.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, err
		}
	}

	for _, c := range []prometheus.Collector{
		m.dispatches, m.dispatchDuration, m.channelOutcomes,
		m.pushResults, m.pushPruned,
		m.digestRuns, m.digestSent, m.digestDuration,
		m.realtimeSessions, m.realtimeDropped, m.httpLatency,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDispatch counts a Dispatch call and the time it took to persist.
func (m *Metrics) RecordDispatch(kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	kind = label(kind)
	m.dispatches.WithLabelValues(kind, label(result)).Inc()
	m.dispatchDuration.WithLabelValues(kind).Observe(max(d, 0).Seconds())
}

// RecordChannel counts one background channel outcome, e.g. push/suppressed.
func (m *Metrics) RecordChannel(channel, outcome string) {
	if m == nil {
		return
	}
	m.channelOutcomes.WithLabelValues(label(channel), label(outcome)).Inc()
}

// RecordPushResult counts one endpoint delivery result.
func (m *Metrics) RecordPushResult(result string) {
	if m == nil {
		return
	}
	m.pushResults.WithLabelValues(label(result)).Inc()
}

// RecordPushPruned counts subscriptions removed after a gone response.
func (m *Metrics) RecordPushPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pushPruned.Add(float64(n))
}

// RecordDigestRun counts a digest run.
func (m *Metrics) RecordDigestRun(period, result string, d time.Duration) {
	if m == nil {
		return
	}
	period = label(period)
	m.digestRuns.WithLabelValues(period, label(result)).Inc()
	m.digestDuration.WithLabelValues(period).Observe(max(d, 0).Seconds())
}

// RecordDigestOutcome counts a per-user digest outcome (sent, empty, skipped, failed).
func (m *Metrics) RecordDigestOutcome(period, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.digestSent.WithLabelValues(label(period), label(outcome)).Add(float64(n))
}

// AdjustRealtimeSessions moves the open session gauge by delta.
func (m *Metrics) AdjustRealtimeSessions(transport string, delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.realtimeSessions.WithLabelValues(label(transport)).Add(float64(delta))
}

// RecordRealtimeDrop counts a session dropped for being too slow.
func (m *Metrics) RecordRealtimeDrop() {
	if m == nil {
		return
	}
	m.realtimeDropped.Inc()
}

// ObserveHTTP records an HTTP request latency for a route pattern.
func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpLatency.WithLabelValues(strings.ToUpper(method), route, status).Observe(max(d, 0).Seconds())
}

func label(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}
