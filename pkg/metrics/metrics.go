// Package metrics exposes Prometheus instrumentation for the upload
// pipeline. All metrics carry the "walrusd_" prefix. Methods tolerate a
// nil receiver, so components run metric-free when nothing is registered.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the pipeline's collectors.
type Metrics struct {
	// IntakeRequests counts intake requests by outcome.
	// Labels: outcome=[accepted, rejected, staging_error]
	IntakeRequests *prometheus.CounterVec

	// IntakeBytes totals accepted upload payload bytes.
	IntakeBytes prometheus.Counter

	// DispatchInFlight tracks currently dispatching files.
	DispatchInFlight prometheus.Gauge

	// DispatchOutcomes counts finished dispatches by outcome.
	// Labels: outcome=[completed, released, failed]
	DispatchOutcomes *prometheus.CounterVec

	// PhaseDuration tracks per-phase protocol latency.
	// Labels: phase=[encode, register, upload, certify, fallback_write, rename, register_file]
	PhaseDuration *prometheus.HistogramVec

	// StagingOps tracks object-store operation latency by op and result.
	// Labels: operation=[put, get, head, delete, touch, rename], result=[success, error]
	StagingOps *prometheus.HistogramVec

	// QuotesMinted and QuotesConsumed count the quote lifecycle.
	QuotesMinted   prometheus.Counter
	QuotesConsumed *prometheus.CounterVec // Labels: result=[consumed, rejected]

	// ClientTiming tracks client-reported operation latency.
	// Labels: kind=[upload, download, encrypt, decrypt, ...] as reported
	ClientTiming *prometheus.HistogramVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// New creates and registers the pipeline metrics. Idempotent: repeated
// calls return the same instance. A nil registerer means the default one.
func New(registerer prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}

		m := &Metrics{
			IntakeRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "walrusd_intake_requests_total",
					Help: "Intake requests by outcome",
				},
				[]string{"outcome"},
			),
			IntakeBytes: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "walrusd_intake_bytes_total",
					Help: "Accepted upload payload bytes",
				},
			),
			DispatchInFlight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "walrusd_dispatch_in_flight",
					Help: "Files currently being dispatched",
				},
			),
			DispatchOutcomes: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "walrusd_dispatch_outcomes_total",
					Help: "Finished dispatches by outcome",
				},
				[]string{"outcome"},
			),
			PhaseDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "walrusd_dispatch_phase_duration_seconds",
					Help:    "Blob protocol phase latency",
					Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
				},
				[]string{"phase"},
			),
			StagingOps: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "walrusd_staging_operation_duration_seconds",
					Help:    "Object store operation latency",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"operation", "result"},
			),
			QuotesMinted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "walrusd_quotes_minted_total",
					Help: "Payment quotes minted",
				},
			),
			QuotesConsumed: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "walrusd_quotes_consumed_total",
					Help: "Quote consumption attempts by result",
				},
				[]string{"result"},
			),
			ClientTiming: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "walrusd_client_operation_duration_seconds",
					Help:    "Client-reported operation latency",
					Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"kind"},
			),
		}

		for _, c := range []prometheus.Collector{
			m.IntakeRequests,
			m.IntakeBytes,
			m.DispatchInFlight,
			m.DispatchOutcomes,
			m.PhaseDuration,
			m.StagingOps,
			m.QuotesMinted,
			m.QuotesConsumed,
			m.ClientTiming,
		} {
			registerOrReuse(registerer, c)
		}

		metricsInstance = m
	})
	return metricsInstance
}

// registerOrReuse registers a collector, reusing the existing one when it
// was already registered (server restarts re-run the constructor path).
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// ObserveIntake records an intake outcome, with payload bytes on accept.
func (m *Metrics) ObserveIntake(outcome string, bytes int64) {
	if m == nil {
		return
	}
	m.IntakeRequests.WithLabelValues(outcome).Inc()
	if outcome == "accepted" && bytes > 0 {
		m.IntakeBytes.Add(float64(bytes))
	}
}

// DispatchStarted increments the in-flight gauge.
func (m *Metrics) DispatchStarted() {
	if m == nil {
		return
	}
	m.DispatchInFlight.Inc()
}

// DispatchFinished decrements the gauge and counts the outcome.
func (m *Metrics) DispatchFinished(outcome string) {
	if m == nil {
		return
	}
	m.DispatchInFlight.Dec()
	m.DispatchOutcomes.WithLabelValues(outcome).Inc()
}

// ObservePhase records one protocol phase duration.
func (m *Metrics) ObservePhase(phase string, start time.Time) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// ObserveStagingOp records one object-store operation.
func (m *Metrics) ObserveStagingOp(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.StagingOps.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}

// QuoteMinted counts a freshly minted quote.
func (m *Metrics) QuoteMinted() {
	if m == nil {
		return
	}
	m.QuotesMinted.Inc()
}

// QuoteConsumed counts a consumption attempt.
func (m *Metrics) QuoteConsumed(ok bool) {
	if m == nil {
		return
	}
	result := "consumed"
	if !ok {
		result = "rejected"
	}
	m.QuotesConsumed.WithLabelValues(result).Inc()
}

// ObserveClientTiming records a client-reported duration in milliseconds.
func (m *Metrics) ObserveClientTiming(kind string, durationMs float64) {
	if m == nil || kind == "" {
		return
	}
	m.ClientTiming.WithLabelValues(kind).Observe(durationMs / 1000)
}
