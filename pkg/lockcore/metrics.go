package lockcore

import "github.com/prometheus/client_golang/prometheus"

// Label constants for metrics.
const (
	LabelHandle = "handle"
	LabelKind   = "kind"
	LabelStatus = "status"
	LabelReason = "reason"
)

// Status constants for a grant attempt.
const (
	StatusGranted = "granted"
	StatusDenied  = "denied"
	StatusParked  = "parked"
)

// Reason constants for a waiter's terminal disposition.
const (
	ReasonExplicit   = "explicit"
	ReasonDisconnect = "disconnect"
	ReasonForget     = "forget"
)

// Metrics provides Prometheus metrics for the lock table and its blocked
// waiter queues. A nil *Metrics is valid and every method is a no-op on it,
// so callers that don't want metrics can simply omit construction.
type Metrics struct {
	grantTotal   *prometheus.CounterVec
	releaseTotal *prometheus.CounterVec

	activeGauge  *prometheus.GaugeVec
	blockedGauge prometheus.Gauge

	limitHits *prometheus.CounterVec

	registered bool
}

// NewMetrics creates and, if registry is non-nil, registers lock-core
// metrics. Passing a nil registry is useful for tests.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		grantTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lockcore",
				Subsystem: "locks",
				Name:      "grant_total",
				Help:      "Total number of lock grant attempts by kind and status",
			},
			[]string{LabelKind, LabelStatus},
		),
		releaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lockcore",
				Subsystem: "locks",
				Name:      "release_total",
				Help:      "Total number of blocked waiters cancelled or discarded, by reason",
			},
			[]string{LabelReason},
		),
		activeGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "lockcore",
				Subsystem: "locks",
				Name:      "active",
				Help:      "Number of currently granted locks by kind",
			},
			[]string{LabelKind},
		),
		blockedGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "lockcore",
				Subsystem: "locks",
				Name:      "blocked",
				Help:      "Number of blocked lock and mandatory-I/O waiters across all files",
			},
		),
		limitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lockcore",
				Subsystem: "locks",
				Name:      "limit_hits_total",
				Help:      "Number of times a per-file resource ceiling was hit",
			},
			[]string{LabelReason},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.grantTotal,
			m.releaseTotal,
			m.activeGauge,
			m.blockedGauge,
			m.limitHits,
		)
		m.registered = true
	}
	return m
}

func (m *Metrics) ObserveGrant(kind, status string) {
	if m == nil {
		return
	}
	m.grantTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObserveRelease(reason string) {
	if m == nil {
		return
	}
	m.releaseTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetActive(kind string, count float64) {
	if m == nil {
		return
	}
	m.activeGauge.WithLabelValues(kind).Set(count)
}

func (m *Metrics) SetBlocked(count float64) {
	if m == nil {
		return
	}
	m.blockedGauge.Set(count)
}

func (m *Metrics) ObserveLimitHit(reason string) {
	if m == nil {
		return
	}
	m.limitHits.WithLabelValues(reason).Inc()
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	if m == nil || !m.registered {
		return
	}
	m.grantTotal.Describe(ch)
	m.releaseTotal.Describe(ch)
	m.activeGauge.Describe(ch)
	ch <- m.blockedGauge.Desc()
	m.limitHits.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m == nil || !m.registered {
		return
	}
	m.grantTotal.Collect(ch)
	m.releaseTotal.Collect(ch)
	m.activeGauge.Collect(ch)
	ch <- m.blockedGauge
	m.limitHits.Collect(ch)
}
