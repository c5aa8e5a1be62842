// Package metrics exposes Prometheus metrics for the license service.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/keygate-io/keygate/internal/db"
)

// Store defines the interface for retrieving license counts.
type Store interface {
	GetLicenseStats(ctx context.Context) (*db.LicenseStats, error)
}

// collectTimeout bounds the store query during a scrape.
const collectTimeout = 10 * time.Second

// Metrics holds the event counters incremented by the request handlers.
type Metrics struct {
	VerifyTotal      *prometheus.CounterVec
	IssuedTotal      prometheus.Counter
	TrialsTotal      *prometheus.CounterVec
	CheckoutFailures prometheus.Counter
}

// NewMetrics creates and registers the event counters on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		VerifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_verify_total",
			Help: "License verification calls by outcome.",
		}, []string{"outcome"}),
		IssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keygate_licenses_issued_total",
			Help: "Paid licenses issued.",
		}),
		TrialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_trials_registered_total",
			Help: "Trial registration attempts by result.",
		}, []string{"result"}),
		CheckoutFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keygate_checkout_failures_total",
			Help: "Checkout verifications rejected for bad signatures or gateway errors.",
		}),
	}
	reg.MustRegister(m.VerifyTotal, m.IssuedTotal, m.TrialsTotal, m.CheckoutFailures)
	return m
}

// RecordVerify increments the verification counter for an outcome label
// such as "granted", "device_mismatch", or "expired".
func (m *Metrics) RecordVerify(outcome string) {
	if m == nil {
		return
	}
	m.VerifyTotal.WithLabelValues(outcome).Inc()
}

// RecordIssued increments the issued-license counter.
func (m *Metrics) RecordIssued() {
	if m == nil {
		return
	}
	m.IssuedTotal.Inc()
}

// RecordTrial increments the trial registration counter with result
// "granted" or "already_claimed".
func (m *Metrics) RecordTrial(result string) {
	if m == nil {
		return
	}
	m.TrialsTotal.WithLabelValues(result).Inc()
}

// RecordCheckoutFailure increments the checkout failure counter.
func (m *Metrics) RecordCheckoutFailure() {
	if m == nil {
		return
	}
	m.CheckoutFailures.Inc()
}

// LicenseCollector reads license counts from the store at scrape time.
type LicenseCollector struct {
	store  Store
	logger zerolog.Logger

	licensesDesc *prometheus.Desc
	trialsDesc   *prometheus.Desc
	boundDesc    *prometheus.Desc
}

// NewLicenseCollector creates a collector backed by the given store.
func NewLicenseCollector(store Store, logger zerolog.Logger) *LicenseCollector {
	return &LicenseCollector{
		store:  store,
		logger: logger.With().Str("component", "license_collector").Logger(),
		licensesDesc: prometheus.NewDesc(
			"keygate_licenses",
			"License records by status.",
			[]string{"status"}, nil,
		),
		trialsDesc: prometheus.NewDesc(
			"keygate_trial_licenses",
			"Trial license records.",
			nil, nil,
		),
		boundDesc: prometheus.NewDesc(
			"keygate_bound_licenses",
			"License records bound to a device.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *LicenseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.licensesDesc
	ch <- c.trialsDesc
	ch <- c.boundDesc
}

// Collect implements prometheus.Collector.
func (c *LicenseCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	stats, err := c.store.GetLicenseStats(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to collect license stats")
		return
	}

	for status, count := range stats.ByStatus {
		ch <- prometheus.MustNewConstMetric(
			c.licensesDesc, prometheus.GaugeValue, float64(count), string(status),
		)
	}
	ch <- prometheus.MustNewConstMetric(c.trialsDesc, prometheus.GaugeValue, float64(stats.Trials))
	ch <- prometheus.MustNewConstMetric(c.boundDesc, prometheus.GaugeValue, float64(stats.Bound))
}
