// Package metrics exposes Prometheus instruments for the call pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pipeline's instruments on a private registry so
// tests can build as many collectors as they like without duplicate
// registration panics.
type Collector struct {
	registry *prometheus.Registry

	webhooksProcessed *prometheus.CounterVec
	callsFinished     *prometheus.CounterVec
	admissions        *prometheus.CounterVec
	alertsRaised      *prometheus.CounterVec
	transfers         *prometheus.CounterVec
	activeCalls       prometheus.Gauge
	callDuration      prometheus.Histogram
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		webhooksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outdial_webhooks_processed_total",
			Help: "Telephony webhooks processed, by event type and dedupe verdict.",
		}, []string{"event_type", "duplicate"}),
		callsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outdial_calls_finished_total",
			Help: "Calls reaching a terminal status, by outcome.",
		}, []string{"outcome"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outdial_queue_admissions_total",
			Help: "Queue admission attempts, by result.",
		}, []string{"result"}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outdial_emotional_alerts_total",
			Help: "Emotional alerts raised, by type.",
		}, []string{"alert_type"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outdial_transfers_total",
			Help: "Warm transfer requests, by final status.",
		}, []string{"status"}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outdial_active_calls",
			Help: "Calls currently in a non-terminal status.",
		}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outdial_call_duration_seconds",
			Help:    "Answered call duration in seconds.",
			Buckets: []float64{15, 30, 60, 120, 240, 480, 900},
		}),
	}

	c.registry.MustRegister(
		c.webhooksProcessed,
		c.callsFinished,
		c.admissions,
		c.alertsRaised,
		c.transfers,
		c.activeCalls,
		c.callDuration,
	)
	return c
}

// Handler serves the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WebhookProcessed and CallFinished satisfy the call processor's metrics
// hook.
func (c *Collector) WebhookProcessed(eventType string, duplicate bool) {
	verdict := "false"
	if duplicate {
		verdict = "true"
	}
	c.webhooksProcessed.WithLabelValues(eventType, verdict).Inc()
}

func (c *Collector) CallFinished(outcome string) {
	c.callsFinished.WithLabelValues(outcome).Inc()
	c.activeCalls.Dec()
}

func (c *Collector) CallStarted() {
	c.activeCalls.Inc()
}

func (c *Collector) CallDuration(seconds float64) {
	c.callDuration.Observe(seconds)
}

func (c *Collector) Admission(result string) {
	c.admissions.WithLabelValues(result).Inc()
}

func (c *Collector) AlertRaised(alertType string) {
	c.alertsRaised.WithLabelValues(alertType).Inc()
}

func (c *Collector) TransferResolved(status string) {
	c.transfers.WithLabelValues(status).Inc()
}
