package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	WebhookEvents    *prometheus.CounterVec
	WebhookDuration  *prometheus.HistogramVec
	StaleEvents      *prometheus.CounterVec
	UnresolvedEvents *prometheus.CounterVec
	ProviderLookups  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_events_total",
				Help: "Webhook events by type and outcome.",
			},
			[]string{"type", "result"},
		),
		WebhookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_webhook_duration_seconds",
				Help:    "Time spent processing a webhook event.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		StaleEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_stale_events_total",
				Help: "Events older than the last applied event of their subscription.",
			},
			[]string{"type"},
		),
		UnresolvedEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_unresolved_events_total",
				Help: "Events whose organization could not be resolved.",
			},
			[]string{"type"},
		),
		ProviderLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_provider_lookups_total",
				Help: "Live provider lookups by operation and result.",
			},
			[]string{"op", "result"},
		),
	}
	reg.MustRegister(m.WebhookEvents, m.WebhookDuration, m.StaleEvents, m.UnresolvedEvents, m.ProviderLookups)
	return m
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
