package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the ingestion and delivery flows.
type Metrics struct {
	registry *prometheus.Registry

	eventsIngestedTotal  prometheus.Counter
	eventsDeliveredTotal prometheus.Counter
	eventsFailedTotal    *prometheus.CounterVec
	retryScheduledTotal  prometheus.Counter
	deliveryDuration     prometheus.Histogram
	pendingEvents        prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		eventsIngestedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tagrelay",
				Name:      "events_ingested_total",
				Help:      "Total number of tag reads accepted into the store.",
			},
		),
		eventsDeliveredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tagrelay",
				Name:      "events_delivered_total",
				Help:      "Total number of events delivered to the webhook.",
			},
		),
		eventsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tagrelay",
				Name:      "events_failed_total",
				Help:      "Total number of events that ended abandoned, by reason.",
			},
			[]string{"reason"},
		),
		retryScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tagrelay",
				Name:      "retry_scheduled_total",
				Help:      "Total number of delivery attempts rescheduled under backoff.",
			},
		),
		deliveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "tagrelay",
				Name:      "delivery_duration_seconds",
				Help:      "Webhook delivery attempt duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		pendingEvents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tagrelay",
				Name:      "pending_events",
				Help:      "Current number of events awaiting delivery.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsIngestedTotal,
		m.eventsDeliveredTotal,
		m.eventsFailedTotal,
		m.retryScheduledTotal,
		m.deliveryDuration,
		m.pendingEvents,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncEventIngested() {
	if m == nil {
		return
	}
	m.eventsIngestedTotal.Inc()
}

func (m *Metrics) IncEventDelivered() {
	if m == nil {
		return
	}
	m.eventsDeliveredTotal.Inc()
}

func (m *Metrics) IncEventFailed(reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.eventsFailedTotal.WithLabelValues(reasonLabel).Inc()
}

func (m *Metrics) IncRetryScheduled() {
	if m == nil {
		return
	}
	m.retryScheduledTotal.Inc()
}

func (m *Metrics) ObserveDeliveryDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveryDuration.Observe(seconds)
}

func (m *Metrics) SetPendingEvents(count int64) {
	if m == nil {
		return
	}
	m.pendingEvents.Set(float64(count))
}
