package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 记账核心与 HTTP 层的指标
type Metrics struct {
	LedgerMutations *prometheus.CounterVec
	CASRetries      prometheus.Counter
	OutboxPublished *prometheus.CounterVec
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LedgerMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinledger_ledger_mutations_total",
				Help: "Balance mutations by operation, transaction kind and result.",
			},
			[]string{"op", "kind", "result"},
		),
		CASRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coinledger_ledger_cas_retries_total",
				Help: "Ledger units retried after losing an optimistic lock.",
			},
		),
		OutboxPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinledger_outbox_published_total",
				Help: "Outbox messages handed to the notification sink.",
			},
			[]string{"event", "status"},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinledger_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coinledger_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	registry.MustRegister(m.LedgerMutations, m.CASRetries, m.OutboxPublished, m.RequestCount, m.RequestDuration)
	return m
}

func (m *Metrics) ObserveMutation(op, kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.LedgerMutations.WithLabelValues(op, kind, result).Inc()
}

func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.CASRetries.Inc()
}

func (m *Metrics) ObservePublish(event string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "error"
	}
	m.OutboxPublished.WithLabelValues(event, status).Inc()
}

func (m *Metrics) ObserveRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
