package hooks

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
)

// MetricsHook collects per-query Prometheus metrics
type MetricsHook struct {
	queryDuration *prometheus.HistogramVec
	queryErrors   *prometheus.CounterVec
}

// NewMetricsHook creates a metrics hook and registers its collectors.
// Re-registering against the same registry is tolerated so a Refresh can
// rebuild the handle without failing.
func NewMetricsHook(registry prometheus.Registerer) (*MetricsHook, error) {
	h := &MetricsHook{
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "connkit_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		queryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connkit_query_errors_total",
				Help: "Total number of database query errors",
			},
			[]string{"operation"},
		),
	}

	for _, c := range []prometheus.Collector{h.queryDuration, h.queryErrors} {
		if err := registry.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	return h, nil
}

// BeforeQuery is called before a query is executed
func (h *MetricsHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

// AfterQuery is called after a query is executed
func (h *MetricsHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	op := OperationType(event.Query)
	h.queryDuration.WithLabelValues(op).Observe(time.Since(event.StartTime).Seconds())

	if event.Err != nil {
		h.queryErrors.WithLabelValues(op).Inc()
	}
}
