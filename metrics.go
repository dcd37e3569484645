package connkit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// lifecycleMetrics tracks manager state transitions and initialization
// outcomes. All methods are nil-safe so the manager can run unmetered.
type lifecycleMetrics struct {
	initTotal    *prometheus.CounterVec
	initDuration prometheus.Histogram
	stateGauge   prometheus.Gauge
}

func newLifecycleMetrics(registry prometheus.Registerer) (*lifecycleMetrics, error) {
	m := &lifecycleMetrics{
		initTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connkit_initializations_total",
				Help: "Total number of initialization attempts by result",
			},
			[]string{"result"},
		),
		initDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "connkit_initialization_duration_seconds",
				Help:    "Time spent initializing, including retries and migrations",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		stateGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "connkit_state",
				Help: "Connection lifecycle state (0 uninitialized, 1 initializing, 2 initialized)",
			},
		),
	}

	collectors := []prometheus.Collector{m.initTotal, m.initDuration, m.stateGauge}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *lifecycleMetrics) setState(s State) {
	if m == nil {
		return
	}
	m.stateGauge.Set(float64(s))
}

func (m *lifecycleMetrics) observeInit(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.initTotal.WithLabelValues(result).Inc()
	m.initDuration.Observe(took.Seconds())
}
