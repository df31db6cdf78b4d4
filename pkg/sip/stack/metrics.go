package stack

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus instruments of one engine instance.
// Each Stack registers into its own Registerer so several instances
// can coexist in one process.
type metrics struct {
	callsTotal        prometheus.Counter
	callsActive       prometheus.Gauge
	callDuration      prometheus.Histogram
	callFailures      *prometheus.CounterVec
	registrationState prometheus.Gauge
	eventsDropped     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		callsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sip",
			Subsystem: "engine",
			Name:      "calls_total",
			Help:      "Total number of outgoing calls placed",
		}),
		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sip",
			Subsystem: "engine",
			Name:      "calls_active",
			Help:      "Number of calls currently not terminated",
		}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sip",
			Subsystem: "engine",
			Name:      "call_duration_seconds",
			Help:      "Duration of connected calls",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		callFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sip",
			Subsystem: "engine",
			Name:      "call_failures_total",
			Help:      "Calls ended by a failure response, by status code",
		}, []string{"status"}),
		registrationState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sip",
			Subsystem: "engine",
			Name:      "registration_state",
			Help:      "Current registration state as numeric enum",
		}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sip",
			Subsystem: "engine",
			Name:      "events_dropped_total",
			Help:      "Engine events dropped because the consumer fell behind",
		}),
	}
}
