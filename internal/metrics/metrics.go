// Package metrics exposes the gap/reject/drop/lag signals spec §8 requires
// be observable, as Prometheus collectors. Consumer lag and dropped-event
// counts are updated once per consumer batch, order counters once per order,
// logger bytes once per flush, and the published-events counter once per
// Publish call; no collector is touched per handler dispatch.
//
// Grounded on github.com/prometheus/client_golang usage across the pack
// (arcentra and go-arcade both wire a process-wide prometheus.Registry);
// this package follows the same pattern of package-level constructors
// returning ready-to-register collectors instead of using the global
// default registry directly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the engine updates.
type Metrics struct {
	MarketEventsPublished prometheus.Counter
	MarketEventsDropped   prometheus.Counter
	ConsumerLag           *prometheus.GaugeVec
	OrdersSubmitted       prometheus.Counter
	OrdersRejected        *prometheus.CounterVec
	OrderQueueDepth       prometheus.Gauge
	LoggerBytesWritten    prometheus.Counter
}

// New creates a fresh set of collectors under the given namespace, without
// registering them.
func New(namespace string) *Metrics {
	return &Metrics{
		MarketEventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_events_published_total",
			Help:      "Market events published to the bus.",
		}),
		MarketEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_events_dropped_total",
			Help:      "Market events a slow consumer failed to observe before being overwritten.",
		}),
		ConsumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumer_lag",
			Help:      "Sequences a consumer is behind the producer cursor.",
		}, []string{"consumer"}),
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders successfully routed to a connection.",
		}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Orders rejected, labeled by reason.",
		}, []string{"reason"}),
		OrderQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "order_queue_depth",
			Help:      "Approximate current depth of the order queue.",
		}),
		LoggerBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logger_bytes_written_total",
			Help:      "Bytes flushed to the market event log.",
		}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		m.MarketEventsPublished,
		m.MarketEventsDropped,
		m.ConsumerLag,
		m.OrdersSubmitted,
		m.OrdersRejected,
		m.OrderQueueDepth,
		m.LoggerBytesWritten,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
