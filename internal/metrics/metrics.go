// Package metrics defines the prometheus collectors cmd/bgpspeakerd
// exposes over /metrics: per-session state, RIB size, and the
// snapshot/kafka bridge's own write counters.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpspeakerd_session_state",
			Help: "Current FSM state for a peer (1 for the active state, 0 otherwise).",
		},
		[]string{"peer", "state"},
	)

	SessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpspeakerd_session_transitions_total",
			Help: "Total FSM state transitions observed by the metrics poller.",
		},
		[]string{"peer"},
	)

	RIBPrefixes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpspeakerd_rib_prefixes",
			Help: "Current number of best-path slots held in the RIB.",
		},
		[]string{"afi"},
	)

	RouteEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpspeakerd_route_events_total",
			Help: "Route-event-bus events observed by the kafka bridge.",
		},
		[]string{"afi", "action"},
	)

	NotificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpspeakerd_notifications_sent_total",
			Help: "NOTIFICATION messages sent to peers, by error code.",
		},
		[]string{"peer", "code"},
	)

	SnapshotWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bgpspeakerd_snapshot_write_duration_seconds",
			Help:    "Latency of one periodic RIB snapshot write.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
	)

	SnapshotRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bgpspeakerd_snapshot_rows_total",
			Help: "Total prefix rows written across all RIB snapshots.",
		},
	)

	KafkaPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpspeakerd_kafka_publish_total",
			Help: "Route-event records produced to Kafka, by result.",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

// Register registers every collector above exactly once per process,
// so callers (main and tests) can call it unconditionally.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SessionState,
			SessionTransitionsTotal,
			RIBPrefixes,
			RouteEventsTotal,
			NotificationsSentTotal,
			SnapshotWriteDuration,
			SnapshotRowsTotal,
			KafkaPublishTotal,
		)
	})
}
