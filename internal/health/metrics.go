package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metric vectors for the /metrics surface: per-stream event
// counters and status/throughput gauges, plus pipeline-wide counters.
var (
	eventsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insider_tracker_events_received_total",
		Help: "Total events recorded per stream.",
	}, []string{"stream"})

	streamStatusGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "insider_tracker_stream_status",
		Help: "Per-stream status: 0=disconnected, 1=stale, 2=active.",
	}, []string{"stream"})

	globalStatusGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "insider_tracker_global_status",
		Help: "Aggregate health: 0=unhealthy, 1=degraded, 2=healthy.",
	})

	throughputGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "insider_tracker_throughput_events_per_second",
		Help: "Per-stream throughput over a 10s sliding window.",
	}, []string{"stream"})

	// TimestampFallbackTotal counts trade timestamps that could not be
	// parsed as a number and fell back to "now". A rising rate here points
	// at an upstream feed problem the tolerant parse would otherwise mask.
	TimestampFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "insider_tracker_trades_timestamp_fallback_total",
		Help: "Total trade events whose timestamp required non-integer fallback parsing.",
	})

	alertsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insider_tracker_alerts_dispatched_total",
		Help: "Total alert dispatch attempts per channel and outcome.",
	}, []string{"channel", "outcome"})
)

// statusValue maps a StreamState/GlobalStatus to its gauge encoding.
func statusValue(s StreamState) float64 {
	switch s {
	case StreamActive:
		return 2
	case StreamStale:
		return 1
	default:
		return 0
	}
}

func globalStatusValue(s GlobalStatus) float64 {
	switch s {
	case Healthy:
		return 2
	case Degraded:
		return 1
	default:
		return 0
	}
}

// RecordAlertDispatch exposes the dispatcher's per-channel outcome as a
// Prometheus counter; called by internal/alert's Dispatcher (via the
// supervisor wiring) after each Dispatch.
func RecordAlertDispatch(channel string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	alertsDispatchedTotal.WithLabelValues(channel, outcome).Inc()
}
