// Package health implements the Health Monitor and its HTTP surface:
// per-stream liveness/throughput tracking, the aggregate process status,
// and the /health, /metrics, /ready, /live endpoints.
package health

import (
	"sync"
	"time"
)

// StreamState is a registered stream's connectivity state.
type StreamState int

const (
	StreamDisconnected StreamState = iota
	StreamStale
	StreamActive
)

func (s StreamState) String() string {
	switch s {
	case StreamActive:
		return "ACTIVE"
	case StreamStale:
		return "STALE"
	default:
		return "DISCONNECTED"
	}
}

// GlobalStatus is the aggregate health across all registered streams.
type GlobalStatus int

const (
	Unhealthy GlobalStatus = iota
	Degraded
	Healthy
)

func (s GlobalStatus) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case Degraded:
		return "DEGRADED"
	default:
		return "UNHEALTHY"
	}
}

// streamRecord tracks one registered stream's connectivity and a rolling
// 10s window of event timestamps for throughput.
type streamRecord struct {
	connected     bool
	lastEventTime time.Time
	eventTimes    []time.Time
	total         int64
}

// Config tunes the stale threshold.
type Config struct {
	StaleThreshold time.Duration // default 60s
}

// Monitor tracks per-stream connectivity/throughput and computes the
// aggregate process status.
type Monitor struct {
	cfg       Config
	startedAt time.Time

	mu      sync.Mutex
	streams map[string]*streamRecord
}

// New constructs a Monitor, applying the default stale threshold when
// cfg.StaleThreshold is zero.
func New(cfg Config) *Monitor {
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 60 * time.Second
	}
	return &Monitor{cfg: cfg, startedAt: time.Now(), streams: make(map[string]*streamRecord)}
}

// RegisterStream adds name to the tracked set as DISCONNECTED until its
// first event arrives.
func (m *Monitor) RegisterStream(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[name]; !ok {
		m.streams[name] = &streamRecord{}
		streamStatusGauge.WithLabelValues(name).Set(statusValue(StreamDisconnected))
	}
}

// RecordEvent updates name's last-event-time to now, marking it connected
// and active, and folds the event into the 10s throughput window.
func (m *Monitor) RecordEvent(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.streams[name]
	if !ok {
		rec = &streamRecord{}
		m.streams[name] = rec
	}

	now := time.Now()
	rec.connected = true
	rec.lastEventTime = now
	rec.total++
	rec.eventTimes = append(rec.eventTimes, now)
	rec.eventTimes = pruneOlderThan(rec.eventTimes, now.Add(-10*time.Second))

	eventsReceivedTotal.WithLabelValues(name).Inc()
	streamStatusGauge.WithLabelValues(name).Set(statusValue(StreamActive))
	throughputGauge.WithLabelValues(name).Set(float64(len(rec.eventTimes)) / 10.0)
}

// Disconnect marks name as disconnected (e.g. the stream client gave up
// reconnecting).
func (m *Monitor) Disconnect(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.streams[name]
	if !ok {
		return
	}
	rec.connected = false
	streamStatusGauge.WithLabelValues(name).Set(statusValue(StreamDisconnected))
}

func pruneOlderThan(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

// streamState computes a stream's current state, transitioning ACTIVE to
// STALE when stale_threshold has elapsed without an event.
func (m *Monitor) streamState(rec *streamRecord) StreamState {
	if !rec.connected {
		return StreamDisconnected
	}
	if time.Since(rec.lastEventTime) > m.cfg.StaleThreshold {
		return StreamStale
	}
	return StreamActive
}

// StreamSnapshot is one stream's reported state.
type StreamSnapshot struct {
	Name             string
	State            StreamState
	TotalEvents      int64
	ThroughputPerSec float64
}

// Snapshot is the full health report.
type Snapshot struct {
	GlobalStatus    GlobalStatus
	UptimeSeconds   float64
	TotalEvents     int64
	EventsPerSecond float64
	Streams         []StreamSnapshot
}

// Report computes the current Snapshot, re-evaluating each stream's state
// (ACTIVE may have just gone STALE since the last RecordEvent) and the
// global aggregation rule: UNHEALTHY when all streams are disconnected,
// DEGRADED when any is disconnected or stale, else HEALTHY.
func (m *Monitor) Report() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		streams         []StreamSnapshot
		totalEvents     int64
		totalThroughput float64
		allDisconnected = true
		anyDegraded     bool
	)

	now := time.Now()
	for name, rec := range m.streams {
		state := m.streamState(rec)
		if state != StreamDisconnected {
			allDisconnected = false
		}
		if state != StreamActive {
			anyDegraded = true
		}
		streamStatusGauge.WithLabelValues(name).Set(statusValue(state))

		rec.eventTimes = pruneOlderThan(rec.eventTimes, now.Add(-10*time.Second))
		throughput := float64(len(rec.eventTimes)) / 10.0
		throughputGauge.WithLabelValues(name).Set(throughput)

		streams = append(streams, StreamSnapshot{
			Name: name, State: state, TotalEvents: rec.total, ThroughputPerSec: throughput,
		})
		totalEvents += rec.total
		totalThroughput += throughput
	}

	status := Healthy
	switch {
	case allDisconnected:
		status = Unhealthy
	case anyDegraded:
		status = Degraded
	}
	globalStatusGauge.Set(globalStatusValue(status))

	return Snapshot{
		GlobalStatus:    status,
		UptimeSeconds:   time.Since(m.startedAt).Seconds(),
		TotalEvents:     totalEvents,
		EventsPerSecond: totalThroughput,
		Streams:         streams,
	}
}
