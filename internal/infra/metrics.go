package infra

import (
	"sync/atomic"
	"time"

	"mdp_go/internal/domain"
)

// Metrics provides lightweight feed-handler counters.
// Uses atomic operations for thread-safety; exported to Prometheus by
// MetricsCollector.
type Metrics struct {
	// Packets received per feed type
	incrementalPackets atomic.Uint64
	snapshotPackets    atomic.Uint64
	instrumentPackets  atomic.Uint64
	malformedPackets   atomic.Uint64

	// Reorder queue outcomes
	packetsApplied     atomic.Uint64
	packetsBuffered    atomic.Uint64
	packetsOverwritten atomic.Uint64
	packetsDuplicate   atomic.Uint64
	packetsStale       atomic.Uint64
	packetsRejected    atomic.Uint64
	packetsDrained     atomic.Uint64

	// Channel lifecycle
	channelResets  atomic.Uint64
	recoveryStarts atomic.Uint64
	recoveryStops  atomic.Uint64
	eventCommits   atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeReceivers atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordPacket counts a datagram received on a feed.
func (m *Metrics) RecordPacket(feed domain.FeedType) {
	switch feed {
	case domain.FeedIncremental:
		m.incrementalPackets.Add(1)
	case domain.FeedSnapshot:
		m.snapshotPackets.Add(1)
	case domain.FeedInstrumentDef:
		m.instrumentPackets.Add(1)
	}
}

// RecordMalformed counts a datagram or message that failed framing.
func (m *Metrics) RecordMalformed() {
	m.malformedPackets.Add(1)
}

// RecordApplied records an incremental packet applied with its latency.
func (m *Metrics) RecordApplied(latencyNs int64) {
	m.packetsApplied.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

func (m *Metrics) RecordBuffered()    { m.packetsBuffered.Add(1) }
func (m *Metrics) RecordOverwritten() { m.packetsOverwritten.Add(1) }
func (m *Metrics) RecordDuplicate()   { m.packetsDuplicate.Add(1) }
func (m *Metrics) RecordStale()       { m.packetsStale.Add(1) }
func (m *Metrics) RecordRejected()    { m.packetsRejected.Add(1) }
func (m *Metrics) RecordDrained()     { m.packetsDrained.Add(1) }

func (m *Metrics) RecordReset()         { m.channelResets.Add(1) }
func (m *Metrics) RecordRecoveryStart() { m.recoveryStarts.Add(1) }
func (m *Metrics) RecordRecoveryStop()  { m.recoveryStops.Add(1) }

// RecordCommits counts committed instrument events.
func (m *Metrics) RecordCommits(n int) {
	m.eventCommits.Add(uint64(n))
}

// IncrementReceivers increments active receivers by 1.
func (m *Metrics) IncrementReceivers() {
	m.activeReceivers.Add(1)
}

// DecrementReceivers decrements active receivers by 1.
func (m *Metrics) DecrementReceivers() {
	m.activeReceivers.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	IncrementalPackets uint64
	SnapshotPackets    uint64
	InstrumentPackets  uint64
	MalformedPackets   uint64
	PacketsApplied     uint64
	PacketsBuffered    uint64
	PacketsOverwritten uint64
	PacketsDuplicate   uint64
	PacketsStale       uint64
	PacketsRejected    uint64
	PacketsDrained     uint64
	ChannelResets      uint64
	RecoveryStarts     uint64
	RecoveryStops      uint64
	EventCommits       uint64
	AvgLatencyNs       int64
	ActiveReceivers    int32
	Timestamp          time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		IncrementalPackets: m.incrementalPackets.Load(),
		SnapshotPackets:    m.snapshotPackets.Load(),
		InstrumentPackets:  m.instrumentPackets.Load(),
		MalformedPackets:   m.malformedPackets.Load(),
		PacketsApplied:     m.packetsApplied.Load(),
		PacketsBuffered:    m.packetsBuffered.Load(),
		PacketsOverwritten: m.packetsOverwritten.Load(),
		PacketsDuplicate:   m.packetsDuplicate.Load(),
		PacketsStale:       m.packetsStale.Load(),
		PacketsRejected:    m.packetsRejected.Load(),
		PacketsDrained:     m.packetsDrained.Load(),
		ChannelResets:      m.channelResets.Load(),
		RecoveryStarts:     m.recoveryStarts.Load(),
		RecoveryStops:      m.recoveryStops.Load(),
		EventCommits:       m.eventCommits.Load(),
		AvgLatencyNs:       avgLatency,
		ActiveReceivers:    m.activeReceivers.Load(),
		Timestamp:          time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	*m = Metrics{}
}
