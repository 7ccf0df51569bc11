package infra

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mdp"

type counterDesc struct {
	desc  *prometheus.Desc
	value func(MetricsSnapshot) float64
}

// MetricsCollector exports a Metrics instance as Prometheus metrics.
type MetricsCollector struct {
	m        *Metrics
	counters []counterDesc
	latency  *prometheus.Desc
	active   *prometheus.Desc
}

// NewMetricsCollector builds a collector over m.
func NewMetricsCollector(m *Metrics) *MetricsCollector {
	counter := func(name, help string, v func(MetricsSnapshot) float64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, nil),
			value: v,
		}
	}
	packets := func(feed string, v func(MetricsSnapshot) float64) counterDesc {
		return counterDesc{
			desc: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "feed", "packets_total"),
				"Datagrams received per feed type.", nil, prometheus.Labels{"feed": feed}),
			value: v,
		}
	}
	return &MetricsCollector{
		m: m,
		counters: []counterDesc{
			packets("incremental", func(s MetricsSnapshot) float64 { return float64(s.IncrementalPackets) }),
			packets("snapshot", func(s MetricsSnapshot) float64 { return float64(s.SnapshotPackets) }),
			packets("instrument", func(s MetricsSnapshot) float64 { return float64(s.InstrumentPackets) }),
			counter("malformed_packets_total", "Datagrams that failed framing.", func(s MetricsSnapshot) float64 { return float64(s.MalformedPackets) }),
			counter("applied_packets_total", "Incremental packets applied.", func(s MetricsSnapshot) float64 { return float64(s.PacketsApplied) }),
			counter("buffered_packets_total", "Incremental packets buffered ahead of sequence.", func(s MetricsSnapshot) float64 { return float64(s.PacketsBuffered) }),
			counter("overwritten_packets_total", "Buffered packets lost to a newer sequence.", func(s MetricsSnapshot) float64 { return float64(s.PacketsOverwritten) }),
			counter("duplicate_packets_total", "Incremental packets already buffered.", func(s MetricsSnapshot) float64 { return float64(s.PacketsDuplicate) }),
			counter("stale_packets_total", "Incremental packets at or below the processed sequence.", func(s MetricsSnapshot) float64 { return float64(s.PacketsStale) }),
			counter("rejected_packets_total", "Incremental packets the queue could not hold.", func(s MetricsSnapshot) float64 { return float64(s.PacketsRejected) }),
			counter("drained_packets_total", "Buffered packets applied by a drain.", func(s MetricsSnapshot) float64 { return float64(s.PacketsDrained) }),
			counter("channel_resets_total", "Channel resets triggered by empty book entries.", func(s MetricsSnapshot) float64 { return float64(s.ChannelResets) }),
			counter("recovery_starts_total", "Snapshot recoveries started.", func(s MetricsSnapshot) float64 { return float64(s.RecoveryStarts) }),
			counter("recovery_stops_total", "Snapshot recoveries completed.", func(s MetricsSnapshot) float64 { return float64(s.RecoveryStops) }),
			counter("event_commits_total", "Instrument events committed at event boundaries.", func(s MetricsSnapshot) float64 { return float64(s.EventCommits) }),
		},
		latency: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", "apply_latency_avg_ns"),
			"Average incremental packet apply latency.", nil, nil),
		active: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", "active_receivers"),
			"Multicast receivers currently running.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	ch <- c.latency
	ch <- c.active
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()
	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, cd.value(snap))
	}
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, float64(snap.AvgLatencyNs))
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(snap.ActiveReceivers))
}
