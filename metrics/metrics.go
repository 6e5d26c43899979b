// Package metrics wraps prometheus/client_golang the way the teacher's
// metrics package wraps its telemetry backends: a small set of
// package-level collectors registered once, plus a Time helper so call
// sites never import prometheus directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BufferCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sel4service",
		Subsystem: "bio",
		Name:      "cache_hits_total",
		Help:      "Buffer cache lookups satisfied by an already-resident buffer.",
	})

	BufferCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sel4service",
		Subsystem: "bio",
		Name:      "cache_misses_total",
		Help:      "Buffer cache lookups requiring a device read.",
	})

	BufferEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sel4service",
		Subsystem: "bio",
		Name:      "evictions_total",
		Help:      "Buffers reassigned to a new (dev, blockno).",
	})

	InodeTableOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sel4service",
		Subsystem: "inode",
		Name:      "table_occupancy",
		Help:      "Number of in-memory inode table slots with ref > 0.",
	})

	FileTableOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sel4service",
		Subsystem: "file",
		Name:      "table_occupancy",
		Help:      "Number of open-file table slots with ref > 0.",
	})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sel4service",
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Requests handled by the syscall dispatcher, by opcode and result.",
	}, []string{"label", "result"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sel4service",
		Subsystem: "dispatch",
		Name:      "request_duration_seconds",
		Help:      "Time spent handling a dispatched request, by opcode.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"label"})

	TransportMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sel4service",
		Subsystem: "transport",
		Name:      "messages_total",
		Help:      "Messages sent or received, by transport kind and direction.",
	}, []string{"kind", "direction"})
)

// Time starts a histogram timer against obs and returns a func that
// stops it and records the observation, so call sites never import
// prometheus directly: defer metrics.Time(metrics.RequestDuration.WithLabelValues(label))().
func Time(obs prometheus.Observer) func() {
	timer := prometheus.NewTimer(obs)
	return func() { timer.ObserveDuration() }
}
