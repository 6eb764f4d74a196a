package storage

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the prometheus collectors this package's write path
// reports to. Construct one with NewMetrics and register it on a
// *prometheus.Registry, or use NewNopMetrics for an unregistered instance
// that is safe to call but invisible to any scraper.
//
// BloomProbes and BloomNegatives are created and registered, but no code in
// this package increments them: BloomFilterReader.MayContain records no
// metrics.
type Metrics struct {
	Writes          prometheus.Counter
	Reads           prometheus.Counter
	Deletes         prometheus.Counter
	WALSyncDuration prometheus.Histogram
	MemtableSize    prometheus.Gauge
	BloomProbes     prometheus.Counter
	BloomNegatives  prometheus.Counter
	FlushDuration   prometheus.Histogram
	RecoveredRecords prometheus.Counter
}

// NewMetrics builds collectors under the "lsmtree" namespace and, if reg is
// non-nil, registers them on it.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsmtree", Subsystem: "storage", Name: "writes_total",
			Help: "Number of Put/Delete operations accepted by the MemTableManager.",
		}),
		Reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsmtree", Subsystem: "storage", Name: "reads_total",
			Help: "Number of Get operations served from memtables.",
		}),
		Deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsmtree", Subsystem: "storage", Name: "deletes_total",
			Help: "Number of tombstones written.",
		}),
		WALSyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lsmtree", Subsystem: "wal", Name: "sync_duration_seconds",
			Help:    "Latency of fsync calls issued by the WAL writer.",
			Buckets: prometheus.DefBuckets,
		}),
		MemtableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lsmtree", Subsystem: "storage", Name: "active_memtable_bytes",
			Help: "Approximate memory usage of the active memtable.",
		}),
		BloomProbes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsmtree", Subsystem: "bloom", Name: "probes_total",
			Help: "Number of MayContain probes against bloom filters.",
		}),
		BloomNegatives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsmtree", Subsystem: "bloom", Name: "negatives_total",
			Help: "Number of MayContain probes that returned false.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lsmtree", Subsystem: "sstable", Name: "flush_duration_seconds",
			Help:    "Wall-clock time to write a memtable out as an SSTable.",
			Buckets: prometheus.DefBuckets,
		}),
		RecoveredRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsmtree", Subsystem: "wal", Name: "recovered_records_total",
			Help: "Number of WAL records replayed during Recover.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Writes, m.Reads, m.Deletes, m.WALSyncDuration, m.MemtableSize,
			m.BloomProbes, m.BloomNegatives, m.FlushDuration, m.RecoveredRecords,
		)
	}
	return m
}

// NewNopMetrics returns collectors that are never registered, so they can
// be updated freely by a caller that doesn't care about exposing them.
func NewNopMetrics() *Metrics {
	return NewMetrics(nil)
}
