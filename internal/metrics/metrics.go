// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestRuns counts ingest runs by result
	IngestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brenner_ingest_runs_total",
		Help: "Total ingest runs by result",
	}, []string{"result"})

	// IngestDuration tracks end-to-end ingest latency
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "brenner_ingest_duration_seconds",
		Help:    "Ingest run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	// DeltaBlocks counts parsed delta blocks by validity
	DeltaBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brenner_delta_blocks_total",
		Help: "Delta blocks parsed, by outcome",
	}, []string{"outcome"})

	// MergeOperations counts merge outcomes by section and result
	MergeOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brenner_merge_operations_total",
		Help: "Operations folded into artifacts by section and result",
	}, []string{"section", "result"})

	// StoreWrites counts session store writes by store and result
	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brenner_store_writes_total",
		Help: "Session store read-modify-write cycles by store and result",
	}, []string{"store", "result"})

	// IndexRebuilds counts index rebuilds by trigger
	IndexRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brenner_index_rebuilds_total",
		Help: "Anomaly index rebuilds by trigger",
	}, []string{"trigger"})

	// IndexRebuildDuration tracks index rebuild latency
	IndexRebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "brenner_index_rebuild_duration_seconds",
		Help:    "Anomaly index rebuild duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	// StorageWarnings counts skipped or unreadable files
	StorageWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brenner_storage_warnings_total",
		Help: "Session or index files that could not be read",
	})
)

// Result labels
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultValid    = "valid"
	ResultInvalid  = "invalid"
)
