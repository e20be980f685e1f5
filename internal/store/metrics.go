package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Flush triggers.
const (
	TriggerThreshold = "threshold"
	TriggerReplace   = "replace"
	TriggerForce     = "force"
	TriggerShutdown  = "shutdown"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkreview_mutations_total",
		Help: "Accepted mutations by operation",
	}, []string{"operation"})

	conflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkreview_conflicts_total",
		Help: "Replace requests rejected because of a stale version",
	})

	flushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkreview_flush_total",
		Help: "Flush attempts by trigger and result",
	}, []string{"trigger", "result"})

	flushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkreview_flush_duration_seconds",
		Help:    "Duration of flushes to the canonical file in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	flushBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkreview_flush_bytes",
		Help:    "Size of the canonical file written by successful flushes",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
	})

	pendingMutations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linkreview_pending_mutations",
		Help: "Mutations accepted since the last successful flush",
	})

	recordsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linkreview_records",
		Help: "Number of records in the collection",
	})

	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linkreview_sessions",
		Help: "Reviewer sessions currently tracked",
	})

	checkoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkreview_checkouts_total",
		Help: "Next-available requests by result",
	}, []string{"result"})
)
