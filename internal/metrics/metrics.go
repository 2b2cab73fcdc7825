// Package metrics defines the Prometheus collectors shared by the tutor
// components. Collectors register on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionDecisions counts gate decisions by class and result.
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_admission_decisions_total",
		Help: "Rate-limit decisions by request class and result",
	}, []string{"class", "result"})

	// CacheLookups counts response cache lookups by result (hit, miss, degraded).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_cache_lookups_total",
		Help: "Response cache lookups by result",
	}, []string{"result"})

	// CacheEntries tracks the current response cache size.
	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tutor_cache_entries",
		Help: "Entries currently held in the response cache",
	})

	// AnswerDuration tracks answer generation latency.
	AnswerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tutor_answer_duration_seconds",
		Help:    "Answer generation latency by outcome",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 11), // 50ms to ~51s
	}, []string{"outcome"})

	// ProgressOps counts progress operations by op and result.
	ProgressOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_progress_operations_total",
		Help: "Progress store operations by operation and result",
	}, []string{"op", "result"})

	// SchedulerTicks counts scheduler ticks by outcome.
	SchedulerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_scheduler_ticks_total",
		Help: "Scheduler ticks by outcome",
	}, []string{"outcome"})

	// SchedulerCursor is the next lesson index the scheduler will publish.
	SchedulerCursor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tutor_scheduler_cursor",
		Help: "Next lesson index to be published",
	})

	// FeedClients tracks connected lesson feed websocket clients.
	FeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tutor_feed_clients",
		Help: "Connected lesson feed clients",
	})
)

// Result labels.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
	ResultOK      = "ok"
	ResultError   = "error"
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultDropped = "dropped"
)
