package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// outcome labels for RequireLockTotal
const (
	StatusGranted  = "granted"
	StatusConflict = "conflict"
	StatusError    = "error"
)

var (
	// require lock calls - refresh and check both land here
	// labels: status (granted/conflict/error)
	// conflict / total gives the contention rate across pages
	RequireLockTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagelock_require_total",
			Help: "total number of require lock calls",
		},
		[]string{"status"},
	)

	// time spent in require lock, guard wait included
	RequireLockDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagelock_require_duration_seconds",
			Help:    "time taken to require a lock",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
	)

	// explicit releases, idempotent calls included
	ReleaseLockTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagelock_release_total",
			Help: "total number of release lock calls",
		},
	)

	// new leases inserted
	LeaseCreateTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagelock_leases_created_total",
			Help: "total number of leases created",
		},
	)

	// refreshes of an existing lease by its owner (heartbeats)
	// a drop while pages are open means clients stopped pinging
	LeaseRefreshTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagelock_leases_refreshed_total",
			Help: "total number of lease refreshes",
		},
	)

	// leases removed by the expiry sweep
	// spikes mean editors closed pages without releasing
	LeaseSweepTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagelock_leases_swept_total",
			Help: "total number of expired leases deleted by the sweep",
		},
	)

	// time spent waiting for the critical section
	// every operation on every page serializes here
	GuardWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagelock_guard_wait_seconds",
			Help:    "time spent waiting to enter the critical section",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
		},
	)

	// service uptime - always 1 when running
	Up = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagelock_up",
			Help: "whether the service is up (always 1 when running)",
		},
	)
)

func init() {
	Up.Set(1)
}
