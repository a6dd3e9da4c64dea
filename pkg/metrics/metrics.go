package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CodesGenerated counts generated one-time codes by entry type (totp|hotp).
	CodesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpdeck_codes_generated_total",
			Help: "Total number of one-time codes generated",
		},
		[]string{"type"},
	)

	// UnlockAttempts records vault unlock attempts by result (success|failure).
	UnlockAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpdeck_unlock_attempts_total",
			Help: "Total number of vault unlock attempts",
		},
		[]string{"result"},
	)

	// TransferOperations counts imports and exports by direction, format, and outcome.
	TransferOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpdeck_transfer_operations_total",
			Help: "Total number of import/export operations",
		},
		[]string{"direction", "format", "result"},
	)

	// SnapshotRuns counts snapshot writer runs by outcome (success|failure).
	SnapshotRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpdeck_snapshot_runs_total",
			Help: "Total number of vault snapshot runs",
		},
		[]string{"result"},
	)

	// VaultEntries tracks the number of entries currently stored.
	VaultEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "otpdeck_vault_entries",
			Help: "Number of OTP entries in the vault",
		},
	)

	// StreamSubscribers tracks connected countdown stream clients.
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "otpdeck_stream_subscribers",
			Help: "Number of connected code stream subscribers",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otpdeck_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
