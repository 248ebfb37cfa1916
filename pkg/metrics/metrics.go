package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tenant metrics
	TenantsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stash_tenants_total",
			Help: "Total number of tenants by status",
		},
		[]string{"status"},
	)

	// Migration metrics
	MigrationsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stash_migrations_running",
			Help: "Number of migration jobs currently copying files",
		},
	)

	MigrationsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stash_migrations_queued",
			Help: "Number of migration jobs waiting for a worker slot",
		},
	)

	MigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stash_migrations_total",
			Help: "Total number of finished migrations by status",
		},
		[]string{"status"},
	)

	MigrationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stash_migration_duration_seconds",
			Help:    "Wall time of a migration job in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		},
	)

	// Transfer metrics
	TransferFilesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stash_transfer_files_total",
			Help: "Total number of files copied between backends",
		},
	)

	TransferBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stash_transfer_bytes_total",
			Help: "Total number of bytes copied between backends",
		},
	)

	TransferErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stash_transfer_errors_total",
			Help: "Total number of failed file transfers by stage",
		},
		[]string{"stage"},
	)

	// Storage metrics
	StorageBackendsPooled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stash_storage_backends_pooled",
			Help: "Number of backend clients held in the storage pool",
		},
	)

	StorageProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stash_storage_probe_duration_seconds",
			Help:    "Time taken to probe a storage backend in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "result"},
	)

	// Reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stash_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stash_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	TenantsRecoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stash_tenants_recovered_total",
			Help: "Total number of tenants released from an interrupted migration",
		},
	)
)

func init() {
	prometheus.MustRegister(TenantsTotal)
	prometheus.MustRegister(MigrationsRunning)
	prometheus.MustRegister(MigrationsQueued)
	prometheus.MustRegister(MigrationsTotal)
	prometheus.MustRegister(MigrationDuration)
	prometheus.MustRegister(TransferFilesTotal)
	prometheus.MustRegister(TransferBytesTotal)
	prometheus.MustRegister(TransferErrorsTotal)
	prometheus.MustRegister(StorageBackendsPooled)
	prometheus.MustRegister(StorageProbeDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(TenantsRecoveredTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time under the given label values
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
