package prometheus

import (
	"errors"
	"strconv"
	"time"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/models"
	promclient "github.com/prometheus/client_golang/prometheus"
)

// Business-level metrics for the directory synchronizer
// These track actual business operations, not just HTTP requests

var (
	// ═══════════════════════════════════════════════════════════════════════════
	// ROW METRICS
	// ═══════════════════════════════════════════════════════════════════════════

	// RowsTotal - Counter of processed rows, labeled by terminal outcome
	RowsTotal = promclient.NewCounterVec(
		promclient.CounterOpts{
			Name: "dirsync_rows_total",
			Help: "Total number of input rows processed by outcome",
		},
		[]string{"outcome"}, // "created", "updated", "skipped", "failed", "rejected"
	)

	// BatchDuration - Histogram of whole batch duration
	BatchDuration = promclient.NewHistogramVec(
		promclient.HistogramOpts{
			Name:    "dirsync_batch_duration_seconds",
			Help:    "Duration of import batches in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"mode"},
	)

	// BatchesTotal - Counter of batches, labeled by mode and result
	BatchesTotal = promclient.NewCounterVec(
		promclient.CounterOpts{
			Name: "dirsync_batches_total",
			Help: "Total number of import batches",
		},
		[]string{"mode", "status"}, // "success", "partial", "aborted", "error"
	)

	// ═══════════════════════════════════════════════════════════════════════════
	// DEPARTMENT METRICS
	// ═══════════════════════════════════════════════════════════════════════════

	// DepartmentsCreatedTotal - Counter of departments created by the reconciler
	DepartmentsCreatedTotal = promclient.NewCounter(
		promclient.CounterOpts{
			Name: "dirsync_departments_created_total",
			Help: "Total number of departments created",
		},
	)

	// DepartmentsTotal - Gauge of departments in the last loaded hierarchy
	DepartmentsTotal = promclient.NewGauge(
		promclient.GaugeOpts{
			Name: "dirsync_departments",
			Help: "Number of departments in the last loaded hierarchy",
		},
	)

	// ═══════════════════════════════════════════════════════════════════════════
	// REMOTE API METRICS
	// ═══════════════════════════════════════════════════════════════════════════

	// RemoteRetriesTotal - Counter of retried remote calls, labeled by the failing status
	RemoteRetriesTotal = promclient.NewCounterVec(
		promclient.CounterOpts{
			Name: "dirsync_remote_retries_total",
			Help: "Total number of retried directory API calls",
		},
		[]string{"status"}, // HTTP status or "network"
	)

	// CacheRefreshTotal - Counter of snapshot reloads
	CacheRefreshTotal = promclient.NewCounterVec(
		promclient.CounterOpts{
			Name: "dirsync_cache_refresh_total",
			Help: "Total number of directory snapshot reloads",
		},
		[]string{"entity"}, // "users", "departments"
	)

	// UsersTotal - Gauge of identities in the last loaded listing
	UsersTotal = promclient.NewGauge(
		promclient.GaugeOpts{
			Name: "dirsync_users",
			Help: "Number of identities in the last loaded listing",
		},
	)

	// ═══════════════════════════════════════════════════════════════════════════
	// OPERATION DURATION METRICS (Business-level, distinct from HTTP metrics)
	// ═══════════════════════════════════════════════════════════════════════════

	// OperationDuration - Histogram of directory operation durations
	OperationDuration = promclient.NewHistogramVec(
		promclient.HistogramOpts{
			Name:    "dirsync_operation_duration_seconds",
			Help:    "Duration of directory operations in seconds",
			Buckets: promclient.DefBuckets,
		},
		[]string{"operation", "success"}, // operation name, "true" or "false"
	)

	// OperationsTotal - Counter of all directory operations
	OperationsTotal = promclient.NewCounterVec(
		promclient.CounterOpts{
			Name: "dirsync_operations_total",
			Help: "Total number of directory operations",
		},
		[]string{"operation", "success"}, // operation name, "true" or "false"
	)
)

// Init registers all metrics with Prometheus
func Init() {
	Register(promclient.DefaultRegisterer)
}

// Register registers all metrics with reg
func Register(reg promclient.Registerer) {
	reg.MustRegister(
		RowsTotal,
		BatchDuration,
		BatchesTotal,
		DepartmentsCreatedTotal,
		DepartmentsTotal,
		RemoteRetriesTotal,
		CacheRefreshTotal,
		UsersTotal,
		OperationDuration,
		OperationsTotal,
	)
}

// ObserveRetry is a directory.Options.OnRetry hook
func ObserveRetry(_ string, err error, _ time.Duration) {
	status := "network"
	var transient *directory.RemoteTransientError
	if errors.As(err, &transient) && transient.Status != 0 {
		status = strconv.Itoa(transient.Status)
	}
	RemoteRetriesTotal.WithLabelValues(status).Inc()
}

// ObserveRefresh is a directory.Cache.OnRefresh hook
func ObserveRefresh(entity string) {
	CacheRefreshTotal.WithLabelValues(entity).Inc()
}

// ObserveBatch records the outcome counters of a finished batch
func ObserveBatch(report *models.BatchReport) {
	if report == nil {
		return
	}
	for _, o := range report.Outcomes {
		RowsTotal.WithLabelValues(string(o.Kind)).Inc()
	}
	if !report.DryRun {
		DepartmentsCreatedTotal.Add(float64(len(report.DepartmentsCreated)))
	}
	BatchDuration.WithLabelValues(string(report.Mode)).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	status := "success"
	if report.Count(models.OutcomeFailed) > 0 {
		status = "partial"
	}
	BatchesTotal.WithLabelValues(string(report.Mode), status).Inc()
}

// ObserveAbort records a batch that stopped before any mutation
func ObserveAbort(mode models.Mode, rejected int) {
	RowsTotal.WithLabelValues("rejected").Add(float64(rejected))
	BatchesTotal.WithLabelValues(string(mode), "aborted").Inc()
}
