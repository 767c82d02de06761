package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ErrorTypeDeadlineExceeded = "deadline_exceeded"
	ErrorTypeBusinessRule     = "business_rule"
	ErrorTypeDB               = "db"
	ErrorTypeUnknown          = "unknown"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonUnknown              = "unknown"
)

const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

const (
	LockResourceTenantForBilling = "tenant_for_billing"
	LockResourceTenantForSuspend = "tenant_for_suspend"
	LockResourceRedisTenant      = "redis_tenant_lock"
)

// JobMetrics captures billing and dunning job health signals.
type JobMetrics struct {
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobTimeouts     *prometheus.CounterVec
	jobErrors       *prometheus.CounterVec
	tenantOutcomes  *prometheus.CounterVec
	tenantSkips     *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	reconcilePend   prometheus.Counter
	dbLockWait      *prometheus.HistogramVec
	lockWaitObserve map[string]prometheus.Observer
}

var (
	jobMetricsOnce sync.Once
	jobMetrics     *JobMetrics
)

// Jobs returns the singleton job metrics registry.
func Jobs() *JobMetrics {
	return JobsWithConfig(Config{})
}

// JobsWithConfig returns the singleton job metrics registry using config labels.
func JobsWithConfig(cfg Config) *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobMetrics = newJobMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return jobMetrics
}

// ResetJobMetricsForTest resets the job metrics singleton for tests.
func ResetJobMetricsForTest() {
	jobMetricsOnce = sync.Once{}
	jobMetrics = nil
}

func newJobMetrics(registerer prometheus.Registerer, cfg Config) *JobMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "clinicbilling"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "clinicbilling_job_runs_total",
		Help:        "Billing job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "clinicbilling_job_duration_seconds",
		Help:        "Billing job latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "clinicbilling_job_timeouts_total",
		Help:        "Billing job runs that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "clinicbilling_job_errors_total",
		Help:        "Billing job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	tenantOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "clinicbilling_tenant_outcomes_total",
		Help:        "Per-tenant results of billing and dunning jobs.",
		ConstLabels: constLabels,
	}, []string{"job", "outcome"})
	tenantSkips := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "clinicbilling_tenant_skips_total",
		Help:        "Skipped tenants by reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "clinicbilling_notifications_total",
		Help:        "Notification sends by kind and result.",
		ConstLabels: constLabels,
	}, []string{"kind", "result"})
	reconcilePend := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "clinicbilling_reconciliation_pending_total",
		Help:        "Invoices whose expiration update was deferred to reconciliation.",
		ConstLabels: constLabels,
	})
	dbLockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "clinicbilling_lock_wait_seconds",
		Help:        "Time spent acquiring tenant locks.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"resource"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		tenantOutcomes,
		tenantSkips,
		notifications,
		reconcilePend,
		dbLockWait,
	)

	return &JobMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobTimeouts:    jobTimeouts,
		jobErrors:      jobErrors,
		tenantOutcomes: tenantOutcomes,
		tenantSkips:    tenantSkips,
		notifications:  notifications,
		reconcilePend:  reconcilePend,
		dbLockWait:     dbLockWait,
		lockWaitObserve: map[string]prometheus.Observer{
			LockResourceTenantForBilling: dbLockWait.WithLabelValues(LockResourceTenantForBilling),
			LockResourceTenantForSuspend: dbLockWait.WithLabelValues(LockResourceTenantForSuspend),
			LockResourceRedisTenant:      dbLockWait.WithLabelValues(LockResourceRedisTenant),
		},
	}
}

func (m *JobMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *JobMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *JobMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the job error counter with a classified reason.
func (m *JobMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *JobMetrics) IncTenantOutcome(job, outcome string) {
	if m == nil {
		return
	}
	m.tenantOutcomes.WithLabelValues(job, outcome).Inc()
}

func (m *JobMetrics) IncTenantSkipped(job, reason string) {
	if m == nil {
		return
	}
	m.tenantOutcomes.WithLabelValues(job, OutcomeSkipped).Inc()
	m.tenantSkips.WithLabelValues(job, reason).Inc()
}

func (m *JobMetrics) IncNotification(kind string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

func (m *JobMetrics) IncReconciliationPending() {
	if m == nil {
		return
	}
	m.reconcilePend.Inc()
}

// ObserveLockWait records time spent acquiring a tenant lock.
func (m *JobMetrics) ObserveLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	if observer, ok := m.lockWaitObserve[resource]; ok {
		observer.Observe(duration.Seconds())
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// ClassifyErrorType returns a low-cardinality error type for logging.
func ClassifyErrorType(err error) string {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorTypeDeadlineExceeded
	}
	if isDBError(err) {
		return ErrorTypeDB
	}
	return ErrorTypeBusinessRule
}

// IsRetryable reports whether the error is worth retrying on the next run.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return isDBError(err)
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return JobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return JobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return JobReasonUniqueViolation
	default:
		return JobReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
