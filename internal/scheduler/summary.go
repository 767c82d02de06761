package scheduler

import (
	"sync"
	"time"

	obsmetrics "github.com/smallbiznis/clinicbilling/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	SkipPeriodExists   = "PERIOD_EXISTS"
	SkipLocked         = "LOCKED"
	SkipTenantNotFound = "TENANT_NOT_FOUND"

	SkipAlreadySuspended = "ALREADY_SUSPENDED"
)

// RunSummary reports one billing cycle run.
type RunSummary struct {
	Period                string
	WindowStart           time.Time
	WindowEnd             time.Time
	Candidates            int
	Success               int
	Skipped               int
	Failed                int
	ReconciliationPending int
	DurationMs            int64
	SkippedByReason       map[string]int
}

// DunningSummary reports one dunning run.
type DunningSummary struct {
	Candidates          int
	Suspended           int
	Skipped             int
	Failed              int
	NotificationsFailed int
	DurationMs          int64
	SkippedByReason     map[string]int
}

type tenantOutcome struct {
	outcome      string
	reason       string
	pending      bool
	notifyFailed bool
}

func succeeded() tenantOutcome { return tenantOutcome{outcome: obsmetrics.OutcomeSuccess} }

func skipped(reason string) tenantOutcome {
	return tenantOutcome{outcome: obsmetrics.OutcomeSkipped, reason: reason}
}

func failed() tenantOutcome { return tenantOutcome{outcome: obsmetrics.OutcomeFailed} }

// tally aggregates tenant outcomes from concurrent workers.
type tally struct {
	mu           sync.Mutex
	job          string
	success      int
	skipped      int
	failed       int
	pending      int
	notifyFailed int
	byReason     map[string]int
}

func newTally(job string) *tally {
	return &tally{job: job, byReason: map[string]int{}}
}

func (t *tally) record(o tenantOutcome) {
	jobs := obsmetrics.Jobs()
	t.mu.Lock()
	defer t.mu.Unlock()

	switch o.outcome {
	case obsmetrics.OutcomeSuccess:
		t.success++
		jobs.IncTenantOutcome(t.job, obsmetrics.OutcomeSuccess)
	case obsmetrics.OutcomeSkipped:
		t.skipped++
		t.byReason[o.reason]++
		jobs.IncTenantSkipped(t.job, o.reason)
	default:
		t.failed++
		jobs.IncTenantOutcome(t.job, obsmetrics.OutcomeFailed)
	}
	if o.pending {
		t.pending++
		jobs.IncReconciliationPending()
	}
	if o.notifyFailed {
		t.notifyFailed++
	}
}

func (t *tally) billing(started time.Time) RunSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return RunSummary{
		Success:               t.success,
		Skipped:               t.skipped,
		Failed:                t.failed,
		ReconciliationPending: t.pending,
		DurationMs:            time.Since(started).Milliseconds(),
		SkippedByReason:       copyReasons(t.byReason),
	}
}

func (t *tally) dunning(started time.Time) DunningSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return DunningSummary{
		Suspended:           t.success,
		Skipped:             t.skipped,
		Failed:              t.failed,
		NotificationsFailed: t.notifyFailed,
		DurationMs:          time.Since(started).Milliseconds(),
		SkippedByReason:     copyReasons(t.byReason),
	}
}

func copyReasons(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (r RunSummary) fields() []zap.Field {
	return []zap.Field{
		zap.String("period", r.Period),
		zap.Time("window_start", r.WindowStart),
		zap.Time("window_end", r.WindowEnd),
		zap.Int("candidates", r.Candidates),
		zap.Int("success", r.Success),
		zap.Int("skipped", r.Skipped),
		zap.Int("failed", r.Failed),
		zap.Int("reconciliation_pending", r.ReconciliationPending),
		zap.Int64("duration_ms", r.DurationMs),
		zap.Any("skipped_by_reason", r.SkippedByReason),
	}
}

func (r DunningSummary) fields() []zap.Field {
	return []zap.Field{
		zap.Int("candidates", r.Candidates),
		zap.Int("suspended", r.Suspended),
		zap.Int("skipped", r.Skipped),
		zap.Int("failed", r.Failed),
		zap.Int("notifications_failed", r.NotificationsFailed),
		zap.Int64("duration_ms", r.DurationMs),
		zap.Any("skipped_by_reason", r.SkippedByReason),
	}
}
