package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	dunningdomain "github.com/smallbiznis/clinicbilling/internal/dunning/domain"
	"github.com/smallbiznis/clinicbilling/internal/notification"
	tenantdomain "github.com/smallbiznis/clinicbilling/internal/tenant/domain"
	"go.uber.org/zap"
)

// RunDunning suspends every tenant past the grace window and notifies its
// admins. Per-tenant failures are counted, never returned.
func (s *Scheduler) RunDunning(ctx context.Context) (DunningSummary, error) {
	started := time.Now()
	ctx, run, owner := s.ensureJobRun(ctx, JobDunning)
	if owner {
		s.logJobStart(ctx, run)
	}

	cfg := s.billingCfg.Get()
	log := s.logger(ctx).With(zap.String("job", JobDunning))
	log.Info("dunning.run.start",
		zap.Int("grace_days", cfg.Dunning.GraceDays),
		zap.Int("threshold", cfg.Dunning.SuspensionThreshold),
	)

	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	candidates, err := s.dunningSvc.FindSuspensionCandidates(queryCtx, cfg.Dunning.GraceDays)
	cancel()
	if err != nil {
		log.Error("dunning.run.query_failed", zap.Error(err))
		return DunningSummary{}, fmt.Errorf("find suspension candidates: %w", err)
	}

	t := newTally(JobDunning)
	stopErr := forEachTenant(ctx, s.cfg.Concurrency, candidates, func(c dunningdomain.Candidate) {
		t.record(s.suspendCandidate(ctx, c))
	})

	summary := t.dunning(started)
	summary.Candidates = len(candidates)
	if stopErr != nil {
		log.Warn("dunning.run.cancelled", append(summary.fields(), zap.Error(stopErr))...)
		return summary, stopErr
	}
	log.Info("dunning.run.finish", summary.fields()...)
	return summary, nil
}

func (s *Scheduler) suspendCandidate(parent context.Context, c dunningdomain.Candidate) tenantOutcome {
	ctx, cancel := s.tenantContext(parent, c.Tenant.ID)
	defer cancel()
	log := s.logger(ctx).With(
		zap.String("job", JobDunning),
		zap.Int("unpaid_count", c.UnpaidCount),
		zap.Int("days_overdue", c.DaysOverdue),
	)

	release, ok := s.lockTenant(ctx, JobDunning, c.Tenant.ID)
	if !ok {
		log.Info("dunning.tenant.skipped", zap.String("reason", SkipLocked))
		return skipped(SkipLocked)
	}
	defer release()

	storeCtx, storeCancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	tenant, changed, err := s.tenantSvc.Suspend(storeCtx, c.Tenant.ID, tenantdomain.SuspensionReasonOverdue)
	storeCancel()
	if err != nil {
		if errors.Is(err, tenantdomain.ErrTenantNotFound) {
			log.Warn("dunning.tenant.skipped", zap.String("reason", SkipTenantNotFound))
			return skipped(SkipTenantNotFound)
		}
		s.logTenantError(ctx, "dunning.tenant.failed", JobDunning, c.Tenant.ID, err, zap.String("stage", "suspend"))
		return failed()
	}
	// Another run got here first and already notified the admins.
	if !changed {
		log.Info("dunning.tenant.skipped", zap.String("reason", SkipAlreadySuspended))
		return skipped(SkipAlreadySuspended)
	}

	log.Info("dunning.tenant.suspended",
		zap.String("trigger_invoice_id", c.TriggerInvoice.ID.String()),
		zap.Strings("admin_emails", c.AdminEmails),
	)

	suspendedAt := s.clock.Now()
	if tenant.SuspendedAt != nil {
		suspendedAt = *tenant.SuspendedAt
	}
	outcome := succeeded()
	err = s.notifier.SendSuspensionNotice(ctx, notification.SuspensionNotice{
		Tenant:      tenant,
		Invoices:    c.Invoices,
		DaysOverdue: c.DaysOverdue,
		SuspendedAt: suspendedAt,
	})
	if err != nil {
		outcome.notifyFailed = true
		log.Warn("dunning.tenant.notice_failed", zap.Error(err))
	}
	return outcome
}
