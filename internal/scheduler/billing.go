package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/clinicbilling/internal/config"
	invoicedomain "github.com/smallbiznis/clinicbilling/internal/invoice/domain"
	"github.com/smallbiznis/clinicbilling/internal/notification"
	tenantdomain "github.com/smallbiznis/clinicbilling/internal/tenant/domain"
	"go.uber.org/zap"
)

// BillingWindow returns [start, end) covering the whole day lookaheadDays
// after now in loc.
func BillingWindow(now time.Time, lookaheadDays int, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	target := now.In(loc).AddDate(0, 0, lookaheadDays)
	start := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// RunBillingCycle invoices every tenant whose expiration falls on the
// lookahead day. Per-tenant failures are counted, never returned; only a
// failed tenant query or parent cancellation yields an error.
func (s *Scheduler) RunBillingCycle(ctx context.Context) (RunSummary, error) {
	started := time.Now()
	ctx, run, owner := s.ensureJobRun(ctx, JobBilling)
	if owner {
		s.logJobStart(ctx, run)
	}

	cfg := s.billingCfg.Get()
	from, to := BillingWindow(s.clock.Now(), cfg.Cycle.LookaheadDays, cfg.Cycle.Location())
	period := s.invoiceSvc.Period()
	log := s.logger(ctx).With(zap.String("job", JobBilling), zap.String("period", period))

	log.Info("billing.run.start",
		zap.Time("window_start", from),
		zap.Time("window_end", to),
		zap.String("eligible_state", cfg.Cycle.EligibleState),
	)

	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	tenants, err := s.tenantRepo.FindDueForBilling(queryCtx, s.db, from, to, tenantdomain.PaymentState(cfg.Cycle.EligibleState))
	cancel()
	if err != nil {
		log.Error("billing.run.query_failed", zap.Error(err))
		return RunSummary{Period: period, WindowStart: from, WindowEnd: to}, fmt.Errorf("find tenants due for billing: %w", err)
	}

	t := newTally(JobBilling)
	stopErr := forEachTenant(ctx, s.cfg.Concurrency, tenants, func(tenant *tenantdomain.Tenant) {
		t.record(s.billTenant(ctx, tenant, period, cfg))
	})

	summary := t.billing(started)
	summary.Period = period
	summary.WindowStart = from
	summary.WindowEnd = to
	summary.Candidates = len(tenants)

	if stopErr != nil {
		log.Warn("billing.run.cancelled", append(summary.fields(), zap.Error(stopErr))...)
		return summary, stopErr
	}
	log.Info("billing.run.finish", summary.fields()...)
	return summary, nil
}

func (s *Scheduler) billTenant(parent context.Context, tenant *tenantdomain.Tenant, period string, cfg config.BillingConfig) tenantOutcome {
	ctx, cancel := s.tenantContext(parent, tenant.ID)
	defer cancel()
	log := s.logger(ctx).With(zap.String("job", JobBilling), zap.String("period", period))

	release, ok := s.lockTenant(ctx, JobBilling, tenant.ID)
	if !ok {
		log.Info("billing.tenant.skipped", zap.String("reason", SkipLocked))
		return skipped(SkipLocked)
	}
	defer release()

	storeCtx, storeCancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	exists, err := s.invoiceSvc.HasInvoiceForPeriod(storeCtx, tenant.ID, period)
	storeCancel()
	if err != nil {
		s.logTenantError(ctx, "billing.tenant.failed", JobBilling, tenant.ID, err, zap.String("stage", "period_check"))
		return failed()
	}
	if exists {
		log.Debug("billing.tenant.skipped", zap.String("reason", SkipPeriodExists))
		return skipped(SkipPeriodExists)
	}

	storeCtx, storeCancel = context.WithTimeout(ctx, s.cfg.StoreTimeout)
	eligibility, err := s.invoiceSvc.Evaluate(storeCtx, tenant.ID)
	storeCancel()
	if err != nil {
		s.logTenantError(ctx, "billing.tenant.failed", JobBilling, tenant.ID, err, zap.String("stage", "eligibility"))
		return failed()
	}
	if !eligibility.CanGenerate {
		log.Info("billing.tenant.skipped",
			zap.String("reason", string(eligibility.Reason)),
			zap.Int("unpaid_count", eligibility.UnpaidCount),
		)
		return skipped(string(eligibility.Reason))
	}

	result, err := s.invoiceSvc.Generate(ctx, tenant.ID)
	if err != nil {
		return s.classifyGenerateError(ctx, log, tenant, err)
	}

	outcome := succeeded()
	outcome.pending = result.ReconciliationPending
	log.Info("billing.tenant.invoiced",
		zap.String("invoice_id", result.Invoice.ID.String()),
		zap.String("amount", result.Invoice.Amount.StringFixed(2)),
		zap.Int("unpaid_count", result.UnpaidCount),
		zap.Bool("reconciliation_pending", result.ReconciliationPending),
	)

	// Notices go out with the invoice's tenant snapshot; failures only log.
	if err := s.notifier.SendInvoiceNotice(ctx, notification.InvoiceNotice{Tenant: *tenant, Invoice: result.Invoice}); err != nil {
		outcome.notifyFailed = true
		log.Warn("billing.tenant.notice_failed", zap.Error(err))
	}
	if result.IsSecondUnpaidInvoice {
		log.Warn("billing.tenant.at_risk",
			zap.Int("unpaid_count", result.UnpaidCount),
			zap.Int("grace_days", cfg.Dunning.GraceDays),
		)
		err := s.notifier.SendRiskNotice(ctx, notification.RiskNotice{
			Tenant:      *tenant,
			Invoice:     result.Invoice,
			UnpaidCount: result.UnpaidCount,
			GraceDays:   cfg.Dunning.GraceDays,
		})
		if err != nil {
			outcome.notifyFailed = true
			log.Warn("billing.tenant.risk_notice_failed", zap.Error(err))
		}
	}
	return outcome
}

func (s *Scheduler) classifyGenerateError(ctx context.Context, log *zap.Logger, tenant *tenantdomain.Tenant, err error) tenantOutcome {
	var notEligible *invoicedomain.NotEligibleError
	switch {
	case errors.Is(err, invoicedomain.ErrAlreadyInvoiced):
		log.Info("billing.tenant.skipped", zap.String("reason", SkipPeriodExists))
		return skipped(SkipPeriodExists)
	case errors.As(err, &notEligible):
		log.Info("billing.tenant.skipped", zap.String("reason", string(notEligible.Result.Reason)))
		return skipped(string(notEligible.Result.Reason))
	case errors.Is(err, invoicedomain.ErrNotEligible):
		log.Info("billing.tenant.skipped", zap.String("reason", string(invoicedomain.ReasonMaxUnpaidReached)))
		return skipped(string(invoicedomain.ReasonMaxUnpaidReached))
	case errors.Is(err, tenantdomain.ErrTenantNotFound):
		log.Warn("billing.tenant.skipped", zap.String("reason", SkipTenantNotFound))
		return skipped(SkipTenantNotFound)
	default:
		s.logTenantError(ctx, "billing.tenant.failed", JobBilling, tenant.ID, err, zap.String("stage", "generate"))
		return failed()
	}
}
