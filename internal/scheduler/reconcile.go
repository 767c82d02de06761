package scheduler

import (
	"context"

	invoicedomain "github.com/smallbiznis/clinicbilling/internal/invoice/domain"
	"go.uber.org/zap"
)

// RunReconciliation re-applies tenant expirations left pending by invoice
// generation.
func (s *Scheduler) RunReconciliation(ctx context.Context) (invoicedomain.ReconcileSummary, error) {
	ctx, run, owner := s.ensureJobRun(ctx, JobReconcile)
	if owner {
		s.logJobStart(ctx, run)
	}

	summary, err := s.invoiceSvc.ReconcileExpirations(ctx, s.cfg.ReconcileBatchSize)
	fields := []zap.Field{
		zap.String("job", JobReconcile),
		zap.Int("scanned", summary.Scanned),
		zap.Int("applied", summary.Applied),
		zap.Int("deferred", summary.Deferred),
	}
	if err != nil {
		s.logger(ctx).Warn("reconcile.run.failed", append(fields, zap.Error(err))...)
		return summary, err
	}
	if summary.Scanned > 0 {
		s.logger(ctx).Info("reconcile.run.finish", fields...)
	}
	return summary, nil
}
