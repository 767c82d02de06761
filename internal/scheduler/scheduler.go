package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbilling/internal/clock"
	"github.com/smallbiznis/clinicbilling/internal/config"
	dunningdomain "github.com/smallbiznis/clinicbilling/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/clinicbilling/internal/invoice/domain"
	"github.com/smallbiznis/clinicbilling/internal/lock"
	"github.com/smallbiznis/clinicbilling/internal/notification"
	obsmetrics "github.com/smallbiznis/clinicbilling/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/clinicbilling/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownJob    = errors.New("unknown_job")
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	BillingCfg *config.BillingConfigHolder
	TenantRepo tenantdomain.Repository
	TenantSvc  tenantdomain.Service
	InvoiceSvc invoicedomain.Service
	DunningSvc dunningdomain.Service
	Notifier   notification.Dispatcher
	Guard      *lock.Guard `optional:"true"`
	Config     Config      `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	billingCfg *config.BillingConfigHolder
	tenantRepo tenantdomain.Repository
	tenantSvc  tenantdomain.Service
	invoiceSvc invoicedomain.Service
	dunningSvc dunningdomain.Service
	notifier   notification.Dispatcher
	guard      *lock.Guard
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.TenantRepo == nil ||
		p.TenantSvc == nil || p.InvoiceSvc == nil || p.DunningSvc == nil || p.Notifier == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		billingCfg: p.BillingCfg,
		tenantRepo: p.TenantRepo,
		tenantSvc:  p.TenantSvc,
		invoiceSvc: p.InvoiceSvc,
		dunningSvc: p.DunningSvc,
		notifier:   p.Notifier,
		guard:      p.Guard,
	}, nil
}

// runJob bounds fn by timeout and records job metrics. A job whose own
// context ran out is logged and reported as a soft failure. Deadline errors
// from inner calls, such as a store timeout, are hard failures.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	jobs := obsmetrics.Jobs()
	jobs.IncJobRun(name)

	err := fn(ctx)
	jobs.ObserveJobDuration(name, time.Since(start))
	if owner {
		s.logJobFinish(ctx, run, err)
	}
	if err == nil {
		return nil
	}

	isTimeout := ctx.Err() != nil &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled))
	if isTimeout {
		jobs.IncJobTimeout(name)
	}
	jobs.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("scheduler.job.timeout",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunJob executes one named job under the job timeout.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	switch name {
	case JobBilling:
		return s.runJob(ctx, name, s.cfg.JobTimeout, func(ctx context.Context) error {
			_, err := s.RunBillingCycle(ctx)
			return err
		})
	case JobDunning:
		return s.runJob(ctx, name, s.cfg.JobTimeout, func(ctx context.Context) error {
			_, err := s.RunDunning(ctx)
			return err
		})
	case JobReconcile:
		return s.runJob(ctx, name, s.cfg.JobTimeout, func(ctx context.Context) error {
			_, err := s.RunReconciliation(ctx)
			return err
		})
	default:
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
}

// RunOnce executes every enabled job in order: billing, reconciliation,
// then dunning.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, name := range []string{JobBilling, JobReconcile, JobDunning} {
		if !s.isJobEnabled(name) {
			continue
		}
		err = errors.Join(err, s.RunJob(parent, name))
	}
	return err
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// forEachTenant runs fn for every item with bounded parallelism. Parent
// cancellation is checked before each item is started; an item in flight
// always runs to completion.
func forEachTenant[T any](ctx context.Context, limit int, items []T, fn func(T)) error {
	g := new(errgroup.Group)
	g.SetLimit(max(limit, 1))

	var stopped atomic.Bool
	for _, item := range items {
		if ctx.Err() != nil {
			stopped.Store(true)
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				stopped.Store(true)
				return nil
			}
			fn(item)
			return nil
		})
	}
	_ = g.Wait()
	if stopped.Load() {
		return ctx.Err()
	}
	return nil
}

// tenantContext detaches the unit of work from parent cancellation while
// keeping its values, and bounds it by the tenant timeout.
func (s *Scheduler) tenantContext(parent context.Context, tenantID snowflake.ID) (context.Context, context.CancelFunc) {
	ctx := s.withLogContext(context.WithoutCancel(parent), tenantID)
	return context.WithTimeout(ctx, s.cfg.TenantTimeout)
}

// lockTenant takes the cross-replica tenant lock. ok is false when another
// worker holds it. Lock errors fall back to running unlocked.
func (s *Scheduler) lockTenant(ctx context.Context, job string, tenantID snowflake.ID) (release func(), ok bool) {
	if !s.guard.Enabled() {
		return func() {}, true
	}
	start := time.Now()
	lease, acquired, err := s.guard.TryLockTenant(ctx, tenantID)
	obsmetrics.Jobs().ObserveLockWait(obsmetrics.LockResourceRedisTenant, time.Since(start))
	if err != nil {
		s.logger(ctx).Warn("scheduler.tenant.lock_unavailable",
			zap.String("job", job),
			zap.Error(err),
		)
		return func() {}, true
	}
	if !acquired {
		return func() {}, false
	}
	return func() {
		err := s.guard.ReleaseTenant(context.WithoutCancel(ctx), lease)
		switch {
		case errors.Is(err, lock.ErrLeaseLost):
			s.logger(ctx).Warn("scheduler.tenant.lease_lost", zap.String("job", job))
		case err != nil:
			s.logger(ctx).Warn("scheduler.tenant.unlock_failed", zap.String("job", job), zap.Error(err))
		}
	}, true
}
