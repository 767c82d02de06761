package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/clinicbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

// Cron runs the jobs on their schedules for the lifetime of the app.
var Cron = fx.Module("scheduler.cron",
	fx.Invoke(registerCron),
)

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("scheduler.cron."+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("scheduler.cron."+msg, append(keysAndValues, "error", err)...)
}

// NewCron builds the cron runner with one entry per enabled job. Runs of the
// same job never overlap.
func (s *Scheduler) NewCron(base context.Context, billingCfg config.BillingConfig) (*cron.Cron, error) {
	logger := cronLogger{log: s.log.Sugar()}
	c := cron.New(
		cron.WithLocation(billingCfg.Cycle.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	entries := []struct {
		job  string
		spec string
	}{
		{JobBilling, s.cfg.BillingSchedule},
		{JobReconcile, s.cfg.ReconcileSchedule},
		{JobDunning, s.cfg.DunningSchedule},
	}
	for _, entry := range entries {
		if !s.isJobEnabled(entry.job) {
			continue
		}
		job := entry.job
		if _, err := c.AddFunc(entry.spec, func() {
			if err := s.RunJob(base, job); err != nil {
				s.log.Error("scheduler.job.failed", zap.String("job", job), zap.Error(err))
			}
		}); err != nil {
			return nil, fmt.Errorf("%w: %s schedule %q: %v", ErrInvalidConfig, job, entry.spec, err)
		}
		s.log.Info("scheduler.job.registered", zap.String("job", job), zap.String("schedule", entry.spec))
	}
	return c, nil
}

func registerCron(lc fx.Lifecycle, sched *Scheduler, holder *config.BillingConfigHolder) error {
	if !sched.cfg.Enabled {
		sched.log.Info("scheduler.disabled")
		return nil
	}

	base, cancel := context.WithCancel(context.Background())
	c, err := sched.NewCron(base, holder.Get())
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			sched.log.Info("scheduler.started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			done := c.Stop()
			select {
			case <-done.Done():
			case <-ctx.Done():
				sched.log.Warn("scheduler.stop_timeout", zap.Error(ctx.Err()))
			}
			return nil
		},
	})
	return nil
}
