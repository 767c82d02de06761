package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/clinicbilling/internal/config"
)

const (
	JobBilling   = "billing_cycle"
	JobDunning   = "dunning"
	JobReconcile = "reconcile_expirations"
)

// Config controls job cadences, timeouts and tenant parallelism.
type Config struct {
	Enabled bool

	BillingSchedule   string
	DunningSchedule   string
	ReconcileSchedule string

	JobTimeout         time.Duration
	TenantTimeout      time.Duration
	StoreTimeout       time.Duration
	Concurrency        int
	ReconcileBatchSize int
	// EnabledJobs limits which jobs run; empty enables all of them.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		BillingSchedule:    "0 6 * * *",
		DunningSchedule:    "30 6 * * *",
		ReconcileSchedule:  "*/15 * * * *",
		JobTimeout:         30 * time.Minute,
		TenantTimeout:      30 * time.Second,
		StoreTimeout:       10 * time.Second,
		Concurrency:        1,
		ReconcileBatchSize: 100,
	}
}

func ProvideConfig(cfg config.Config) Config {
	sc := cfg.Scheduler
	return Config{
		Enabled:            sc.Enabled,
		BillingSchedule:    sc.BillingSchedule,
		DunningSchedule:    sc.DunningSchedule,
		ReconcileSchedule:  sc.ReconcileSchedule,
		JobTimeout:         sc.JobTimeout,
		TenantTimeout:      sc.TenantTimeout,
		StoreTimeout:       sc.StoreTimeout,
		Concurrency:        sc.Concurrency,
		ReconcileBatchSize: sc.ReconcileBatchSize,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.BillingSchedule) == "" {
		c.BillingSchedule = defaults.BillingSchedule
	}
	if strings.TrimSpace(c.DunningSchedule) == "" {
		c.DunningSchedule = defaults.DunningSchedule
	}
	if strings.TrimSpace(c.ReconcileSchedule) == "" {
		c.ReconcileSchedule = defaults.ReconcileSchedule
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.TenantTimeout <= 0 {
		c.TenantTimeout = defaults.TenantTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = defaults.StoreTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.ReconcileBatchSize <= 0 {
		c.ReconcileBatchSize = defaults.ReconcileBatchSize
	}
	return c
}
