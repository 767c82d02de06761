package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbilling/internal/config"
	invoicedomain "github.com/smallbiznis/clinicbilling/internal/invoice/domain"
	"github.com/smallbiznis/clinicbilling/internal/lock"
	tenantdomain "github.com/smallbiznis/clinicbilling/internal/tenant/domain"
	"github.com/smallbiznis/clinicbilling/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type failingInvoices struct {
	invoicedomain.Service
	failFor snowflake.ID
}

func (f failingInvoices) Generate(ctx context.Context, tenantID snowflake.ID) (invoicedomain.GenerationResult, error) {
	if tenantID == f.failFor {
		return invoicedomain.GenerationResult{}, errors.New("connection reset by peer")
	}
	return f.Service.Generate(ctx, tenantID)
}

// slowTenants times out the due-tenant query.
type slowTenants struct {
	tenantdomain.Repository
}

func (slowTenants) FindDueForBilling(context.Context, *gorm.DB, time.Time, time.Time, tenantdomain.PaymentState) ([]*tenantdomain.Tenant, error) {
	return nil, fmt.Errorf("query tenants: %w", context.DeadlineExceeded)
}

func TestBillingWindow(t *testing.T) {
	santiago, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)

	now := time.Date(2026, time.March, 10, 2, 0, 0, 0, time.UTC)
	start, end := BillingWindow(now, 5, santiago)

	local := now.In(santiago)
	expected := time.Date(local.Year(), local.Month(), local.Day()+5, 0, 0, 0, 0, santiago)
	assert.True(t, start.Equal(expected), "start %s", start)
	assert.True(t, end.Equal(expected.AddDate(0, 0, 1)), "end %s", end)

	start, _ = BillingWindow(testNow, 5, nil)
	assert.Equal(t, time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC), start)
}

func TestBillingCycleInvoicesTenantsInWindow(t *testing.T) {
	h := newHarness(t)
	due := h.fixtures.Tenant("Clinica Norte", dueAt, testutil.WithAdmins("ana@norte.test"))
	h.fixtures.Tenant("Clinica Sur", dueAt.AddDate(0, 0, 3))
	h.fixtures.Tenant("Clinica Paga", dueAt, testutil.WithState(tenantdomain.PaymentStatePaid))

	summary, err := h.sched.RunBillingCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "03/26", summary.Period)
	assert.Equal(t, 1, summary.Candidates)
	assert.Equal(t, 1, summary.Success)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.ReconciliationPending)

	assert.Equal(t, 1, h.fixtures.CountInvoices(due))
	reloaded := h.fixtures.Reload(due)
	assert.True(t, reloaded.ExpiresAt.Equal(time.Date(2026, time.April, 15, 9, 0, 0, 0, time.UTC)))

	require.Len(t, h.notifier.invoices, 1)
	assert.Equal(t, due.ID, h.notifier.invoices[0].Tenant.ID)
	assert.Empty(t, h.notifier.risks)
}

func TestBillingCycleSkipsInvoicedPeriod(t *testing.T) {
	h := newHarness(t)
	tenant := h.fixtures.Tenant("Clinica Norte", dueAt)
	h.fixtures.UnpaidInvoice(tenant, "03/26", testNow.AddDate(0, 0, -1))

	summary, err := h.sched.RunBillingCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.SkippedByReason[SkipPeriodExists])
	assert.Equal(t, 1, h.fixtures.CountInvoices(tenant))
	assert.Empty(t, h.notifier.invoices)
}

func TestBillingCycleRerunDoesNotDuplicate(t *testing.T) {
	h := newHarness(t)
	tenant := h.fixtures.Tenant("Clinica Norte", dueAt)

	_, err := h.sched.RunBillingCycle(context.Background())
	require.NoError(t, err)
	summary, err := h.sched.RunBillingCycle(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Success)
	assert.Equal(t, 1, h.fixtures.CountInvoices(tenant))
}

func TestBillingCycleRespectsUnpaidLimit(t *testing.T) {
	h := newHarness(t)
	tenant := h.fixtures.Tenant("Clinica Norte", dueAt)
	h.fixtures.UnpaidInvoice(tenant, "01/26", testNow.AddDate(0, -2, 0))
	h.fixtures.UnpaidInvoice(tenant, "02/26", testNow.AddDate(0, -1, 0))

	summary, err := h.sched.RunBillingCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SkippedByReason[string(invoicedomain.ReasonMaxUnpaidReached)])
	assert.Equal(t, 2, h.fixtures.CountInvoices(tenant))
	assert.Empty(t, h.notifier.invoices)
}

func TestBillingCycleSendsRiskNoticeOnSecondUnpaidInvoice(t *testing.T) {
	h := newHarness(t)
	tenant := h.fixtures.Tenant("Clinica Norte", dueAt)
	h.fixtures.UnpaidInvoice(tenant, "02/26", testNow.AddDate(0, -1, 0))

	summary, err := h.sched.RunBillingCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Success)

	require.Len(t, h.notifier.risks, 1)
	risk := h.notifier.risks[0]
	assert.Equal(t, 2, risk.UnpaidCount)
	assert.Equal(t, config.DefaultBillingConfig().Dunning.GraceDays, risk.GraceDays)
	assert.Equal(t, "03/26", risk.Invoice.Period)
}

func TestBillingCycleNotificationFailureStillSucceeds(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("smtp: 421 try again later")
	tenant := h.fixtures.Tenant("Clinica Norte", dueAt)

	summary, err := h.sched.RunBillingCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Success)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 1, h.fixtures.CountInvoices(tenant))
}

func TestBillingCycleIsolatesTenantFailures(t *testing.T) {
	h := newHarness(t)

	tenants := make([]*tenantdomain.Tenant, 0, 10)
	for i := 0; i < 10; i++ {
		tenants = append(tenants, h.fixtures.Tenant(fmt.Sprintf("Clinica %02d", i), dueAt.Add(time.Duration(i)*time.Minute)))
	}
	h.sched.invoiceSvc = failingInvoices{Service: h.sched.invoiceSvc, failFor: tenants[4].ID}

	summary, err := h.sched.RunBillingCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, summary.Candidates)
	assert.Equal(t, 9, summary.Success)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, h.fixtures.CountInvoices(tenants[4]))
	assert.Equal(t, 1, h.fixtures.CountInvoices(tenants[5]))

	labels := map[string]string{
		"service": "clinicbilling",
		"env":     "test",
		"job":     JobBilling,
		"outcome": "failed",
	}
	assert.Equal(t, float64(1), getCounterValue(t, h.registry, "clinicbilling_tenant_outcomes_total", labels))
}

func TestBillingCycleStopsBetweenTenantsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.notifier.onInvoice = cancel

	first := h.fixtures.Tenant("Clinica A", dueAt)
	second := h.fixtures.Tenant("Clinica B", dueAt.Add(time.Minute))
	third := h.fixtures.Tenant("Clinica C", dueAt.Add(2*time.Minute))

	summary, err := h.sched.RunBillingCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 1, h.fixtures.CountInvoices(first))
	assert.Zero(t, h.fixtures.CountInvoices(second))
	assert.Zero(t, h.fixtures.CountInvoices(third))
	assert.True(t, h.fixtures.Reload(first).ExpiresAt.After(dueAt))
}

func TestBillingCycleSkipsLockedTenant(t *testing.T) {
	srv := miniredis.RunT(t)
	guard, err := lock.NewGuard(config.Config{
		Redis:     config.RedisConfig{Enabled: true, URL: "redis://" + srv.Addr()},
		Scheduler: config.SchedulerConfig{LockTTL: time.Minute},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = guard.Close() })

	h := newHarness(t, func(p *Params) { p.Guard = guard })
	locked := h.fixtures.Tenant("Clinica A", dueAt)
	free := h.fixtures.Tenant("Clinica B", dueAt.Add(time.Minute))

	_, ok, err := guard.TryLockTenant(context.Background(), locked.ID)
	require.NoError(t, err)
	require.True(t, ok)

	summary, err := h.sched.RunBillingCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 1, summary.SkippedByReason[SkipLocked])
	assert.Zero(t, h.fixtures.CountInvoices(locked))
	assert.Equal(t, 1, h.fixtures.CountInvoices(free))
	assert.False(t, srv.Exists("billing:tenant:"+free.ID.String()))
}

func TestBillingCycleQueryFailureAbortsRun(t *testing.T) {
	h := newHarness(t)
	tenant := h.fixtures.Tenant("Clinica Norte", dueAt)
	h.sched.tenantRepo = slowTenants{Repository: h.sched.tenantRepo}

	summary, err := h.sched.RunBillingCycle(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, summary.Candidates)
	assert.Zero(t, summary.Success+summary.Skipped+summary.Failed)

	err = h.sched.RunJob(context.Background(), JobBilling)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), JobBilling)
	assert.Zero(t, h.fixtures.CountInvoices(tenant))

	labels := map[string]string{
		"service": "clinicbilling",
		"env":     "test",
		"job":     JobBilling,
	}
	assert.Zero(t, getCounterValue(t, h.registry, "clinicbilling_job_timeouts_total", labels))
}
