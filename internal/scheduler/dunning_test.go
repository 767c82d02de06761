package scheduler

import (
	"context"
	"errors"
	"testing"

	dunningdomain "github.com/smallbiznis/clinicbilling/internal/dunning/domain"
	tenantdomain "github.com/smallbiznis/clinicbilling/internal/tenant/domain"
	"github.com/smallbiznis/clinicbilling/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDunningSuspendsTenantsPastGrace(t *testing.T) {
	h := newHarness(t)
	expires := dueAt.AddDate(0, 1, 0)

	overdue := h.fixtures.Tenant("Clinica Norte", expires,
		testutil.WithAdmins("ana@norte.test", "luis@norte.test", "ana@norte.test"))
	h.fixtures.UnpaidInvoice(overdue, "01/26", testNow.AddDate(0, 0, -40))
	h.fixtures.UnpaidInvoice(overdue, "02/26", testNow.AddDate(0, 0, -10))

	recent := h.fixtures.Tenant("Clinica Sur", expires)
	h.fixtures.UnpaidInvoice(recent, "02/26", testNow.AddDate(0, 0, -30))
	h.fixtures.UnpaidInvoice(recent, "03/26", testNow.AddDate(0, 0, -2))

	summary, err := h.sched.RunDunning(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Candidates)
	assert.Equal(t, 1, summary.Suspended)
	assert.Zero(t, summary.Failed)

	suspended := h.fixtures.Reload(overdue)
	assert.False(t, suspended.IsActive)
	assert.Equal(t, tenantdomain.PaymentStateSuspended, suspended.PaymentState)
	assert.Equal(t, tenantdomain.SuspensionReasonOverdue, suspended.SuspensionReason)
	assert.Equal(t, 2, h.fixtures.CountInvoices(overdue))

	untouched := h.fixtures.Reload(recent)
	assert.True(t, untouched.IsActive)
	assert.Equal(t, tenantdomain.PaymentStateFreeTrial, untouched.PaymentState)

	require.Len(t, h.notifier.suspensions, 1)
	notice := h.notifier.suspensions[0]
	assert.Equal(t, overdue.ID, notice.Tenant.ID)
	assert.Equal(t, 10, notice.DaysOverdue)
	assert.Len(t, notice.Invoices, 2)
	assert.Equal(t, []string{"ana@norte.test", "luis@norte.test"}, notice.Tenant.AdminEmails())
	require.NotNil(t, suspended.SuspendedAt)
	assert.True(t, notice.SuspendedAt.Equal(*suspended.SuspendedAt))
}

func TestDunningRerunLeavesSuspendedTenantAlone(t *testing.T) {
	h := newHarness(t)
	tenant := h.fixtures.Tenant("Clinica Norte", dueAt.AddDate(0, 1, 0))
	h.fixtures.UnpaidInvoice(tenant, "01/26", testNow.AddDate(0, 0, -40))
	h.fixtures.UnpaidInvoice(tenant, "02/26", testNow.AddDate(0, 0, -10))

	_, err := h.sched.RunDunning(context.Background())
	require.NoError(t, err)
	summary, err := h.sched.RunDunning(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Candidates)
	assert.Len(t, h.notifier.suspensions, 1)
}

// racedCandidates suspends every candidate right after the query, the way a
// concurrent run on another replica would.
type racedCandidates struct {
	dunningdomain.Service
	tenants tenantdomain.Service
}

func (r racedCandidates) FindSuspensionCandidates(ctx context.Context, graceDays int) ([]dunningdomain.Candidate, error) {
	candidates, err := r.Service.FindSuspensionCandidates(ctx, graceDays)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if _, _, err := r.tenants.Suspend(ctx, c.Tenant.ID, tenantdomain.SuspensionReasonOverdue); err != nil {
			return nil, err
		}
	}
	return candidates, nil
}

func TestDunningSkipsTenantSuspendedByAnotherRun(t *testing.T) {
	h := newHarness(t)
	tenant := h.fixtures.Tenant("Clinica Norte", dueAt.AddDate(0, 1, 0))
	h.fixtures.UnpaidInvoice(tenant, "01/26", testNow.AddDate(0, 0, -40))
	h.fixtures.UnpaidInvoice(tenant, "02/26", testNow.AddDate(0, 0, -10))
	h.sched.dunningSvc = racedCandidates{Service: h.sched.dunningSvc, tenants: h.sched.tenantSvc}

	summary, err := h.sched.RunDunning(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Candidates)
	assert.Zero(t, summary.Suspended)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.SkippedByReason[SkipAlreadySuspended])
	assert.Empty(t, h.notifier.suspensions)
	assert.False(t, h.fixtures.Reload(tenant).IsActive)
}

func TestDunningCountsFailedNotices(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("resend: status 503")
	tenant := h.fixtures.Tenant("Clinica Norte", dueAt.AddDate(0, 1, 0))
	h.fixtures.UnpaidInvoice(tenant, "01/26", testNow.AddDate(0, 0, -40))
	h.fixtures.UnpaidInvoice(tenant, "02/26", testNow.AddDate(0, 0, -10))

	summary, err := h.sched.RunDunning(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Suspended)
	assert.Equal(t, 1, summary.NotificationsFailed)
	assert.False(t, h.fixtures.Reload(tenant).IsActive)
}

func TestRunOnceRunsEveryJob(t *testing.T) {
	h := newHarness(t)
	billed := h.fixtures.Tenant("Clinica Norte", dueAt)

	overdue := h.fixtures.Tenant("Clinica Sur", dueAt.AddDate(0, 1, 0))
	h.fixtures.UnpaidInvoice(overdue, "01/26", testNow.AddDate(0, 0, -40))
	h.fixtures.UnpaidInvoice(overdue, "02/26", testNow.AddDate(0, 0, -10))

	require.NoError(t, h.sched.RunOnce(context.Background()))

	assert.Equal(t, 1, h.fixtures.CountInvoices(billed))
	assert.True(t, h.fixtures.Reload(billed).IsActive)
	assert.False(t, h.fixtures.Reload(overdue).IsActive)
}
