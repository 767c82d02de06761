package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/clinicbilling/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T, cfg config.Config) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return newGuard(client, cfg), srv
}

func TestTenantLockIsExclusive(t *testing.T) {
	guard, srv := newTestGuard(t, config.Config{Scheduler: config.SchedulerConfig{LockTTL: time.Minute}})
	ctx := context.Background()
	tenantID := snowflake.ID(42)

	lease, ok, err := guard.TryLockTenant(ctx, tenantID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, lease.Held())
	assert.True(t, srv.Exists("billing:tenant:42"))

	other, ok, err := guard.TryLockTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, other.Held())
	require.NoError(t, guard.ReleaseTenant(ctx, other))
	assert.True(t, srv.Exists("billing:tenant:42"))

	forged := Lease{TenantID: tenantID, Token: "not-the-holder"}
	require.ErrorIs(t, guard.ReleaseTenant(ctx, forged), ErrLeaseLost)
	assert.True(t, srv.Exists("billing:tenant:42"))

	require.NoError(t, guard.ReleaseTenant(ctx, lease))
	assert.False(t, srv.Exists("billing:tenant:42"))

	_, ok, err = guard.TryLockTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTenantLockExpires(t *testing.T) {
	guard, srv := newTestGuard(t, config.Config{Scheduler: config.SchedulerConfig{LockTTL: time.Minute}})
	ctx := context.Background()

	stale, ok, err := guard.TryLockTenant(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)

	srv.FastForward(2 * time.Minute)

	fresh, ok, err := guard.TryLockTenant(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	require.ErrorIs(t, guard.ReleaseTenant(ctx, stale), ErrLeaseLost)
	assert.True(t, srv.Exists("billing:tenant:7"))
	require.NoError(t, guard.ReleaseTenant(ctx, fresh))
}

func TestTenantLeaseOutlivesTenantTimeout(t *testing.T) {
	guard, srv := newTestGuard(t, config.Config{Scheduler: config.SchedulerConfig{
		LockTTL:       10 * time.Second,
		TenantTimeout: time.Minute,
	}})

	_, ok, err := guard.TryLockTenant(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, srv.TTL("billing:tenant:9"), time.Minute)

	srv.FastForward(time.Minute)
	assert.True(t, srv.Exists("billing:tenant:9"))
}

func TestLeaseTTL(t *testing.T) {
	assert.Equal(t, 2*time.Minute, LeaseTTL(0, 0))
	assert.Equal(t, 2*time.Minute, LeaseTTL(0, 30*time.Second))
	assert.Equal(t, 5*time.Minute, LeaseTTL(5*time.Minute, 30*time.Second))
	assert.Equal(t, 3*time.Minute+leaseSlack, LeaseTTL(time.Minute, 3*time.Minute))
	assert.Equal(t, 30*time.Second+leaseSlack, LeaseTTL(30*time.Second, 30*time.Second))
}

func TestTryLockTenantRejectsZeroID(t *testing.T) {
	guard, _ := newTestGuard(t, config.Config{})
	_, ok, err := guard.TryLockTenant(context.Background(), 0)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestNilGuardAllowsEverything(t *testing.T) {
	var guard *Guard
	ctx := context.Background()

	assert.False(t, guard.Enabled())
	_, ok, err := guard.TryLockTenant(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, guard.ReleaseTenant(ctx, Lease{TenantID: 1}))
	require.NoError(t, guard.WaitEmail(ctx, "resend"))
	require.NoError(t, guard.Close())
}

func TestNewGuardDisabled(t *testing.T) {
	guard, err := NewGuard(config.Config{})
	require.NoError(t, err)
	assert.Nil(t, guard)

	_, err = NewGuard(config.Config{Redis: config.RedisConfig{Enabled: true, URL: "://bad"}})
	require.Error(t, err)
}

func TestTokenBucketLimitsBurst(t *testing.T) {
	guard, _ := newTestGuard(t, config.Config{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := guard.bucket.Allow(ctx, "email:send:test", 1, 2)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "send %d", i)
	}

	res, err := guard.bucket.Allow(ctx, "email:send:test", 1, 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestWaitEmailHonorsContext(t *testing.T) {
	guard, _ := newTestGuard(t, config.Config{Email: config.EmailConfig{SendRate: 0.001, SendBurst: 1}})

	require.NoError(t, guard.WaitEmail(context.Background(), "resend"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, guard.WaitEmail(ctx, "resend"), context.DeadlineExceeded)
}
