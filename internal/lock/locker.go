// Package lock coordinates billing workers across replicas through redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyTenantLock = "billing:tenant:%d"

	defaultLockTTL = 2 * time.Minute
	// leaseSlack keeps a lease alive past the tenant timeout so a slow
	// unit of work never loses its tenant to another replica mid-run.
	leaseSlack = 15 * time.Second
)

// ErrLeaseLost is returned on release when the lease expired and the key
// now belongs to someone else, or to no one.
var ErrLeaseLost = errors.New("tenant lease lost before release")

var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is one worker's hold on a tenant.
type Lease struct {
	TenantID snowflake.ID
	Token    string
}

func (l Lease) Held() bool { return l.Token != "" }

// TenantLocks hands out at most one lease per tenant across replicas.
type TenantLocks struct {
	client *redis.Client
	ttl    time.Duration
}

// LeaseTTL is the lease length for tenant work bounded by timeout. The
// configured value is raised when it would expire before the timeout does.
func LeaseTTL(configured, timeout time.Duration) time.Duration {
	if configured <= 0 {
		configured = defaultLockTTL
	}
	if timeout > 0 && configured < timeout+leaseSlack {
		return timeout + leaseSlack
	}
	return configured
}

func newTenantLocks(client *redis.Client, ttl time.Duration) *TenantLocks {
	return &TenantLocks{client: client, ttl: ttl}
}

// Acquire returns held=false, with no error, when another worker owns the tenant.
func (l *TenantLocks) Acquire(ctx context.Context, tenantID snowflake.ID) (Lease, bool, error) {
	if tenantID <= 0 {
		return Lease{}, false, fmt.Errorf("lock tenant: invalid id %d", tenantID.Int64())
	}
	token := uuid.NewString()
	granted, err := l.client.SetNX(ctx, tenantKey(tenantID), token, l.ttl).Result()
	if err != nil {
		return Lease{}, false, fmt.Errorf("lock tenant %d: %w", tenantID.Int64(), err)
	}
	if !granted {
		return Lease{TenantID: tenantID}, false, nil
	}
	return Lease{TenantID: tenantID, Token: token}, true, nil
}

// Release drops a held lease. A lease whose key was taken over after expiry
// is left untouched and reported as ErrLeaseLost.
func (l *TenantLocks) Release(ctx context.Context, lease Lease) error {
	if !lease.Held() {
		return nil
	}
	deleted, err := releaseLease.Run(ctx, l.client, []string{tenantKey(lease.TenantID)}, lease.Token).Int()
	if err != nil {
		return fmt.Errorf("unlock tenant %d: %w", lease.TenantID.Int64(), err)
	}
	if deleted == 0 {
		return ErrLeaseLost
	}
	return nil
}

func tenantKey(id snowflake.ID) string {
	return fmt.Sprintf(keyTenantLock, id.Int64())
}
