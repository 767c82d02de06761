package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbilling/internal/tenant/domain"
	"github.com/smallbiznis/clinicbilling/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, tenant *domain.Tenant) error {
	tenant.ExpiresAt = tenant.ExpiresAt.UTC()
	return conn.WithContext(ctx).Create(tenant).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Tenant, error) {
	return r.findOne(ctx, conn, id, false)
}

// FindByIDForUpdate locks the tenant row for the surrounding transaction
// where the dialect supports row locks.
func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Tenant, error) {
	return r.findOne(ctx, conn, id, db.SupportsRowLocks(conn))
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, id snowflake.ID, lock bool) (*domain.Tenant, error) {
	var tenant domain.Tenant
	stmt := conn.WithContext(ctx).Model(&domain.Tenant{})
	if lock {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.
		Preload("Admins", orderAdmins).
		Where("id = ?", id).
		Take(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) FindByIDs(ctx context.Context, conn *gorm.DB, ids []snowflake.ID) ([]*domain.Tenant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tenants []*domain.Tenant
	err := conn.WithContext(ctx).
		Model(&domain.Tenant{}).
		Preload("Admins", orderAdmins).
		Where("id IN ?", ids).
		Order("id asc").
		Find(&tenants).Error
	if err != nil {
		return nil, err
	}
	return tenants, nil
}

// FindDueForBilling lists active tenants in state whose expiration falls in [from, to).
func (r *repo) FindDueForBilling(ctx context.Context, conn *gorm.DB, from, to time.Time, state domain.PaymentState) ([]*domain.Tenant, error) {
	var tenants []*domain.Tenant
	err := conn.WithContext(ctx).
		Model(&domain.Tenant{}).
		Preload("Admins", orderAdmins).
		Where("is_active = ?", true).
		Where("payment_state = ?", string(state)).
		Where("expires_at >= ? AND expires_at < ?", from.UTC(), to.UTC()).
		Order("expires_at asc, id asc").
		Find(&tenants).Error
	if err != nil {
		return nil, err
	}
	return tenants, nil
}

// AdvanceExpiration moves expires_at from -> to. It reports false when the
// tenant no longer holds the expected expiration.
func (r *repo) AdvanceExpiration(ctx context.Context, conn *gorm.DB, id snowflake.ID, from, to, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE tenants SET expires_at = ?, updated_at = ?
		 WHERE id = ? AND expires_at = ?`,
		to.UTC(),
		now.UTC(),
		id,
		from.UTC(),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Suspend deactivates the tenant. It reports false when the tenant was
// already suspended.
func (r *repo) Suspend(ctx context.Context, conn *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE tenants
		 SET is_active = ?, payment_state = ?, suspended_at = ?, suspension_reason = ?, updated_at = ?
		 WHERE id = ? AND (is_active = ? OR payment_state <> ?)`,
		false,
		string(domain.PaymentStateSuspended),
		now.UTC(),
		reason,
		now.UTC(),
		id,
		true,
		string(domain.PaymentStateSuspended),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func orderAdmins(tx *gorm.DB) *gorm.DB {
	return tx.Order("created_at asc, id asc")
}
