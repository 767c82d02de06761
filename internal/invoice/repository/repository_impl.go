package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbilling/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	invoice.ExpiresFrom = invoice.ExpiresFrom.UTC()
	invoice.ExpiresTo = invoice.ExpiresTo.UTC()
	invoice.CreatedAt = invoice.CreatedAt.UTC()
	invoice.UpdatedAt = invoice.UpdatedAt.UTC()
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repo) FindByPeriod(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, period string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND period = ?", tenantID, period).
		Take(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, status domain.InvoiceStatus) (int, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("tenant_id = ? AND status = ?", tenantID, string(status)).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// FindUnpaidGroupedByTenant returns GENERATED invoices grouped per tenant,
// each group ordered by creation time ascending.
func (r *repo) FindUnpaidGroupedByTenant(ctx context.Context, db *gorm.DB) ([]domain.TenantInvoices, error) {
	var invoices []*domain.Invoice
	err := db.WithContext(ctx).
		Where("status = ?", string(domain.InvoiceStatusGenerated)).
		Order("tenant_id asc, created_at asc, id asc").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}

	groups := make([]domain.TenantInvoices, 0)
	for _, invoice := range invoices {
		last := len(groups) - 1
		if last < 0 || groups[last].TenantID != invoice.TenantID {
			groups = append(groups, domain.TenantInvoices{TenantID: invoice.TenantID})
			last++
		}
		groups[last].Invoices = append(groups[last].Invoices, invoice)
	}
	return groups, nil
}

func (r *repo) FindPendingExpiration(ctx context.Context, db *gorm.DB, limit int) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := db.WithContext(ctx).
		Where("expiration_applied_at IS NULL").
		Where("status <> ?", string(domain.InvoiceStatusCancelled)).
		Order("created_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) MarkExpirationApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET expiration_applied_at = ?, updated_at = ?
		 WHERE id = ? AND expiration_applied_at IS NULL`,
		at.UTC(),
		at.UTC(),
		id,
	).Error
}
