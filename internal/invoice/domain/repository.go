package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByPeriod(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, period string) (*Invoice, error)
	CountByStatus(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, status InvoiceStatus) (int, error)
	FindUnpaidGroupedByTenant(ctx context.Context, db *gorm.DB) ([]TenantInvoices, error)
	FindPendingExpiration(ctx context.Context, db *gorm.DB, limit int) ([]*Invoice, error)
	MarkExpirationApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}
