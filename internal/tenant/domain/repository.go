package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*Tenant, error)
	FindDueForBilling(ctx context.Context, db *gorm.DB, from, to time.Time, state PaymentState) ([]*Tenant, error)
	AdvanceExpiration(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to, now time.Time) (bool, error)
	Suspend(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error)
}
