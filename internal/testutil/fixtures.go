// Package testutil seeds in-memory databases for billing tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/clinicbilling/internal/invoice/domain"
	tenantdomain "github.com/smallbiznis/clinicbilling/internal/tenant/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDB opens an isolated in-memory SQLite database with the billing schema.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection keeps every statement on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(&tenantdomain.Tenant{}, &tenantdomain.Admin{}, &invoicedomain.Invoice{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// Fixtures creates tenants and invoices directly in the database.
type Fixtures struct {
	t    testing.TB
	db   *gorm.DB
	node *snowflake.Node
}

func NewFixtures(t testing.TB, db *gorm.DB, node *snowflake.Node) *Fixtures {
	return &Fixtures{t: t, db: db, node: node}
}

type TenantOption func(*tenantdomain.Tenant)

func WithSeats(seats int) TenantOption {
	return func(t *tenantdomain.Tenant) { t.Seats = seats }
}

func WithEmail(email string) TenantOption {
	return func(t *tenantdomain.Tenant) { t.Email = email }
}

func WithState(state tenantdomain.PaymentState) TenantOption {
	return func(t *tenantdomain.Tenant) { t.PaymentState = state }
}

func Inactive() TenantOption {
	return func(t *tenantdomain.Tenant) { t.IsActive = false }
}

func WithAdmins(emails ...string) TenantOption {
	return func(t *tenantdomain.Tenant) {
		for i, email := range emails {
			t.Admins = append(t.Admins, tenantdomain.Admin{
				Name:      fmt.Sprintf("Admin %d", i+1),
				Email:     email,
				CreatedAt: t.CreatedAt.Add(time.Duration(i) * time.Second),
			})
		}
	}
}

// Tenant inserts an active FREE_TRIAL tenant expiring at expiresAt.
func (f *Fixtures) Tenant(name string, expiresAt time.Time, opts ...TenantOption) *tenantdomain.Tenant {
	f.t.Helper()

	created := expiresAt.AddDate(0, -1, 0).UTC()
	tenant := &tenantdomain.Tenant{
		ID:           f.node.Generate(),
		Name:         name,
		Email:        "billing@" + uuid.NewString()[:8] + ".test",
		Country:      "CL",
		Plan:         "standard",
		IsActive:     true,
		PaymentState: tenantdomain.PaymentStateFreeTrial,
		ExpiresAt:    expiresAt.UTC(),
		Seats:        1,
		Metadata:     datatypes.JSONMap{},
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	for _, opt := range opts {
		opt(tenant)
	}
	for i := range tenant.Admins {
		tenant.Admins[i].ID = f.node.Generate()
		tenant.Admins[i].TenantID = tenant.ID
	}
	if err := f.db.Create(tenant).Error; err != nil {
		f.t.Fatalf("create tenant: %v", err)
	}
	return tenant
}

// UnpaidInvoice inserts a GENERATED invoice created at createdAt.
func (f *Fixtures) UnpaidInvoice(tenant *tenantdomain.Tenant, period string, createdAt time.Time) *invoicedomain.Invoice {
	f.t.Helper()
	return f.Invoice(tenant, period, invoicedomain.InvoiceStatusGenerated, createdAt)
}

func (f *Fixtures) Invoice(tenant *tenantdomain.Tenant, period string, status invoicedomain.InvoiceStatus, createdAt time.Time) *invoicedomain.Invoice {
	f.t.Helper()

	applied := createdAt.UTC()
	invoice := &invoicedomain.Invoice{
		ID:                  f.node.Generate(),
		TenantID:            tenant.ID,
		Period:              period,
		Amount:              decimal.NewFromInt(800),
		Currency:            "USD",
		Status:              status,
		Seats:               tenant.Seats,
		Description:         "seeded " + period,
		TransactionID:       "TXN-" + uuid.NewString(),
		ExternalReference:   "SEED-" + period,
		IsAutomatic:         true,
		GeneratedBy:         invoicedomain.GeneratedByAutomatic,
		BillingCycle:        invoicedomain.BillingCycleMonthly,
		ExpiresFrom:         tenant.ExpiresAt,
		ExpiresTo:           invoicedomain.AddCalendarMonths(tenant.ExpiresAt, 1),
		ExpirationAppliedAt: &applied,
		Metadata:            datatypes.JSONMap{},
		CreatedAt:           createdAt.UTC(),
		UpdatedAt:           createdAt.UTC(),
	}
	if err := f.db.Create(invoice).Error; err != nil {
		f.t.Fatalf("create invoice: %v", err)
	}
	return invoice
}

// Reload fetches the tenant as currently stored.
func (f *Fixtures) Reload(tenant *tenantdomain.Tenant) *tenantdomain.Tenant {
	f.t.Helper()
	var out tenantdomain.Tenant
	if err := f.db.WithContext(context.Background()).Preload("Admins").Take(&out, "id = ?", tenant.ID).Error; err != nil {
		f.t.Fatalf("reload tenant: %v", err)
	}
	return &out
}

func (f *Fixtures) CountInvoices(tenant *tenantdomain.Tenant) int {
	f.t.Helper()
	var count int64
	if err := f.db.Model(&invoicedomain.Invoice{}).Where("tenant_id = ?", tenant.ID).Count(&count).Error; err != nil {
		f.t.Fatalf("count invoices: %v", err)
	}
	return int(count)
}

// Node returns a snowflake node for tests.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}
