// Package domain contains persistence models for clinic invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusGenerated InvoiceStatus = "GENERATED"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
	InvoiceStatusFailed    InvoiceStatus = "FAILED"
)

const (
	GeneratedByAutomatic = "automatic"
	BillingCycleMonthly  = "monthly"
	DisplayStatusIssued  = "Invoice issued, awaiting payment"
)

// Invoice is one billing period charge for a tenant. At most one invoice
// exists per (tenant, period).
type Invoice struct {
	ID                  snowflake.ID      `gorm:"primaryKey;autoIncrement:false"`
	TenantID            snowflake.ID      `gorm:"not null;uniqueIndex:ux_invoices_tenant_period,priority:1;index:idx_invoices_tenant_status,priority:1"`
	Period              string            `gorm:"type:varchar(5);not null;uniqueIndex:ux_invoices_tenant_period,priority:2"`
	Amount              decimal.Decimal   `gorm:"type:decimal(20,2);not null"`
	Currency            string            `gorm:"type:varchar(3);not null"`
	Status              InvoiceStatus     `gorm:"type:varchar(16);not null;index:idx_invoices_tenant_status,priority:2"`
	Seats               int               `gorm:"not null"`
	Description         string            `gorm:"type:text"`
	TransactionID       string            `gorm:"type:varchar(64);not null;uniqueIndex"`
	ExternalReference   string            `gorm:"type:varchar(64);not null"`
	IsAutomatic         bool              `gorm:"not null"`
	GeneratedBy         string            `gorm:"type:varchar(32)"`
	BillingCycle        string            `gorm:"type:varchar(16)"`
	DisplayStatus       string            `gorm:"type:text"`
	ExpiresFrom         time.Time         `gorm:"not null"`
	ExpiresTo           time.Time         `gorm:"not null"`
	ExpirationAppliedAt *time.Time        `gorm:"index"`
	Metadata            datatypes.JSONMap `gorm:""`
	CreatedAt           time.Time         `gorm:"not null;index"`
	UpdatedAt           time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

func (i Invoice) IsUnpaid() bool {
	return i.Status == InvoiceStatusGenerated
}

// TenantInvoices is one tenant's unpaid invoices, oldest first.
type TenantInvoices struct {
	TenantID snowflake.ID
	Invoices []*Invoice
}
