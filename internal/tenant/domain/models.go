package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"gorm.io/datatypes"
)

type PaymentState string

const (
	PaymentStateFreeTrial PaymentState = "FREE_TRIAL"
	PaymentStatePaid      PaymentState = "PAID"
	PaymentStateSuspended PaymentState = "SUSPENDED"
)

// Tenant is a clinic subscribed to the platform.
type Tenant struct {
	ID               snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name             string            `gorm:"not null" json:"name"`
	Email            string            `gorm:"column:email" json:"email,omitempty"`
	Country          string            `gorm:"column:country" json:"country,omitempty"`
	Plan             string            `gorm:"column:plan" json:"plan,omitempty"`
	Avatar           string            `gorm:"column:avatar" json:"avatar,omitempty"`
	IsActive         bool              `gorm:"not null;index:idx_tenants_billing,priority:1" json:"is_active"`
	PaymentState     PaymentState      `gorm:"type:varchar(32);not null;index:idx_tenants_billing,priority:2" json:"payment_state"`
	ExpiresAt        time.Time         `gorm:"not null;index:idx_tenants_billing,priority:3" json:"expires_at"`
	Seats            int               `gorm:"not null;default:1" json:"seats"`
	SuspendedAt      *time.Time        `json:"suspended_at,omitempty"`
	SuspensionReason string            `json:"suspension_reason,omitempty"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`
	Admins           []Admin           `gorm:"foreignKey:TenantID" json:"admins,omitempty"`
	CreatedAt        time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

// Admin is a user with administrative rights over a tenant.
type Admin struct {
	ID        snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TenantID  snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	Name      string       `json:"name"`
	Email     string       `gorm:"not null" json:"email"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (Admin) TableName() string { return "tenant_admins" }

func (t Tenant) IsSuspended() bool {
	return !t.IsActive && t.PaymentState == PaymentStateSuspended
}

// PrimaryContact is the first admin email, falling back to the billing email.
func (t Tenant) PrimaryContact() string {
	for _, admin := range t.Admins {
		if email := strings.TrimSpace(admin.Email); email != "" {
			return email
		}
	}
	return strings.TrimSpace(t.Email)
}

// AdminEmails returns the distinct, non-empty admin emails in admin order.
func (t Tenant) AdminEmails() []string {
	emails := lo.FilterMap(t.Admins, func(a Admin, _ int) (string, bool) {
		email := strings.TrimSpace(a.Email)
		return email, email != ""
	})
	return lo.Uniq(emails)
}

func (t Tenant) AdminNames() []string {
	return lo.FilterMap(t.Admins, func(a Admin, _ int) (string, bool) {
		name := strings.TrimSpace(a.Name)
		return name, name != ""
	})
}
