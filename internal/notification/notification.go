// Package notification renders and sends billing emails to clinic contacts.
package notification

import (
	"context"
	"errors"
	"time"

	invoicedomain "github.com/smallbiznis/clinicbilling/internal/invoice/domain"
	tenantdomain "github.com/smallbiznis/clinicbilling/internal/tenant/domain"
)

const (
	KindInvoice    = "invoice"
	KindRisk       = "risk"
	KindSuspension = "suspension"
)

var ErrNotificationFailed = errors.New("notification_failed")

// Dispatcher sends best-effort notices. A returned error never undoes the
// billing action that triggered the notice.
type Dispatcher interface {
	SendInvoiceNotice(ctx context.Context, notice InvoiceNotice) error
	SendRiskNotice(ctx context.Context, notice RiskNotice) error
	SendSuspensionNotice(ctx context.Context, notice SuspensionNotice) error
}

type InvoiceNotice struct {
	Tenant  tenantdomain.Tenant
	Invoice invoicedomain.Invoice
}

// RiskNotice warns a clinic that its latest invoice left it one step from
// suspension.
type RiskNotice struct {
	Tenant      tenantdomain.Tenant
	Invoice     invoicedomain.Invoice
	UnpaidCount int
	GraceDays   int
}

type SuspensionNotice struct {
	Tenant      tenantdomain.Tenant
	Invoices    []invoicedomain.Invoice
	DaysOverdue int
	SuspendedAt time.Time
}
