// Package domain describes tenants that are candidates for suspension.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/clinicbilling/internal/invoice/domain"
	tenantdomain "github.com/smallbiznis/clinicbilling/internal/tenant/domain"
)

type InvoiceSummary struct {
	ID        snowflake.ID
	Period    string
	Amount    decimal.Decimal
	Currency  string
	CreatedAt time.Time
}

func Summarize(inv *invoicedomain.Invoice) InvoiceSummary {
	if inv == nil {
		return InvoiceSummary{}
	}
	return InvoiceSummary{
		ID:        inv.ID,
		Period:    inv.Period,
		Amount:    inv.Amount,
		Currency:  inv.Currency,
		CreatedAt: inv.CreatedAt,
	}
}

// Candidate is a tenant with at least the threshold number of unpaid
// invoices. Invoices are ordered oldest first.
type Candidate struct {
	Tenant   tenantdomain.Tenant
	Invoices []invoicedomain.Invoice

	FirstInvoice   InvoiceSummary
	SecondInvoice  InvoiceSummary
	TriggerInvoice InvoiceSummary

	UnpaidCount   int
	ShouldSuspend bool
	DaysOverdue   int

	AdminEmails []string
	AdminNames  []string
}

type Service interface {
	// Evaluate returns every tenant at or above the unpaid threshold.
	Evaluate(ctx context.Context, graceDays int) ([]Candidate, error)
	// FindSuspensionCandidates returns only the tenants past the grace window.
	FindSuspensionCandidates(ctx context.Context, graceDays int) ([]Candidate, error)
}
