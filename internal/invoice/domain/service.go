package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// GenerationResult describes a newly generated invoice.
type GenerationResult struct {
	Invoice Invoice
	// UnpaidCount includes the new invoice.
	UnpaidCount           int
	IsSecondUnpaidInvoice bool
	// ReconciliationPending is set when the invoice was stored but the
	// tenant expiration update is left to the reconciliation sweep.
	ReconciliationPending bool
}

type ReconcileSummary struct {
	Scanned  int
	Applied  int
	Deferred int
}

type Service interface {
	// Period returns the current billing period.
	Period() string
	HasInvoiceForPeriod(ctx context.Context, tenantID snowflake.ID, period string) (bool, error)
	Evaluate(ctx context.Context, tenantID snowflake.ID) (EligibilityResult, error)
	Generate(ctx context.Context, tenantID snowflake.ID) (GenerationResult, error)
	ReconcileExpirations(ctx context.Context, limit int) (ReconcileSummary, error)
}

var (
	ErrAlreadyInvoiced    = errors.New("already_invoiced")
	ErrNotEligible        = errors.New("not_eligible")
	ErrExpirationConflict = errors.New("expiration_conflict")
	ErrInvalidTenantID    = errors.New("invalid_tenant_id")
)
