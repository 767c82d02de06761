package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

const SuspensionReasonOverdue = "unpaid_invoices_overdue"

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (Tenant, error)
	// Suspend deactivates the tenant. Suspending an already suspended
	// tenant returns it unchanged with changed=false.
	Suspend(ctx context.Context, id snowflake.ID, reason string) (tenant Tenant, changed bool, err error)
}

var (
	ErrTenantNotFound = errors.New("tenant_not_found")
	ErrInvalidID      = errors.New("invalid_id")
)
