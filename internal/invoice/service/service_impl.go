package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/clinicbilling/internal/clock"
	"github.com/smallbiznis/clinicbilling/internal/config"
	invoicedomain "github.com/smallbiznis/clinicbilling/internal/invoice/domain"
	"github.com/smallbiznis/clinicbilling/internal/invoice/format"
	"github.com/smallbiznis/clinicbilling/internal/observability/metrics"
	"github.com/smallbiznis/clinicbilling/internal/pricing"
	tenantdomain "github.com/smallbiznis/clinicbilling/internal/tenant/domain"
	"github.com/smallbiznis/clinicbilling/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultReconcileLimit = 100

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	BillingCfg *config.BillingConfigHolder
	Repo       invoicedomain.Repository
	TenantRepo tenantdomain.Repository
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	cfg   *config.BillingConfigHolder

	repo       invoicedomain.Repository
	tenantRepo tenantdomain.Repository
	metrics    *metrics.Metrics

	newBackOff func() backoff.BackOff
}

func NewService(p ServiceParam) invoicedomain.Service {
	return newService(p)
}

func newService(p ServiceParam) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		clock:      clk,
		cfg:        p.BillingCfg,
		repo:       p.Repo,
		tenantRepo: p.TenantRepo,
		metrics:    p.Metrics,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 100 * time.Millisecond
	exp.MaxInterval = time.Second
	exp.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(exp, 3)
}

func (s *Service) Period() string {
	return invoicedomain.PeriodOf(s.clock.Now(), s.cfg.Get().Cycle.Location())
}

func (s *Service) HasInvoiceForPeriod(ctx context.Context, tenantID snowflake.ID, period string) (bool, error) {
	if tenantID == 0 {
		return false, invoicedomain.ErrInvalidTenantID
	}
	existing, err := s.repo.FindByPeriod(ctx, s.db, tenantID, period)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// Evaluate reports whether an invoice can be generated for the current period.
func (s *Service) Evaluate(ctx context.Context, tenantID snowflake.ID) (invoicedomain.EligibilityResult, error) {
	if tenantID == 0 {
		return invoicedomain.EligibilityResult{}, invoicedomain.ErrInvalidTenantID
	}
	return s.evaluate(ctx, s.db, tenantID, s.Period(), s.cfg.Get())
}

func (s *Service) evaluate(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, period string, cfg config.BillingConfig) (invoicedomain.EligibilityResult, error) {
	existing, err := s.repo.FindByPeriod(ctx, conn, tenantID, period)
	if err != nil {
		return invoicedomain.EligibilityResult{}, err
	}
	unpaid, err := s.repo.CountByStatus(ctx, conn, tenantID, invoicedomain.InvoiceStatusGenerated)
	if err != nil {
		return invoicedomain.EligibilityResult{}, err
	}
	return invoicedomain.EvaluateEligibility(existing != nil, unpaid, cfg.Cycle.MaxUnpaidInvoices), nil
}

// Generate creates the current period's invoice and then advances the
// tenant expiration by one calendar month. The invoice insert commits on
// its own; a failed expiration update is reported through
// ReconciliationPending and picked up by ReconcileExpirations.
func (s *Service) Generate(ctx context.Context, tenantID snowflake.ID) (invoicedomain.GenerationResult, error) {
	if tenantID == 0 {
		return invoicedomain.GenerationResult{}, invoicedomain.ErrInvalidTenantID
	}

	cfg := s.cfg.Get()
	now := s.clock.Now()
	period := invoicedomain.PeriodOf(now, cfg.Cycle.Location())

	var (
		invoice   *invoicedomain.Invoice
		preUnpaid int
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.tenantRepo.FindByIDForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}

		eligibility, err := s.evaluate(ctx, tx, tenantID, period, cfg)
		if err != nil {
			return err
		}
		preUnpaid = eligibility.UnpaidCount
		if eligibility.Reason == invoicedomain.ReasonPeriodExists {
			return invoicedomain.ErrAlreadyInvoiced
		}
		if !eligibility.CanGenerate {
			return &invoicedomain.NotEligibleError{Result: eligibility}
		}

		invoice, err = s.buildInvoice(tenant, period, now, cfg)
		if err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, invoice); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return invoicedomain.ErrAlreadyInvoiced
			}
			return err
		}
		return nil
	})
	if err != nil {
		return invoicedomain.GenerationResult{}, err
	}

	s.log.Info("invoice.generated",
		zap.String("tenant_id", tenantID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("period", invoice.Period),
		zap.String("amount", invoice.Amount.StringFixed(2)),
		zap.String("currency", invoice.Currency),
		zap.Int("seats", invoice.Seats),
	)
	amount, _ := invoice.Amount.Float64()
	s.metrics.RecordInvoiceGenerated(ctx, invoice.Currency, amount)

	result := invoicedomain.GenerationResult{
		Invoice:               *invoice,
		UnpaidCount:           preUnpaid + 1,
		IsSecondUnpaidInvoice: preUnpaid == 1,
	}

	if err := s.applyExpiration(ctx, invoice); err != nil {
		result.ReconciliationPending = true
		s.log.Error("invoice.expiration_deferred",
			zap.String("tenant_id", tenantID.String()),
			zap.String("invoice_id", invoice.ID.String()),
			zap.Time("expires_from", invoice.ExpiresFrom),
			zap.Time("expires_to", invoice.ExpiresTo),
			zap.Error(err),
		)
		return result, nil
	}
	applied := s.clock.Now()
	result.Invoice.ExpirationAppliedAt = &applied
	return result, nil
}

func (s *Service) buildInvoice(tenant *tenantdomain.Tenant, period string, now time.Time, cfg config.BillingConfig) (*invoicedomain.Invoice, error) {
	quote := pricing.QuoteFor(cfg.Pricing, tenant.Seats)
	loc := cfg.Cycle.Location()
	periodStart := invoicedomain.PeriodStart(now, loc)
	expiresFrom := tenant.ExpiresAt.UTC()
	// Months are counted on the billing calendar, not UTC, so local month ends hold.
	expiresTo := invoicedomain.AddCalendarMonths(tenant.ExpiresAt.In(loc), 1).UTC()

	reference, err := format.FormatExternalReference(format.DefaultExternalReferenceTemplate, tenant.ID, periodStart, 1)
	if err != nil {
		return nil, err
	}

	return &invoicedomain.Invoice{
		ID:                s.genID.Generate(),
		TenantID:          tenant.ID,
		Period:            period,
		Amount:            quote.Total,
		Currency:          quote.Currency,
		Status:            invoicedomain.InvoiceStatusGenerated,
		Seats:             quote.Seats,
		Description:       format.FormatDescription("", tenant.Name, period),
		TransactionID:     "TXN-" + ulid.Make().String(),
		ExternalReference: reference,
		IsAutomatic:       true,
		GeneratedBy:       invoicedomain.GeneratedByAutomatic,
		BillingCycle:      invoicedomain.BillingCycleMonthly,
		DisplayStatus:     invoicedomain.DisplayStatusIssued,
		ExpiresFrom:       expiresFrom,
		ExpiresTo:         expiresTo,
		Metadata: datatypes.JSONMap{
			"base_price":  quote.BasePrice.StringFixed(2),
			"seat_price":  quote.SeatPrice.StringFixed(2),
			"extra_seats": quote.ExtraSeats,
			"tenant_name": tenant.Name,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// applyExpiration moves the tenant from ExpiresFrom to ExpiresTo and marks
// the invoice. A tenant already at or past ExpiresTo counts as applied.
func (s *Service) applyExpiration(ctx context.Context, invoice *invoicedomain.Invoice) error {
	operation := func() error {
		advanced, err := s.tenantRepo.AdvanceExpiration(ctx, s.db, invoice.TenantID, invoice.ExpiresFrom, invoice.ExpiresTo, s.clock.Now())
		if err != nil {
			return err
		}
		if !advanced {
			tenant, err := s.tenantRepo.FindByID(ctx, s.db, invoice.TenantID)
			if err != nil {
				return err
			}
			if tenant == nil {
				return backoff.Permanent(tenantdomain.ErrTenantNotFound)
			}
			if tenant.ExpiresAt.Before(invoice.ExpiresTo) {
				return backoff.Permanent(fmt.Errorf("%w: tenant expires at %s, want %s",
					invoicedomain.ErrExpirationConflict,
					tenant.ExpiresAt.UTC().Format(time.RFC3339),
					invoice.ExpiresFrom.UTC().Format(time.RFC3339),
				))
			}
		}
		return s.repo.MarkExpirationApplied(ctx, s.db, invoice.ID, s.clock.Now())
	}
	return backoff.Retry(operation, backoff.WithContext(s.newBackOff(), ctx))
}

// ReconcileExpirations retries the expiration update for invoices whose
// second phase never completed.
func (s *Service) ReconcileExpirations(ctx context.Context, limit int) (invoicedomain.ReconcileSummary, error) {
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	pending, err := s.repo.FindPendingExpiration(ctx, s.db, limit)
	if err != nil {
		return invoicedomain.ReconcileSummary{}, err
	}

	summary := invoicedomain.ReconcileSummary{Scanned: len(pending)}
	for _, invoice := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := s.applyExpiration(ctx, invoice); err != nil {
			summary.Deferred++
			level := s.log.Warn
			if errors.Is(err, invoicedomain.ErrExpirationConflict) {
				level = s.log.Error
			}
			level("invoice.reconcile_deferred",
				zap.String("tenant_id", invoice.TenantID.String()),
				zap.String("invoice_id", invoice.ID.String()),
				zap.Error(err),
			)
			continue
		}
		summary.Applied++
		s.log.Info("invoice.reconciled",
			zap.String("tenant_id", invoice.TenantID.String()),
			zap.String("invoice_id", invoice.ID.String()),
			zap.Time("expires_to", invoice.ExpiresTo),
		)
	}
	return summary, nil
}
