package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/clinicbilling/internal/clock"
	"github.com/smallbiznis/clinicbilling/internal/config"
	dunningdomain "github.com/smallbiznis/clinicbilling/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/clinicbilling/internal/invoice/domain"
	tenantdomain "github.com/smallbiznis/clinicbilling/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	BillingCfg  *config.BillingConfigHolder
	InvoiceRepo invoicedomain.Repository
	TenantRepo  tenantdomain.Repository
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	cfg         *config.BillingConfigHolder
	invoiceRepo invoicedomain.Repository
	tenantRepo  tenantdomain.Repository
}

func NewService(p ServiceParam) dunningdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("dunning.service"),
		clock:       clk,
		cfg:         p.BillingCfg,
		invoiceRepo: p.InvoiceRepo,
		tenantRepo:  p.TenantRepo,
	}
}

func (s *Service) FindSuspensionCandidates(ctx context.Context, graceDays int) ([]dunningdomain.Candidate, error) {
	all, err := s.Evaluate(ctx, graceDays)
	if err != nil {
		return nil, err
	}
	return lo.Filter(all, func(c dunningdomain.Candidate, _ int) bool {
		return c.ShouldSuspend
	}), nil
}

// Evaluate joins unpaid invoice groups with their tenants. A negative
// graceDays uses the configured grace period.
func (s *Service) Evaluate(ctx context.Context, graceDays int) ([]dunningdomain.Candidate, error) {
	cfg := s.cfg.Get()
	if graceDays < 0 {
		graceDays = cfg.Dunning.GraceDays
	}
	threshold := cfg.Dunning.SuspensionThreshold
	if threshold < 1 {
		threshold = 1
	}

	groups, err := s.invoiceRepo.FindUnpaidGroupedByTenant(ctx, s.db)
	if err != nil {
		return nil, err
	}
	groups = lo.Filter(groups, func(g invoicedomain.TenantInvoices, _ int) bool {
		return len(g.Invoices) >= threshold
	})
	if len(groups) == 0 {
		return nil, nil
	}

	ids := lo.Map(groups, func(g invoicedomain.TenantInvoices, _ int) snowflake.ID { return g.TenantID })
	tenants, err := s.tenantRepo.FindByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(tenants, func(t *tenantdomain.Tenant) snowflake.ID { return t.ID })

	now := s.clock.Now()
	cutoff := now.AddDate(0, 0, -graceDays)

	candidates := make([]dunningdomain.Candidate, 0, len(groups))
	for _, group := range groups {
		tenant, ok := byID[group.TenantID]
		if !ok || tenant == nil {
			s.log.Warn("dunning.tenant.missing", zap.String("tenant_id", group.TenantID.String()))
			continue
		}
		if !tenant.IsActive {
			continue
		}

		trigger := group.Invoices[threshold-1]
		candidate := dunningdomain.Candidate{
			Tenant:         *tenant,
			Invoices:       lo.Map(group.Invoices, func(inv *invoicedomain.Invoice, _ int) invoicedomain.Invoice { return *inv }),
			FirstInvoice:   dunningdomain.Summarize(group.Invoices[0]),
			TriggerInvoice: dunningdomain.Summarize(trigger),
			UnpaidCount:    len(group.Invoices),
			ShouldSuspend:  trigger.CreatedAt.Before(cutoff),
			DaysOverdue:    daysBetween(trigger.CreatedAt, now),
			AdminEmails:    tenant.AdminEmails(),
			AdminNames:     tenant.AdminNames(),
		}
		if len(group.Invoices) > 1 {
			candidate.SecondInvoice = dunningdomain.Summarize(group.Invoices[1])
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// daysBetween counts whole elapsed days from -> to, never negative.
func daysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / (24 * time.Hour))
}
