package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbilling/internal/clock"
	"github.com/smallbiznis/clinicbilling/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/clinicbilling/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    tenantdomain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    tenantdomain.Repository
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) tenantdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("tenant.service"),
		clock:   clk,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (tenantdomain.Tenant, error) {
	if id == 0 {
		return tenantdomain.Tenant{}, tenantdomain.ErrInvalidID
	}
	tenant, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return tenantdomain.Tenant{}, err
	}
	if tenant == nil {
		return tenantdomain.Tenant{}, tenantdomain.ErrTenantNotFound
	}
	return *tenant, nil
}

// Suspend deactivates the tenant and returns its stored state. Invoices are
// left untouched.
func (s *Service) Suspend(ctx context.Context, id snowflake.ID, reason string) (tenantdomain.Tenant, bool, error) {
	if id == 0 {
		return tenantdomain.Tenant{}, false, tenantdomain.ErrInvalidID
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = tenantdomain.SuspensionReasonOverdue
	}

	changed, err := s.repo.Suspend(ctx, s.db, id, reason, s.clock.Now())
	if err != nil {
		return tenantdomain.Tenant{}, false, err
	}

	tenant, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return tenantdomain.Tenant{}, false, err
	}
	if tenant == nil {
		return tenantdomain.Tenant{}, false, tenantdomain.ErrTenantNotFound
	}

	if !changed {
		s.log.Debug("tenant.suspend.noop",
			zap.String("tenant_id", id.String()),
			zap.String("payment_state", string(tenant.PaymentState)),
		)
		return *tenant, false, nil
	}

	s.metrics.RecordTenantSuspended(ctx, reason)
	s.log.Info("tenant.suspended",
		zap.String("tenant_id", id.String()),
		zap.String("reason", reason),
	)
	return *tenant, true, nil
}
