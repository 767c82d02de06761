package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicbilling/internal/clock"
	"github.com/smallbiznis/clinicbilling/internal/config"
	"github.com/smallbiznis/clinicbilling/internal/dunning"
	"github.com/smallbiznis/clinicbilling/internal/invoice"
	"github.com/smallbiznis/clinicbilling/internal/lock"
	"github.com/smallbiznis/clinicbilling/internal/migration"
	"github.com/smallbiznis/clinicbilling/internal/notification"
	"github.com/smallbiznis/clinicbilling/internal/observability"
	"github.com/smallbiznis/clinicbilling/internal/scheduler"
	"github.com/smallbiznis/clinicbilling/internal/tenant"
	"github.com/smallbiznis/clinicbilling/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// appOptions wires every billing component. Callers add the entry point.
func appOptions(extra ...fx.Option) fx.Option {
	return fx.Options(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		tenant.Module,
		invoice.Module,
		dunning.Module,
		lock.Module,
		notification.Module,
		scheduler.Module,

		fx.Options(extra...),
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
