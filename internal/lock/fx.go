package lock

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewGuard),
	fx.Invoke(registerGuard),
)

func registerGuard(lc fx.Lifecycle, guard *Guard, log *zap.Logger) {
	if !guard.Enabled() {
		log.Info("lock.disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return guard.Close()
		},
	})
}
