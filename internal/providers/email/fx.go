package email

import (
	"github.com/smallbiznis/clinicbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	switch cfg.Email.Provider {
	case config.EmailProviderResend:
		if cfg.Email.ResendAPIKey == "" {
			log.Warn("email.provider.resend_missing_key", zap.String("fallback", "noop"))
			return &NoOpProvider{}
		}
		return NewResend(ResendConfig{
			APIKey:   cfg.Email.ResendAPIKey,
			BaseURL:  cfg.Email.ResendBaseURL,
			From:     cfg.Email.From,
			RetryMax: cfg.Email.RetryMax,
		}, log)
	case config.EmailProviderSMTP:
		return NewSMTP(SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.From,
		})
	default:
		return &NoOpProvider{}
	}
}
