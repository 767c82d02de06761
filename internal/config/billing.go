package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	_ "time/tzdata"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig holds the pricing and dunning parameters read on every run.
type BillingConfig struct {
	Pricing PricingConfig `mapstructure:"pricing"`
	Cycle   CycleConfig   `mapstructure:"cycle"`
	Dunning DunningConfig `mapstructure:"dunning"`
}

type PricingConfig struct {
	BasePrice string `mapstructure:"basePrice"`
	SeatPrice string `mapstructure:"seatPrice"`
	Currency  string `mapstructure:"currency"`
}

type CycleConfig struct {
	LookaheadDays     int    `mapstructure:"lookaheadDays"`
	Timezone          string `mapstructure:"timezone"`
	MaxUnpaidInvoices int    `mapstructure:"maxUnpaidInvoices"`
	EligibleState     string `mapstructure:"eligibleState"`
}

type DunningConfig struct {
	GraceDays           int `mapstructure:"graceDays"`
	SuspensionThreshold int `mapstructure:"suspensionThreshold"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Pricing: PricingConfig{
			BasePrice: "800",
			SeatPrice: "200",
			Currency:  "USD",
		},
		Cycle: CycleConfig{
			LookaheadDays:     5,
			Timezone:          "UTC",
			MaxUnpaidInvoices: 2,
			EligibleState:     "FREE_TRIAL",
		},
		Dunning: DunningConfig{
			GraceDays:           5,
			SuspensionThreshold: 2,
		},
	}
}

func (p PricingConfig) BaseAmount() decimal.Decimal {
	return decimal.RequireFromString(p.BasePrice)
}

func (p PricingConfig) SeatAmount() decimal.Decimal {
	return decimal.RequireFromString(p.SeatPrice)
}

// Location resolves the billing timezone; an unknown zone falls back to UTC.
func (c CycleConfig) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("billing.config")

	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/clinicbilling")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLINICBILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.pricing.basePrice", defaults.Pricing.BasePrice)
	v.SetDefault("billing.pricing.seatPrice", defaults.Pricing.SeatPrice)
	v.SetDefault("billing.pricing.currency", defaults.Pricing.Currency)
	v.SetDefault("billing.cycle.lookaheadDays", defaults.Cycle.LookaheadDays)
	v.SetDefault("billing.cycle.timezone", defaults.Cycle.Timezone)
	v.SetDefault("billing.cycle.maxUnpaidInvoices", defaults.Cycle.MaxUnpaidInvoices)
	v.SetDefault("billing.cycle.eligibleState", defaults.Cycle.EligibleState)
	v.SetDefault("billing.dunning.graceDays", defaults.Dunning.GraceDays)
	v.SetDefault("billing.dunning.suspensionThreshold", defaults.Dunning.SuspensionThreshold)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileLoaded {
		log.Info("billing.config.defaults")
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Warn("billing.config.reload_failed", zap.Error(err))
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Warn("billing.config.invalid", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing.config.reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	log.Info("billing.config.loaded", zap.String("file", v.ConfigFileUsed()))
	return holder, nil
}

// NewStaticBillingConfigHolder returns a holder that never reloads.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	cfg, ok := h.current.Load().(BillingConfig)
	if !ok {
		return DefaultBillingConfig()
	}
	return cfg
}

func validateBillingConfig(cfg BillingConfig) error {
	base, err := decimal.NewFromString(strings.TrimSpace(cfg.Pricing.BasePrice))
	if err != nil {
		return fmt.Errorf("billing.pricing.basePrice: %w", err)
	}
	seat, err := decimal.NewFromString(strings.TrimSpace(cfg.Pricing.SeatPrice))
	if err != nil {
		return fmt.Errorf("billing.pricing.seatPrice: %w", err)
	}
	if base.IsNegative() || seat.IsNegative() {
		return errors.New("billing.pricing prices cannot be negative")
	}
	if strings.TrimSpace(cfg.Pricing.Currency) == "" {
		return errors.New("billing.pricing.currency cannot be empty")
	}
	if cfg.Cycle.LookaheadDays < 0 {
		return errors.New("billing.cycle.lookaheadDays cannot be negative")
	}
	if _, err := time.LoadLocation(strings.TrimSpace(cfg.Cycle.Timezone)); err != nil {
		return fmt.Errorf("billing.cycle.timezone: %w", err)
	}
	if cfg.Cycle.MaxUnpaidInvoices < 1 {
		return errors.New("billing.cycle.maxUnpaidInvoices must be at least 1")
	}
	if cfg.Dunning.GraceDays < 0 {
		return errors.New("billing.dunning.graceDays cannot be negative")
	}
	if cfg.Dunning.SuspensionThreshold < 1 {
		return errors.New("billing.dunning.suspensionThreshold must be at least 1")
	}
	return nil
}
