package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	NodeID      int64

	OpsAddr string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	MigrateOnStart    bool
	DBMetrics         bool

	Redis         RedisConfig
	Email         EmailConfig
	Scheduler     SchedulerConfig
	Observability ObservabilityConfig
}

type RedisConfig struct {
	Enabled bool
	URL     string
}

type EmailConfig struct {
	Provider         string
	From             string
	BillingFrom      string
	NotificationFrom string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	ResendAPIKey  string
	ResendBaseURL string
	RetryMax      int

	// SendRate and SendBurst throttle sends per provider when redis is enabled.
	SendRate  float64
	SendBurst int

	AttachInvoicePDF bool
}

// ObservabilityConfig drives logging, tracing and OTLP metrics export.
type ObservabilityConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

type SchedulerConfig struct {
	Enabled             bool
	BillingSchedule     string
	DunningSchedule     string
	ReconcileSchedule   string
	JobTimeout          time.Duration
	TenantTimeout       time.Duration
	StoreTimeout        time.Duration
	NotificationTimeout time.Duration
	Concurrency         int
	ReconcileBatchSize  int
	LockTTL             time.Duration
}

const (
	EmailProviderSMTP   = "smtp"
	EmailProviderResend = "resend"
	EmailProviderNoop   = "noop"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	from := getenv("EMAIL_FROM", "Clinic Billing <billing@localhost>")
	cfg := Config{
		AppName:           getenv("APP_SERVICE", "clinicbilling"),
		NodeID:            int64(getenvInt("APP_NODE_ID", 1)),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		OpsAddr:           getenv("OPS_ADDR", ":8080"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "clinicbilling"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		MigrateOnStart:    getenvBool("DATABASE_MIGRATE_ON_START", true),
		DBMetrics:         getenvBool("DATABASE_METRICS", true),
		Redis: RedisConfig{
			Enabled: getenvBool("REDIS_ENABLED", false),
			URL:     getenv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Email: EmailConfig{
			Provider:         strings.ToLower(strings.TrimSpace(getenv("EMAIL_PROVIDER", EmailProviderNoop))),
			From:             from,
			BillingFrom:      getenv("EMAIL_BILLING_FROM", from),
			NotificationFrom: getenv("EMAIL_NOTIFICATION_FROM", from),
			SMTPHost:         getenv("SMTP_HOST", "localhost"),
			SMTPPort:         getenvInt("SMTP_PORT", 587),
			SMTPUsername:     getenv("SMTP_USERNAME", ""),
			SMTPPassword:     getenv("SMTP_PASSWORD", ""),
			ResendAPIKey:     strings.TrimSpace(getenv("RESEND_API_KEY", "")),
			ResendBaseURL:    getenv("RESEND_BASE_URL", "https://api.resend.com"),
			RetryMax:         getenvInt("EMAIL_RETRY_MAX", 2),
			SendRate:         getenvFloat("EMAIL_SEND_RATE", 2),
			SendBurst:        getenvInt("EMAIL_SEND_BURST", 2),
			AttachInvoicePDF: getenvBool("EMAIL_ATTACH_INVOICE_PDF", true),
		},
		Scheduler: SchedulerConfig{
			Enabled:             getenvBool("SCHEDULER_ENABLED", true),
			BillingSchedule:     getenv("SCHEDULER_BILLING_CRON", "0 6 * * *"),
			DunningSchedule:     getenv("SCHEDULER_DUNNING_CRON", "30 6 * * *"),
			ReconcileSchedule:   getenv("SCHEDULER_RECONCILE_CRON", "*/15 * * * *"),
			JobTimeout:          getenvDuration("SCHEDULER_JOB_TIMEOUT", 30*time.Minute),
			TenantTimeout:       getenvDuration("SCHEDULER_TENANT_TIMEOUT", 30*time.Second),
			StoreTimeout:        getenvDuration("SCHEDULER_STORE_TIMEOUT", 10*time.Second),
			NotificationTimeout: getenvDuration("SCHEDULER_NOTIFICATION_TIMEOUT", 15*time.Second),
			Concurrency:         getenvInt("SCHEDULER_CONCURRENCY", 1),
			ReconcileBatchSize:  getenvInt("SCHEDULER_RECONCILE_BATCH_SIZE", 100),
			LockTTL:             getenvDuration("SCHEDULER_LOCK_TTL", 2*time.Minute),
		},
	}

	cfg.Observability = ObservabilityConfig{
		LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OtelEnabled:   getenvBool("OTEL_ENABLED", cfg.IsProduction()),
		OTLPEndpoint:  getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		OTLPProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
