package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pkgconfig "github.com/buja23/OpiticaPruden/pkg/config"
	"github.com/buja23/OpiticaPruden/pkg/database"
	"github.com/buja23/OpiticaPruden/pkg/httpclient"
	"github.com/buja23/OpiticaPruden/pkg/tracing"
)

// Payment gateway names accepted by PAYMENT_GATEWAY.
const (
	GatewayMercadoPago = "mercadopago"
	GatewayMock        = "mock"
)

// Config holds all configuration for the checkout service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"CHECKOUT_HTTP_PORT" envDefault:"8080"`

	// PostgreSQL. DATABASE_URL wins over the discrete settings.
	DatabaseURL  string `env:"DATABASE_URL"`
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"optica"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"optica_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"optica"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis. Optional; without it the session cache and the notification
	// ledger are disabled.
	RedisURL string `env:"REDIS_URL"`

	SessionCacheTTL       time.Duration `env:"CHECKOUT_SESSION_TTL" envDefault:"30m"`
	NotificationLedgerTTL time.Duration `env:"WEBHOOK_DEDUPE_TTL" envDefault:"24h"`

	// Per-cart checkout lock. The TTL outlives a slow gateway call; a
	// duplicate submit waits up to CHECKOUT_LOCK_WAIT for the first one.
	CheckoutLockTTL  time.Duration `env:"CHECKOUT_LOCK_TTL" envDefault:"45s"`
	CheckoutLockWait time.Duration `env:"CHECKOUT_LOCK_WAIT" envDefault:"10s"`

	// Kafka. Empty disables event publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// Payment gateway
	PaymentGateway        string `env:"PAYMENT_GATEWAY" envDefault:"mercadopago"`
	SiteURL               string `env:"SITE_URL"`
	MPAccessToken         string `env:"MP_ACCESS_TOKEN"`
	MPBaseURL             string `env:"MP_BASE_URL" envDefault:"https://api.mercadopago.com"`
	MPUseSandbox          bool   `env:"MP_USE_SANDBOX" envDefault:"false"`
	MPAutoReturnFallback  bool   `env:"MP_AUTO_RETURN_FALLBACK" envDefault:"true"`
	MPInstallments        int    `env:"MP_INSTALLMENTS" envDefault:"12"`
	MPNotificationURL     string `env:"MP_NOTIFICATION_URL"`
	MPStatementDescriptor string `env:"MP_STATEMENT_DESCRIPTOR" envDefault:"OTICAPRUDEN"`
	MPCurrencyID          string `env:"MP_CURRENCY_ID" envDefault:"BRL"`
	GatewayTimeoutSeconds int    `env:"MP_TIMEOUT_SECONDS" envDefault:"15"`
	GatewayMaxRetries     int    `env:"MP_MAX_RETRIES" envDefault:"2"`

	// Circuit breaker around the payment gateway
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Order expiry
	OrderPendingTimeout time.Duration `env:"ORDER_PENDING_TIMEOUT" envDefault:"12h"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"0"`
	SweepToken          string        `env:"SWEEP_TOKEN"`

	// Auth. Without a secret the X-User-ID header is trusted, which is only
	// allowed outside production.
	JWTSecret string `env:"JWT_SECRET"`

	// Per-IP rate limit on public write routes. 0 disables it.
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// CORS. Defaults to SITE_URL when empty.
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from a .env file, when present, and the
// environment. Environment variables win over the file.
func Load(files ...string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadDotenv(cfg, files...); err != nil {
		return nil, fmt.Errorf("load checkout config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStores reads the same sources as Load but only checks the settings
// needed to open the stores. Commands that never serve HTTP or call the
// payment gateway use it.
func LoadStores(files ...string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadDotenv(cfg, files...); err != nil {
		return nil, fmt.Errorf("load checkout config: %w", err)
	}
	if err := cfg.validateStores(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateStores checks the database and order expiry settings.
func (c *Config) validateStores() error {
	if c.DatabaseURL == "" {
		if c.PostgresHost == "" {
			return errors.New("DATABASE_URL or POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return errors.New("POSTGRES_USER is required")
		}
	}
	if c.OrderPendingTimeout <= 0 {
		return fmt.Errorf("ORDER_PENDING_TIMEOUT must be positive, got %s", c.OrderPendingTimeout)
	}
	return nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if err := c.validateStores(); err != nil {
		return err
	}

	if c.SiteURL == "" {
		return errors.New("SITE_URL is required")
	}
	if err := checkURL("SITE_URL", c.SiteURL); err != nil {
		return err
	}
	if c.MPNotificationURL != "" {
		if err := checkURL("MP_NOTIFICATION_URL", c.MPNotificationURL); err != nil {
			return err
		}
	}

	switch c.PaymentGateway {
	case GatewayMercadoPago:
		if c.MPAccessToken == "" {
			return errors.New("MP_ACCESS_TOKEN is required when PAYMENT_GATEWAY=mercadopago")
		}
		if err := checkURL("MP_BASE_URL", c.MPBaseURL); err != nil {
			return err
		}
	case GatewayMock:
		if c.IsProduction() {
			return errors.New("PAYMENT_GATEWAY=mock is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_GATEWAY %q", c.PaymentGateway)
	}

	if c.MPInstallments < 0 || c.MPInstallments > 36 {
		return fmt.Errorf("MP_INSTALLMENTS must be between 0 and 36, got %d", c.MPInstallments)
	}
	if c.CheckoutLockTTL <= 0 {
		return fmt.Errorf("CHECKOUT_LOCK_TTL must be positive, got %s", c.CheckoutLockTTL)
	}
	if c.CheckoutLockWait < 0 {
		return fmt.Errorf("CHECKOUT_LOCK_WAIT must not be negative, got %s", c.CheckoutLockWait)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must not be negative, got %s", c.SweepInterval)
	}
	if c.JWTSecret == "" && c.IsProduction() {
		return errors.New("JWT_SECRET is required in production")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative, got %f", c.RateLimitRPS)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

func checkURL(name, raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s %q: scheme must be http or https", name, raw)
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Postgres returns the connection pool settings.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		URL:             c.DatabaseURL,
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Tracing returns the OpenTelemetry settings for serviceName.
func (c *Config) Tracing(serviceName string) tracing.Config {
	cfg := tracing.DefaultConfig(serviceName)
	cfg.Enabled = c.OTELEnabled
	cfg.Environment = c.Environment
	cfg.OTLPEndpoint = c.OTELEndpoint
	cfg.SampleRate = c.OTELSampleRate
	return cfg
}

// GatewayHTTP returns the retrying client settings for gateway calls.
func (c *Config) GatewayHTTP() httpclient.Config {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = time.Duration(c.GatewayTimeoutSeconds) * time.Second
	cfg.MaxRetries = c.GatewayMaxRetries
	return cfg
}

// CircuitBreaker returns the breaker settings for gateway calls.
func (c *Config) CircuitBreaker(name string) httpclient.CircuitBreakerConfig {
	return httpclient.CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  c.CBMaxRequests,
		Interval:     time.Duration(c.CBInterval) * time.Second,
		Timeout:      time.Duration(c.CBTimeout) * time.Second,
		FailureRatio: c.CBFailureRatio,
		MinRequests:  c.CBMinRequests,
	}
}

// AllowedOrigins returns the CORS origins, falling back to SITE_URL.
func (c *Config) AllowedOrigins() []string {
	if len(c.CORSAllowedOrigins) > 0 {
		return c.CORSAllowedOrigins
	}
	return []string{strings.TrimRight(c.SiteURL, "/")}
}
