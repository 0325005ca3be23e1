package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Common holds the settings every binary needs.
type Common struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	RedisURL    string `env:"REDIS_URL"`

	MetricsPort    string   `env:"METRICS_PORT"     envDefault:"9090"`
	MetricsAPIKeys []string `env:"METRICS_API_KEYS" envSeparator:","`

	PurgeCron string `env:"PURGE_CRON" envDefault:"*/5 * * * *" validate:"required"`
}

// Config is the API server configuration.
type Config struct {
	Common

	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	JWTSecret     string `env:"JWT_SECRET,required" validate:"required,min=32"`
	JWTIssuer     string `env:"JWT_ISSUER"          envDefault:"farm-market" validate:"required"`
	JWTAudience   string `env:"JWT_AUDIENCE"        envDefault:"farm-market-clients" validate:"required"`
	JWTTTLMinutes int    `env:"JWT_TTL_MINUTES"     envDefault:"60" validate:"min=1,max=10080"`

	// Base64 AES key (16/24/32 bytes) and 16-byte IV. Optional only in ENV=local.
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY" validate:"required_unless=Env local"`
	TokenEncryptionIV  string `env:"TOKEN_ENCRYPTION_IV"  validate:"required_unless=Env local"`

	RateLimitRPM    int  `env:"RATE_LIMIT_RPM"    envDefault:"100" validate:"min=1"`
	SuspiciousIPRPM int  `env:"SUSPICIOUS_IP_RPM" envDefault:"500" validate:"min=1"`
	AllowHTTP       bool `env:"ALLOW_HTTP"        envDefault:"false"`

	// Reverse proxies (IPs or CIDRs) whose X-Forwarded-For and
	// X-Forwarded-Proto are honoured. Empty trusts none.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:"," validate:"dive,ip|cidr"`

	MailProvider string `env:"MAIL_PROVIDER"  envDefault:"log" validate:"oneof=log resend smtp"`
	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=MailProvider resend"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_if=MailProvider resend"`
	SMTPHost     string `env:"SMTP_HOST"      validate:"required_if=MailProvider smtp"`
	SMTPPort     int    `env:"SMTP_PORT"      envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"      validate:"required_if=MailProvider smtp"`

	AuditBufferSize int `env:"AUDIT_BUFFER_SIZE" envDefault:"1024" validate:"min=1"`
}

// Seed configures cmd/seed.
type Seed struct {
	Common

	AdminEmail    string `env:"SEED_ADMIN_EMAIL,required"    validate:"required,email"`
	AdminPassword string `env:"SEED_ADMIN_PASSWORD,required" validate:"required,min=8"`
	AdminUsername string `env:"SEED_ADMIN_USERNAME"          envDefault:"admin" validate:"required"`
}

func Load() (*Config, error) {
	return load[Config]()
}

func LoadCommon() (*Common, error) {
	return load[Common]()
}

func LoadSeed() (*Seed, error) {
	return load[Seed]()
}

func load[T any]() (*T, error) {
	cfg := new(T)

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Common) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Common) IsLocal() bool { return c.Env == "local" }

func (c *Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLMinutes) * time.Minute
}
