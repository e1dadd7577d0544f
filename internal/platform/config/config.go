package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	sfstrings "storefront/pkg/platform/strings"
)

// Gateway modes.
const (
	GatewayKlarna = "klarna"
	GatewayMock   = "mock"
)

// Config is the full service configuration, read from the environment.
type Config struct {
	Server       Server
	Klarna       Klarna
	Session      Session
	Redis        RedisConfig
	Database     DatabaseConfig
	Kafka        KafkaConfig
	Log          LogConfig
	Verification VerificationConfig
	CORS         CORSConfig
	RateLimit    RateLimitConfig

	GatewayMode string `envconfig:"GATEWAY_MODE" default:"klarna"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `envconfig:"STOREFRONT_ADDR"`
	Port            string        `envconfig:"PORT" default:"3000"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// ListenAddr prefers STOREFRONT_ADDR and falls back to ":PORT".
func (s Server) ListenAddr() string {
	if s.Addr != "" {
		return s.Addr
	}
	return ":" + s.Port
}

// Klarna holds identity provider credentials. The secret is only ever sent to
// the provider and is never exposed by the public config endpoint.
type Klarna struct {
	ClientID     string `envconfig:"KLARNA_CLIENT_ID"`
	ClientSecret string `envconfig:"KLARNA_CLIENT_SECRET"`
	Environment  string `envconfig:"KLARNA_ENVIRONMENT" default:"sandbox"`
	BaseURL      string `envconfig:"KLARNA_BASE_URL"`
	AccountID    string `envconfig:"KLARNA_ACCOUNT_ID"`
	ReturnURL    string `envconfig:"KLARNA_RETURN_URL" default:"http://localhost:3000/api/klarna/callback"`
	AuthScheme   string `envconfig:"KLARNA_AUTH_SCHEME" default:"basic"`
	// RequestsPerSecond throttles outbound provider calls.
	RequestsPerSecond float64 `envconfig:"KLARNA_RATE_LIMIT" default:"5"`
}

// ResolvedBaseURL returns KLARNA_BASE_URL or the environment's default host.
func (k Klarna) ResolvedBaseURL() string {
	if k.BaseURL != "" {
		return strings.TrimRight(k.BaseURL, "/")
	}
	if k.Environment == "production" {
		return "https://api.klarna.com"
	}
	return "https://api.playground.klarna.com"
}

type Session struct {
	SigningKey   string        `envconfig:"SESSION_SIGNING_KEY"`
	TTL          time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	SecureCookie bool          `envconfig:"SESSION_SECURE_COOKIE" default:"false"`
	// IdleTimeout is how long an unused orchestrator stays in memory. Cart
	// and verification survive eviction in the session store.
	IdleTimeout   time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"1m"`
}

// RedisConfig enables the Redis session store when URL is set.
type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
	KeyTTL       time.Duration `envconfig:"REDIS_KEY_TTL" default:"720h"`
}

// DatabaseConfig enables Postgres order and outbox storage when URL is set.
type DatabaseConfig struct {
	URL             string        `envconfig:"DATABASE_URL"`
	MaxOpenConns    int           `envconfig:"DATABASE_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"30m"`
}

// KafkaConfig enables the outbox relay when Brokers is set.
type KafkaConfig struct {
	Brokers       string        `envconfig:"KAFKA_BROKERS"`
	Topic         string        `envconfig:"KAFKA_TOPIC" default:"storefront.audit"`
	RelayInterval time.Duration `envconfig:"KAFKA_RELAY_INTERVAL" default:"1s"`
}

// BrokerList returns the configured seed brokers.
func (k KafkaConfig) BrokerList() []string {
	return sfstrings.SplitList(k.Brokers)
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// VerificationConfig bounds the external verification flow.
type VerificationConfig struct {
	PollInterval  time.Duration `envconfig:"VERIFICATION_POLL_INTERVAL" default:"2s"`
	MaxPolls      int           `envconfig:"VERIFICATION_MAX_POLLS" default:"30"`
	SubmitTimeout time.Duration `envconfig:"VERIFICATION_SUBMIT_TIMEOUT" default:"30s"`
}

type CORSConfig struct {
	AllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// RateLimitConfig throttles provider-bound routes per session.
type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"RATE_LIMIT_RPS" default:"1"`
	Burst             int     `envconfig:"RATE_LIMIT_BURST" default:"5"`
	Disabled          bool    `envconfig:"RATE_LIMIT_DISABLED" default:"false"`
}

// Origins returns the allowed CORS origins.
func (c CORSConfig) Origins() []string {
	return sfstrings.SplitList(c.AllowedOrigins)
}

// FromEnv reads and validates the configuration.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field rules envconfig cannot express.
func (c Config) Validate() error {
	var errs []error
	switch c.GatewayMode {
	case GatewayKlarna:
		if c.Klarna.ClientID == "" || c.Klarna.ClientSecret == "" {
			if c.Klarna.AuthScheme != "none" {
				errs = append(errs, errors.New("KLARNA_CLIENT_ID and KLARNA_CLIENT_SECRET are required in klarna gateway mode"))
			}
		}
		switch c.Klarna.AuthScheme {
		case "basic", "bearer", "none":
		default:
			errs = append(errs, fmt.Errorf("unsupported KLARNA_AUTH_SCHEME %q", c.Klarna.AuthScheme))
		}
	case GatewayMock:
	default:
		errs = append(errs, fmt.Errorf("unsupported GATEWAY_MODE %q", c.GatewayMode))
	}
	if c.Verification.PollInterval <= 0 {
		errs = append(errs, errors.New("VERIFICATION_POLL_INTERVAL must be positive"))
	}
	if c.Verification.MaxPolls <= 0 {
		errs = append(errs, errors.New("VERIFICATION_MAX_POLLS must be positive"))
	}
	if !c.RateLimit.Disabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if c.Verification.SubmitTimeout <= 0 {
		errs = append(errs, errors.New("VERIFICATION_SUBMIT_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// NewTestConfig returns a configuration for tests: mock gateway, in-memory
// storage, fast polling.
func NewTestConfig() Config {
	return Config{
		Server: Server{Port: "0", ShutdownTimeout: time.Second},
		Session: Session{
			SigningKey:    "test-signing-key",
			TTL:           time.Hour,
			IdleTimeout:   time.Minute,
			SweepInterval: time.Second,
		},
		RateLimit: RateLimitConfig{Disabled: true},
		Kafka:     KafkaConfig{Topic: "storefront.audit"},
		Log:       LogConfig{Level: "error", Format: "text"},
		Verification: VerificationConfig{
			PollInterval:  10 * time.Millisecond,
			MaxPolls:      5,
			SubmitTimeout: time.Second,
		},
		GatewayMode: GatewayMock,
	}
}
