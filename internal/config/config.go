package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/utafrali/projectflow/internal/auth"
	pkgconfig "github.com/utafrali/projectflow/pkg/config"
	"github.com/utafrali/projectflow/pkg/database"
	"github.com/utafrali/projectflow/pkg/middleware"
	"github.com/utafrali/projectflow/pkg/tracing"
)

const (
	// DefaultJWTSecret is accepted only in development.
	DefaultJWTSecret = "change-this-to-a-secure-secret"

	minJWTSecretLength = 32

	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort          int           `env:"AUTH_HTTP_PORT" envDefault:"8001"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	RateLimitRPS      float64       `env:"AUTH_RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst    int           `env:"AUTH_RATE_LIMIT_BURST" envDefault:"20"`
	TrustProxy        bool          `env:"TRUST_PROXY" envDefault:"false"`
	PprofAllowedCIDRs []string      `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`

	// Token store
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// DevUsers seeds the memory store: "email:password-hash" entries
	// separated by ";".
	DevUsers []string `env:"DEV_USERS" envSeparator:";"`

	// PostgreSQL
	PostgresHost         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser         string        `env:"POSTGRES_USER" envDefault:"projectflow"`
	PostgresPass         string        `env:"POSTGRES_PASSWORD" envDefault:"projectflow_secret"`
	PostgresDB           string        `env:"AUTH_DB_NAME" envDefault:"projectflow_auth"`
	PostgresSSL          string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns           int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetime    time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	SlowQueryThresholdMs int           `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Redis backs the login throttle. Disabled leaves logins unthrottled.
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"true"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	LoginMaxAttempts   int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginAttemptWindow time.Duration `env:"LOGIN_ATTEMPT_WINDOW" envDefault:"15m"`

	// Kafka
	EventsEnabled bool     `env:"EVENTS_ENABLED" envDefault:"false"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Tokens
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"projectflow-auth"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"168h"`

	SingleSession bool `env:"AUTH_SINGLE_SESSION" envDefault:"false"`

	// Password hashing. Every stored hash should use this scheme; unknown
	// emails are answered after comparing a dummy hash of the same cost.
	PasswordHashAlgo  string `env:"PASSWORD_HASH_ALGO" envDefault:"bcrypt"`
	BcryptCost        int    `env:"BCRYPT_COST" envDefault:"12"`
	Argon2MemoryKiB   uint32 `env:"ARGON2_MEMORY_KIB" envDefault:"65536"`
	Argon2Iterations  uint32 `env:"ARGON2_ITERATIONS" envDefault:"3"`
	Argon2Parallelism uint8  `env:"ARGON2_PARALLELISM" envDefault:"2"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELInsecure   bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	return cfg, nil
}

// LoadFrom reads configuration from environ instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadFrom(cfg, environ); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate checks rules the env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP port: %d", c.HTTPPort))
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if !c.IsDevelopment() {
		if c.JWTSecret == DefaultJWTSecret {
			errs = append(errs, fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment))
		} else if len(c.JWTSecret) < minJWTSecretLength {
			errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters long, got %d", minJWTSecretLength, len(c.JWTSecret)))
		}
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}

	if c.JWTAccessExpiry <= 0 {
		errs = append(errs, fmt.Errorf("JWT_ACCESS_TOKEN_EXPIRY must be positive, got %s", c.JWTAccessExpiry))
	}
	if c.JWTRefreshExpiry <= c.JWTAccessExpiry {
		errs = append(errs, fmt.Errorf("JWT_REFRESH_TOKEN_EXPIRY (%s) must exceed the access token expiry (%s)", c.JWTRefreshExpiry, c.JWTAccessExpiry))
	}

	switch c.StoreDriver {
	case StoreDriverPostgres:
	case StoreDriverMemory:
		if !c.IsDevelopment() {
			errs = append(errs, fmt.Errorf("STORE_DRIVER %q is only allowed in development", c.StoreDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if len(c.DevUsers) > 0 && c.StoreDriver != StoreDriverMemory {
		errs = append(errs, errors.New("DEV_USERS requires STORE_DRIVER=memory"))
	}
	scheme := c.PasswordScheme()
	schemeErr := scheme.Validate()
	if schemeErr != nil {
		errs = append(errs, fmt.Errorf("PASSWORD_HASH_ALGO: %w", schemeErr))
	}
	for _, entry := range c.DevUsers {
		email, hash, ok := strings.Cut(entry, ":")
		if !ok {
			errs = append(errs, fmt.Errorf("DEV_USERS entry must be email:hash, got %q", entry))
			continue
		}
		if schemeErr == nil && !scheme.Produced(hash) {
			errs = append(errs, fmt.Errorf("DEV_USERS hash for %s was not produced by PASSWORD_HASH_ALGO=%s with the configured cost", email, scheme.Algorithm))
		}
	}

	if c.LoginMaxAttempts > 0 && c.LoginAttemptWindow <= 0 {
		errs = append(errs, fmt.Errorf("LOGIN_ATTEMPT_WINDOW must be positive, got %s", c.LoginAttemptWindow))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("AUTH_RATE_LIMIT_BURST must be at least 1, got %d", c.RateLimitBurst))
	}

	for _, cidr := range c.PprofAllowedCIDRs {
		if _, err := netip.ParsePrefix(strings.TrimSpace(cidr)); err != nil {
			errs = append(errs, fmt.Errorf("invalid PPROF_ALLOWED_CIDRS entry %q: %w", cidr, err))
		}
	}

	if c.EventsEnabled && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when EVENTS_ENABLED is set"))
	}

	return errors.Join(errs...)
}

// PasswordScheme returns the hashing setup for new and verified passwords.
func (c *Config) PasswordScheme() auth.PasswordScheme {
	argon := auth.DefaultArgon2idParams()
	argon.MemoryKiB = c.Argon2MemoryKiB
	argon.Iterations = c.Argon2Iterations
	argon.Parallelism = c.Argon2Parallelism
	return auth.PasswordScheme{
		Algorithm:  c.PasswordHashAlgo,
		BcryptCost: c.BcryptCost,
		Argon2id:   argon,
	}
}

// Postgres returns the pool settings.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: c.DBMaxConnLifetime,
		MaxConnIdleTime: c.DBMaxConnIdleTime,
	}
}

// Redis returns the throttle store settings.
func (c *Config) Redis() database.RedisConfig {
	rc := database.DefaultRedisConfig()
	rc.Host = c.RedisHost
	rc.Port = c.RedisPort
	rc.Password = c.RedisPassword
	rc.DB = c.RedisDB
	return rc
}

// Tracing returns the OpenTelemetry settings for serviceName.
func (c *Config) Tracing(serviceName, version string) tracing.Config {
	return tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTELEndpoint,
		SampleRate:     c.OTELSampleRate,
		Insecure:       c.OTELInsecure,
		Enabled:        c.OTELEnabled,
	}
}

// CORS returns the CORS settings for the auth API.
func (c *Config) CORS() middleware.CORSConfig {
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = c.CORSAllowedOrigins
	cors.Environment = c.Environment
	return cors
}
