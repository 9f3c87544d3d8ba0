package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/astroxblogs/authgate/pkg/config"
	"github.com/astroxblogs/authgate/pkg/database"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"AUTH_HTTP_PORT" envDefault:"8001"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"authgate"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"authgate_secret"`
	PostgresDB   string `env:"AUTH_DB_NAME" envDefault:"auth_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Redis (login rate limiting)
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// JWT. The refresh secret falls back to the access secret when unset,
	// which keeps single-secret deployments working.
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET" envDefault:""`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"1h"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"48h"`

	// Refresh cookie
	CookiePath   string        `env:"REFRESH_COOKIE_PATH" envDefault:"/api/v1/auth"`
	CookieMaxAge time.Duration `env:"REFRESH_COOKIE_MAX_AGE" envDefault:"168h"`

	// Login rate limiting
	LoginAttemptLimit  int           `env:"LOGIN_ATTEMPT_LIMIT" envDefault:"10"`
	LoginAttemptWindow time.Duration `env:"LOGIN_ATTEMPT_WINDOW" envDefault:"15m"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	if cfg.JWTAccessExpiry <= 0 {
		return nil, fmt.Errorf("invalid JWT access token expiry: %s", cfg.JWTAccessExpiry)
	}
	if cfg.JWTRefreshExpiry <= 0 {
		return nil, fmt.Errorf("invalid JWT refresh token expiry: %s", cfg.JWTRefreshExpiry)
	}

	// In non-development environments, require explicitly set, strong JWT secrets.
	if cfg.Environment != "development" {
		if cfg.JWTSecret == defaultJWTSecret {
			return nil, fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", cfg.Environment)
		}
		if len(cfg.JWTSecret) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(cfg.JWTSecret))
		}
		if cfg.JWTRefreshSecret != "" && len(cfg.JWTRefreshSecret) < 32 {
			return nil, fmt.Errorf("JWT_REFRESH_SECRET must be at least 32 characters long, got %d", len(cfg.JWTRefreshSecret))
		}
	}

	return cfg, nil
}

// IsProduction reports whether the service runs in production mode.
// The refresh cookie is only marked Secure in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Postgres returns the connection configuration for the database pool.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:     c.PostgresHost,
		Port:     c.PostgresPort,
		User:     c.PostgresUser,
		Password: c.PostgresPass,
		DBName:   c.PostgresDB,
		SSLMode:  c.PostgresSSL,
	}
}

// Redis returns the connection configuration for the Redis client.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
