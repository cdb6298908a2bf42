package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the worldgate pod
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Auth     AuthConfig
	World    WorldConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP/WebSocket server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Environment  string

	// Rate limit applied to the HTTP endpoints (requests per window, per IP)
	RateLimit       int
	RateLimitWindow time.Duration

	// Origins accepted for websocket upgrades. Development mode accepts any
	// origin.
	AllowedOrigins []string
}

// RedisConfig holds the connection settings for the pub/sub bus
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret     string
	JWTExpiration time.Duration

	// Development-only username/password login. DevPasswordHash is a bcrypt
	// hash checked against the password of any dev login attempt.
	DevLoginEnabled bool
	DevPasswordHash string
	DevWorldID      string
}

// WorldConfig holds world and broadcast fabric configuration
type WorldConfig struct {
	// PodID identifies this process in scatter/gather responses. Defaults to
	// the hostname when unset.
	PodID string

	// Worlds this pod serves with per-world bus subscriptions (chunk-change,
	// effects, chunk-list). Movement and pathway listeners use wildcard
	// subscriptions and are not bound to this list.
	Worlds []string

	// PathwayInterval is the cadence of the pathway broadcast ticker.
	PathwayInterval time.Duration

	// PathwayPrediction is how far ahead the predicted waypoint is placed.
	PathwayPrediction time.Duration

	// StaleAfter is how long after the last movement update a session stops
	// contributing pathways.
	StaleAfter time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables and .env file.
// The .env file is loaded from the current working directory.
func Load() (*Config, error) {
	// Environment variables can still be set directly when no .env exists.
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug(".env file not found, using environment variables only")
	}

	config := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:     getEnv("ENVIRONMENT", "development"),
			RateLimit:       getIntEnv("RATE_LIMIT", 1000),
			RateLimitWindow: getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
			AllowedOrigins:  getListEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getIntEnv("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "worldgate_dev"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConnections:  getIntEnv("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("JWT_SECRET", ""),
			JWTExpiration:   getDurationEnv("JWT_EXPIRATION", 15*time.Minute),
			DevLoginEnabled: getBoolEnv("DEV_LOGIN_ENABLED", false),
			DevPasswordHash: getEnv("DEV_PASSWORD_HASH", ""),
			DevWorldID:      getEnv("DEV_WORLD_ID", "main"),
		},
		World: WorldConfig{
			PodID:             getEnv("POD_ID", defaultPodID()),
			Worlds:            getListEnv("WORLDS", []string{"main"}),
			PathwayInterval:   getDurationEnv("PATHWAY_INTERVAL", 100*time.Millisecond),
			PathwayPrediction: getDurationEnv("PATHWAY_PREDICTION", 100*time.Millisecond),
			StaleAfter:        getDurationEnv("PATHWAY_STALE_AFTER", 2*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that all required configuration values are set
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Auth.DevLoginEnabled && c.Auth.DevPasswordHash == "" {
		return fmt.Errorf("DEV_PASSWORD_HASH is required when DEV_LOGIN_ENABLED is set")
	}
	if len(c.World.Worlds) == 0 {
		return fmt.Errorf("WORLDS must name at least one world")
	}
	if c.World.PathwayInterval <= 0 {
		return fmt.Errorf("PATHWAY_INTERVAL must be positive")
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection string
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

// IsDevelopment returns true if running in development mode
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

func defaultPodID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "worldgate"
	}
	return hostname
}

// Helper functions for environment variable access

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		logrus.WithField("key", key).Warnf("invalid integer value %q, using default %d", value, defaultValue)
		return defaultValue
	}
	return intValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		logrus.WithField("key", key).Warnf("invalid boolean value %q, using default %v", value, defaultValue)
		return defaultValue
	}
	return boolValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		logrus.WithField("key", key).Warnf("invalid duration value %q, using default %v", value, defaultValue)
		return defaultValue
	}
	return duration
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
