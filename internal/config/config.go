// Package config provides configuration loading and validation for the
// tracker daemon. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration values for the tracker daemon.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Attendance store backend: memory, redis or postgres.
	StoreBackend string `koanf:"store_backend"`
	RedisAddr    string `koanf:"redis_addr"`
	DatabaseURL  string `koanf:"database_url"`

	// JWT session signing
	JWTSecret string `koanf:"jwt_secret"`

	// Schedule document: an http(s) URL or a local file path. Optional;
	// a schedule can also be pushed over the API.
	ScheduleSource string `koanf:"schedule_source"`

	// Local state file persisting session hints across restarts.
	// Empty keeps state in memory only.
	StatePath string `koanf:"state_path"`

	// Quotas
	MaxGroups        int      `koanf:"max_groups"`
	MaxUsersPerGroup int      `koanf:"max_users_per_group"`
	AllowedGroups    []string `koanf:"allowed_groups"`

	// Rate limiting (requests per minute per client, 0 disables)
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`

	// Tracing; empty endpoint disables the exporter.
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrMissingRedisAddr   = errors.New("REDIS_ADDR is required for the redis backend")
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required for the postgres backend")
	ErrUnknownBackend     = errors.New("STORE_BACKEND must be memory, redis or postgres")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort               = 8080
	DefaultEnv                = "development"
	DefaultStoreBackend       = BackendMemory
	DefaultMaxGroups          = 10
	DefaultMaxUsersPerGroup   = 50
	DefaultRateLimitPerMinute = 120
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try TALKTRACK_PORT first, then PORT
	port, portErr := getEnvIntOrDefaultMulti([]string{"TALKTRACK_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	maxGroups, err := getEnvIntOrDefault("MAX_GROUPS", k.Int("max_groups"), DefaultMaxGroups)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	maxUsers, err := getEnvIntOrDefault("MAX_USERS_PER_GROUP", k.Int("max_users_per_group"), DefaultMaxUsersPerGroup)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	rateLimit, err := getEnvIntOrDefault("RATE_LIMIT_PER_MINUTE", k.Int("rate_limit_per_minute"), DefaultRateLimitPerMinute)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	allowedGroups := k.Strings("allowed_groups")
	if val := os.Getenv("ALLOWED_GROUPS"); val != "" {
		allowedGroups = splitAndTrim(val)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:               port,
		Env:                getEnvOrDefaultMulti([]string{"TALKTRACK_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		StoreBackend:       getEnvOrDefault("STORE_BACKEND", k.String("store_backend"), DefaultStoreBackend),
		RedisAddr:          getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		DatabaseURL:        getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		JWTSecret:          getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		ScheduleSource:     getEnvOrKoanf("SCHEDULE_SOURCE", k, "schedule_source"),
		StatePath:          getEnvOrKoanf("STATE_PATH", k, "state_path"),
		MaxGroups:          maxGroups,
		MaxUsersPerGroup:   maxUsers,
		AllowedGroups:      allowedGroups,
		RateLimitPerMinute: rateLimit,
		OTLPEndpoint:       getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, ErrMissingRedisAddr)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, ErrMissingDatabaseURL)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrUnknownBackend, c.StoreBackend))
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                  fmt.Sprintf("%d", c.Port),
		"env":                   c.Env,
		"store_backend":         c.StoreBackend,
		"redis_addr":            c.RedisAddr,
		"database_url":          maskDatabaseURL(c.DatabaseURL),
		"jwt_secret":            maskSecret(c.JWTSecret),
		"schedule_source":       c.ScheduleSource,
		"state_path":            c.StatePath,
		"max_groups":            fmt.Sprintf("%d", c.MaxGroups),
		"max_users_per_group":   fmt.Sprintf("%d", c.MaxUsersPerGroup),
		"allowed_groups":        strings.Join(c.AllowedGroups, ","),
		"rate_limit_per_minute": fmt.Sprintf("%d", c.RateLimitPerMinute),
		"otlp_endpoint":         c.OTLPEndpoint,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
