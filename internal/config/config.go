package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Env      string
	HTTPAddr string
	BaseURL  string

	DBDSN        string
	IdPJWTSecret string

	LogLevel string

	RateLimitRPM int

	EmailAPIURL    string
	EmailTimeoutMS int

	InviteTTLDays int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Env = strings.TrimSpace(os.Getenv("CD_ENV"))
	if cfg.Env == "" {
		return nil, fmt.Errorf("CD_ENV is required")
	}
	if cfg.Env != "dev" && cfg.Env != "prod" {
		return nil, fmt.Errorf("CD_ENV must be one of: dev, prod (got: %s)", cfg.Env)
	}

	cfg.HTTPAddr = getEnvOrDefault("CD_HTTP_ADDR", ":8080")

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CD_BASE_URL")), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("CD_BASE_URL is required")
	}

	cfg.DBDSN = strings.TrimSpace(os.Getenv("CD_DB_DSN"))
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("CD_DB_DSN is required")
	}

	cfg.IdPJWTSecret = os.Getenv("CD_IDP_JWT_SECRET")
	if cfg.IdPJWTSecret == "" {
		return nil, fmt.Errorf("CD_IDP_JWT_SECRET is required")
	}
	if cfg.Env == "prod" && len(cfg.IdPJWTSecret) < 32 {
		return nil, fmt.Errorf("CD_IDP_JWT_SECRET must be at least 32 characters (currently %d)", len(cfg.IdPJWTSecret))
	}

	cfg.LogLevel = getEnvOrDefault("CD_LOG_LEVEL", "info")
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("CD_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", cfg.LogLevel)
	}

	var err error
	cfg.RateLimitRPM, err = getEnvIntOrDefault("CD_RATE_LIMIT_RPM", 120)
	if err != nil {
		return nil, err
	}

	cfg.EmailAPIURL = strings.TrimSpace(os.Getenv("CD_EMAIL_API_URL"))

	cfg.EmailTimeoutMS, err = getEnvIntOrDefault("CD_EMAIL_TIMEOUT_MS", 2000)
	if err != nil {
		return nil, err
	}
	if cfg.EmailTimeoutMS <= 0 || cfg.EmailTimeoutMS > 30000 {
		return nil, fmt.Errorf("CD_EMAIL_TIMEOUT_MS must be between 1 and 30000 (got: %d)", cfg.EmailTimeoutMS)
	}

	cfg.InviteTTLDays, err = getEnvIntOrDefault("CD_INVITE_TTL_DAYS", 7)
	if err != nil {
		return nil, err
	}
	if cfg.InviteTTLDays <= 0 || cfg.InviteTTLDays > 90 {
		return nil, fmt.Errorf("CD_INVITE_TTL_DAYS must be between 1 and 90 (got: %d)", cfg.InviteTTLDays)
	}

	return cfg, nil
}

// IsDev returns true if running in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// RedactedValues returns a map of config values with secrets redacted.
func (c *Config) RedactedValues() map[string]string {
	return map[string]string{
		"CD_ENV":              c.Env,
		"CD_HTTP_ADDR":        c.HTTPAddr,
		"CD_BASE_URL":         c.BaseURL,
		"CD_DB_DSN":           redactDSN(c.DBDSN),
		"CD_IDP_JWT_SECRET":   "[REDACTED]",
		"CD_LOG_LEVEL":        c.LogLevel,
		"CD_RATE_LIMIT_RPM":   fmt.Sprintf("%d", c.RateLimitRPM),
		"CD_EMAIL_API_URL":    c.EmailAPIURL,
		"CD_EMAIL_TIMEOUT_MS": fmt.Sprintf("%d", c.EmailTimeoutMS),
		"CD_INVITE_TTL_DAYS":  fmt.Sprintf("%d", c.InviteTTLDays),
	}
}

func redactDSN(dsn string) string {
	if start := strings.Index(dsn, "://"); start != -1 {
		if end := strings.Index(dsn[start+3:], "@"); end != -1 {
			return dsn[:start+3] + "[REDACTED]" + dsn[start+3+end:]
		}
	}
	return dsn
}

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got: %q)", key, value)
	}
	return parsed, nil
}
