// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Report storage drivers.
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
)

// AuthConfig holds caller authentication settings.
type AuthConfig struct {
	JWTSecret        string // HS256 shared secret for local/dev tokens
	OIDCIssuer       string // OIDC issuer URL; takes precedence over JWTSecret
	OIDCAudience     string // required audience when OIDCIssuer is set
	TenantClaim      string // claim carrying the tenant id (default "tenant_id")
	PermissionsClaim string // claim carrying permission tags (default "permissions")
	TrustHeaders     bool   // accept X-Tenant-ID/X-Actor-ID from a trusted gateway
}

// TokenAuthEnabled reports whether bearer tokens can be validated.
func (a *AuthConfig) TokenAuthEnabled() bool {
	return a.OIDCIssuer != "" || a.JWTSecret != ""
}

// Validate checks that the auth configuration is internally consistent.
func (a *AuthConfig) Validate() error {
	if a.OIDCIssuer != "" && a.OIDCAudience == "" {
		return fmt.Errorf("AUTH_OIDC_AUDIENCE is required when AUTH_OIDC_ISSUER is set")
	}
	return nil
}

// Config holds the configuration for the report server and CLI.
type Config struct {
	MetaDBPath     string // path to the SQLite metastore (executions, audit, reports)
	ReportDBDriver string // duckdb or sqlite
	ReportDBDSN    string // report storage DSN; empty means an in-memory duckdb
	ReportDBConns  int    // max open report storage connections
	ListenAddr     string // HTTP listen address (default ":8080")
	LogLevel       string // log level: debug, info, warn, error (default "info")
	Env            string // environment: "development" (default) or "production"

	// ReportSchemaFile is an optional YAML catalogue registered on top of the
	// built-in fleet tables.
	ReportSchemaFile string

	CacheBackend        string        // memory or sqlite
	CachePurgeSpec      string        // cron spec for purging expired sqlite cache rows
	DefaultQueryTimeout time.Duration // used when a table declares none
	DefaultCacheTTL     time.Duration // used when a table declares none

	SchedulerEnabled bool
	SchedulerSpec    string // robfig cron spec for the due-report sweep
	SchedulerWorkers int

	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second per tenant (default 50)
	RateLimitBurst int     // burst capacity (default 100)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	Auth AuthConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:       os.Getenv("META_DB_PATH"),
		ReportDBDriver:   strings.ToLower(strings.TrimSpace(os.Getenv("REPORT_DB_DRIVER"))),
		ReportDBDSN:      os.Getenv("REPORT_DB_DSN"),
		ListenAddr:       os.Getenv("LISTEN_ADDR"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Env:              os.Getenv("ENV"),
		ReportSchemaFile: os.Getenv("REPORT_SCHEMA_FILE"),
		CacheBackend:     strings.ToLower(strings.TrimSpace(os.Getenv("CACHE_BACKEND"))),
		CachePurgeSpec:   os.Getenv("CACHE_PURGE_SPEC"),
		SchedulerEnabled: parseBoolEnvDefault("SCHEDULER_ENABLED", true),
		SchedulerSpec:    os.Getenv("SCHEDULER_SPEC"),
		Auth: AuthConfig{
			JWTSecret:        os.Getenv("AUTH_JWT_SECRET"),
			OIDCIssuer:       os.Getenv("AUTH_OIDC_ISSUER"),
			OIDCAudience:     os.Getenv("AUTH_OIDC_AUDIENCE"),
			TenantClaim:      os.Getenv("AUTH_TENANT_CLAIM"),
			PermissionsClaim: os.Getenv("AUTH_PERMISSIONS_CLAIM"),
			TrustHeaders:     parseBoolEnvDefault("AUTH_TRUST_HEADERS", false),
		},
	}

	var err error
	if cfg.DefaultQueryTimeout, err = parseDurationEnv("DEFAULT_QUERY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.DefaultCacheTTL, err = parseDurationEnv("DEFAULT_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.BreakerOpenTimeout, err = parseDurationEnv("BREAKER_OPEN_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SchedulerWorkers, err = parseIntEnv("SCHEDULER_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.ReportDBConns, err = parseIntEnv("REPORT_DB_MAX_CONNS", 8); err != nil {
		return nil, err
	}
	threshold, err := parseIntEnv("BREAKER_FAILURE_THRESHOLD", 5)
	if err != nil {
		return nil, err
	}
	if threshold < 1 {
		return nil, fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1")
	}
	cfg.BreakerFailureThreshold = uint32(threshold) //nolint:gosec // checked above

	if cfg.RateLimitRPS, err = parseFloatEnv("RATE_LIMIT_RPS", 50); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = parseIntEnv("RATE_LIMIT_BURST", 100); err != nil {
		return nil, err
	}
	cfg.CORSAllowedOrigins = splitListEnv("CORS_ALLOWED_ORIGINS")

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "fleet_reports_meta.sqlite"
	}
	switch cfg.ReportDBDriver {
	case "":
		cfg.ReportDBDriver = DriverDuckDB
	case "sqlite3":
		cfg.ReportDBDriver = DriverSQLite
	case DriverDuckDB, DriverSQLite:
	default:
		return nil, fmt.Errorf("REPORT_DB_DRIVER must be duckdb or sqlite3, got %q", cfg.ReportDBDriver)
	}
	switch cfg.CacheBackend {
	case "":
		cfg.CacheBackend = CacheMemory
	case CacheMemory, CacheSQLite:
	default:
		return nil, fmt.Errorf("CACHE_BACKEND must be memory or sqlite, got %q", cfg.CacheBackend)
	}
	if cfg.CachePurgeSpec == "" {
		cfg.CachePurgeSpec = "@every 10m"
	}
	if cfg.SchedulerSpec == "" {
		cfg.SchedulerSpec = "@every 1m"
	}
	if cfg.SchedulerWorkers < 1 {
		cfg.SchedulerWorkers = 1
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst < 1 {
		return nil, fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}

	if cfg.ReportDBDSN == "" {
		cfg.Warnings = append(cfg.Warnings, "REPORT_DB_DSN not set, reports run against an empty in-memory database")
	}
	if !cfg.Auth.TokenAuthEnabled() && !cfg.Auth.TrustHeaders {
		cfg.Warnings = append(cfg.Warnings, "no authentication configured, every API request will be rejected")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.ReportDBDSN == "" {
			return nil, fmt.Errorf("REPORT_DB_DSN must be set in production (ENV=production)")
		}
		if !cfg.Auth.TokenAuthEnabled() && !cfg.Auth.TrustHeaders {
			return nil, fmt.Errorf("authentication must be configured in production (set AUTH_OIDC_ISSUER, AUTH_JWT_SECRET or AUTH_TRUST_HEADERS)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

// parseBoolEnvDefault also accepts yes/no and on/off.
func parseBoolEnvDefault(key string, defaultVal bool) bool {
	switch v := strings.ToLower(strings.TrimSpace(os.Getenv(key))); v {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	default:
		b, err := cast.ToBoolE(v)
		if err != nil || v == "" {
			return defaultVal
		}
		return b
	}
}

func parseFloatEnv(key string, defaultVal float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func parseDurationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func parseIntEnv(key string, defaultVal int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// splitListEnv reads a comma separated list, dropping blank entries.
func splitListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
