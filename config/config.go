// Package config loads server settings from the environment (and a .env
// file when present). Command-line flags in cmd/server override the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/servicing"
)

type Config struct {
	Port            int
	DBPath          string
	ShutdownTimeout time.Duration

	// Empty RedisAddr selects the in-process cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CachePrefix   string
	CacheTTL      time.Duration

	// Per-IP token bucket on public routes.
	RateLimit  int
	RateWindow time.Duration

	LogLevel  string // debug, info, warn, error
	LogFormat string // json or console

	CORSOrigins []string

	AdminID   string
	AdminName string

	MaxPrincipal        decimal.Decimal
	MaxInstallments     int
	MaxRatePercent      decimal.Decimal
	SettlementTolerance decimal.Decimal
}

// Load reads the environment. Unset keys take defaults; malformed values
// are reported together in one error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	e := &env{}
	cfg := &Config{
		Port:            e.getInt("PORT", 8080),
		DBPath:          e.getString("DB_PATH", "loans.db"),
		ShutdownTimeout: e.getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		RedisAddr:     e.getString("REDIS_ADDR", ""),
		RedisPassword: e.getString("REDIS_PASSWORD", ""),
		RedisDB:       e.getInt("REDIS_DB", 0),
		CachePrefix:   e.getString("CACHE_PREFIX", "loan-engine:"),
		CacheTTL:      e.getDuration("CACHE_TTL", 30*time.Second),

		RateLimit:  e.getInt("RATE_LIMIT", 60),
		RateWindow: e.getDuration("RATE_WINDOW", time.Minute),

		LogLevel:  strings.ToLower(e.getString("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(e.getString("LOG_FORMAT", "json")),

		CORSOrigins: e.getList("CORS_ORIGINS", []string{"*"}),

		AdminID:   e.getString("ADMIN_ID", "admin"),
		AdminName: e.getString("ADMIN_NAME", "Administrator"),

		MaxPrincipal:        e.getDecimal("MAX_PRINCIPAL", decimal.NewFromInt(1_000_000_000)),
		MaxInstallments:     e.getInt("MAX_INSTALLMENTS", 600),
		MaxRatePercent:      e.getDecimal("MAX_RATE", decimal.NewFromInt(1000)),
		SettlementTolerance: e.getDecimal("SETTLEMENT_TOLERANCE", decimal.New(1, -2)),
	}
	if err := cfg.Validate(); err != nil {
		e.errs = append(e.errs, err)
	}
	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT and RATE_WINDOW must be positive"))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q (json, console)", c.LogFormat))
	}
	if !c.MaxPrincipal.IsPositive() || c.MaxInstallments < 1 || c.MaxRatePercent.IsNegative() {
		errs = append(errs, errors.New("loan limits must be positive"))
	}
	if c.SettlementTolerance.IsNegative() {
		errs = append(errs, errors.New("SETTLEMENT_TOLERANCE must not be negative"))
	}
	return errors.Join(errs...)
}

// Limits converts the loan limits for servicing.WithLimits.
func (c *Config) Limits() servicing.Limits {
	return servicing.Limits{
		MaxPrincipal:        c.MaxPrincipal,
		MaxInstallments:     c.MaxInstallments,
		MaxRatePercent:      c.MaxRatePercent,
		SettlementTolerance: c.SettlementTolerance,
	}
}

// =============================================================================
// ENV HELPERS
// =============================================================================

type env struct {
	errs []error
}

func (e *env) getString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (e *env) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func (e *env) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func (e *env) getDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func (e *env) getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
