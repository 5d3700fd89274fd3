// Package config loads service settings from the environment, with an
// optional .env file for local development.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds every runtime setting for the server and the admin CLI.
type Config struct {
	Port             string
	DatabaseURL      string
	RedisURL         string
	CacheTTL         time.Duration
	AlphaVantageKey  string
	AlphaVantageURL  string
	QuoteRatePerMin  int
	InitialCash      decimal.Decimal
	SessionTTL       time.Duration
	CookieSecure     bool
	MarketAlwaysOpen bool
	LogLevel         slog.Level
	MigrateOnStart   bool
}

// Load reads .env (if present) and then the process environment.
// Malformed values fall back to their defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment")
	}

	return Config{
		Port:             Get("PORT", "8080"),
		DatabaseURL:      Get("DATABASE_URL", ""),
		RedisURL:         Get("REDIS_URL", ""),
		CacheTTL:         Duration("CACHE_TTL", 30*time.Second),
		AlphaVantageKey:  Get("ALPHAVANTAGE_API_KEY", ""),
		AlphaVantageURL:  Get("ALPHAVANTAGE_BASE_URL", "https://www.alphavantage.co/query"),
		QuoteRatePerMin:  Int("QUOTE_RATE_PER_MIN", 75),
		InitialCash:      Decimal("INITIAL_CASH", decimal.NewFromInt(10000)),
		SessionTTL:       Duration("SESSION_TTL", 24*time.Hour),
		CookieSecure:     Bool("COOKIE_SECURE", false),
		MarketAlwaysOpen: Bool("MARKET_ALWAYS_OPEN", false),
		LogLevel:         ParseLogLevel(Get("LOG_LEVEL", ""), slog.LevelInfo),
		MigrateOnStart:   Bool("MIGRATE_ON_START", true),
	}
}

// Get returns the value of the environment variable or the default if not set.
func Get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Int returns the variable parsed as an int, or the default if unset or malformed.
func Int(key string, defaultValue int) int {
	n, err := strconv.Atoi(Get(key, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

// Bool returns the variable parsed by strconv.ParseBool, or the default if unset or malformed.
func Bool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(Get(key, ""))
	if err != nil {
		return defaultValue
	}
	return b
}

// Duration returns the variable parsed as a positive time.Duration, or the default.
func Duration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(Get(key, ""))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

// Decimal returns the variable parsed as a non-negative decimal, or the default.
func Decimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	v, err := decimal.NewFromString(Get(key, ""))
	if err != nil || v.IsNegative() {
		return defaultValue
	}
	return v
}

// ParseLogLevel maps "debug", "info", "warn" or "error" to a slog.Level.
// Anything else returns fallback.
func ParseLogLevel(raw string, fallback slog.Level) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
