// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the runtime configuration for the wallet engine.
type Config struct {
	Port        string
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no display cache
	CacheTTL    time.Duration

	// WithdrawSeed configures the static settings resolver, see
	// settings.ParseSeed for the format.
	WithdrawSeed string

	// Reservation caps; zero disables a cap.
	MaxFreezeItem      decimal.Decimal
	MaxFrozenPerWallet decimal.Decimal
}

// Load reads configuration from environment variables, applying the
// same defaults in every environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getenv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		CacheTTL:    30 * time.Second,

		WithdrawSeed: os.Getenv("WITHDRAW_SETTINGS"),

		MaxFreezeItem:      decimal.Zero,
		MaxFrozenPerWallet: decimal.Zero,
	}

	if v := os.Getenv("CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid CACHE_TTL %q: %w", v, err)
		}
		cfg.CacheTTL = ttl
	}

	if v := os.Getenv("MAX_FREEZE_ITEM"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid MAX_FREEZE_ITEM %q: %w", v, err)
		}
		cfg.MaxFreezeItem = d
	}

	if v := os.Getenv("MAX_FROZEN_PER_WALLET"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid MAX_FROZEN_PER_WALLET %q: %w", v, err)
		}
		cfg.MaxFrozenPerWallet = d
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
