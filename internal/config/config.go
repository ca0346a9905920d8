// Package config loads service settings from environment variables, with
// defaults suitable for local development.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the marketplace service.
type Config struct {
	HTTPAddr       string        `mapstructure:"MODMARKET_HTTP_ADDR"`
	DatabaseURL    string        `mapstructure:"MODMARKET_DATABASE_URL"`
	SweepSchedule  string        `mapstructure:"MODMARKET_SWEEP_SCHEDULE"`
	TokenTTL       time.Duration `mapstructure:"MODMARKET_TOKEN_TTL"`
	RateLimitRPS   float64       `mapstructure:"MODMARKET_RATE_RPS"`
	RateLimitBurst int           `mapstructure:"MODMARKET_RATE_BURST"`
}

// Load reads configuration from environment variables. An empty
// MODMARKET_DATABASE_URL selects the in-memory store.
func Load() (*Config, error) {
	viper.SetDefault("MODMARKET_HTTP_ADDR", ":8080")
	viper.SetDefault("MODMARKET_SWEEP_SCHEDULE", "@every 24h")
	viper.SetDefault("MODMARKET_TOKEN_TTL", "24h")
	viper.SetDefault("MODMARKET_RATE_RPS", 50.0)
	viper.SetDefault("MODMARKET_RATE_BURST", 100)
	viper.AutomaticEnv()

	// Bind explicitly so unset variables still appear in Unmarshal.
	_ = viper.BindEnv("MODMARKET_HTTP_ADDR")
	_ = viper.BindEnv("MODMARKET_DATABASE_URL")
	_ = viper.BindEnv("MODMARKET_SWEEP_SCHEDULE")
	_ = viper.BindEnv("MODMARKET_TOKEN_TTL")
	_ = viper.BindEnv("MODMARKET_RATE_RPS")
	_ = viper.BindEnv("MODMARKET_RATE_BURST")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.SweepSchedule == "" {
		return nil, fmt.Errorf("MODMARKET_SWEEP_SCHEDULE must not be empty")
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("MODMARKET_TOKEN_TTL must be positive")
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return nil, fmt.Errorf("rate limit settings must be positive")
	}
	return &cfg, nil
}
