package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "errwatch.db")

	// Monitor defaults
	v.SetDefault("monitor.ticker_interval_seconds", 60)
	v.SetDefault("monitor.max_concurrent_checks", 4)
	v.SetDefault("monitor.lock_ttl_minutes", 5)
	v.SetDefault("monitor.fetch_timeout_seconds", 30)
	v.SetDefault("monitor.run_log_retention_days", 30)
	v.SetDefault("monitor.resolved_retention_days", 90)

	// Notify defaults
	v.SetDefault("notify.http_timeout_seconds", 30)
	v.SetDefault("notify.requests_per_minute", 30)
	v.SetDefault("notify.allow_private_urls", false)
}

// SetDefaultsInto fills a Config struct with the built-in defaults,
// bypassing file and environment sources.
func SetDefaultsInto(cfg *Config) {
	v := viper.New()
	SetDefaults(v)
	_ = v.Unmarshal(cfg)
}
