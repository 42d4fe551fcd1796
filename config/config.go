// Package config owns the errwatch runtime configuration.
//
// Configuration is loaded with Viper from (lowest to highest precedence)
// built-in defaults, an errwatch.toml file discovered by walking up from
// the working directory, and ERRWATCH_* environment variables.
package config

// Config represents the errwatch daemon configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// DatabaseConfig configures the SQLite state database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MonitorConfig configures the execution orchestrator and ticker
type MonitorConfig struct {
	// TickerIntervalSeconds is how often the scheduler evaluates queries
	// for eligibility. Minimum query interval is one minute, so sub-minute
	// ticks only add responsiveness for manual edits (default: 60).
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds"`

	// MaxConcurrentChecks bounds how many query pipelines may run at once
	MaxConcurrentChecks int `mapstructure:"max_concurrent_checks"`

	// LockTTLMinutes is how long a held execution lock is honored before
	// it is considered stale (crashed run) and may be stolen
	LockTTLMinutes int `mapstructure:"lock_ttl_minutes"`

	// FetchTimeoutSeconds is the default per-query source fetch timeout,
	// used when a query does not configure its own
	FetchTimeoutSeconds int `mapstructure:"fetch_timeout_seconds"`

	// Retention windows for the cleanup pass. 0 disables that cleanup.
	RunLogRetentionDays   int `mapstructure:"run_log_retention_days"`
	ResolvedRetentionDays int `mapstructure:"resolved_retention_days"`
}

// NotifyConfig configures outbound notification delivery
type NotifyConfig struct {
	// HTTPTimeoutSeconds bounds every channel transport call
	HTTPTimeoutSeconds int `mapstructure:"http_timeout_seconds"`

	// RequestsPerMinute rate-limits outbound channel calls across all
	// queries (polite delivery, avoids tripping webhook abuse detection)
	RequestsPerMinute int `mapstructure:"requests_per_minute"`

	// AllowPrivateURLs disables SSRF protection on channel and HTTP-source
	// URLs. Only enable for on-premise targets.
	AllowPrivateURLs bool `mapstructure:"allow_private_urls"`
}
