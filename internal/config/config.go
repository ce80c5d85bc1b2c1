// Package config loads the tracker configuration from defaults, an
// optional TOML file, and the environment.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the complete tracker configuration.
type Config struct {
	Ledger    LedgerConfig    `toml:"ledger" mapstructure:"ledger"`
	Store     StoreConfig     `toml:"store" mapstructure:"store"`
	Collector CollectorConfig `toml:"collector" mapstructure:"collector"`
	Archive   ArchiveConfig   `toml:"archive" mapstructure:"archive"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	Logging   LoggingConfig   `toml:"logging" mapstructure:"logging"`
}

// LedgerConfig points at the XRPL JSON-RPC node.
type LedgerConfig struct {
	// RPCURL selects the transport by scheme: http(s) or ws(s).
	RPCURL string `toml:"rpc_url" mapstructure:"rpc_url"`

	// TimeoutSeconds bounds each JSON-RPC request.
	TimeoutSeconds int `toml:"timeout" mapstructure:"timeout"`
}

// Timeout returns the per-request bound as a duration.
func (c LedgerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StoreConfig locates the relational store.
type StoreConfig struct {
	// URI selects the driver by scheme: postgres:// or sqlite:// (or a
	// bare file path for SQLite).
	URI string `toml:"uri" mapstructure:"uri"`

	// Database overrides the database name in the URI; PostgreSQL only.
	Database string `toml:"db_name" mapstructure:"db_name"`
}

// CollectorConfig carries the polling loop knobs. Intervals are plain
// seconds, matching the environment contract.
type CollectorConfig struct {
	// FrequencySeconds is the target cycle length.
	FrequencySeconds int `toml:"frequency" mapstructure:"frequency"`

	// UserRefreshSeconds bounds how stale the user configuration may get.
	UserRefreshSeconds int `toml:"user_refresh_interval" mapstructure:"user_refresh_interval"`

	// SourceTag marks transactions submitted through the integration.
	SourceTag uint32 `toml:"source_tag" mapstructure:"source_tag"`

	// FromLedger is the history floor for wallets with no stored state.
	FromLedger uint32 `toml:"from_ledger" mapstructure:"from_ledger"`

	// PageLimit is the account_tx page size; the ledger caps it at 400.
	PageLimit int `toml:"page_limit" mapstructure:"page_limit"`

	// Retries is the number of repeat attempts per paginated request.
	Retries int `toml:"retries" mapstructure:"retries"`
}

// Period returns the cycle length as a duration.
func (c CollectorConfig) Period() time.Duration {
	return time.Duration(c.FrequencySeconds) * time.Second
}

// UserRefresh returns the user refresh interval as a duration.
func (c CollectorConfig) UserRefresh() time.Duration {
	return time.Duration(c.UserRefreshSeconds) * time.Second
}

// ArchiveConfig controls the raw payload archive. An empty Path disables
// archiving.
type ArchiveConfig struct {
	Path      string `toml:"path" mapstructure:"path"`
	Backend   string `toml:"backend" mapstructure:"backend"`
	CacheSize int    `toml:"cache_size" mapstructure:"cache_size"`
}

// Enabled reports whether archiving is configured.
func (c ArchiveConfig) Enabled() bool {
	return c.Path != ""
}

// MetricsConfig controls the Prometheus listener. An empty Addr collects
// without serving.
type MetricsConfig struct {
	Addr string `toml:"addr" mapstructure:"addr"`
}

// LoggingConfig adds an optional file sink; levels come from the CLI flags.
type LoggingConfig struct {
	File string `toml:"file" mapstructure:"file"`
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Ledger.RPCURL == "" {
		return fmt.Errorf("config: ledger.rpc_url must be set")
	}
	u, err := url.Parse(c.Ledger.RPCURL)
	if err != nil {
		return fmt.Errorf("config: ledger.rpc_url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("config: ledger.rpc_url: unsupported scheme %q", u.Scheme)
	}
	if c.Ledger.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: ledger.timeout must be positive")
	}
	if c.Store.URI == "" {
		return fmt.Errorf("config: store.uri must be set")
	}
	if c.Collector.FrequencySeconds <= 0 {
		return fmt.Errorf("config: collector.frequency must be positive")
	}
	if c.Collector.UserRefreshSeconds <= 0 {
		return fmt.Errorf("config: collector.user_refresh_interval must be positive")
	}
	if c.Collector.PageLimit < 1 || c.Collector.PageLimit > 400 {
		return fmt.Errorf("config: collector.page_limit must be between 1 and 400")
	}
	if c.Collector.Retries < 0 {
		return fmt.Errorf("config: collector.retries must be non-negative")
	}
	if c.Archive.Enabled() && c.Archive.Backend == "" {
		return fmt.Errorf("config: archive.backend must be set when archive.path is")
	}
	if c.Archive.CacheSize <= 0 {
		return fmt.Errorf("config: archive.cache_size must be positive")
	}
	return nil
}
