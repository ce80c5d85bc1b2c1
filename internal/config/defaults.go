package config

import "github.com/spf13/viper"

// setDefaults sets the built-in defaults used when neither the config
// file nor the environment provides a value.
func setDefaults(v *viper.Viper) {
	// Ledger node
	v.SetDefault("ledger.rpc_url", "https://xrplcluster.com/")
	v.SetDefault("ledger.timeout", 30)

	// Relational store; a bare path is SQLite
	v.SetDefault("store.uri", "xrpltracker.db")
	v.SetDefault("store.db_name", "")

	// Collection loop
	v.SetDefault("collector.frequency", 300)
	v.SetDefault("collector.user_refresh_interval", 60)
	v.SetDefault("collector.source_tag", 19089388)
	v.SetDefault("collector.from_ledger", 94700993)
	v.SetDefault("collector.page_limit", 400)
	v.SetDefault("collector.retries", 3)

	// Raw payload archive; empty path disables it
	v.SetDefault("archive.path", "")
	v.SetDefault("archive.backend", "pebble")
	v.SetDefault("archive.cache_size", 1024)

	// Metrics listener; empty addr collects without serving
	v.SetDefault("metrics.addr", "")

	// Optional log file sink
	v.SetDefault("logging.file", "")
}
