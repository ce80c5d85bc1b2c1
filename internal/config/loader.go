package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// contractualEnv binds the environment names the deployment contract fixes;
// they work without the XRPLTRACKER_ prefix.
var contractualEnv = map[string]string{
	"ledger.rpc_url":                  "LEDGER_RPC_URL",
	"store.uri":                       "STORE_URI",
	"store.db_name":                   "STORE_DB_NAME",
	"collector.frequency":             "COLLECTION_FREQUENCY",
	"collector.user_refresh_interval": "USER_CONFIG_REFRESH_INTERVAL",
	"collector.source_tag":            "SOURCE_TAG",
	"collector.from_ledger":           "FROM_LEDGER",
	"archive.path":                    "ARCHIVE_PATH",
	"archive.backend":                 "ARCHIVE_BACKEND",
	"metrics.addr":                    "METRICS_ADDR",
}

// Load builds the configuration in priority order:
// 1. Built-in defaults
// 2. Configuration file (TOML), when a path is given
// 3. Environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if err := loadConfigFile(v, configPath); err != nil {
			return nil, err
		}
	}

	for key, env := range contractualEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}
	v.SetEnvPrefix("XRPLTRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadConfigFile reads the configuration file into the viper instance.
func loadConfigFile(v *viper.Viper, configPath string) error {
	v.SetConfigFile(configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config: file does not exist: %s", configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", configPath, err)
	}

	return nil
}
