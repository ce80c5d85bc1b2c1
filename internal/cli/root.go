package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LeJamon/goXRPLtracker/internal/config"
	"github.com/LeJamon/goXRPLtracker/internal/logging"
	"github.com/LeJamon/goXRPLtracker/internal/storage/archive"
	"github.com/LeJamon/goXRPLtracker/internal/storage/store"
	"github.com/LeJamon/goXRPLtracker/internal/storage/store/sqldb"
	"github.com/LeJamon/goXRPLtracker/internal/xrpl"
)

var (
	// Global flags
	configFile string
	debug      bool
	verbose    bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xrpltracker",
	Short: "goXRPLtracker - per-wallet XRPL transaction indexer",
	Long: `goXRPLtracker polls the XRP Ledger for the transaction history of a
configured set of wallets, derives balance changes from transaction metadata,
classifies each transaction (deposits, withdrawals, internal transfers,
trades, offer lifecycle events), and persists the results to a relational
store for downstream accounting.`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable normally suppressed debug logging")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output to console after startup")
}

// loadConfig reads the configuration honoring the global --conf flag.
func loadConfig() (*config.Config, error) {
	return config.Load(configFile)
}

// newLogger builds the process logger from the global flags and the
// configured file sink.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Debug:   debug,
		Verbose: verbose,
		Quiet:   quiet,
		File:    cfg.Logging.File,
	})
}

// openStore parses the store URI and opens the relational store.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*sqldb.DB, error) {
	storeCfg, err := store.ParseURI(cfg.Store.URI, cfg.Store.Database)
	if err != nil {
		return nil, err
	}
	return sqldb.Open(ctx, storeCfg, log)
}

// openArchive opens the raw payload archive, or returns nil when archiving
// is disabled.
func openArchive(cfg *config.Config, log *zap.Logger) (*archive.Archive, error) {
	if !cfg.Archive.Enabled() {
		return nil, nil
	}
	archCfg := archive.DefaultConfig()
	archCfg.Path = cfg.Archive.Path
	archCfg.Backend = cfg.Archive.Backend
	if cfg.Archive.CacheSize > 0 {
		archCfg.CacheSize = cfg.Archive.CacheSize
	}
	return archive.Open(archCfg, log)
}

// dialLedger connects to the ledger node and verifies it answers.
func dialLedger(ctx context.Context, cfg *config.Config) (*xrpl.Client, error) {
	client, err := xrpl.Dial(cfg.Ledger.RPCURL, cfg.Ledger.Timeout())
	if err != nil {
		return nil, err
	}
	probeCtx, cancel := context.WithTimeout(ctx, cfg.Ledger.Timeout())
	defer cancel()
	if err := client.Ping(probeCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ledger node unreachable at %s: %w", cfg.Ledger.RPCURL, err)
	}
	return client, nil
}
