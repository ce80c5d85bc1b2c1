package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/goXRPLtracker/internal/metrics"
	"github.com/LeJamon/goXRPLtracker/internal/tracker"
)

// collectCmd represents the collect command (default action)
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run the wallet collection loop",
	Long: `Start the collection loop: poll every configured wallet's transaction
history, classify and persist what is found, reconcile open offers against
the live book, then sleep out the rest of the collection period.

This is the default command when no subcommand is specified.`,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)

	// Set collect as the default command
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return collectCmd.RunE(cmd, args)
	}
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := dialLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	arch, err := openArchive(cfg, log)
	if err != nil {
		return err
	}
	var archiver tracker.Archiver
	if arch != nil {
		defer arch.Close()
		archiver = arch
	}

	m := metrics.New()
	client.OnCall = m.ObserveRPC

	engine := tracker.NewEngine(st, log)
	poller := tracker.NewPoller(client, st, engine, archiver, tracker.PollerConfig{
		FromLedger: cfg.Collector.FromLedger,
		PageLimit:  cfg.Collector.PageLimit,
		SourceTag:  cfg.Collector.SourceTag,
		Retries:    cfg.Collector.Retries,
	}, log)
	reconciler := tracker.NewReconciler(client, st, archiver, log)
	scheduler := tracker.NewScheduler(poller, reconciler, st, tracker.SchedulerConfig{
		Period:          cfg.Collector.Period(),
		RefreshInterval: cfg.Collector.UserRefresh(),
	}, log)
	scheduler.OnCycle = func(stats *tracker.CycleStats) {
		m.ObserveCycle(stats)
		if offers, err := st.Offers().ListOpen(ctx); err == nil {
			m.SetOpenOffers(len(offers))
		}
	}

	log.Info("collector started",
		zap.String("rpc_url", cfg.Ledger.RPCURL),
		zap.Duration("period", cfg.Collector.Period()),
		zap.Uint32("source_tag", cfg.Collector.SourceTag),
		zap.Uint32("from_ledger", cfg.Collector.FromLedger),
		zap.Bool("archive", cfg.Archive.Enabled()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return m.Serve(gctx, cfg.Metrics.Addr, log)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("collector stopped")
	return nil
}
