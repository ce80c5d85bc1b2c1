package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goXRPLtracker/internal/tracker"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect the raw payload archive",
}

var archiveGetCmd = &cobra.Command{
	Use:   "get <hash>",
	Short: "Print one archived transaction payload",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveGet,
}

var archiveStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the archive contents",
	RunE:  runArchiveStats,
}

func init() {
	archiveCmd.AddCommand(archiveGetCmd)
	archiveCmd.AddCommand(archiveStatsCmd)
	rootCmd.AddCommand(archiveCmd)
}

func runArchiveGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Archive.Enabled() {
		return errors.New("archiving is disabled (ARCHIVE_PATH is empty)")
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	arch, err := openArchive(cfg, log)
	if err != nil {
		return err
	}
	defer arch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	env, err := arch.Get(ctx, args[0])
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			return fmt.Errorf("hash %s is not archived", args[0])
		}
		return err
	}

	fmt.Printf("hash:         %s\n", env.Hash)
	fmt.Printf("user:         %s\n", env.UserID)
	fmt.Printf("ledger_index: %d\n", env.LedgerIndex)
	fmt.Printf("stored_at:    %s\n", time.Unix(env.StoredAt, 0).UTC().Format(time.RFC3339))
	fmt.Printf("%s\n", env.Raw)
	return nil
}

func runArchiveStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Archive.Enabled() {
		return errors.New("archiving is disabled (ARCHIVE_PATH is empty)")
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	arch, err := openArchive(cfg, log)
	if err != nil {
		return err
	}
	defer arch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stats, err := arch.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("entries:     %d\n", stats.Entries)
	fmt.Printf("compressed:  %d\n", stats.Compressed)
	fmt.Printf("stored size: %d bytes\n", stats.StoredSize)
	fmt.Printf("raw size:    %d bytes\n", stats.RawSize)
	return nil
}
