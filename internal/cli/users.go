package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goXRPLtracker/internal/tracker"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Inspect and seed the stored user configuration",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the stored user configurations",
	RunE:  runUsersList,
}

var usersSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write the built-in default users to the store",
	RunE:  runUsersSeed,
}

func init() {
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersSeedCmd)
	rootCmd.AddCommand(usersCmd)
}

func runUsersList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := st.Users().GetUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("no users stored")
		return nil
	}
	for _, u := range users {
		fmt.Printf("%s\t%s\n", u.ID, strings.Join(u.Wallets, ","))
	}
	return nil
}

func runUsersSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	users := append([]tracker.UserConfig(nil), tracker.DefaultUsers...)
	if err := st.Users().PutUsers(ctx, users); err != nil {
		return err
	}
	fmt.Printf("seeded %d user(s)\n", len(users))
	return nil
}
