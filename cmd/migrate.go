package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docpipe/internal/config"
	"docpipe/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the metadata table and change trigger",
	Long: `Create the metadata table named by TABLE_NAME together with the trigger
that publishes inserts and text changes on the "<table>_changes" NOTIFY
channel. Running it again is safe.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().Duration("timeout", time.Minute, "Migration timeout")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("migrate")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if cfg.MetadataBackend != config.BackendPostgres {
		return fmt.Errorf("migrate requires METADATA_BACKEND=%s", config.BackendPostgres)
	}

	ctx, cancel := createContextWithTimeout(timeout, log)
	defer cancel()

	rt := newRuntime(cfg, log)
	defer rt.Close()

	if err := rt.openStore(ctx); err != nil {
		return err
	}
	return rt.postgres.Migrate(ctx)
}
