package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HubertFeldmann/tasmotizer/internal/config"
	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
	"github.com/HubertFeldmann/tasmotizer/pkg/flash"
	"github.com/HubertFeldmann/tasmotizer/pkg/history"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the device flash without writing anything",
	Long:  `Reads the full 1MB flash from the device into a timestamped backup file. Runs through the same supervised pipeline as flashing, so cancellation and progress reporting behave identically.`,
	RunE:  runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	if cfg.Port == "" {
		return fmt.Errorf("--port is required")
	}

	if err := ensureDirectories(cfg.HistoryPath, ""); err != nil {
		return err
	}

	flashCfg := flash.FlashConfig{
		Port:       cfg.Port,
		Baud:       cfg.Baud,
		BackupOnly: true,
	}

	return runPipeline(ctx, cfg, flashCfg, history.ActionBackup, "")
}
