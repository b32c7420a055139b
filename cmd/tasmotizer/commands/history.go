package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HubertFeldmann/tasmotizer/internal/config"
	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
	"github.com/HubertFeldmann/tasmotizer/pkg/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past flash and backup runs",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	if err := ensureDirectories(cfg.HistoryPath, ""); err != nil {
		return err
	}

	repo, err := history.NewRepository(cfg.HistoryPath)
	if err != nil {
		return errors.Wrap(err, "history init failed")
	}
	defer repo.Close()

	runs, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-20s %-8s %-14s %-10s %-30s %s\n", "STARTED", "ACTION", "PORT", "STATUS", "IMAGE", "DETAIL")
	fmt.Println("--------------------------------------------------------------------------------------------------------")

	for _, run := range runs {
		detail := run.BackupPath
		if run.Status == history.StatusFailed && run.ErrorMessage != "" {
			detail = run.ErrorMessage
		}
		image := run.ImageRef
		if image == "" {
			image = "-"
		}
		if detail == "" {
			detail = "-"
		}

		fmt.Printf("%-20s %-8s %-14s %-10s %-30s %s\n",
			run.StartedAt, run.Action, run.Port, run.Status, image, detail)
	}

	return nil
}
