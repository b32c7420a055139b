package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/HubertFeldmann/tasmotizer/internal/config"
	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
	"github.com/HubertFeldmann/tasmotizer/pkg/espflash"
	"github.com/HubertFeldmann/tasmotizer/pkg/firmware"
	"github.com/HubertFeldmann/tasmotizer/pkg/flash"
	"github.com/HubertFeldmann/tasmotizer/pkg/history"
)

var (
	flashImage  string
	flashURL    string
	flashBackup bool
	flashErase  bool
	flashVerify bool
)

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Flash a Tasmota image to the device",
	Long:  `Runs the full flashing pipeline: backup the current flash, erase, write the image, verify.`,
	RunE:  runFlash,
}

func init() {
	flashCmd.Flags().StringVar(&flashImage, "image", "", "Local firmware image path")
	flashCmd.Flags().StringVar(&flashURL, "url", "", "Firmware image URL (http://, https:// or s3://)")
	flashCmd.Flags().BoolVar(&flashBackup, "backup", true, "Back up the current flash before writing")
	flashCmd.Flags().BoolVar(&flashErase, "erase", true, "Erase the flash before writing")
	flashCmd.Flags().BoolVar(&flashVerify, "verify", false, "Verify the flash after writing")
	rootCmd.AddCommand(flashCmd)
}

func runFlash(cmd *cobra.Command, args []string) error {
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
	if (flashImage == "") == (flashURL == "") {
		return fmt.Errorf("exactly one of --image or --url is required")
	}

	if err := ensureDirectories(cfg.HistoryPath, cfg.WorkDir); err != nil {
		return err
	}

	source, err := buildSource(ctx, cfg)
	if err != nil {
		return err
	}

	flashCfg := flash.FlashConfig{
		Port:   cfg.Port,
		Baud:   cfg.Baud,
		Source: source,
		Backup: flashBackup,
		Erase:  flashErase,
		Verify: flashVerify,
	}

	return runPipeline(ctx, cfg, flashCfg, history.ActionFlash, source.Ref())
}

// buildSource picks the image source for the run: a local file, or a
// network fetch over HTTP or S3 cached in the work directory.
func buildSource(ctx context.Context, cfg *config.Config) (*firmware.Source, error) {
	if flashImage != "" {
		return firmware.LocalSource(flashImage), nil
	}

	cachePath := filepath.Join(cfg.WorkDir, cacheFilename(flashURL))
	if firmware.IsS3URL(flashURL) {
		fetcher, err := firmware.NewS3Fetcher(ctx, cfg.S3Region)
		if err != nil {
			return nil, errors.Wrap(err, "S3 client failed")
		}
		return firmware.RemoteSource(flashURL, cachePath, fetcher), nil
	}
	return firmware.RemoteSource(flashURL, cachePath, firmware.NewHTTPFetcher(nil)), nil
}

func cacheFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || path.Base(u.Path) == "." || path.Base(u.Path) == "/" {
		return "firmware.bin"
	}
	return path.Base(u.Path)
}

// runPipeline starts a supervised pipeline run, records it in history,
// cancels on SIGINT and reports the terminal result. Shared by the
// flash and backup commands.
func runPipeline(ctx context.Context, cfg *config.Config, flashCfg flash.FlashConfig, action, imageRef string) error {
	repo, err := history.NewRepository(cfg.HistoryPath)
	if err != nil {
		return errors.Wrap(err, "history init failed")
	}
	defer repo.Close()

	driver := espflash.New(espflash.WithTool(cfg.EsptoolPath))
	grace := time.Duration(cfg.CancelGraceMS) * time.Millisecond
	supervisor := flash.NewSupervisor(flash.WithCancelGrace(grace))

	handle, err := supervisor.Start(ctx, flashCfg, driver, newConsoleSink())
	if err != nil {
		return errors.Wrap(err, "pipeline start failed")
	}

	run := &history.Run{
		RunID:    handle.ID.String(),
		Action:   action,
		Port:     flashCfg.Port,
		ImageRef: imageRef,
		Status:   history.StatusRunning,
	}
	if err := repo.Create(run); err != nil {
		slog.Warn("history_record_failed", "run_id", run.RunID, "error", err)
	}

	// First SIGINT requests a bounded cooperative stop; a second one
	// kills the process the usual way.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		slog.Info("interrupt_received", "run_id", handle.ID)
		signal.Stop(sigs)
		handle.Cancel()
	}()

	res := handle.Wait()
	signal.Stop(sigs)

	sha := ""
	if src, ok := flashCfg.Source.(*firmware.Source); ok && src != nil {
		sha = src.SHA256()
	}
	finishRun(repo, run.RunID, res, sha)

	switch res.Outcome {
	case flash.OutcomeSuccess:
		if res.BackupPath != "" {
			fmt.Printf("Backup saved to %s\n", res.BackupPath)
		}
		fmt.Println("Done.")
		return nil
	case flash.OutcomeAborted:
		return fmt.Errorf("run aborted")
	default:
		return errors.Wrap(res.Err, "run failed")
	}
}

func finishRun(repo *history.Repository, runID string, res flash.Result, sha string) {
	status := history.StatusFailed
	switch res.Outcome {
	case flash.OutcomeSuccess:
		status = history.StatusSuccess
	case flash.OutcomeAborted:
		status = history.StatusAborted
	}
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	if sha != "" {
		if err := repo.SetSHA256(runID, sha); err != nil {
			slog.Warn("history_sha_failed", "run_id", runID, "error", err)
		}
	}
	if err := repo.Finish(runID, status, errMsg, res.BackupPath); err != nil {
		slog.Warn("history_finish_failed", "run_id", runID, "error", err)
	}
}
