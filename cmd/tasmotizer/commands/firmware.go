package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HubertFeldmann/tasmotizer/internal/config"
	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
	"github.com/HubertFeldmann/tasmotizer/pkg/firmware"
)

var firmwareDevelopment bool

var firmwareCmd = &cobra.Command{
	Use:   "firmware",
	Short: "List downloadable Tasmota images from the official feeds",
	RunE:  runFirmware,
}

func init() {
	firmwareCmd.Flags().BoolVar(&firmwareDevelopment, "development", false, "List the development feed instead of releases")
	rootCmd.AddCommand(firmwareCmd)
}

func runFirmware(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	client := firmware.NewFeedClient(nil, cfg.ReleaseFeedURL, cfg.DevelopmentFeedURL)

	var options []firmware.BinaryOption
	if firmwareDevelopment {
		options, err = client.Development(ctx)
		if err != nil {
			return errors.Wrap(err, "development feed failed")
		}
		fmt.Println("Development images:")
	} else {
		var version string
		version, options, err = client.Release(ctx)
		if err != nil {
			return errors.Wrap(err, "release feed failed")
		}
		fmt.Printf("Release %s:\n", version)
	}

	for _, opt := range options {
		fmt.Printf("  %-40s %s\n", opt.Name, opt.URL)
	}
	return nil
}
