package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/HubertFeldmann/tasmotizer/internal/config"
	"github.com/HubertFeldmann/tasmotizer/pkg/device"
	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
	"github.com/HubertFeldmann/tasmotizer/pkg/flash"
)

var monitorTimeout time.Duration

var monitorCmd = &cobra.Command{
	Use:   "get-ip",
	Short: "Watch the serial boot log for the device IP address",
	Long:  `Opens the serial port and scans the boot log until the device reports its IP address. Power-cycle or reset the device after starting this command.`,
	RunE:  runMonitor,
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorTimeout, "timeout", 60*time.Second, "How long to wait for the IP address")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if cfg.Port == "" {
		return fmt.Errorf("--port is required")
	}

	port, err := device.OpenPort(cfg.Port, cfg.Baud)
	if err != nil {
		return &flash.PortError{Port: cfg.Port, Err: err}
	}
	defer port.Close()

	ctx, cancel := context.WithTimeout(context.Background(), monitorTimeout)
	defer cancel()

	fmt.Println("Waiting for the device to report its IP address; reset the device now...")
	ip, err := device.WaitForIP(ctx, port)
	if err != nil {
		return errors.Wrap(err, "no IP address seen")
	}

	fmt.Printf("Device IP: %s\n", ip)
	return nil
}
