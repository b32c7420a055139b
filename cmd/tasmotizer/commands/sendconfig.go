package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/HubertFeldmann/tasmotizer/internal/config"
	"github.com/HubertFeldmann/tasmotizer/pkg/device"
	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
	"github.com/HubertFeldmann/tasmotizer/pkg/flash"
)

var sendConfigDryRun bool

var sendConfigCmd = &cobra.Command{
	Use:   "send-config <settings.yaml>",
	Short: "Send initial Tasmota configuration over serial",
	Long:  `Loads WiFi, MQTT and module settings from a YAML file, renders them as a single Tasmota backlog command and writes it to the serial console. The device restarts afterwards.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSendConfig,
}

func init() {
	sendConfigCmd.Flags().BoolVar(&sendConfigDryRun, "dry-run", false, "Print the backlog command instead of sending it")
	rootCmd.AddCommand(sendConfigCmd)
}

func runSendConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	settings, err := device.LoadSettings(args[0])
	if err != nil {
		return errors.Wrap(err, "settings load failed")
	}

	commands, err := settings.Commands()
	if err != nil {
		return errors.Wrap(err, "settings invalid")
	}

	if sendConfigDryRun {
		fmt.Println(device.Backlog(commands))
		return nil
	}

	if cfg.Port == "" {
		return fmt.Errorf("--port is required")
	}
	port, err := device.OpenPort(cfg.Port, cfg.Baud)
	if err != nil {
		return &flash.PortError{Port: cfg.Port, Err: err}
	}
	defer port.Close()

	n, err := device.SendConfig(port, commands)
	if err != nil {
		return errors.Wrap(err, "send failed")
	}

	slog.Info("config_sent", "port", cfg.Port, "commands", len(commands), "bytes", n)
	fmt.Println("Configuration sent; the device will restart.")
	return nil
}
