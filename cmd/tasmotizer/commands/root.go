package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "tasmotizer",
	Short: "Tasmotizer - ESP8266 Tasmota flashing tool",
	Long:  `Flashes Tasmota firmware to ESP8266 devices over serial, with flash backup, device monitoring, and initial configuration.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("port", "", "Serial port, e.g. /dev/ttyUSB0")
	rootCmd.PersistentFlags().Int("baud", 115200, "Serial baud rate")
	rootCmd.PersistentFlags().String("work-dir", ".tasmotizer", "Directory for downloaded images")
	rootCmd.PersistentFlags().String("history-path", ".tasmotizer/history.db", "Run history database path")
	rootCmd.PersistentFlags().String("esptool-path", "esptool.py", "Path to the esptool executable")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "AWS region for s3:// image URLs")
	rootCmd.PersistentFlags().Int("cancel-grace-ms", 2000, "Bounded cancellation grace in milliseconds")

	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("baud", rootCmd.PersistentFlags().Lookup("baud"))
	viper.BindPFlag("work-dir", rootCmd.PersistentFlags().Lookup("work-dir"))
	viper.BindPFlag("history-path", rootCmd.PersistentFlags().Lookup("history-path"))
	viper.BindPFlag("esptool-path", rootCmd.PersistentFlags().Lookup("esptool-path"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
	viper.BindPFlag("cancel-grace-ms", rootCmd.PersistentFlags().Lookup("cancel-grace-ms"))
}
