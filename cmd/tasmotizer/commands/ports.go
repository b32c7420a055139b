package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HubertFeldmann/tasmotizer/pkg/device"
	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available serial ports",
	RunE:  runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := device.ListPorts()
	if err != nil {
		return errors.Wrap(err, "port enumeration failed")
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
