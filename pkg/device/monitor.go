// Package device talks to a flashed device over its serial link:
// watching the boot log for the self-reported IP address and sending
// console configuration commands. Neither runs while a flashing
// pipeline owns the port.
package device

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
)

var ipPattern = regexp.MustCompile(`IP address (\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)

// WaitForIP watches an unframed serial byte stream for the device's
// boot log line announcing its network address. Line-ending noise is
// stripped before matching; the previous chunk is retained so a match
// split across two reads is still found. The first match wins and
// listening stops.
func WaitForIP(ctx context.Context, r io.Reader) (string, error) {
	buf := make([]byte, 256)
	var previous string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			cleaned := strings.ReplaceAll(previous+chunk, "\r\n", "")
			if m := ipPattern.FindStringSubmatch(cleaned); m != nil {
				return m[1], nil
			}
			previous = chunk
		}
		if err == io.EOF {
			return "", fmt.Errorf("stream ended before an IP address was reported")
		}
		if err != nil {
			return "", errors.Wrap(err, "read serial stream")
		}
	}
}

// OpenPort opens a serial port at the given baud rate with a short read
// timeout so WaitForIP can poll for cancellation between reads.
func OpenPort(name string, baud int) (serial.Port, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open port %s", name)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "set read timeout")
	}
	return port, nil
}

// ListPorts enumerates serial ports, newest-sorted the way operators
// expect the freshly plugged adapter first.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate serial ports")
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ports)))
	return ports, nil
}
