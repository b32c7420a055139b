// Package espflash adapts the external esptool executable to the
// flash.Driver boundary. The chip-level read/write/erase/verify
// protocol is owned entirely by esptool; this package builds its
// command lines, streams its output as driver events, and enforces the
// cooperative cancellation contract by polling the token between
// checkpoints and killing the subprocess when it fires.
package espflash

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
	"github.com/HubertFeldmann/tasmotizer/pkg/flash"
)

const (
	// DefaultTool is the esptool executable looked up on PATH.
	DefaultTool = "esptool.py"

	// defaultCheckpoint is the token polling interval. Cancellation is
	// observed within a small multiple of it.
	defaultCheckpoint = 100 * time.Millisecond

	// eraseTick paces the synthetic indeterminate progress emitted
	// during a full-chip erase; esptool reports nothing while erasing.
	eraseTick = time.Second
)

// Driver shells out to esptool for each flashing operation. One Driver
// serves one pipeline run; the active subprocess holds the serial port
// and is killed on Close, which releases the port on every exit path.
type Driver struct {
	tool       string
	checkpoint time.Duration

	mu     sync.Mutex
	active *exec.Cmd
	closed bool
}

// Option customizes a Driver.
type Option func(*Driver)

// WithTool overrides the esptool executable path.
func WithTool(path string) Option {
	return func(d *Driver) {
		if path != "" {
			d.tool = path
		}
	}
}

// WithCheckpoint overrides the token polling interval.
func WithCheckpoint(d time.Duration) Option {
	return func(dr *Driver) {
		if d > 0 {
			dr.checkpoint = d
		}
	}
}

// New creates a driver for one pipeline run.
func New(opts ...Option) *Driver {
	d := &Driver{tool: DefaultTool, checkpoint: defaultCheckpoint}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Perform runs one esptool invocation for the operation, forwarding
// output lines and parsed progress to onEvent. It returns an error
// wrapping flash.ErrAborted when the token fired, a *flash.PortError
// when the port could not be opened, and a *flash.ProtocolError for
// device-level failures.
func (d *Driver) Perform(ctx context.Context, op flash.Operation, req flash.Request, token *flash.Token, onEvent func(flash.DriverEvent)) error {
	if onEvent == nil {
		onEvent = func(flash.DriverEvent) {}
	}
	if token.Cancelled() {
		return fmt.Errorf("%s not started: %w", op, flash.ErrAborted)
	}

	args := buildArgs(op, req)
	slog.Info("esptool_invocation", "operation", op, "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, d.tool, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "esptool stdout pipe")
	}
	cmd.Stderr = cmd.Stdout

	if err := d.track(cmd); err != nil {
		return err
	}
	defer d.untrack()

	if err := cmd.Start(); err != nil {
		return &flash.PortError{Port: req.Port, Err: errors.Wrapf(err, "start %s", d.tool)}
	}

	onEvent(flash.DriverEvent{Type: flash.DriverStarted})

	// Token watcher: kill the subprocess at the next checkpoint after a
	// stop request. The erase operation additionally gets synthetic
	// indeterminate progress, paced by its own tick. opDone releases the
	// watcher once the subprocess has exited on its own.
	opDone := make(chan struct{})
	watchDone := make(chan struct{})
	var killedByToken bool
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(d.checkpoint)
		defer ticker.Stop()
		var lastEraseTick time.Time
		for {
			select {
			case <-opDone:
				return
			case <-ctx.Done():
				return
			case <-token.Done():
				killedByToken = true
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
				return
			case now := <-ticker.C:
				if op == flash.OpErase && now.Sub(lastEraseTick) >= eraseTick {
					lastEraseTick = now
					onEvent(flash.DriverEvent{Type: flash.DriverProgress, Indeterminate: true})
				}
			}
		}
	}()

	tail := d.stream(stdout, op, onEvent)
	waitErr := cmd.Wait()
	close(opDone)
	d.untrack()
	<-watchDone

	if killedByToken || token.Cancelled() {
		return fmt.Errorf("%s interrupted: %w", op, flash.ErrAborted)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		return classify(req.Port, tail, waitErr)
	}

	onEvent(flash.DriverEvent{Type: flash.DriverFinished})
	return nil
}

// Close kills any active subprocess, releasing the serial port. Safe to
// call after a failed or interrupted Perform.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.active != nil && d.active.Process != nil {
		_ = d.active.Process.Kill()
		d.active = nil
	}
	return nil
}

func (d *Driver) track(cmd *exec.Cmd) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("driver closed: %w", flash.ErrAborted)
	}
	d.active = cmd
	return nil
}

func (d *Driver) untrack() {
	d.mu.Lock()
	d.active = nil
	d.mu.Unlock()
}

// stream forwards esptool output lines as events and returns the last
// few non-empty lines for error classification.
func (d *Driver) stream(r io.Reader, op flash.Operation, onEvent func(flash.DriverEvent)) []string {
	var tail []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		onEvent(flash.DriverEvent{Type: flash.DriverLog, Line: line})
		if percent, ok := parsePercent(line); ok && op != flash.OpErase {
			onEvent(flash.DriverEvent{Type: flash.DriverProgress, Percent: percent})
		}
		tail = append(tail, line)
		if len(tail) > 5 {
			tail = tail[1:]
		}
	}
	return tail
}

// parsePercent extracts the "(NN %)" completion marker esptool prints
// while reading or writing flash.
func parsePercent(line string) (int, bool) {
	open := strings.LastIndexByte(line, '(')
	if open < 0 {
		return 0, false
	}
	rest := line[open+1:]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return 0, false
	}
	body := strings.TrimSpace(rest[:end])
	if !strings.HasSuffix(body, "%") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(body, "%")))
	if err != nil || n < 0 || n > 100 {
		return 0, false
	}
	return n, true
}

// classify maps a failed esptool invocation onto the error taxonomy.
func classify(port string, tail []string, waitErr error) error {
	detail := waitErr.Error()
	if len(tail) > 0 {
		detail = tail[len(tail)-1]
	}
	for _, line := range tail {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "could not open port") || strings.Contains(lower, "serial exception") {
			return &flash.PortError{Port: port, Err: fmt.Errorf("%s", line)}
		}
	}
	return &flash.ProtocolError{Detail: detail}
}

// buildArgs assembles the exact esptool command line for an operation.
// These mirror the device write parameters the external driver expects;
// changing them breaks wire compatibility.
func buildArgs(op flash.Operation, req flash.Request) []string {
	base := []string{
		"--chip", flash.Chip,
		"--port", req.Port,
		"--baud", strconv.Itoa(req.Baud),
	}
	switch op {
	case flash.OpBackup:
		return append(base,
			"--after", flash.ResetAfterBackup,
			"read_flash", flash.WriteAddress, flash.BackupReadSize, req.BackupPath)
	case flash.OpErase:
		return append(base, "erase_flash")
	case flash.OpVerify:
		return append(base,
			"verify_flash", "--flash_mode", flash.FlashMode,
			flash.WriteAddress, req.ImagePath)
	default:
		return append(base,
			"--after", flash.ResetAfterWrite,
			"write_flash", "--flash_mode", flash.FlashMode, "--flash_size", flash.FlashSize,
			flash.WriteAddress, req.ImagePath)
	}
}
