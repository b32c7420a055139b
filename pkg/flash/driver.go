package flash

import (
	"context"
	"fmt"
	"time"
)

// Device write parameters. These must match the external flashing
// driver exactly for wire compatibility.
const (
	Chip        = "esp8266"
	DefaultBaud = 115200

	// WriteAddress is the start address for every write operation.
	WriteAddress = "0x00000"
	// BackupReadSize is the fixed range a full-chip backup reads,
	// starting at WriteAddress: 0x100000 bytes (1 MiB).
	BackupReadSize = "0x100000"

	FlashMode = "dout"
	FlashSize = "1MB"

	// ResetAfterWrite soft-resets the device after a write completes.
	ResetAfterWrite = "soft_reset"
	// ResetAfterBackup leaves the device as-is after a backup read.
	ResetAfterBackup = "no_reset"
)

// BackupFilename returns the on-disk backup artifact name for the given
// instant: backup_<YYYYMMDD>_<HHMMSS>.bin, relative to the working
// directory. The format is fixed for compatibility with existing tooling.
func BackupFilename(t time.Time) string {
	return fmt.Sprintf("backup_%s.bin", t.Format("20060102_150405"))
}

// Operation is one flashing operation kind performed by a Driver.
type Operation int

const (
	OpBackup Operation = iota
	OpErase
	OpWrite
	OpVerify
)

func (o Operation) String() string {
	switch o {
	case OpBackup:
		return "backup"
	case OpErase:
		return "erase"
	case OpWrite:
		return "write"
	case OpVerify:
		return "verify"
	default:
		return "unknown"
	}
}

// Request carries everything a Driver needs for one operation.
type Request struct {
	Port string
	Baud int

	// ImagePath is the resolved local binary for write and verify.
	ImagePath string
	// BackupPath is the destination artifact for a backup read.
	BackupPath string
}

// DriverEventType discriminates DriverEvent variants.
type DriverEventType int

const (
	DriverStarted DriverEventType = iota
	DriverProgress
	DriverLog
	DriverFinished
)

// DriverEvent is a low-level progress or log notification emitted by a
// Driver during one operation.
type DriverEvent struct {
	Type DriverEventType

	// Percent is valid for DriverProgress when Indeterminate is false.
	Percent int
	// Indeterminate marks progress the driver cannot measure, such as a
	// full-chip erase that reports no intermediate state.
	Indeterminate bool

	Line string
}

// Driver performs chip-level flashing operations. The implementation is
// external to this package; it is expected to poll the token at a
// bounded checkpoint interval and return an error wrapping ErrAborted
// promptly once the token is set. Perform must leave the serial port
// released when it returns, whatever the outcome.
type Driver interface {
	Perform(ctx context.Context, op Operation, req Request, token *Token, onEvent func(DriverEvent)) error

	// Close releases any resources still held, including the serial
	// handle after a forced teardown. It must be safe to call after a
	// failed or interrupted Perform.
	Close() error
}
