package flash

import (
	"context"
	"fmt"
)

// ImageSource resolves the bytes to flash to exactly one concrete local
// binary before the write stage begins. Implementations either point at
// a pre-existing local file or fetch over the network first.
type ImageSource interface {
	// Resolve materializes the image and returns its local path.
	// onProgress receives cumulative received/total byte counts during a
	// network fetch; total is negative when the server did not report a
	// length. onLog receives human-readable fetch log lines.
	Resolve(ctx context.Context, onProgress func(received, total int64), onLog func(line string)) (string, error)

	// Remote reports whether resolution performs a network fetch.
	Remote() bool

	// Ref is a short human-readable reference for logs and history.
	Ref() string
}

// FlashConfig is the immutable per-run configuration. Exactly one
// pipeline implementation consumes it for both the full flash action
// and the manual backup action.
type FlashConfig struct {
	// Port is the serial device, e.g. /dev/ttyUSB0 or COM3.
	Port string
	// Baud for the flashing session. Defaults to DefaultBaud when zero.
	Baud int

	// Source resolves the image to write. Unused when BackupOnly is set.
	Source ImageSource

	// Backup saves the current flash contents before writing.
	Backup bool
	// Erase wipes the full chip before writing.
	Erase bool
	// Verify reads back and checks the written image.
	Verify bool

	// BackupOnly runs just the Backup stage and never writes. This is
	// the manual backup action; it needs no image source.
	BackupOnly bool
}

// Validate checks the configuration before a run is started.
func (c FlashConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if !c.BackupOnly && c.Source == nil {
		return fmt.Errorf("image source must be set unless backup-only")
	}
	if c.Baud < 0 {
		return fmt.Errorf("baud must be non-negative")
	}
	return nil
}

func (c FlashConfig) baud() int {
	if c.Baud == 0 {
		return DefaultBaud
	}
	return c.Baud
}
