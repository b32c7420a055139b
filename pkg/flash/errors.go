package flash

import (
	"errors"
	"fmt"
)

// ErrAlreadyRun is returned when Run is invoked twice on the same
// Pipeline instance. A pipeline executes its run exactly once.
var ErrAlreadyRun = errors.New("flash pipeline has already run")

// ErrAborted marks a run cancelled by the operator. Drivers return an
// error wrapping ErrAborted when they observe the cancellation token.
var ErrAborted = errors.New("flashing aborted")

// PortError indicates the serial device could not be opened or was lost
// mid-operation.
type PortError struct {
	Port string
	Err  error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("port %s unavailable: %v", e.Port, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

// ProtocolError indicates the device rejected or failed a flashing
// operation at the chip protocol level.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Detail)
}
