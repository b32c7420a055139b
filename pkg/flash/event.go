package flash

// EventType discriminates StageEvent variants.
type EventType int

const (
	// EventStarted marks the beginning of a stage.
	EventStarted EventType = iota
	// EventProgress reports completion percentage for the active stage.
	EventProgress
	// EventLog carries one line of driver or fetch output.
	EventLog
	// EventFinished marks successful completion of a stage. The Finished
	// event of the last planned stage is the run's terminal event.
	EventFinished
	// EventFailed is terminal: the named stage failed and all remaining
	// stages were skipped.
	EventFailed
	// EventAborted is terminal: the run was cancelled by the operator.
	EventAborted
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventLog:
		return "log"
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	case EventAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// StageEvent is one observation from a pipeline run. Exactly one terminal
// event (Finished of the last stage, Failed, or Aborted) is produced per run.
type StageEvent struct {
	Type  EventType
	Stage Stage

	// Percent is valid for EventProgress when Indeterminate is false.
	Percent int
	// Indeterminate marks progress with no reliable percentage, such as
	// erase progress the driver cannot measure.
	Indeterminate bool

	// Line is the log text for EventLog.
	Line string

	// Err carries the originating error for EventFailed.
	Err error
}

// Sink consumes stage lifecycle and log events. The supervisor delivers
// events in order from a dedicated goroutine that is not the caller's;
// implementations must be safe to invoke from that goroutine.
type Sink interface {
	OnStageEvent(StageEvent)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(StageEvent)

func (f SinkFunc) OnStageEvent(ev StageEvent) { f(ev) }

// Outcome is the terminal classification of a pipeline run.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of one pipeline run. Failed carries the
// originating error; Aborted is a distinct, non-error outcome so callers
// can tell an intentional cancellation from a device fault.
type Result struct {
	Outcome Outcome
	Err     error

	// BackupPath is the backup artifact written during the run, if any.
	BackupPath string
}
