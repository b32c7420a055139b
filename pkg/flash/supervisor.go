package flash

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
)

const (
	// DefaultCancelGrace is how long Cancel waits for the worker to
	// reach a terminal state before forcing teardown.
	DefaultCancelGrace = 2000 * time.Millisecond

	// teardownGrace bounds the wait after a forced teardown so an
	// unresponsive serial operation can never hang the caller.
	teardownGrace = 500 * time.Millisecond
)

// Supervisor runs pipelines on a background goroutine and owns the
// cancellation protocol: request stop via the token, wait a bounded
// grace period, then force teardown of the run context.
type Supervisor struct {
	grace time.Duration
}

// SupervisorOption customizes a Supervisor.
type SupervisorOption func(*Supervisor)

// WithCancelGrace overrides the bounded cancellation wait.
func WithCancelGrace(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.grace = d }
}

// NewSupervisor creates a supervisor. Both the full flash action and the
// manual backup action start their runs here; there is exactly one
// pipeline implementation behind it.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{grace: DefaultCancelGrace}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle tracks one in-flight pipeline run.
type Handle struct {
	// ID identifies the run in logs and history records.
	ID uuid.UUID

	token *Token
	grace time.Duration
	force context.CancelFunc

	done      chan struct{}
	result    Result
	forced    atomic.Bool
	abandoned atomic.Bool

	cancelOnce sync.Once
}

// Start validates the configuration, constructs a fresh pipeline and
// runs it on a worker goroutine. Events are delivered to sink in order
// from a dedicated dispatch goroutine; all events for the run are
// delivered before Wait returns.
func (s *Supervisor) Start(ctx context.Context, cfg FlashConfig, driver Driver, sink Sink) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid flash config")
	}

	runCtx, force := context.WithCancel(ctx)
	token := NewToken()
	pipeline := NewPipeline(cfg, driver, token)

	h := &Handle{
		ID:    uuid.New(),
		token: token,
		grace: s.grace,
		force: force,
		done:  make(chan struct{}),
	}

	queue := newEventQueue()
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		queue.drain(sink)
	}()

	slog.Info("pipeline_run_started", "run_id", h.ID, "port", cfg.Port, "backup_only", cfg.BackupOnly)
	go func() {
		res := pipeline.Run(runCtx, queue.push)
		queue.close()
		<-dispatched
		h.result = res
		close(h.done)
		force()
		slog.Info("pipeline_run_finished", "run_id", h.ID, "outcome", res.Outcome)
	}()

	return h, nil
}

// Cancel requests a cooperative stop and waits up to the grace period
// for the worker to reach a terminal state. If the grace elapses the run
// context is torn down and the result is surfaced as Aborted regardless
// of the pipeline's own terminal value. Cancel never blocks longer than
// the grace period plus a small fixed teardown bound.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() {
		h.token.Cancel()
		select {
		case <-h.done:
			return
		case <-time.After(h.grace):
		}

		slog.Warn("cancel_grace_elapsed", "run_id", h.ID, "grace", h.grace)
		h.forced.Store(true)
		h.force()

		select {
		case <-h.done:
		case <-time.After(teardownGrace):
			// The worker is stuck inside a driver call that ignores its
			// context. Abandon it; the result is Aborted either way.
			slog.Error("pipeline_teardown_timeout", "run_id", h.ID)
			h.abandoned.Store(true)
		}
	})
}

// Wait blocks until the run reaches a terminal state and returns its
// result. After a forced teardown the result is always Aborted.
func (h *Handle) Wait() Result {
	if !h.abandoned.Load() {
		<-h.done
	}
	if h.forced.Load() {
		res := Result{Outcome: OutcomeAborted, Err: ErrAborted}
		if !h.abandoned.Load() {
			res.BackupPath = h.result.BackupPath
		}
		return res
	}
	return h.result
}

// Done returns a channel closed when the worker reaches a terminal
// state on its own. It does not account for abandoned workers; use Wait
// for the authoritative result.
func (h *Handle) Done() <-chan struct{} { return h.done }

// eventQueue is an unbounded ordered queue between the worker and the
// dispatch goroutine. push never blocks the worker; drain preserves
// emission order.
type eventQueue struct {
	mu     sync.Mutex
	events []StageEvent
	closed bool
	wake   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev StageEvent) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain(sink Sink) {
	for {
		q.mu.Lock()
		batch := q.events
		q.events = nil
		closed := q.closed
		q.mu.Unlock()

		for _, ev := range batch {
			if sink != nil {
				sink.OnStageEvent(ev)
			}
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-q.wake
		}
	}
}
