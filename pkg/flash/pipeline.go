package flash

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	apperrors "github.com/HubertFeldmann/tasmotizer/pkg/errors"
)

// Pipeline state machine: Idle -> Resolving -> Running -> terminal.
const (
	stateIdle int32 = iota
	stateResolving
	stateRunning
	stateSucceeded
	stateFailed
	stateAborted
)

// Pipeline runs the flashing stages for one configuration, in order,
// each gated on the previous stage's success. A Pipeline instance
// executes exactly once and holds no state after its terminal event.
type Pipeline struct {
	cfg    FlashConfig
	driver Driver
	token  *Token

	state atomic.Int32
	now   func() time.Time
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithClock overrides the clock used for backup filenames.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline for one run. The token is shared with
// the supervisor, which is the only writer.
func NewPipeline(cfg FlashConfig, driver Driver, token *Token, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		driver: driver,
		token:  token,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token returns the run's cancellation token.
func (p *Pipeline) Token() *Token { return p.token }

// Run executes the configured stages, forwarding every event through
// emit. It returns the terminal result; exactly one terminal event is
// emitted per run. Invoking Run twice on the same instance is a
// programming error and fails with ErrAlreadyRun without emitting
// events or touching the driver.
func (p *Pipeline) Run(ctx context.Context, emit func(StageEvent)) Result {
	if !p.state.CompareAndSwap(stateIdle, stateResolving) {
		slog.Error("pipeline_rerun_rejected", "port", p.cfg.Port)
		return Result{Outcome: OutcomeFailed, Err: ErrAlreadyRun}
	}

	res := p.run(ctx, emit)

	switch res.Outcome {
	case OutcomeSuccess:
		p.state.Store(stateSucceeded)
	case OutcomeAborted:
		p.state.Store(stateAborted)
	default:
		p.state.Store(stateFailed)
	}
	return res
}

func (p *Pipeline) run(ctx context.Context, emit func(StageEvent)) Result {
	// The serial handle must be released on every exit path so a
	// subsequent run can reacquire the port.
	defer func() {
		if err := p.driver.Close(); err != nil {
			slog.Error("driver_close_failed", "port", p.cfg.Port, "error", err)
		}
	}()

	var imagePath string
	if !p.cfg.BackupOnly {
		var err error
		imagePath, err = p.resolveImage(ctx, emit)
		if err != nil {
			if p.interrupted(err) {
				slog.Info("pipeline_aborted", "port", p.cfg.Port, "stage", StageFetch)
				emit(StageEvent{Type: EventAborted})
				return Result{Outcome: OutcomeAborted, Err: ErrAborted}
			}
			slog.Error("image_resolution_failed", "source", p.cfg.Source.Ref(), "error", err)
			emit(StageEvent{Type: EventFailed, Stage: StageFetch, Err: err})
			return Result{Outcome: OutcomeFailed, Err: err}
		}
	}

	p.state.Store(stateRunning)

	plan := stagePlan(p.cfg)
	slog.Info("pipeline_plan_computed", "port", p.cfg.Port, "stages", planNames(plan))

	var backupPath string
	for _, stage := range plan {
		if p.token.Cancelled() {
			slog.Info("pipeline_aborted", "port", p.cfg.Port, "stage", stage)
			emit(StageEvent{Type: EventAborted})
			return Result{Outcome: OutcomeAborted, Err: ErrAborted, BackupPath: backupPath}
		}

		req := Request{
			Port:      p.cfg.Port,
			Baud:      p.cfg.baud(),
			ImagePath: imagePath,
		}
		if stage == StageBackup {
			backupPath = BackupFilename(p.now())
			req.BackupPath = backupPath
		}

		slog.Info("pipeline_stage_started", "port", p.cfg.Port, "stage", stage)
		emit(StageEvent{Type: EventStarted, Stage: stage})

		err := p.driver.Perform(ctx, operationFor(stage), req, p.token, func(ev DriverEvent) {
			p.forward(stage, ev, emit)
		})
		if err != nil {
			if p.interrupted(err) {
				slog.Info("pipeline_aborted", "port", p.cfg.Port, "stage", stage)
				emit(StageEvent{Type: EventAborted})
				return Result{Outcome: OutcomeAborted, Err: ErrAborted, BackupPath: backupPath}
			}
			slog.Error("pipeline_stage_failed", "port", p.cfg.Port, "stage", stage, "error", err)
			emit(StageEvent{Type: EventFailed, Stage: stage, Err: err})
			return Result{Outcome: OutcomeFailed, Err: err, BackupPath: backupPath}
		}

		slog.Info("pipeline_stage_finished", "port", p.cfg.Port, "stage", stage)
		emit(StageEvent{Type: EventFinished, Stage: stage})
	}

	slog.Info("pipeline_succeeded", "port", p.cfg.Port)
	return Result{Outcome: OutcomeSuccess, BackupPath: backupPath}
}

// resolveImage materializes the image source before any flashing stage
// starts. Remote fetch progress is reported under the synthetic Fetch
// stage; an unknown total length yields log lines instead of percentages.
func (p *Pipeline) resolveImage(ctx context.Context, emit func(StageEvent)) (string, error) {
	src := p.cfg.Source

	if !src.Remote() {
		path, err := src.Resolve(ctx, nil, nil)
		return path, apperrors.Wrap(err, "resolve local image")
	}

	// Propagate a token cancellation into the fetch promptly; the fetch
	// has no driver checkpoints of its own.
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.token.Done():
			cancel()
		case <-fetchCtx.Done():
		}
	}()

	slog.Info("image_fetch_started", "source", src.Ref())
	emit(StageEvent{Type: EventStarted, Stage: StageFetch})

	lastPercent := -1
	path, err := src.Resolve(fetchCtx,
		func(received, total int64) {
			if total <= 0 {
				return
			}
			percent := int(received * 100 / total)
			if percent != lastPercent {
				lastPercent = percent
				emit(StageEvent{Type: EventProgress, Stage: StageFetch, Percent: percent})
			}
		},
		func(line string) {
			emit(StageEvent{Type: EventLog, Stage: StageFetch, Line: line})
		},
	)
	if err != nil {
		return "", err
	}

	slog.Info("image_fetch_finished", "source", src.Ref(), "path", path)
	emit(StageEvent{Type: EventFinished, Stage: StageFetch})
	return path, nil
}

// forward maps driver notifications onto stage events. The sequencer
// owns the stage lifecycle, so driver Started/Finished are dropped.
func (p *Pipeline) forward(stage Stage, ev DriverEvent, emit func(StageEvent)) {
	switch ev.Type {
	case DriverProgress:
		emit(StageEvent{
			Type:          EventProgress,
			Stage:         stage,
			Percent:       ev.Percent,
			Indeterminate: ev.Indeterminate,
		})
	case DriverLog:
		emit(StageEvent{Type: EventLog, Stage: stage, Line: ev.Line})
	}
}

// interrupted reports whether err is the cancellation surfacing, either
// via the token or the run context. Cancellation wins over any error the
// interrupted operation would otherwise have produced.
func (p *Pipeline) interrupted(err error) bool {
	if p.token.Cancelled() {
		return true
	}
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

func operationFor(stage Stage) Operation {
	switch stage {
	case StageBackup:
		return OpBackup
	case StageErase:
		return OpErase
	case StageVerify:
		return OpVerify
	default:
		return OpWrite
	}
}

func planNames(plan []Stage) []string {
	names := make([]string, len(plan))
	for i, s := range plan {
		names[i] = s.String()
	}
	return names
}
