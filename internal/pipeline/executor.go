// Package pipeline runs an ordered list of stages over one shared Context and
// reports every lifecycle step to a list of observers.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// SubstageExecution is the substage recorded for errors returned by a stage
// itself rather than attributed to one of its files.
const SubstageExecution = "StageExecution"

const (
	defaultPipelineName = "CodeReviewPipeline"
	cancelledMessage    = "pipeline cancelled"
)

// Executor runs stages sequentially. A failing stage is recorded in
// Context.Errors and the run continues with the next stage.
type Executor struct {
	name          string
	logger        *log.Logger
	finishTimeout time.Duration // bound for OnPipelineFinish after cancellation
}

// Option configures an Executor.
type Option func(*Executor)

// WithName sets the pipeline name used in logs.
func WithName(name string) Option {
	return func(e *Executor) {
		if name != "" {
			e.name = name
		}
	}
}

// WithLogger attaches a logger. Without one the executor is silent.
func WithLogger(logger *log.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithFinishTimeout overrides how long OnPipelineFinish may take once the
// run's context has been cancelled.
func WithFinishTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.finishTimeout = d
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		name:          defaultPipelineName,
		finishTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the pipeline name.
func (e *Executor) Name() string {
	return e.name
}

// Run executes stages in order over pc, notifying observers in registration
// order. The returned error is non-nil only when ctx was cancelled during the
// run, which also marks pc as ERROR; stage failures are reported through
// pc.Errors instead.
func (e *Executor) Run(ctx context.Context, pc *Context, stages []Stage, observers ...Observer) (*Context, error) {
	if pc == nil {
		return nil, fmt.Errorf("run pipeline %s: nil context", e.name)
	}
	start := time.Now()
	e.info("pipeline started", "stages", len(stages), "correlation_id", pc.CorrelationID)

	e.notify("OnPipelineStart", "", observers, func(o Observer) error {
		return o.OnPipelineStart(ctx, pc)
	})

	var runErr error
	for _, st := range stages {
		name := st.Name()
		if err := ctx.Err(); err != nil {
			e.warn("pipeline cancelled", "stage", name, "err", err)
			pc.StatusInfo = StatusInfo{Status: StatusError, Message: cancelledMessage}
			runErr = fmt.Errorf("pipeline %s cancelled before stage %s: %w", e.name, name, err)
			break
		}
		if e.bypass(pc, name) {
			continue
		}
		e.runStage(ctx, st, pc, observers)
	}
	if err := ctx.Err(); err != nil && runErr == nil {
		e.warn("pipeline cancelled during final stage", "err", err)
		pc.StatusInfo = StatusInfo{Status: StatusError, Message: cancelledMessage}
		runErr = fmt.Errorf("pipeline %s cancelled: %w", e.name, err)
	}

	finishCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		finishCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), e.finishTimeout)
		defer cancel()
	}
	e.notify("OnPipelineFinish", "", observers, func(o Observer) error {
		return o.OnPipelineFinish(finishCtx, pc)
	})

	e.info("pipeline finished",
		"status", pc.StatusInfo.Status,
		"errors", len(pc.Errors),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return pc, runErr
}

// bypass reports whether stage must be passed over silently because of a
// pending jump directive. Reaching the target clears the directive.
func (e *Executor) bypass(pc *Context, stage string) bool {
	si := &pc.StatusInfo
	if si.Status != StatusSkipped || si.JumpToStage == "" {
		return false
	}
	if stage == si.JumpToStage {
		e.debug("jump target reached", "stage", stage)
		si.JumpToStage = ""
		return false
	}
	e.debug("stage bypassed", "stage", stage, "jump_to", si.JumpToStage)
	return true
}

func (e *Executor) runStage(ctx context.Context, st Stage, pc *Context, observers []Observer) {
	name := st.Name()
	e.notify("OnStageStart", name, observers, func(o Observer) error {
		return o.OnStageStart(ctx, name, pc)
	})

	before := pc.StatusInfo
	stageStart := time.Now()
	if err := e.execute(ctx, st, pc); err != nil {
		pc.AddError(name, SubstageExecution, err, nil)
		e.warn("stage failed", "stage", name, "err", err)
		e.notify("OnStageError", name, observers, func(o Observer) error {
			return o.OnStageError(ctx, name, err, pc)
		})
		return
	}

	// A skip counts for this stage when it set SKIPPED or replaced an
	// earlier skip's reason or target.
	if pc.StatusInfo.Status == StatusSkipped && pc.StatusInfo != before {
		reason := pc.StatusInfo.Message
		e.info("stage requested skip", "stage", name, "reason", reason, "jump_to", pc.StatusInfo.JumpToStage)
		e.notify("OnStageSkipped", name, observers, func(o Observer) error {
			return o.OnStageSkipped(ctx, name, reason, pc)
		})
		return
	}

	e.debug("stage finished", "stage", name, "duration", time.Since(stageStart).Round(time.Millisecond))
	e.notify("OnStageFinish", name, observers, func(o Observer) error {
		return o.OnStageFinish(ctx, name, pc)
	})
}

// execute runs one stage, turning a panic into an error.
func (e *Executor) execute(ctx context.Context, st Stage, pc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", st.Name(), r)
		}
	}()
	return st.Execute(ctx, pc)
}

// notify calls fn for every observer. Observer errors and panics are logged
// and swallowed.
func (e *Executor) notify(event, stage string, observers []Observer, fn func(Observer) error) {
	for _, o := range observers {
		e.callObserver(event, stage, o, fn)
	}
}

func (e *Executor) callObserver(event, stage string, o Observer, fn func(Observer) error) {
	defer func() {
		if r := recover(); r != nil {
			e.error("observer panicked", "event", event, "stage", stage, "observer", fmt.Sprintf("%T", o), "panic", r)
		}
	}()
	if err := fn(o); err != nil {
		e.warn("observer failed", "event", event, "stage", stage, "observer", fmt.Sprintf("%T", o), "err", err)
	}
}

func (e *Executor) debug(msg string, kvs ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, append([]any{"pipeline", e.name}, kvs...)...)
	}
}

func (e *Executor) info(msg string, kvs ...any) {
	if e.logger != nil {
		e.logger.Info(msg, append([]any{"pipeline", e.name}, kvs...)...)
	}
}

func (e *Executor) warn(msg string, kvs ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, append([]any{"pipeline", e.name}, kvs...)...)
	}
}

func (e *Executor) error(msg string, kvs ...any) {
	if e.logger != nil {
		e.logger.Error(msg, append([]any{"pipeline", e.name}, kvs...)...)
	}
}
