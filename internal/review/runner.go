// Package review runs the code-review pipeline for one triggering event at a
// time, wiring the executor to the store, check-run and metrics observers.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lucasnoah/reviewflow/internal/checks"
	"github.com/lucasnoah/reviewflow/internal/db"
	"github.com/lucasnoah/reviewflow/internal/observer"
	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

// Store is the execution store used by a run.
type Store interface {
	observer.ExecutionStore
	FinishExecution(ctx context.Context, executionUUID string, status pipeline.Status, message string) error
}

// Runner composes one executor run per event. Runs share nothing but the
// store, the check service and the metrics, so Run is safe for concurrent use.
type Runner struct {
	executor *pipeline.Executor
	checks   observer.CheckService
	store    Store
	stages   []pipeline.Stage
	metrics  *observer.Metrics
	extra    []pipeline.Observer
	logger   *log.Logger
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics records every run in m.
func WithMetrics(m *observer.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithObservers appends observers after the built-in ones.
func WithObservers(obs ...pipeline.Observer) Option {
	return func(r *Runner) {
		r.extra = append(r.extra, obs...)
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a Runner. checkSvc and store may be nil to disable check
// runs or persistence.
func NewRunner(executor *pipeline.Executor, checkSvc observer.CheckService, store Store, stages []pipeline.Stage, opts ...Option) *Runner {
	if executor == nil {
		executor = pipeline.NewExecutor()
	}
	r := &Runner{
		executor: executor,
		checks:   checkSvc,
		store:    store,
		stages:   stages,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result summarizes a finished run.
type Result struct {
	Context       *pipeline.Context
	ExecutionUUID string
	Status        pipeline.Status
	Message       string
	Duration      time.Duration
}

// Run executes the pipeline over pc. The returned error is non-nil only when
// ctx was cancelled; stage failures are reported through Result.
func (r *Runner) Run(ctx context.Context, pc *pipeline.Context) (*Result, error) {
	if pc == nil {
		return nil, errors.New("run review: nil context")
	}
	start := r.now()

	oc := &checks.ObserverContext{}
	cr := observer.NewCodeReview(r.checks, r.store, oc, observer.WithLogger(r.logger))
	observers := []pipeline.Observer{cr}
	if r.metrics != nil {
		observers = append(observers, r.metrics.Observer(r.executor.Name()))
	}
	observers = append(observers, r.extra...)

	_, runErr := r.executor.Run(ctx, pc, r.stages, observers...)

	status, message := FinalStatus(pc)
	res := &Result{
		Context:       pc,
		ExecutionUUID: cr.ExecutionUUID(pc),
		Status:        status,
		Message:       message,
		Duration:      r.now().Sub(start),
	}
	r.finish(ctx, res)

	if runErr != nil {
		return res, fmt.Errorf("run review for %s#%d: %w", pc.Repository.FullName, pc.PullRequest.Number, runErr)
	}
	return res, nil
}

func (r *Runner) finish(ctx context.Context, res *Result) {
	if r.store == nil || res.ExecutionUUID == "" {
		return
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}
	err := r.store.FinishExecution(ctx, res.ExecutionUUID, res.Status, res.Message)
	switch {
	case errors.Is(err, db.ErrNotFound):
		// Nothing was persisted for this run.
	case err != nil:
		if r.logger != nil {
			r.logger.Warn("finish execution failed", "execution", res.ExecutionUUID, "err", err)
		}
	}
}

// FinalStatus derives the execution status and message of a finished run.
func FinalStatus(pc *pipeline.Context) (pipeline.Status, string) {
	switch {
	case pc.StatusInfo.Status == pipeline.StatusSkipped:
		return pipeline.StatusSkipped, pc.StatusInfo.Message
	case pc.StatusInfo.Status == pipeline.StatusError:
		return pipeline.StatusError, pipeline.FailureReason(pc.StatusInfo.Message, pc.Errors)
	case len(pc.Errors) > 0:
		return pipeline.StatusPartialError, pipeline.FailureReason(pc.StatusInfo.Message, pc.Errors)
	default:
		return pipeline.StatusSuccess, ""
	}
}
