package observer

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lucasnoah/reviewflow/internal/checks"
	"github.com/lucasnoah/reviewflow/internal/db"
	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

const (
	startingMessage   = "Starting..."
	ignoredFilesLimit = 50
)

// CodeReview mirrors one pipeline run into the check-run service and the
// execution store. It is created per run and is not safe for concurrent
// runs. Bookkeeping failures are logged and never returned.
type CodeReview struct {
	checks CheckService
	store  ExecutionStore
	oc     *checks.ObserverContext
	logger *log.Logger
	now    func() time.Time

	// stage name -> stage log uuid captured at stage start
	stageLogIDs map[string]string
	// execution learned from the store when the context carried no id
	executionUUID string
}

// Option configures a CodeReview observer.
type Option func(*CodeReview)

// WithLogger attaches a logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *CodeReview) {
		o.logger = logger
	}
}

// WithClock overrides the clock used for FinishedAt.
func WithClock(now func() time.Time) Option {
	return func(o *CodeReview) {
		if now != nil {
			o.now = now
		}
	}
}

// NewCodeReview creates the observer for one run. oc may be nil, in which
// case a fresh ObserverContext is used.
func NewCodeReview(checkSvc CheckService, store ExecutionStore, oc *checks.ObserverContext, opts ...Option) *CodeReview {
	if oc == nil {
		oc = &checks.ObserverContext{}
	}
	o := &CodeReview{
		checks:      checkSvc,
		store:       store,
		oc:          oc,
		now:         time.Now,
		stageLogIDs: make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ObserverContext returns the run's check-run state.
func (o *CodeReview) ObserverContext() *checks.ObserverContext {
	return o.oc
}

// ExecutionUUID returns the execution this run is persisted under, if known.
func (o *CodeReview) ExecutionUUID(pc *pipeline.Context) string {
	if id := pc.ExecutionID(); id != "" {
		return id
	}
	return o.executionUUID
}

func (o *CodeReview) OnPipelineStart(ctx context.Context, pc *pipeline.Context) error {
	if o.checks != nil {
		o.checks.StartCheck(ctx, o.oc, pc, checks.StagePipelineStart)
	}
	return nil
}

func (o *CodeReview) OnPipelineFinish(ctx context.Context, pc *pipeline.Context) error {
	if o.checks == nil {
		return nil
	}
	switch {
	case pc.StatusInfo.Status == pipeline.StatusSkipped:
		o.checks.FinalizeCheck(ctx, o.oc, pc, checks.ConclusionSkipped, checks.StagePipelineEndSkipped, pc.StatusInfo.Message)
	case pc.StatusInfo.Status == pipeline.StatusError || len(pc.Errors) > 0:
		reason := pipeline.FailureReason(pc.StatusInfo.Message, pc.Errors)
		o.checks.FinalizeCheck(ctx, o.oc, pc, checks.ConclusionFailure, checks.StagePipelineEndFailure, reason)
	default:
		o.checks.FinalizeCheck(ctx, o.oc, pc, checks.ConclusionSuccess, checks.StagePipelineEndSuccess, "")
	}
	return nil
}

func (o *CodeReview) OnStageStart(ctx context.Context, stage string, pc *pipeline.Context) error {
	if o.checks != nil {
		o.checks.UpdateCheck(ctx, o.oc, pc, stage, checks.StatusInProgress, "")
	}
	if o.store == nil {
		return nil
	}

	res, err := o.store.UpdateCodeReview(ctx, o.filter(pc), pipeline.StatusInProgress, startingMessage, stage, nil)
	if err != nil {
		o.warn("persist stage start failed", "stage", stage, "err", err)
		return nil
	}
	if res == nil {
		return nil
	}
	if res.StageLog != nil && res.StageLog.UUID != "" {
		o.stageLogIDs[stage] = res.StageLog.UUID
	}
	if res.Execution != nil && pc.ExecutionID() == "" {
		o.executionUUID = res.Execution.UUID
	}
	return nil
}

func (o *CodeReview) OnStageFinish(ctx context.Context, stage string, pc *pipeline.Context) error {
	stageErrs := pc.ErrorsForStage(stage)
	status := stageStatus(pc, stage, stageErrs)
	message := pipeline.StageMessage(stageErrs)
	o.persist(ctx, pc, stage, status, message, stageMetadata(pc, stage, stageErrs))

	if o.checks != nil {
		o.checks.UpdateCheck(ctx, o.oc, pc, stage, checks.StatusInProgress, "")
	}
	return nil
}

func (o *CodeReview) OnStageError(ctx context.Context, stage string, stageErr error, pc *pipeline.Context) error {
	message := "unknown error"
	if stageErr != nil && stageErr.Error() != "" {
		message = stageErr.Error()
	}
	o.persist(ctx, pc, stage, pipeline.StatusError, message, stageMetadata(pc, stage, pc.ErrorsForStage(stage)))
	return nil
}

func (o *CodeReview) OnStageSkipped(ctx context.Context, stage, reason string, pc *pipeline.Context) error {
	o.persist(ctx, pc, stage, pipeline.StatusSkipped, reason, nil)
	return nil
}

// persist writes a terminal stage status. It prefers the stage log captured
// at start, then a stage log recovered through the store, and finally a
// filter-based upsert.
func (o *CodeReview) persist(ctx context.Context, pc *pipeline.Context, stage string, status pipeline.Status, message string, metadata map[string]any) {
	if o.store == nil {
		return
	}
	finishedAt := o.now()
	update := db.StageLogUpdate{
		Status:     status,
		Message:    message,
		FinishedAt: &finishedAt,
		Metadata:   metadata,
	}

	if id := o.stageLogIDs[stage]; id != "" {
		err := o.store.UpdateStageLog(ctx, id, update)
		if err == nil {
			return
		}
		o.warn("update captured stage log failed", "stage", stage, "stage_log", id, "err", err)
	} else if id := o.recoverStageLog(ctx, pc, stage); id != "" {
		err := o.store.UpdateStageLog(ctx, id, update)
		if err == nil {
			o.stageLogIDs[stage] = id
			return
		}
		o.warn("update recovered stage log failed", "stage", stage, "stage_log", id, "err", err)
	}

	filter := o.filter(pc)
	res, err := o.store.UpdateCodeReview(ctx, filter, status, message, stage, metadata)
	if err != nil {
		o.error("persist stage status failed", "stage", stage, "status", status, "err", err)
		return
	}
	if res != nil && res.StageLog != nil {
		o.stageLogIDs[stage] = res.StageLog.UUID
	}
}

// recoverStageLog looks up the stage log of stage when its id was never
// captured. Without a known execution, the newest IN_PROGRESS execution of
// the pull request is used. Two concurrent runs of the same pull request may
// resolve to the same execution here.
func (o *CodeReview) recoverStageLog(ctx context.Context, pc *pipeline.Context, stage string) string {
	execUUID := o.ExecutionUUID(pc)
	if execUUID == "" {
		e, err := o.store.FindLatestExecutionByFilters(ctx, db.ExecutionFilter{
			PullRequestNumber: pc.PullRequest.Number,
			RepositoryID:      pc.Repository.ID,
			Status:            pipeline.StatusInProgress,
		})
		if err != nil {
			o.warn("recover execution failed", "stage", stage, "pr", pc.PullRequest.Number, "err", err)
			return ""
		}
		if e == nil {
			o.debug("no in-progress execution to recover", "stage", stage, "pr", pc.PullRequest.Number)
			return ""
		}
		execUUID = e.UUID
		o.executionUUID = e.UUID
	}

	sl, err := o.store.FindLatestStageLog(ctx, execUUID, stage)
	if err != nil {
		o.warn("recover stage log failed", "stage", stage, "execution", execUUID, "err", err)
		return ""
	}
	if sl == nil {
		return ""
	}
	return sl.UUID
}

// filter addresses the run's execution by uuid when known, else by pull
// request. The pull request fields also seed a lazily created execution.
func (o *CodeReview) filter(pc *pipeline.Context) db.ExecutionFilter {
	return db.ExecutionFilter{
		UUID:              o.ExecutionUUID(pc),
		PullRequestNumber: pc.PullRequest.Number,
		RepositoryID:      pc.Repository.ID,
	}
}

// stageStatus classifies a finished stage. File analysis is ERROR only when
// every changed file failed.
func stageStatus(pc *pipeline.Context, stage string, stageErrs []pipeline.StageError) pipeline.Status {
	if len(stageErrs) == 0 {
		return pipeline.StatusSuccess
	}
	if stage == pipeline.StageFileAnalysis && len(stageErrs) >= len(pc.ChangedFiles) {
		return pipeline.StatusError
	}
	return pipeline.StatusPartialError
}

func stageMetadata(pc *pipeline.Context, stage string, stageErrs []pipeline.StageError) map[string]any {
	meta := make(map[string]any)
	if len(stageErrs) > 0 {
		list := make([]map[string]any, 0, len(stageErrs))
		for _, e := range stageErrs {
			entry := map[string]any{"message": e.Error.Message}
			if e.Substage != "" && e.Substage != pipeline.SubstageExecution {
				entry["file"] = e.Substage
			}
			for k, v := range e.Metadata {
				entry[k] = v
			}
			list = append(list, entry)
		}
		meta["errors"] = list
	}
	if stage == pipeline.StageFetchChangedFiles && len(pc.IgnoredFiles) > 0 {
		ignored := pc.IgnoredFiles
		if len(ignored) > ignoredFilesLimit {
			ignored = ignored[:ignoredFilesLimit]
		}
		meta["ignoredFiles"] = append([]string(nil), ignored...)
		meta["ignoredFilesCount"] = len(pc.IgnoredFiles)
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func (o *CodeReview) debug(msg string, kvs ...any) {
	if o.logger != nil {
		o.logger.Debug(msg, kvs...)
	}
}

func (o *CodeReview) warn(msg string, kvs ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, kvs...)
	}
}

func (o *CodeReview) error(msg string, kvs ...any) {
	if o.logger != nil {
		o.logger.Error(msg, kvs...)
	}
}
