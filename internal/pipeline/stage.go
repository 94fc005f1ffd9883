package pipeline

import "context"

// Stage names known to the core. Stages themselves live outside this module;
// the names matter because the observer and the check-run descriptors treat
// some of them specially.
const (
	StageValidateConfig      = "ValidateConfigStage"
	StageFetchChangedFiles   = "FetchChangedFilesStage"
	StageInitialComment      = "InitialCommentStage"
	StagePRLevelReview       = "PRLevelReviewStage"
	StageFileAnalysis        = "FileAnalysisStage"
	StageCreateFileComments  = "CreateFileCommentsStage"
	StageAggregateResults    = "AggregateResultsStage"
	StageUpdateSummary       = "UpdateCommentsAndGenerateSummaryStage"
	StageRequestChangesOrOK  = "RequestChangesOrApproveStage"
	StageFinishProcessReview = "FinishProcessReviewStage"
)

// DefaultStageOrder is the order the code-review stages run in.
var DefaultStageOrder = []string{
	StageValidateConfig,
	StageFetchChangedFiles,
	StageInitialComment,
	StagePRLevelReview,
	StageFileAnalysis,
	StageCreateFileComments,
	StageAggregateResults,
	StageUpdateSummary,
	StageRequestChangesOrOK,
	StageFinishProcessReview,
}

// Stage is a named unit of pipeline work. Execute mutates the shared Context;
// a returned error is recorded against the stage and the pipeline continues.
type Stage interface {
	Name() string
	Execute(ctx context.Context, pc *Context) error
}

// StageFunc adapts a function into a Stage.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, pc *Context) error
}

// Name implements Stage.
func (s StageFunc) Name() string { return s.StageName }

// Execute implements Stage.
func (s StageFunc) Execute(ctx context.Context, pc *Context) error {
	if s.Fn == nil {
		return nil
	}
	return s.Fn(ctx, pc)
}
