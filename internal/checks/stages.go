package checks

import (
	"sort"

	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

// Pseudo-stages marking the pipeline boundaries.
const (
	StagePipelineStart      = "_pipelineStart"
	StagePipelineEndSuccess = "_pipelineEndSuccess"
	StagePipelineEndFailure = "_pipelineEndFailure"
	StagePipelineEndSkipped = "_pipelineEndSkipped"
)

// CheckRunName is the name every check run is published under.
const CheckRunName = "Code Review"

// StageDescriptor holds the human-facing labels of one stage.
type StageDescriptor struct {
	Name    string
	Title   string
	Summary string
}

// StageDescriptors is the fixed vocabulary of check-run visible stages.
// Stages missing from it never touch the check run.
var StageDescriptors = map[string]StageDescriptor{
	StagePipelineStart: {
		Name:    CheckRunName,
		Title:   "Review started",
		Summary: "The code review has been queued and is starting.",
	},
	pipeline.StageValidateConfig: {
		Name:    CheckRunName,
		Title:   "Validating configuration",
		Summary: "Loading review settings for this repository.",
	},
	pipeline.StageFetchChangedFiles: {
		Name:    CheckRunName,
		Title:   "Fetching changed files",
		Summary: "Collecting the files changed by this pull request.",
	},
	pipeline.StageInitialComment: {
		Name:    CheckRunName,
		Title:   "Posting initial comment",
		Summary: "Letting the author know a review is in progress.",
	},
	pipeline.StagePRLevelReview: {
		Name:    CheckRunName,
		Title:   "Reviewing pull request",
		Summary: "Analyzing the pull request as a whole.",
	},
	pipeline.StageFileAnalysis: {
		Name:    CheckRunName,
		Title:   "Analyzing files",
		Summary: "Reviewing each changed file.",
	},
	pipeline.StageCreateFileComments: {
		Name:    CheckRunName,
		Title:   "Creating comments",
		Summary: "Publishing review comments on changed lines.",
	},
	pipeline.StageAggregateResults: {
		Name:    CheckRunName,
		Title:   "Aggregating results",
		Summary: "Combining file and pull request findings.",
	},
	pipeline.StageUpdateSummary: {
		Name:    CheckRunName,
		Title:   "Writing summary",
		Summary: "Updating the review summary comment.",
	},
	pipeline.StageRequestChangesOrOK: {
		Name:    CheckRunName,
		Title:   "Submitting review",
		Summary: "Requesting changes or approving the pull request.",
	},
	StagePipelineEndSuccess: {
		Name:    CheckRunName,
		Title:   "Review completed",
		Summary: "The code review finished successfully.",
	},
	StagePipelineEndFailure: {
		Name:    CheckRunName,
		Title:   "Review failed",
		Summary: "The code review finished with errors.",
	},
	StagePipelineEndSkipped: {
		Name:    CheckRunName,
		Title:   "Review skipped",
		Summary: "The code review was skipped.",
	},
}

// Descriptor returns the descriptor for stage.
func Descriptor(stage string) (StageDescriptor, bool) {
	d, ok := StageDescriptors[stage]
	return d, ok
}

// StageNames returns every described stage, sorted.
func StageNames() []string {
	names := make([]string, 0, len(StageDescriptors))
	for n := range StageDescriptors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func endStageFor(c Conclusion) string {
	switch c {
	case ConclusionFailure:
		return StagePipelineEndFailure
	case ConclusionSkipped:
		return StagePipelineEndSkipped
	default:
		return StagePipelineEndSuccess
	}
}
