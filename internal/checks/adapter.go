package checks

import (
	"context"

	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

// Status is the lifecycle status of an external check run.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Conclusion is the terminal outcome of a completed check run.
type Conclusion string

const (
	ConclusionSuccess Conclusion = "SUCCESS"
	ConclusionFailure Conclusion = "FAILURE"
	ConclusionSkipped Conclusion = "SKIPPED"
)

// RepositoryRef addresses a repository on the hosting platform.
type RepositoryRef struct {
	Owner string
	Name  string
}

// Output is the human-facing text of a check run.
type Output struct {
	Title   string
	Summary string
	Text    string
}

// CreateCheckRunParams describes a new check run.
type CreateCheckRunParams struct {
	OrganizationAndTeam pipeline.OrganizationAndTeam
	Repository          RepositoryRef
	HeadSHA             string
	Status              Status
	Name                string
	Output              Output
}

// UpdateCheckRunParams describes a change to an existing check run. Zero
// values for Status, Name, Conclusion and Output leave the field unchanged.
type UpdateCheckRunParams struct {
	CheckRunID          string
	OrganizationAndTeam pipeline.OrganizationAndTeam
	Repository          RepositoryRef
	Status              Status
	Name                string
	Conclusion          Conclusion
	Output              *Output
}

// Adapter is the platform-specific check-run capability.
type Adapter interface {
	// CreateCheckRun returns the new run's id, or "" when none was created.
	CreateCheckRun(ctx context.Context, p CreateCheckRunParams) (string, error)
	// UpdateCheckRun reports whether the platform accepted the update.
	UpdateCheckRun(ctx context.Context, p UpdateCheckRunParams) (bool, error)
}

// NullAdapter is the Adapter for platforms without check runs.
type NullAdapter struct{}

func (NullAdapter) CreateCheckRun(context.Context, CreateCheckRunParams) (string, error) {
	return "", nil
}

func (NullAdapter) UpdateCheckRun(context.Context, UpdateCheckRunParams) (bool, error) {
	return true, nil
}

// ObserverContext is per-run state owned by the Service. At most one check
// run is open per ObserverContext.
type ObserverContext struct {
	CheckRunID string
}
