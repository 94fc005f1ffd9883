package pipeline

import (
	"fmt"
	"strings"
)

// Status is the lifecycle status shared by pipeline runs, stage logs and
// persisted executions.
type Status string

const (
	StatusInProgress   Status = "IN_PROGRESS"
	StatusSuccess      Status = "SUCCESS"
	StatusPartialError Status = "PARTIAL_ERROR"
	StatusError        Status = "ERROR"
	StatusSkipped      Status = "SKIPPED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusSuccess, StatusPartialError, StatusError, StatusSkipped:
		return true
	}
	return false
}

// Platform identifies the code-hosting platform a pipeline run belongs to.
type Platform string

const (
	PlatformGitHub    Platform = "GITHUB"
	PlatformGitLab    Platform = "GITLAB"
	PlatformBitbucket Platform = "BITBUCKET"
	PlatformAzure     Platform = "AZURE_REPOS"
	PlatformForgejo   Platform = "FORGEJO"
)

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformGitHub, PlatformGitLab, PlatformBitbucket, PlatformAzure, PlatformForgejo:
		return true
	}
	return false
}

// StatusInfo is the run-level status a stage may set. A SKIPPED status with
// a JumpToStage target makes the executor bypass stages until the target.
type StatusInfo struct {
	Status      Status `json:"status"`
	Message     string `json:"message,omitempty"`
	JumpToStage string `json:"jump_to_stage,omitempty"`
}

// ErrorDetail is the normalized shape of a captured error.
type ErrorDetail struct {
	Message string `json:"message"`
}

// StageError records a failure attributed to a stage (and optionally a
// substage such as a single file) during a run.
type StageError struct {
	Stage    string         `json:"stage"`
	Substage string         `json:"substage,omitempty"`
	Error    ErrorDetail    `json:"error"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExecutionRef points at a persisted execution.
type ExecutionRef struct {
	UUID string `json:"uuid"`
}

// Metadata carries run metadata threaded from previous executions.
type Metadata struct {
	LastExecution *ExecutionRef `json:"last_execution,omitempty"`
}

// OrganizationAndTeam scopes a run to a tenant.
type OrganizationAndTeam struct {
	OrganizationID string `json:"organization_id"`
	TeamID         string `json:"team_id,omitempty"`
}

// Repository is the repository under review.
type Repository struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
}

// Ref is a git ref with its commit SHA.
type Ref struct {
	Ref string `json:"ref,omitempty"`
	SHA string `json:"sha"`
}

// PullRequest is the pull request under review.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
	Head   Ref    `json:"head"`
	Base   Ref    `json:"base"`
}

// ChangedFile is one file touched by the pull request.
type ChangedFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status,omitempty"`
	Additions int    `json:"additions,omitempty"`
	Deletions int    `json:"deletions,omitempty"`
}

// Context is the mutable state threaded through every stage and observer of
// one pipeline run. It is created once per triggering event and discarded at
// the end of the run.
type Context struct {
	StatusInfo       StatusInfo   `json:"status_info"`
	Errors           []StageError `json:"errors,omitempty"`
	CorrelationID    string       `json:"correlation_id,omitempty"`
	PipelineMetadata Metadata     `json:"pipeline_metadata"`

	Platform            Platform            `json:"platform"`
	OrganizationAndTeam OrganizationAndTeam `json:"organization_and_team"`
	Repository          Repository          `json:"repository"`
	PullRequest         PullRequest         `json:"pull_request"`
	ChangedFiles        []ChangedFile       `json:"changed_files,omitempty"`
	IgnoredFiles        []string            `json:"ignored_files,omitempty"`

	// Data holds stage-specific values the core does not interpret.
	Data map[string]any `json:"data,omitempty"`
}

// NewContext creates a Context in the IN_PROGRESS state.
func NewContext() *Context {
	return &Context{
		StatusInfo: StatusInfo{Status: StatusInProgress},
		Data:       make(map[string]any),
	}
}

// AddError appends a StageError, normalizing err to its message.
func (c *Context) AddError(stage, substage string, err error, metadata map[string]any) {
	c.Errors = append(c.Errors, StageError{
		Stage:    stage,
		Substage: substage,
		Error:    ErrorDetail{Message: errorMessage(err)},
		Metadata: metadata,
	})
}

// ErrorsForStage returns the errors recorded against stage, in order.
func (c *Context) ErrorsForStage(stage string) []StageError {
	var out []StageError
	for _, e := range c.Errors {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

// ExecutionID returns the identifier under which this run is persisted: the
// last execution's uuid if known, else the correlation id, else "".
func (c *Context) ExecutionID() string {
	if c.PipelineMetadata.LastExecution != nil && c.PipelineMetadata.LastExecution.UUID != "" {
		return c.PipelineMetadata.LastExecution.UUID
	}
	return c.CorrelationID
}

// Skip marks the run as skipped. A non-empty jumpTo makes the executor bypass
// every stage before jumpTo.
func (c *Context) Skip(message, jumpTo string) {
	c.StatusInfo = StatusInfo{Status: StatusSkipped, Message: message, JumpToStage: jumpTo}
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return fmt.Sprintf("%T", err)
	}
	return msg
}
