// Package checks owns the lifecycle of the external check run that mirrors
// one pipeline run on the code-hosting platform.
package checks

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

// Service manages at most one open check run per ObserverContext. None of
// its methods return errors: adapter failures are logged and absorbed.
type Service struct {
	factory *Factory
	logger  *log.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger attaches a logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a Service resolving adapters through factory.
func NewService(factory *Factory, opts ...ServiceOption) *Service {
	s := &Service{factory: factory}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// target is everything needed to address a check run.
type target struct {
	adapter Adapter
	repo    RepositoryRef
	headSHA string
}

func (s *Service) resolve(pc *pipeline.Context, stage string) (target, bool) {
	owner, name, ok := splitFullName(pc.Repository.FullName)
	if !ok {
		s.warn("cannot resolve repository owner/name", "stage", stage, "full_name", pc.Repository.FullName)
		return target{}, false
	}
	sha := strings.TrimSpace(pc.PullRequest.Head.SHA)
	if sha == "" {
		s.warn("missing head sha", "stage", stage, "repository", pc.Repository.FullName, "pr", pc.PullRequest.Number)
		return target{}, false
	}
	if s.factory == nil {
		s.warn("no checks adapter factory", "stage", stage)
		return target{}, false
	}
	adapter, ok := s.factory.Adapter(pc.Platform)
	if !ok {
		s.warn("no checks adapter for platform", "stage", stage, "platform", pc.Platform)
		return target{}, false
	}
	return target{adapter: adapter, repo: RepositoryRef{Owner: owner, Name: name}, headSHA: sha}, true
}

// StartCheck creates a check run for stage and stores its id in oc. An open
// run in oc is finalized as SUCCESS first.
func (s *Service) StartCheck(ctx context.Context, oc *ObserverContext, pc *pipeline.Context, stage string) {
	if oc == nil || pc == nil {
		return
	}
	desc, ok := Descriptor(stage)
	if !ok {
		s.debug("stage has no check descriptor", "stage", stage)
		return
	}
	t, ok := s.resolve(pc, stage)
	if !ok {
		return
	}

	if oc.CheckRunID != "" {
		s.warn("finalizing stale check run before starting a new one", "check_run_id", oc.CheckRunID, "stage", stage)
		s.FinalizeCheck(ctx, oc, pc, ConclusionSuccess, "", "")
	}

	id, err := t.adapter.CreateCheckRun(ctx, CreateCheckRunParams{
		OrganizationAndTeam: pc.OrganizationAndTeam,
		Repository:          t.repo,
		HeadSHA:             t.headSHA,
		Status:              StatusInProgress,
		Name:                desc.Name,
		Output:              Output{Title: desc.Title, Summary: desc.Summary},
	})
	if err != nil {
		s.error("create check run failed", "stage", stage, "repository", pc.Repository.FullName, "err", err)
		return
	}
	if id == "" {
		s.debug("adapter created no check run", "platform", pc.Platform, "stage", stage)
		return
	}
	oc.CheckRunID = id
	s.debug("check run created", "check_run_id", id, "stage", stage)
}

// UpdateCheck moves the open check run to stage. An empty conclusion leaves
// the conclusion unset.
func (s *Service) UpdateCheck(ctx context.Context, oc *ObserverContext, pc *pipeline.Context, stage string, status Status, conclusion Conclusion) {
	if oc == nil || pc == nil {
		return
	}
	if oc.CheckRunID == "" {
		s.warn("no open check run to update", "stage", stage)
		return
	}
	desc, ok := Descriptor(stage)
	if !ok {
		s.debug("stage has no check descriptor", "stage", stage)
		return
	}
	t, ok := s.resolve(pc, stage)
	if !ok {
		return
	}

	accepted, err := t.adapter.UpdateCheckRun(ctx, UpdateCheckRunParams{
		CheckRunID:          oc.CheckRunID,
		OrganizationAndTeam: pc.OrganizationAndTeam,
		Repository:          t.repo,
		Status:              status,
		Name:                desc.Name,
		Conclusion:          conclusion,
		Output:              &Output{Title: desc.Title, Summary: desc.Summary},
	})
	switch {
	case err != nil:
		s.error("update check run failed", "check_run_id", oc.CheckRunID, "stage", stage, "err", err)
	case !accepted:
		s.warn("check run update rejected", "check_run_id", oc.CheckRunID, "stage", stage)
	}
}

// FinalizeCheck completes the open check run with conclusion. The summary is
// reason when given, else a failure summary for the failure-end stage, else
// the stage descriptor's summary. An empty stage is derived from conclusion.
// oc.CheckRunID is always cleared.
func (s *Service) FinalizeCheck(ctx context.Context, oc *ObserverContext, pc *pipeline.Context, conclusion Conclusion, stage, reason string) {
	if oc == nil {
		return
	}
	if oc.CheckRunID == "" {
		s.warn("no open check run to finalize", "conclusion", conclusion)
		return
	}
	checkRunID := oc.CheckRunID
	defer func() { oc.CheckRunID = "" }()

	if pc == nil {
		return
	}
	if stage == "" {
		stage = endStageFor(conclusion)
	}
	t, ok := s.resolve(pc, stage)
	if !ok {
		return
	}

	desc, ok := Descriptor(stage)
	if !ok {
		desc = StageDescriptor{Name: CheckRunName, Title: CheckRunName}
	}
	summary := desc.Summary
	switch {
	case strings.TrimSpace(reason) != "":
		summary = reason
	case stage == StagePipelineEndFailure:
		summary = pipeline.FailureSummaryMarkdown(pc.StatusInfo.Message, pc.Errors)
	}

	accepted, err := t.adapter.UpdateCheckRun(ctx, UpdateCheckRunParams{
		CheckRunID:          checkRunID,
		OrganizationAndTeam: pc.OrganizationAndTeam,
		Repository:          t.repo,
		Status:              StatusCompleted,
		Name:                desc.Name,
		Conclusion:          conclusion,
		Output:              &Output{Title: desc.Title, Summary: summary},
	})
	switch {
	case err != nil:
		s.error("finalize check run failed", "check_run_id", checkRunID, "conclusion", conclusion, "err", err)
	case !accepted:
		s.warn("check run finalize rejected", "check_run_id", checkRunID, "conclusion", conclusion)
	default:
		s.debug("check run finalized", "check_run_id", checkRunID, "conclusion", conclusion)
	}
}

// splitFullName splits "owner/name" on the last slash. Owners may contain
// slashes (GitLab subgroups).
func splitFullName(full string) (owner, name string, ok bool) {
	full = strings.Trim(strings.TrimSpace(full), "/")
	i := strings.LastIndex(full, "/")
	if i <= 0 {
		return "", "", false
	}
	owner, name = full[:i], full[i+1:]
	if owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}

func (s *Service) debug(msg string, kvs ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, kvs...)
	}
}

func (s *Service) warn(msg string, kvs ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, kvs...)
	}
}

func (s *Service) error(msg string, kvs ...any) {
	if s.logger != nil {
		s.logger.Error(msg, kvs...)
	}
}
