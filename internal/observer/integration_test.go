package observer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/reviewflow/internal/checks"
	"github.com/lucasnoah/reviewflow/internal/db"
	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

type recordingAdapter struct {
	mu      sync.Mutex
	creates int
	updates []checks.UpdateCheckRunParams
}

func (a *recordingAdapter) CreateCheckRun(context.Context, checks.CreateCheckRunParams) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creates++
	return "run-1", nil
}

func (a *recordingAdapter) UpdateCheckRun(_ context.Context, p checks.UpdateCheckRunParams) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updates = append(a.updates, p)
	return true, nil
}

func openStore(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, d.Migrate())
	t.Cleanup(func() { d.Close() })
	return d
}

func TestCodeReview_FullRun(t *testing.T) {
	store := openStore(t)
	adapter := &recordingAdapter{}
	factory := checks.NewFactory()
	factory.Register(pipeline.PlatformGitHub, adapter)
	svc := checks.NewService(factory)

	pc := reviewContext(5)
	pc.CorrelationID = "exec-int-1"

	stages := []pipeline.Stage{
		pipeline.StageFunc{StageName: pipeline.StageFetchChangedFiles, Fn: func(_ context.Context, pc *pipeline.Context) error {
			pc.IgnoredFiles = []string{"go.sum"}
			return nil
		}},
		pipeline.StageFunc{StageName: pipeline.StageFileAnalysis, Fn: func(_ context.Context, pc *pipeline.Context) error {
			pc.AddError(pipeline.StageFileAnalysis, "f1.go", errors.New("A"), nil)
			pc.AddError(pipeline.StageFileAnalysis, "f3.go", errors.New("B"), nil)
			return nil
		}},
		pipeline.StageFunc{StageName: pipeline.StageCreateFileComments, Fn: func(context.Context, *pipeline.Context) error {
			return errors.New("403 forbidden")
		}},
	}

	obs := NewCodeReview(svc, store, nil)
	_, err := pipeline.NewExecutor().Run(context.Background(), pc, stages, obs)
	require.NoError(t, err)

	ctx := context.Background()
	logs, err := store.ListStageLogs(ctx, "exec-int-1")
	require.NoError(t, err)
	require.Len(t, logs, 3)

	byStage := make(map[string]db.StageLog)
	for _, l := range logs {
		byStage[l.StageName] = l
	}
	fetch := byStage[pipeline.StageFetchChangedFiles]
	assert.Equal(t, pipeline.StatusSuccess, fetch.Status)
	assert.Equal(t, []any{"go.sum"}, fetch.Metadata["ignoredFiles"])

	analysis := byStage[pipeline.StageFileAnalysis]
	assert.Equal(t, pipeline.StatusPartialError, analysis.Status)
	assert.Equal(t, "Error: A | B", analysis.Message)
	assert.NotNil(t, analysis.FinishedAt)

	comments := byStage[pipeline.StageCreateFileComments]
	assert.Equal(t, pipeline.StatusError, comments.Status)
	assert.Equal(t, "403 forbidden", comments.Message)

	assert.Equal(t, 1, adapter.creates)
	last := adapter.updates[len(adapter.updates)-1]
	assert.Equal(t, checks.StatusCompleted, last.Status)
	assert.Equal(t, checks.ConclusionFailure, last.Conclusion)
	assert.Empty(t, obs.ObserverContext().CheckRunID)
}

func TestCodeReview_RecoversAfterRestart(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	pc := reviewContext(1)

	// First observer starts the stage and is then lost.
	first := NewCodeReview(nil, store, nil)
	require.NoError(t, first.OnStageStart(ctx, pipeline.StagePRLevelReview, pc))

	second := NewCodeReview(nil, store, nil)
	require.NoError(t, second.OnStageFinish(ctx, pipeline.StagePRLevelReview, pc))

	execs, err := store.ListExecutions(ctx, db.ExecutionFilter{RepositoryID: "repo-1"}, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1, "no duplicate execution")

	logs, err := store.ListStageLogs(ctx, execs[0].UUID)
	require.NoError(t, err)
	require.Len(t, logs, 1, "no duplicate stage log")
	assert.Equal(t, pipeline.StatusSuccess, logs[0].Status)
	assert.Equal(t, execs[0].UUID, second.ExecutionUUID(pc))
}
