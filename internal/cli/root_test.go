package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/reviewflow/internal/config"
	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// writeConfig writes a config using a fresh SQLite file and returns its path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	t.Setenv(config.EnvDatabaseDSN, "")
	t.Setenv(config.EnvGitHubToken, "")
	t.Setenv(config.EnvGitHubAPIURL, "")

	dir := t.TempDir()
	content := "database:\n  dsn: " + filepath.Join(dir, "reviewflow.db") + "\nlog:\n  level: error\n" + extra
	path := filepath.Join(dir, "reviewflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{"config", "db", "execution", "checks", "pipeline", "serve", "version"}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}

func TestConfigValidate(t *testing.T) {
	path := writeConfig(t, "")
	out, err := executeCommand("config", "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid.")

	bad := writeConfig(t, "checks:\n  github:\n    transport: pigeon\n")
	out, err = executeCommand("config", "validate", "-c", bad)
	require.Error(t, err)
	assert.Contains(t, out, "checks.github.transport")
}

func TestConfigShowRedactsTokens(t *testing.T) {
	path := writeConfig(t, "checks:\n  github:\n    token: super-secret\n    org_tokens:\n      org-1: other-secret\n")
	out, err := executeCommand("config", "show", "-c", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "super-secret")
	assert.NotContains(t, out, "other-secret")
	assert.Contains(t, out, "********")
	assert.Contains(t, out, "transport: rest")
}

func TestDBCommands(t *testing.T) {
	path := writeConfig(t, "")
	out, err := executeCommand("db", "migrate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Schema up to date (sqlite3)")

	_, err = executeCommand("db", "reset", "-c", path, "--yes=false")
	require.Error(t, err)

	out, err = executeCommand("db", "reset", "-c", path, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Database reset.")
}

func TestChecksStages(t *testing.T) {
	out, err := executeCommand("checks", "stages")
	require.NoError(t, err)
	assert.Contains(t, out, pipeline.StageFileAnalysis)
	assert.Contains(t, out, "Analyzing files")
	assert.NotContains(t, out, pipeline.StageFinishProcessReview)
}

func TestPipelineSmokeRecordsExecution(t *testing.T) {
	path := writeConfig(t, `pipeline:
  stages:
    - name: FetchChangedFilesStage
    - name: FileAnalysisStage
      fail_files: [b.go]
    - name: PRLevelReviewStage
`)
	out, err := executeCommand("pipeline", "smoke", "-c", path,
		"--correlation-id", "smoke-1", "--pr", "3", "--files", "a.go,b.go", "--sha", "abc")
	require.NoError(t, err)
	assert.Contains(t, out, "Execution:  smoke-1")
	assert.Contains(t, out, "Status:     PARTIAL_ERROR")
	assert.Contains(t, out, "analysis failed for b.go")

	out, err = executeCommand("execution", "list", "-c", path, "--format", "json")
	require.NoError(t, err)
	var execs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &execs))
	require.Len(t, execs, 1)
	assert.Equal(t, "smoke-1", execs[0]["uuid"])
	assert.Equal(t, "PARTIAL_ERROR", execs[0]["status"])

	out, err = executeCommand("execution", "show", "smoke-1", "-c", path, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Execution:   smoke-1")
	assert.Contains(t, out, pipeline.StageFileAnalysis)
	assert.Contains(t, out, pipeline.StagePRLevelReview)

	_, err = executeCommand("execution", "show", "missing", "-c", path, "--format", "text")
	assert.Error(t, err)
}

func TestSmokeStagesJump(t *testing.T) {
	stages := smokeStages(config.Pipeline{Stages: []config.Stage{
		{Name: "A", Skip: "draft", SkipTo: "C"},
		{Name: "B", Fail: "should not run"},
		{Name: "C"},
	}})
	require.Len(t, stages, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pc := pipeline.NewContext()
	_, err := pipeline.NewExecutor().Run(ctx, pc, stages)
	require.NoError(t, err)
	assert.Empty(t, pc.Errors)
	assert.Equal(t, pipeline.StatusSkipped, pc.StatusInfo.Status)
	assert.Equal(t, "draft", pc.StatusInfo.Message)
}

func TestSmokeStagesDefaultOrder(t *testing.T) {
	stages := smokeStages(config.Pipeline{})
	require.Len(t, stages, len(pipeline.DefaultStageOrder))
	for i, s := range stages {
		assert.Equal(t, pipeline.DefaultStageOrder[i], s.Name())
	}
}
