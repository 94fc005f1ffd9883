package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
server:
  addr: ":9090"
database:
  dsn: /tmp/reviewflow.db
log:
  level: debug
  format: json
checks:
  enabled: true
  platforms: [github]
  github:
    transport: rest
    api_url: https://ghe.example.com/api/v3
    token: tok
    org_tokens:
      org-2: tok-2
    timeout: 10s
    max_retries: 5
pipeline:
  name: smoke
  stages:
    - name: FetchChangedFilesStage
    - name: ValidateConfigStage
      skip: draft pull request
      skip_to: FinishProcessReviewStage
    - name: FileAnalysisStage
      fail_files: [a.go]
    - name: FinishProcessReviewStage
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "reviewflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvDatabaseDSN, "")
	t.Setenv(EnvGitHubToken, "")
	t.Setenv(EnvGitHubAPIURL, "")
}

func TestLoadValidConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeTestConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/tmp/reviewflow.db", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Checks.Enabled)
	assert.Equal(t, "https://ghe.example.com/api/v3", cfg.Checks.GitHub.APIURL)
	assert.Equal(t, map[string]string{"org-2": "tok-2"}, cfg.Checks.GitHub.OrgTokens)
	assert.Equal(t, 5, cfg.Checks.GitHub.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.GitHubTimeout())

	require.Len(t, cfg.Pipeline.Stages, 4)
	assert.Equal(t, "smoke", cfg.Pipeline.Name)
	assert.Equal(t, []string{"a.go"}, cfg.Pipeline.Stages[2].FailFiles)
	assert.Equal(t, "FinishProcessReviewStage", cfg.Pipeline.Stages[1].SkipTo)

	assert.Empty(t, Validate(cfg))
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeTestConfig(t, "database:\n  dsn: x.db\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
	assert.Equal(t, DefaultTransport, cfg.Checks.GitHub.Transport)
	assert.Equal(t, DefaultMaxRetries, cfg.Checks.GitHub.MaxRetries)
	assert.Equal(t, []string{"github"}, cfg.Checks.Platforms)
	assert.Equal(t, DefaultPipelineName, cfg.Pipeline.Name)
	assert.Equal(t, 30*time.Second, cfg.GitHubTimeout())
	assert.Empty(t, Validate(cfg))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvDatabaseDSN, "postgres://localhost/reviewflow")
	t.Setenv(EnvGitHubToken, "env-token")
	t.Setenv(EnvGitHubAPIURL, "http://localhost:1234")

	cfg, err := Load(writeTestConfig(t, validConfig))
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/reviewflow", cfg.Database.DSN)
	assert.Equal(t, "env-token", cfg.Checks.GitHub.Token)
	assert.Equal(t, "http://localhost:1234", cfg.Checks.GitHub.APIURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeTestConfig(t, "server: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config YAML")
}

func TestLoadDefaultFindsLocalFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reviewflow.yaml"), []byte("server:\n  addr: \":7070\"\n"), 0644))
	t.Setenv("HOME", t.TempDir())

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoadDefaultWithoutFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad platform", func(c *Config) { c.Checks.Platforms = []string{"sourceforge"} }, "checks.platforms[0]"},
		{"bad transport", func(c *Config) { c.Checks.GitHub.Transport = "carrier-pigeon" }, "checks.github.transport"},
		{"bad timeout", func(c *Config) { c.Checks.GitHub.Timeout = "soon" }, "checks.github.timeout"},
		{"negative retries", func(c *Config) { c.Checks.GitHub.MaxRetries = -1 }, "checks.github.max_retries"},
		{"missing token", func(c *Config) {
			c.Checks.GitHub.Token = ""
			c.Checks.GitHub.OrgTokens = nil
		}, "checks.github.token"},
		{"unnamed stage", func(c *Config) { c.Pipeline.Stages[0].Name = "" }, "pipeline.stages[0].name"},
		{"duplicate stage", func(c *Config) { c.Pipeline.Stages[2].Name = "FetchChangedFilesStage" }, "pipeline.stages[2].name"},
		{"unknown skip target", func(c *Config) { c.Pipeline.Stages[1].SkipTo = "Nowhere" }, "pipeline.stages[1].skip_to"},
		{"skip_to without skip", func(c *Config) { c.Pipeline.Stages[1].Skip = "" }, "pipeline.stages[1].skip_to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := Parse([]byte(validConfig))
			require.NoError(t, err)
			tt.mutate(cfg)

			errs := Validate(cfg)
			require.NotEmpty(t, errs)
			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "log.level", Message: "is required"}
	assert.Equal(t, "log.level: is required", e.Error())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Log{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.True(t, strings.Contains(out, `"k":"v"`))
}

func TestNewLoggerUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Log{Level: "loud"}, &buf)
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
