package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is unset.
const (
	DefaultAddr          = ":8080"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultTransport     = "rest"
	DefaultGitHubTimeout = "30s"
	DefaultMaxRetries    = 3
	DefaultPipelineName  = "CodeReviewPipeline"
)

// Environment variables that override the file.
const (
	EnvDatabaseDSN  = "REVIEWFLOW_DATABASE_DSN"
	EnvGitHubToken  = "GITHUB_TOKEN"
	EnvGitHubAPIURL = "GITHUB_API_URL"
)

// Load reads and parses a configuration from the given YAML file path, then
// applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the first
// one found. Search order: ./reviewflow.yaml, ~/.reviewflow/config.yaml.
// With no file present it returns the defaults.
func LoadDefault() (*Config, error) {
	candidates := []string{"reviewflow.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".reviewflow", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Parse(nil)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv(EnvGitHubToken); v != "" {
		cfg.Checks.GitHub.Token = v
	}
	if v := os.Getenv(EnvGitHubAPIURL); v != "" {
		cfg.Checks.GitHub.APIURL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	gh := &cfg.Checks.GitHub
	if gh.Transport == "" {
		gh.Transport = DefaultTransport
	}
	if gh.Timeout == "" {
		gh.Timeout = DefaultGitHubTimeout
	}
	if gh.MaxRetries == 0 {
		gh.MaxRetries = DefaultMaxRetries
	}
	if len(cfg.Checks.Platforms) == 0 {
		cfg.Checks.Platforms = []string{"github"}
	}

	if cfg.Pipeline.Name == "" {
		cfg.Pipeline.Name = DefaultPipelineName
	}
}

// GitHubTimeout returns the parsed adapter timeout. Call Validate first.
func (c *Config) GitHubTimeout() time.Duration {
	d, err := time.ParseDuration(c.Checks.GitHub.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
