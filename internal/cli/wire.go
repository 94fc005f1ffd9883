package cli

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/reviewflow/internal/checks"
	"github.com/lucasnoah/reviewflow/internal/config"
	"github.com/lucasnoah/reviewflow/internal/db"
	"github.com/lucasnoah/reviewflow/internal/github"
	"github.com/lucasnoah/reviewflow/internal/observer"
	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

// loadValidConfig loads the config and refuses to continue past validation errors.
func loadValidConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *log.Logger {
	return config.NewLogger(cfg.Log, cmd.ErrOrStderr())
}

// openStore opens and migrates the configured store.
func openStore(cfg *config.Config) (*db.DB, error) {
	dsn := cfg.Database.DSN
	if dsn == "" {
		path, err := db.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("db path: %w", err)
		}
		dsn = path
	}
	database, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return database, nil
}

// newChecksFactory registers the configured adapters. Returns nil when check
// runs are disabled.
func newChecksFactory(cfg *config.Config) *checks.Factory {
	if !cfg.Checks.Enabled {
		return nil
	}
	f := checks.NewFactory()
	if cfg.Checks.NullFallback {
		f.SetFallback(checks.NullAdapter{})
	}
	for _, p := range cfg.Checks.Platforms {
		platform := pipeline.Platform(strings.ToUpper(p))
		if platform == pipeline.PlatformGitHub {
			f.Register(platform, github.NewCheckRunAdapter(githubTransport(cfg)))
		}
	}
	return f
}

func githubTransport(cfg *config.Config) github.Transport {
	gh := cfg.Checks.GitHub
	if gh.Transport == "gh" {
		return github.NewGHTransport(nil)
	}
	return github.NewClient(
		github.OrgTokens{Default: gh.Token, ByOrg: gh.OrgTokens},
		github.WithAPIURL(gh.APIURL),
		github.WithRetry(gh.MaxRetries, time.Second),
		github.WithHTTPClient(&http.Client{Timeout: cfg.GitHubTimeout()}),
	)
}

// newCheckService returns nil when check runs are disabled.
func newCheckService(cfg *config.Config, logger *log.Logger) observer.CheckService {
	f := newChecksFactory(cfg)
	if f == nil {
		return nil
	}
	return checks.NewService(f, checks.WithLogger(logger))
}
