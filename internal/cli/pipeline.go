package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/reviewflow/internal/config"
	"github.com/lucasnoah/reviewflow/internal/observer"
	"github.com/lucasnoah/reviewflow/internal/pipeline"
	"github.com/lucasnoah/reviewflow/internal/review"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run review pipelines",
}

var pipelineSmokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Run the configured stages as no-ops against the store and check adapter",
	Long: `Run a pipeline whose stages do no review work. Stages come from the
pipeline section of the config (or the default code-review order) and can be
configured to fail, fail individual files, or skip the run. Every lifecycle
event goes through the real observers, so the run is recorded in the store and
mirrored to the check run exactly like a production review.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cmd, cfg)

		database, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		pc, err := smokeContext(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner := review.NewRunner(
			pipeline.NewExecutor(pipeline.WithName(cfg.Pipeline.Name), pipeline.WithLogger(logger)),
			newCheckService(cfg, logger),
			database,
			smokeStages(cfg.Pipeline),
			review.WithMetrics(observer.NewMetrics(prometheus.NewRegistry())),
			review.WithLogger(logger),
		)
		res, runErr := runner.Run(ctx, pc)
		if res != nil {
			printResult(cmd, res)
		}
		if runErr != nil {
			return runErr
		}
		if res.Status == pipeline.StatusError {
			return errors.New("pipeline failed")
		}
		return nil
	},
}

func smokeContext(cmd *cobra.Command) (*pipeline.Context, error) {
	repo, _ := cmd.Flags().GetString("repo")
	repoID, _ := cmd.Flags().GetString("repo-id")
	org, _ := cmd.Flags().GetString("org")
	pr, _ := cmd.Flags().GetInt("pr")
	sha, _ := cmd.Flags().GetString("sha")
	platform, _ := cmd.Flags().GetString("platform")
	correlationID, _ := cmd.Flags().GetString("correlation-id")
	files, _ := cmd.Flags().GetStringSlice("files")

	p := pipeline.Platform(strings.ToUpper(platform))
	if !p.Valid() {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
	if pr <= 0 {
		return nil, errors.New("--pr must be positive")
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	if repoID == "" {
		repoID = repo
	}

	_, name, _ := strings.Cut(repo, "/")
	pc := pipeline.NewContext()
	pc.CorrelationID = correlationID
	pc.Platform = p
	pc.OrganizationAndTeam = pipeline.OrganizationAndTeam{OrganizationID: org}
	pc.Repository = pipeline.Repository{ID: repoID, Name: name, FullName: repo}
	pc.PullRequest = pipeline.PullRequest{Number: pr, Head: pipeline.Ref{SHA: sha}}
	for _, f := range files {
		pc.ChangedFiles = append(pc.ChangedFiles, pipeline.ChangedFile{Filename: f})
	}
	return pc, nil
}

// smokeStages turns configured stages into no-op stages. Without configured
// stages it runs the default code-review order.
func smokeStages(p config.Pipeline) []pipeline.Stage {
	specs := p.Stages
	if len(specs) == 0 {
		for _, name := range pipeline.DefaultStageOrder {
			specs = append(specs, config.Stage{Name: name})
		}
	}

	stages := make([]pipeline.Stage, 0, len(specs))
	for _, s := range specs {
		s := s
		stages = append(stages, pipeline.StageFunc{
			StageName: s.Name,
			Fn: func(_ context.Context, pc *pipeline.Context) error {
				for _, f := range s.FailFiles {
					pc.AddError(s.Name, f, fmt.Errorf("analysis failed for %s", f), map[string]any{"file": f})
				}
				if s.Skip != "" {
					pc.Skip(s.Skip, s.SkipTo)
				}
				if s.Fail != "" {
					return errors.New(s.Fail)
				}
				return nil
			},
		})
	}
	return stages
}

func printResult(cmd *cobra.Command, res *review.Result) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Execution:  %s\n", res.ExecutionUUID)
	fmt.Fprintf(w, "Status:     %s\n", res.Status)
	if res.Message != "" {
		fmt.Fprintf(w, "Message:    %s\n", res.Message)
	}
	fmt.Fprintf(w, "Duration:   %s\n", res.Duration.Round(time.Millisecond))
	if len(res.Context.Errors) > 0 {
		fmt.Fprintf(w, "\n%s", pipeline.FailureSummaryMarkdown(res.Context.StatusInfo.Message, res.Context.Errors))
	}
}

func init() {
	pipelineSmokeCmd.Flags().String("repo", "acme/widgets", "Repository full name (owner/name)")
	pipelineSmokeCmd.Flags().String("repo-id", "", "Repository id (defaults to --repo)")
	pipelineSmokeCmd.Flags().String("org", "", "Organization id used to pick a token")
	pipelineSmokeCmd.Flags().Int("pr", 1, "Pull request number")
	pipelineSmokeCmd.Flags().String("sha", "", "Head commit SHA (check runs need one)")
	pipelineSmokeCmd.Flags().String("platform", "github", "Code-hosting platform")
	pipelineSmokeCmd.Flags().String("correlation-id", "", "Execution uuid (generated when empty)")
	pipelineSmokeCmd.Flags().StringSlice("files", []string{"main.go"}, "Changed files")

	pipelineCmd.AddCommand(pipelineSmokeCmd)
}
