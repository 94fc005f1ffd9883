package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reviewflow/internal/db"
	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

var executionCmd = &cobra.Command{
	Use:     "execution",
	Aliases: []string{"exec"},
	Short:   "Inspect recorded pipeline executions",
}

var executionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		repo, _ := cmd.Flags().GetString("repo")
		pr, _ := cmd.Flags().GetInt("pr")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := db.ExecutionFilter{RepositoryID: repo, PullRequestNumber: pr}
		if status != "" {
			filter.Status = pipeline.Status(strings.ToUpper(status))
			if !filter.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
		}

		execs, err := database.ListExecutions(cmd.Context(), filter, limit)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), execs)
		}

		if len(execs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No executions found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-36s %-14s %-6s %-20s %-20s %s\n", "UUID", "STATUS", "PR", "REPOSITORY", "UPDATED", "MESSAGE")
		fmt.Fprintf(w, "%-36s %-14s %-6s %-20s %-20s %s\n",
			strings.Repeat("-", 36),
			strings.Repeat("-", 14),
			strings.Repeat("-", 6),
			strings.Repeat("-", 20),
			strings.Repeat("-", 20),
			strings.Repeat("-", 7))
		for _, e := range execs {
			fmt.Fprintf(w, "%-36s %-14s %-6d %-20s %-20s %s\n",
				e.UUID, e.Status, e.PullRequestNumber, truncate(e.RepositoryID, 20),
				e.UpdatedAt.Local().Format(time.DateTime), truncate(e.Message, 60))
		}
		return nil
	},
}

var executionShowCmd = &cobra.Command{
	Use:   "show [uuid]",
	Short: "Show one execution and its stage logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		exec, err := database.GetExecution(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		logs, err := database.ListStageLogs(cmd.Context(), exec.UUID)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"execution":  exec,
				"stage_logs": logs,
			})
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Execution:   %s\n", exec.UUID)
		fmt.Fprintf(w, "Status:      %s\n", exec.Status)
		fmt.Fprintf(w, "Repository:  %s\n", exec.RepositoryID)
		fmt.Fprintf(w, "PR:          %d\n", exec.PullRequestNumber)
		if exec.Message != "" {
			fmt.Fprintf(w, "Message:     %s\n", exec.Message)
		}
		fmt.Fprintf(w, "Created:     %s\n", exec.CreatedAt.Local().Format(time.DateTime))
		if exec.FinishedAt != nil {
			fmt.Fprintf(w, "Finished:    %s\n", exec.FinishedAt.Local().Format(time.DateTime))
		}

		if len(logs) == 0 {
			fmt.Fprintln(w, "\nNo stage logs.")
			return nil
		}
		fmt.Fprintf(w, "\n%-40s %-14s %s\n", "STAGE", "STATUS", "MESSAGE")
		for _, l := range logs {
			fmt.Fprintf(w, "%-40s %-14s %s\n", l.StageName, l.Status, truncate(l.Message, 80))
		}
		return nil
	},
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	executionListCmd.Flags().String("repo", "", "Filter by repository id")
	executionListCmd.Flags().Int("pr", 0, "Filter by pull request number")
	executionListCmd.Flags().String("status", "", "Filter by status (IN_PROGRESS, SUCCESS, PARTIAL_ERROR, ERROR, SKIPPED)")
	executionListCmd.Flags().Int("limit", 50, "Maximum number of executions")
	executionListCmd.Flags().String("format", "text", "Output format: text or json")
	executionShowCmd.Flags().String("format", "text", "Output format: text or json")

	executionCmd.AddCommand(executionListCmd)
	executionCmd.AddCommand(executionShowCmd)
}
