package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "reviewflow",
	Short: "reviewflow: code-review pipeline core",
	Long: `reviewflow runs code-review pipelines for pull requests, records every
execution and stage in a durable store, and mirrors progress to the
code-hosting platform as a check run.

Local state lives in ~/.reviewflow/ (SQLite by default; set database.dsn or
REVIEWFLOW_DATABASE_DSN to a postgres:// URL for a shared store).`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to reviewflow config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(executionCmd)
	rootCmd.AddCommand(checksCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(serveCmd)
}
