package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reviewflow/internal/checks"
)

var checksCmd = &cobra.Command{
	Use:   "checks",
	Short: "Inspect check-run reporting",
}

var checksStagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List the stages that update the check run",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-40s %s\n", "STAGE", "TITLE")
		for _, name := range checks.StageNames() {
			d, _ := checks.Descriptor(name)
			fmt.Fprintf(w, "%-40s %s\n", name, d.Title)
		}
		return nil
	},
}

func init() {
	checksCmd.AddCommand(checksStagesCmd)
}
