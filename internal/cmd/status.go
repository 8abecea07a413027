package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spoolworks/spool/internal/observability"
	"github.com/spoolworks/spool/pkg/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job counts per lifecycle state",
	Long: `Scan the configured storage location once and print the jobs found at
each lifecycle state.

Example:
  spool status
  spool status --json`,
	RunE: runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit machine-readable JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	byState, err := jobsByState(cmd.Context(), cfg, observability.CLILogger)
	if err != nil {
		return err
	}

	if statusJSON {
		out := make(map[string][]string, len(state.All))
		for _, st := range state.All {
			ids := byState[st]
			if ids == nil {
				ids = []string{}
			}
			out[st.String()] = ids
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, st := range state.All {
		ids := byState[st]
		fmt.Printf("%-10s %d\n", st.String()+":", len(ids))
		for _, id := range ids {
			fmt.Printf("  %s\n", id)
		}
	}
	return nil
}
