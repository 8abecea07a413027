package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spoolworks/spool/pkg/state"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create the per-state directory layout",
	Long: `Create the planned/, active/, and completed/ subdirectories under the
given directory (default: the configured base directory).

Example:
  spool init /var/spool/jobs`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	base := cfg.Adapter.Dir.BaseDir
	if len(args) == 1 {
		base = args[0]
	}
	if base == "" {
		return fmt.Errorf("no directory given and adapter.dir.base_dir not set")
	}

	for _, st := range state.All {
		dir := filepath.Join(base, st.String())
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fmt.Printf("initialized %s\n", base)
	return nil
}
