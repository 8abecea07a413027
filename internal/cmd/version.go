package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("spool %s (commit %s, built %s, %s)\n",
			versionInfo.Version,
			versionInfo.Commit,
			versionInfo.BuildDate,
			runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
