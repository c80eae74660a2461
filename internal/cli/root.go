package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "relay validates and publishes commits through a checkpoint pipeline",
	Long: `relay runs your working branch through a fixed validation pipeline
(clone, code, test, refactor, sync, notify, report) against a checkpoint
clone kept next to the workspace. Every stage leaves a branch behind; a
failure rolls the checkpoint back to the last good one and your workspace
is never touched.

Run state lives under .relay/ in the workspace (SQLite for the audit log,
JSON for stage outputs).`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
}
