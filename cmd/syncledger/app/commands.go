package app

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/agentstation/syncledger/cmd/syncledger/cmd/conflicts"
	"github.com/agentstation/syncledger/cmd/syncledger/cmd/report"
	"github.com/agentstation/syncledger/cmd/syncledger/cmd/runs"
	"github.com/agentstation/syncledger/cmd/syncledger/cmd/snapshots"
	"github.com/agentstation/syncledger/cmd/syncledger/cmd/syncrecords"
)

// registerCommands wires every subcommand to the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	// Core commands
	rootCmd.AddCommand(a.CreateSyncCommand())
	rootCmd.AddCommand(a.CreateRunsCommand())
	rootCmd.AddCommand(a.CreateConflictsCommand())
	rootCmd.AddCommand(a.CreateSnapshotsCommand())

	// Management commands
	rootCmd.AddCommand(a.CreateReportCommand())

	// Utility commands
	rootCmd.AddCommand(a.CreateVersionCommand())
}

// CreateSyncCommand creates the sync command with app dependencies.
func (a *App) CreateSyncCommand() *cobra.Command {
	return syncrecords.NewCommand(a)
}

// CreateRunsCommand creates the runs command with app dependencies.
func (a *App) CreateRunsCommand() *cobra.Command {
	return runs.NewCommand(a)
}

// CreateConflictsCommand creates the conflicts command with app dependencies.
func (a *App) CreateConflictsCommand() *cobra.Command {
	return conflicts.NewCommand(a)
}

// CreateSnapshotsCommand creates the snapshots command with app dependencies.
func (a *App) CreateSnapshotsCommand() *cobra.Command {
	return snapshots.NewCommand(a)
}

// CreateReportCommand creates the report command with app dependencies.
func (a *App) CreateReportCommand() *cobra.Command {
	return report.NewCommand(a)
}

// CreateVersionCommand creates the version command.
func (a *App) CreateVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "syncledger version %s\n", a.version)
			fmt.Fprintf(out, "commit: %s\n", a.commit)
			fmt.Fprintf(out, "built: %s\n", a.date)
			fmt.Fprintf(out, "built by: %s\n", a.builtBy)
			fmt.Fprintf(out, "go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
