// Package snapshots provides the snapshots command for building monthly
// activity snapshots and reading retention from them.
package snapshots

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentstation/syncledger/internal/cmd/application"
	"github.com/agentstation/syncledger/internal/cmd/cmdutil"
	"github.com/agentstation/syncledger/internal/cmd/table"
	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/snapshots"
)

// NewCommand creates the snapshots command using app context.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshots",
		Aliases: []string{"snapshot"},
		GroupID: "core",
		Short:   "Build and query monthly activity snapshots",
		Long: `Snapshots hold one row per user, platform and calendar month with that
month's activity and engagement score. Rebuilding a month overwrites its
facts; there is never more than one row per user, platform and month.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newBuildCommand(app),
		newMonthlyCommand(app),
		newListCommand(app),
		newRetentionCommand(app),
		newCleanupCommand(app),
	)
	return cmd
}

func newBuildCommand(app application.Application) *cobra.Command {
	var month, platform, file, source, runID string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Upsert one platform's snapshots for a month from a facts file",
		Long: `Build reads a list of activity facts and upserts one snapshot per user
in a single batch. Invalid items are reported and skipped.

  - user_id: 6a1f...
    was_active: true
    had_login: true
    login_count: 3
    activity_count: 5
    progress: {completed_units: 4, total_units: 10}`,
		Example: `  syncledger snapshots build --month 2025-09 --platform hotmart --file facts.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := snapshots.ParseMonth(month)
			if err != nil {
				return err
			}
			p, err := canonical.ParsePlatform(platform)
			if err != nil {
				return errors.NewValidationError("platform", platform, err.Error())
			}
			origin, err := parseOrigin(source, runID)
			if err != nil {
				return err
			}
			facts, err := cmdutil.ReadYAMLFile[[]snapshots.Facts](file)
			if err != nil {
				return err
			}

			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			result, err := l.Snapshots().BuildBatch(cmd.Context(), m, p, facts, origin)
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, result, func() table.Data { return table.BatchResultToTableData(result) })
		},
	}
	cmd.Flags().StringVarP(&month, "month", "m", "", "Month as YYYY-MM")
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Platform: hotmart, curseduca, discord")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Facts file (YAML or JSON list)")
	cmd.Flags().StringVar(&source, "source", string(snapshots.SourceManual), "Recorded source: SYNC, CRON, MANUAL")
	cmd.Flags().StringVar(&runID, "run", "", "Sync run that produced the facts")
	for _, name := range []string{"month", "platform", "file"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newMonthlyCommand(app application.Application) *cobra.Command {
	var month, platform, file, source string

	cmd := &cobra.Command{
		Use:   "monthly",
		Short: "Build every platform's snapshots for a month",
		Long: `Monthly asks the activity source for each platform's active users and
builds their snapshots. With --file the activity comes from an export keyed
by platform:

  hotmart:
    - user_id: 6a1f...
      was_active: true
      login_count: 3
  discord:
    - user_id: 91c0...
      had_activity: true
      activity_count: 12`,
		Example: `  syncledger snapshots monthly --month 2025-09 --file activity.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := snapshots.ParseMonth(month)
			if err != nil {
				return err
			}
			var p canonical.Platform
			if platform != "" {
				if p, err = canonical.ParsePlatform(platform); err != nil {
					return errors.NewValidationError("platform", platform, err.Error())
				}
			}
			origin, err := parseOrigin(source, "")
			if err != nil {
				return err
			}

			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			builder := l.Snapshots()
			if file != "" {
				activity, err := cmdutil.ReadYAMLFile[map[canonical.Platform][]snapshots.Facts](file)
				if err != nil {
					return err
				}
				src, err := snapshots.NewStaticSource(activity)
				if err != nil {
					return err
				}
				builder = l.SnapshotsFrom(src)
			}

			result, err := builder.BuildMonthlySnapshots(cmd.Context(), m, p, origin)
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, result, func() table.Data { return table.MonthlyResultToTableData(result) })
		},
	}
	cmd.Flags().StringVarP(&month, "month", "m", "", "Month as YYYY-MM")
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Only this platform")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Activity export keyed by platform")
	cmd.Flags().StringVar(&source, "source", string(snapshots.SourceCron), "Recorded source: SYNC, CRON, MANUAL")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func newListCommand(app application.Application) *cobra.Command {
	var platform string

	cmd := &cobra.Command{
		Use:   "list <user-id>",
		Short: "List a user's snapshots, oldest month first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p canonical.Platform
			if platform != "" {
				var err error
				if p, err = canonical.ParsePlatform(platform); err != nil {
					return errors.NewValidationError("platform", platform, err.Error())
				}
			}
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			list, err := l.Snapshots().ListForUser(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, list, func() table.Data { return table.SnapshotsToTableData(list) })
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Only this platform")
	return cmd
}

func newRetentionCommand(app application.Application) *cobra.Command {
	var cohort, platform string
	var offsets []int

	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Cohort retention at month offsets",
		Long: `Retention takes every user with a snapshot in the cohort month and
reports, for each offset, how many of them were active that many months
later.`,
		Example: `  syncledger snapshots retention --cohort 2025-01 --platform hotmart --offsets 1,3,6`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := snapshots.ParseMonth(cohort)
			if err != nil {
				return err
			}
			p, err := canonical.ParsePlatform(platform)
			if err != nil {
				return errors.NewValidationError("platform", platform, err.Error())
			}
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			points, err := l.Snapshots().CohortRetention(cmd.Context(), m, p, offsets...)
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, points, func() table.Data { return table.RetentionToTableData(points) })
		},
	}
	cmd.Flags().StringVarP(&cohort, "cohort", "c", "", "Cohort month as YYYY-MM")
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Platform: hotmart, curseduca, discord")
	cmd.Flags().IntSliceVar(&offsets, "offsets", []int{1, 3, 6, 12}, "Month offsets to measure")
	_ = cmd.MarkFlagRequired("cohort")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

// CleanupResult is printed by cleanup.
type CleanupResult struct {
	Deleted int `json:"deleted" yaml:"deleted"`
}

func newCleanupCommand(app application.Application) *cobra.Command {
	var months int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete snapshots past the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if months < 0 {
				return errors.NewValidationError("months", months, "must not be negative")
			}
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			var n int
			if months > 0 {
				n, err = l.Snapshots().CleanupOldSnapshots(cmd.Context(), months)
			} else {
				n, err = l.CleanupOldSnapshots(cmd.Context())
			}
			if err != nil {
				return err
			}
			result := CleanupResult{Deleted: n}
			return cmdutil.Print(cmd, app, result, func() table.Data {
				return table.KeyValue([2]string{"Deleted", table.FormatNumber(n)})
			})
		},
	}
	cmd.Flags().IntVar(&months, "months", 0, "Months to keep (default from config)")
	return cmd
}

func parseOrigin(source, runID string) (snapshots.Origin, error) {
	s := snapshots.Source(strings.ToUpper(strings.TrimSpace(source)))
	if !s.IsValid() {
		return snapshots.Origin{}, errors.NewValidationError("source", source, "must be SYNC, CRON or MANUAL")
	}
	return snapshots.Origin{Source: s, SyncRunID: runID}, nil
}
