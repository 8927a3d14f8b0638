// Package report provides the report command for operational dashboards.
package report

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstation/syncledger/internal/cmd/alerts"
	"github.com/agentstation/syncledger/internal/cmd/application"
	"github.com/agentstation/syncledger/internal/cmd/cmdutil"
	"github.com/agentstation/syncledger/internal/cmd/table"
	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/constants"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/snapshots"
)

// NewCommand creates the report command using app context.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "report",
		GroupID: "management",
		Short:   "Operational reports over runs, conflicts and snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newDashboardCommand(app), newEngagementCommand(app))
	return cmd
}

func newDashboardCommand(app application.Application) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Run success, throughput, conflicts, engagement and alerts",
		Example: `  syncledger report dashboard
  syncledger report dashboard --days 7 -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 0 {
				return errors.NewValidationError("days", days, "must not be negative")
			}
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			d, err := l.Reports().Dashboard(cmd.Context(), days)
			if err != nil {
				return err
			}
			if err := cmdutil.Print(cmd, app, d, func() table.Data { return table.DashboardToTableData(d) }); err != nil {
				return err
			}
			return alerts.Write(cmd.ErrOrStderr(), alerts.FromDashboard(d)...)
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", constants.DefaultReportDays, "Days covered by the report")
	return cmd
}

func newEngagementCommand(app application.Application) *cobra.Command {
	var platform, from, to string

	cmd := &cobra.Command{
		Use:     "engagement",
		Short:   "Monthly engagement of one platform",
		Example: `  syncledger report engagement --platform discord --from 2025-01 --to 2025-06`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := canonical.ParsePlatform(platform)
			if err != nil {
				return errors.NewValidationError("platform", platform, err.Error())
			}
			start, err := snapshots.ParseMonth(from)
			if err != nil {
				return err
			}
			end, err := snapshots.ParseMonth(to)
			if err != nil {
				return err
			}

			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			months, err := l.Reports().Engagement(cmd.Context(), p, start, end)
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, months, func() table.Data { return engagementTable(months) })
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Platform: hotmart, curseduca, discord")
	cmd.Flags().StringVar(&from, "from", "", "First month as YYYY-MM")
	cmd.Flags().StringVar(&to, "to", "", "Last month as YYYY-MM")
	for _, name := range []string{"platform", "from", "to"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func engagementTable(months []snapshots.MonthAggregate) table.Data {
	rows := make([][]string, 0, len(months))
	for _, m := range months {
		rows = append(rows, []string{
			table.FormatMonth(m.Month),
			table.FormatNumber(m.Users),
			table.FormatNumber(m.ActiveUsers),
			fmt.Sprintf("%.1f", m.AvgEngagement),
			table.FormatNumber(m.TotalLogins),
			table.FormatNumber(m.TotalActivities),
		})
	}
	return table.Data{
		Headers: []string{"Month", "Users", "Active", "Avg Score", "Logins", "Activities"},
		Rows:    rows,
		ColumnAlignment: []table.Align{
			table.AlignLeft, table.AlignRight, table.AlignRight, table.AlignRight, table.AlignRight, table.AlignRight,
		},
	}
}
