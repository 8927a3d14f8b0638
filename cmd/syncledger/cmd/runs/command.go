// Package runs provides the runs command for inspecting and driving sync runs.
package runs

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentstation/syncledger/internal/cmd/application"
	"github.com/agentstation/syncledger/internal/cmd/cmdutil"
	"github.com/agentstation/syncledger/internal/cmd/table"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

// NewCommand creates the runs command using app context.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "runs",
		GroupID: "core",
		Short:   "Inspect and manage sync runs",
		Long: `Runs lists sync runs and drives their lifecycle by hand.

A run starts pending, becomes running once a batch is recorded and ends
completed, failed or cancelled. Finished runs cannot change again.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newListCommand(app),
		newShowCommand(app),
		newStartCommand(app),
		newCompleteCommand(app),
		newFailCommand(app),
		newCancelCommand(app),
	)
	return cmd
}

func newListCommand(app application.Application) *cobra.Command {
	var typ, status string
	var page *cmdutil.PageFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sync runs, newest first",
		Example: `  syncledger runs list
  syncledger runs list --type hotmart --status failed -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := syncrun.Filter{Limit: page.Limit, Offset: page.Offset}
			if typ != "" {
				t, err := syncrun.ParseType(typ)
				if err != nil {
					return errors.NewValidationError("type", typ, err.Error())
				}
				f.Type = t
			}
			if status != "" {
				f.Status = syncrun.Status(strings.ToLower(status))
			}

			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			list, err := l.Runs().List(cmd.Context(), f)
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, list, func() table.Data { return table.RunsToTableData(list) })
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Filter by run type: hotmart, curseduca, discord, generic")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status: pending, running, completed, failed, cancelled")
	page = cmdutil.AddPageFlags(cmd)
	return cmd
}

func newShowCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one sync run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			run, err := l.Runs().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printRun(cmd, app, run)
		},
	}
}

func newStartCommand(app application.Application) *cobra.Command {
	var trigger, actor string

	cmd := &cobra.Command{
		Use:   "start <type>",
		Short: "Create a pending sync run",
		Long: `Start records a new pending run. Use it when records are fed by an
external process that reports progress with complete, fail or cancel.`,
		Example: `  syncledger runs start hotmart --trigger CRON`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := syncrun.ParseType(args[0])
			if err != nil {
				return errors.NewValidationError("type", args[0], err.Error())
			}
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			run, err := l.Runs().Start(cmd.Context(), typ, ParseTrigger(trigger, actor))
			if err != nil {
				return err
			}
			return printRun(cmd, app, run)
		},
	}
	AddTriggerFlags(cmd, &trigger, &actor)
	return cmd
}

func newCompleteCommand(app application.Application) *cobra.Command {
	var stats syncrun.Stats

	cmd := &cobra.Command{
		Use:   "complete <run-id>",
		Short: "Complete a run with its final counters",
		Long: `Complete finishes a pending or running run. Counters given here are
merged with the ones already recorded; the larger value wins.`,
		Example: `  syncledger runs complete 6f1c... --total 120 --added 4 --updated 9`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			run, err := l.Runs().Complete(cmd.Context(), args[0], stats, nil)
			if err != nil {
				return err
			}
			return printRun(cmd, app, run)
		},
	}
	cmd.Flags().IntVar(&stats.Total, "total", 0, "Records processed")
	cmd.Flags().IntVar(&stats.Added, "added", 0, "Users added")
	cmd.Flags().IntVar(&stats.Updated, "updated", 0, "Users updated")
	cmd.Flags().IntVar(&stats.Conflicts, "conflicts", 0, "Conflicts detected")
	cmd.Flags().IntVar(&stats.Errors, "errors", 0, "Records that failed")
	return cmd
}

func newFailCommand(app application.Application) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "fail <run-id>",
		Short: "Mark a run as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			run, err := l.Runs().Fail(cmd.Context(), args[0], message, nil)
			if err != nil {
				return err
			}
			return printRun(cmd, app, run)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Failure message added to the run's error log")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newCancelCommand(app application.Application) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a pending or running run",
		Long: `Cancel stops a run. A sync in progress notices the cancellation before
its next batch and stops without processing it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			run, err := l.Runs().Cancel(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printRun(cmd, app, run)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "cancelled by operator", "Why the run was cancelled")
	return cmd
}

// AddTriggerFlags adds --trigger and --actor to a command that starts runs.
func AddTriggerFlags(cmd *cobra.Command, trigger, actor *string) {
	cmd.Flags().StringVar(trigger, "trigger", string(syncrun.TriggerManual), "What started the run: MANUAL, CRON, WEBHOOK")
	cmd.Flags().StringVar(actor, "actor", "", "Operator or system that started the run")
}

// ParseTrigger builds a trigger from flag values. The kind is validated when
// the run is created.
func ParseTrigger(kind, actor string) syncrun.Trigger {
	return syncrun.Trigger{
		Kind:    syncrun.TriggerKind(strings.ToUpper(strings.TrimSpace(kind))),
		ActorID: actor,
	}
}

func printRun(cmd *cobra.Command, app application.Application, run *syncrun.SyncRun) error {
	return cmdutil.Print(cmd, app, run, func() table.Data { return table.RunToTableData(run) })
}
