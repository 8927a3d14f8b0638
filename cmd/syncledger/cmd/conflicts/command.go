// Package conflicts provides the conflicts command for reviewing and
// resolving reconciliation conflicts.
package conflicts

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentstation/syncledger/internal/cmd/application"
	"github.com/agentstation/syncledger/internal/cmd/cmdutil"
	"github.com/agentstation/syncledger/internal/cmd/table"
	"github.com/agentstation/syncledger/pkg/conflicts"
	"github.com/agentstation/syncledger/pkg/errors"
)

// NewCommand creates the conflicts command using app context.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conflicts",
		Aliases: []string{"conflict"},
		GroupID: "core",
		Short:   "Review and resolve reconciliation conflicts",
		Long: `Conflicts are recorded by sync runs whenever an incoming record disagrees
with the canonical store. Each one is resolved exactly once: by an operator
(resolve, ignore, bulk-resolve) or by the auto-resolution rules.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newListCommand(app),
		newShowCommand(app),
		newResolveCommand(app),
		newIgnoreCommand(app),
		newBulkResolveCommand(app),
		newAutoResolveCommand(app),
		newStatsCommand(app),
		newRulesCommand(app),
	)
	return cmd
}

// listFlags holds the conflict list filters.
type listFlags struct {
	Status   string
	Severity string
	Type     string
	Email    string
	Run      string
	Critical bool
	Stale    bool
	page     *cmdutil.PageFlags
}

func (f *listFlags) filter() conflicts.Filter {
	return conflicts.Filter{
		Status:    conflicts.Status(strings.ToUpper(f.Status)),
		Severity:  conflicts.Severity(strings.ToUpper(f.Severity)),
		Type:      conflicts.Type(strings.ToUpper(f.Type)),
		Email:     f.Email,
		SyncRunID: f.Run,
		Limit:     f.page.Limit,
		Offset:    f.page.Offset,
	}
}

func newListCommand(app application.Application) *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conflicts, newest first",
		Example: `  syncledger conflicts list --status pending --severity high
  syncledger conflicts list --critical
  syncledger conflicts list --stale -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if flags.Critical && flags.Stale {
				return errors.NewValidationError("critical", true, "--critical and --stale cannot be combined")
			}
			l, err := app.Ledger(ctx)
			if err != nil {
				return err
			}

			var list []*conflicts.Conflict
			switch {
			case flags.Critical:
				list, err = l.Conflicts().ListCritical(ctx, flags.page.Limit)
			case flags.Stale:
				list, err = l.StaleConflicts(ctx, flags.page.Limit)
			default:
				list, err = l.Conflicts().List(ctx, flags.filter())
			}
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, list, func() table.Data { return table.ConflictsToTableData(list) })
		},
	}
	cmd.Flags().StringVarP(&flags.Status, "status", "s", "", "Filter by status: PENDING, RESOLVED, IGNORED, AUTO_RESOLVED")
	cmd.Flags().StringVar(&flags.Severity, "severity", "", "Filter by severity: LOW, MEDIUM, HIGH, CRITICAL")
	cmd.Flags().StringVarP(&flags.Type, "type", "t", "", "Filter by conflict type, e.g. DUPLICATE_EMAIL")
	cmd.Flags().StringVar(&flags.Email, "email", "", "Filter by email")
	cmd.Flags().StringVar(&flags.Run, "run", "", "Filter by sync run id")
	cmd.Flags().BoolVar(&flags.Critical, "critical", false, "Only pending CRITICAL conflicts")
	cmd.Flags().BoolVar(&flags.Stale, "stale", false, "Only pending conflicts older than the stale threshold")
	flags.page = cmdutil.AddPageFlags(cmd)
	return cmd
}

func newShowCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:   "show <conflict-id>",
		Short: "Show one conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			c, err := l.Conflicts().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printConflict(cmd, app, c)
		},
	}
}

func newResolveCommand(app application.Application) *cobra.Command {
	var action string
	var actor *cmdutil.ActorFlags

	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a pending conflict",
		Long: `Resolve records an operator decision on a pending conflict. The action
IGNORED moves the conflict to IGNORED; every other action to RESOLVED.
Resolving a conflict that was already resolved fails and changes nothing.`,
		Example: `  syncledger conflicts resolve 3b9e... --action KEPT_EXISTING --notes "verified with support"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := conflicts.ParseAction(strings.ToUpper(action))
			if err != nil {
				return err
			}
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			c, err := l.Conflicts().Resolve(cmd.Context(), args[0], conflicts.ResolveRequest{
				Action:  a,
				ActorID: actor.Actor,
				Notes:   actor.Notes,
			})
			if err != nil {
				return err
			}
			return printConflict(cmd, app, c)
		},
	}
	cmd.Flags().StringVarP(&action, "action", "a", "", "MERGED, KEPT_EXISTING, USED_NEW, MANUAL or IGNORED")
	_ = cmd.MarkFlagRequired("action")
	actor = cmdutil.AddActorFlags(cmd, "Resolution notes")
	return cmd
}

func newIgnoreCommand(app application.Application) *cobra.Command {
	var actor *cmdutil.ActorFlags

	cmd := &cobra.Command{
		Use:   "ignore <conflict-id>",
		Short: "Ignore a pending conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			c, err := l.Conflicts().Ignore(cmd.Context(), args[0], actor.Actor, actor.Notes)
			if err != nil {
				return err
			}
			return printConflict(cmd, app, c)
		},
	}
	actor = cmdutil.AddActorFlags(cmd, "Why the conflict is ignored")
	return cmd
}

func newBulkResolveCommand(app application.Application) *cobra.Command {
	var action string
	var actor *cmdutil.ActorFlags

	cmd := &cobra.Command{
		Use:   "bulk-resolve <conflict-id>...",
		Short: "Resolve many pending conflicts with one action",
		Long: `Bulk-resolve applies one action to every listed conflict that is still
pending. Unknown and already resolved conflicts are skipped; the command
reports how many were modified.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := conflicts.ParseAction(strings.ToUpper(action))
			if err != nil {
				return err
			}
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			n, err := l.Conflicts().BulkResolve(cmd.Context(), args, a, actor.Actor, actor.Notes)
			if err != nil {
				return err
			}
			result := BulkResult{Requested: len(args), Modified: n}
			return cmdutil.Print(cmd, app, result, func() table.Data {
				return table.KeyValue(
					[2]string{"Requested", table.FormatNumber(result.Requested)},
					[2]string{"Modified", table.FormatNumber(result.Modified)},
				)
			})
		},
	}
	cmd.Flags().StringVarP(&action, "action", "a", "", "MERGED, KEPT_EXISTING, USED_NEW, MANUAL or IGNORED")
	_ = cmd.MarkFlagRequired("action")
	actor = cmdutil.AddActorFlags(cmd, "Resolution notes")
	return cmd
}

// BulkResult is printed by bulk-resolve.
type BulkResult struct {
	Requested int `json:"requested" yaml:"requested"`
	Modified  int `json:"modified" yaml:"modified"`
}

func newAutoResolveCommand(app application.Application) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "auto-resolve [conflict-id]...",
		Short: "Apply the auto-resolution rules",
		Long: `Auto-resolve runs the rule table over the listed conflicts, or over the
oldest pending conflicts when none are listed. Eligible conflicts move to
AUTO_RESOLVED; CRITICAL conflicts are never auto-resolved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			var result conflicts.AutoResolveResult
			if len(args) > 0 {
				result, err = l.Conflicts().AutoResolve(cmd.Context(), args)
			} else {
				result, err = l.Conflicts().AutoResolvePending(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, result, func() table.Data { return table.AutoResolveToTableData(result) })
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Pending conflicts to consider when no ids are given")
	return cmd
}

func newStatsCommand(app application.Application) *cobra.Command {
	var runID, email string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count conflicts by status, severity and type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := l.Conflicts().Counts(cmd.Context(), conflicts.Filter{SyncRunID: runID, Email: email})
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, counts, func() table.Data { return table.CountsToTableData(counts) })
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Only conflicts of this sync run")
	cmd.Flags().StringVar(&email, "email", "", "Only conflicts for this email")
	return cmd
}

func newRulesCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Show the auto-resolution rule table in effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := app.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			rules := l.Conflicts().Rules()
			return cmdutil.Print(cmd, app, rules, func() table.Data { return table.RulesToTableData(rules) })
		},
	}
}

func printConflict(cmd *cobra.Command, app application.Application, c *conflicts.Conflict) error {
	return cmdutil.Print(cmd, app, c, func() table.Data { return table.ConflictToTableData(c) })
}
