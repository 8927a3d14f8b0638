// Package syncrecords provides the sync command, which reconciles a file of
// platform records into the canonical store as one sync run.
package syncrecords

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstation/syncledger"
	"github.com/agentstation/syncledger/cmd/syncledger/cmd/runs"
	"github.com/agentstation/syncledger/internal/cmd/alerts"
	"github.com/agentstation/syncledger/internal/cmd/application"
	"github.com/agentstation/syncledger/internal/cmd/cmdutil"
	"github.com/agentstation/syncledger/internal/cmd/table"
	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

// Flags holds the sync command flags.
type Flags struct {
	File      string
	Trigger   string
	Actor     string
	BatchSize int
}

// NewCommand creates the sync command using app context.
func NewCommand(app application.Application) *cobra.Command {
	flags := &Flags{}

	cmd := &cobra.Command{
		Use:     "sync <type>",
		GroupID: "core",
		Short:   "Reconcile a file of platform records",
		Long: `Sync reads normalized platform records from a YAML or JSON file and
reconciles them into the canonical store as one sync run.

Every record goes through conflict detection first. Records with a blocking
conflict are held back and counted as conflicts; the rest are applied,
creating or updating canonical users.

The file is a list of records:

  - email: ana@example.com
    name: Ana Souza
    platform: hotmart
    platform_id: HM-1001
    class_id: 2025-A

For a platform run, records without a platform take the run's platform.`,
		Example: `  syncledger sync hotmart --file hotmart.yaml
  syncledger sync generic --file export.json --batch-size 500 --trigger CRON`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return Execute(cmd, app, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.File, "file", "f", "", "Records file (YAML or JSON list)")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().IntVar(&flags.BatchSize, "batch-size", 0, "Records per batch (default from config)")
	runs.AddTriggerFlags(cmd, &flags.Trigger, &flags.Actor)
	return cmd
}

// Execute runs one sync from flags and prints the finished run. A run that
// ends failed or cancelled is printed and reported as a SyncError.
func Execute(cmd *cobra.Command, app application.Application, typeArg string, flags *Flags) error {
	ctx := cmd.Context()
	logger := app.Logger()

	typ, err := syncrun.ParseType(typeArg)
	if err != nil {
		return errors.NewValidationError("type", typeArg, err.Error())
	}
	if flags.BatchSize < 0 {
		return errors.NewValidationError("batch-size", flags.BatchSize, "must not be negative")
	}

	records, err := cmdutil.ReadYAMLFile[[]canonical.Record](flags.File)
	if err != nil {
		return err
	}
	logger.Debug().
		Str("file", flags.File).
		Int("records", len(records)).
		Str("type", string(typ)).
		Msg("Loaded records")

	l, err := app.Ledger(ctx)
	if err != nil {
		return err
	}

	var src syncledger.BatchSource = l.Records(records)
	if flags.BatchSize > 0 {
		src = syncledger.NewSliceSource(records, flags.BatchSize)
	}

	run, err := l.Sync(ctx, typ, runs.ParseTrigger(flags.Trigger, flags.Actor), src)
	if err != nil {
		return err
	}
	if err := cmdutil.Print(cmd, app, run, func() table.Data { return table.RunToTableData(run) }); err != nil {
		return err
	}
	_ = alerts.Write(cmd.ErrOrStderr(), alerts.FromRun(run))

	switch run.Status {
	case syncrun.StatusFailed:
		msg := "sync failed"
		if n := len(run.ErrorLog); n > 0 {
			msg = run.ErrorLog[n-1].Message
		}
		return errors.NewSyncError(run.ID, string(run.Type), errors.New(msg))
	case syncrun.StatusCancelled:
		return errors.NewSyncError(run.ID, string(run.Type), fmt.Errorf("cancelled: %s", run.CancelReason))
	}
	return nil
}
