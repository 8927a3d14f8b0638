// Package cmdutil provides shared flags and helpers for syncledger commands.
package cmdutil

import (
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/agentstation/syncledger/internal/cmd/application"
	"github.com/agentstation/syncledger/internal/cmd/output"
	"github.com/agentstation/syncledger/internal/cmd/table"
	"github.com/agentstation/syncledger/pkg/errors"
)

// PageFlags holds paging flags for list commands.
type PageFlags struct {
	Limit  int
	Offset int
}

// AddPageFlags adds --limit and --offset to a command.
func AddPageFlags(cmd *cobra.Command) *PageFlags {
	flags := &PageFlags{}
	cmd.Flags().IntVarP(&flags.Limit, "limit", "l", 0,
		"Limit number of results (default 100, max 1000)")
	cmd.Flags().IntVar(&flags.Offset, "offset", 0,
		"Skip this many results")
	return flags
}

// ActorFlags identifies the operator behind a write.
type ActorFlags struct {
	Actor string
	Notes string
}

// AddActorFlags adds --actor and --notes to a command. The actor defaults to
// $USER.
func AddActorFlags(cmd *cobra.Command, notesUsage string) *ActorFlags {
	flags := &ActorFlags{}
	cmd.Flags().StringVar(&flags.Actor, "actor", os.Getenv("USER"),
		"Operator recorded on the change")
	cmd.Flags().StringVar(&flags.Notes, "notes", "", notesUsage)
	return flags
}

// Print writes value to the command's output in the app's format.
func Print(cmd *cobra.Command, app application.Application, value any, toTable func() table.Data) error {
	format, err := output.ParseFormat(app.OutputFormat())
	if err != nil {
		return errors.NewValidationError("format", app.OutputFormat(), err.Error())
	}
	return output.Write(cmd.OutOrStdout(), output.DetectFormat(string(format)), value, toTable)
}

// ReadYAMLFile decodes a YAML (or JSON) file into T.
func ReadYAMLFile[T any](path string) (T, error) {
	var out T
	data, err := os.ReadFile(path) //nolint:gosec // path is an operator-supplied input file
	if err != nil {
		return out, errors.WrapResource("read", "file", path, err)
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return out, errors.WrapParse("yaml", path, err)
	}
	return out, nil
}
