// Package application defines what syncledger commands need from the CLI
// application, so commands can be tested against a Mock.
//
//	func NewCommand(app application.Application) *cobra.Command {
//	    return &cobra.Command{
//	        RunE: func(cmd *cobra.Command, args []string) error {
//	            l, err := app.Ledger(cmd.Context())
//	            if err != nil {
//	                return err
//	            }
//	            // ... use l
//	            return nil
//	        },
//	    }
//	}
package application

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/agentstation/syncledger"
)

// Application provides the application interface that commands need.
// The App struct from cmd/syncledger/app implements it.
//
// Thread Safety: All methods must be safe for concurrent access.
type Application interface {
	// Ledger returns the ledger over the configured store, opening it on
	// first use.
	Ledger(ctx context.Context) (*syncledger.Ledger, error)

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// OutputFormat returns the configured output format (json, yaml, table).
	OutputFormat() string

	// Version returns the application version string.
	Version() string
}
