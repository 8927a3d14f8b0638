// Package app provides the application context and dependency management
// for the syncledger CLI: configuration, logging and a lazily opened Ledger.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/syncledger"
	"github.com/agentstation/syncledger/internal/cmd/application"
	"github.com/agentstation/syncledger/internal/store"
	"github.com/agentstation/syncledger/pkg/conflicts"
	"github.com/agentstation/syncledger/pkg/errors"
)

var _ application.Application = (*App)(nil)

// App represents the syncledger application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	config *Config
	logger *zerolog.Logger

	// Ledger instance (lazy-initialized, singleton)
	mu     sync.RWMutex
	ledger *syncledger.Ledger
}

// New creates a new App instance with the given version information.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	config, err := LoadConfig("")
	if err != nil {
		logger := NewLogger(nil)
		logger.Debug().Err(err).Msg("Configuration could not be loaded")
		return nil, errors.WrapResource("load", "config", "", err)
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// OutputFormat returns the --format value, empty when unset.
func (a *App) OutputFormat() string {
	return a.config.Format
}

// Ledger returns the ledger, opening its store on first use.
func (a *App) Ledger(ctx context.Context) (*syncledger.Ledger, error) {
	a.mu.RLock()
	if a.ledger != nil {
		l := a.ledger
		a.mu.RUnlock()
		return l, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ledger != nil {
		return a.ledger, nil
	}

	opts, err := a.buildLedgerOptions()
	if err != nil {
		return nil, err
	}
	backend, err := store.Open(ctx, a.config.StoreDSN)
	if err != nil {
		return nil, errors.WrapResource("open", "store", a.config.StoreDSN, err)
	}
	l, err := syncledger.New(backend, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, errors.WrapResource("create", "ledger", "", err)
	}

	a.logger.Debug().Str("store", a.config.StoreDSN).Msg("ledger opened")
	a.ledger = l
	return l, nil
}

// Shutdown closes the ledger's store if it was opened.
func (a *App) Shutdown(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ledger == nil {
		return nil
	}
	err := a.ledger.Close()
	a.ledger = nil
	if err != nil {
		return errors.WrapResource("close", "ledger", "", err)
	}
	return nil
}

// buildLedgerOptions constructs ledger options from the app configuration.
func (a *App) buildLedgerOptions() ([]syncledger.Option, error) {
	c := a.config
	opts := []syncledger.Option{
		syncledger.WithAutoResolve(c.AutoResolve),
		syncledger.WithPlatformMismatch(c.PlatformMismatch),
	}

	if c.RulesFile != "" {
		rs, err := conflicts.LoadRules(c.RulesFile)
		if err != nil {
			return nil, errors.NewConfigError("rules_file", err.Error(), err)
		}
		opts = append(opts, syncledger.WithRules(rs))
	}
	if c.MinConfidence != nil {
		opts = append(opts, syncledger.WithMinConfidence(*c.MinConfidence))
	}
	if c.StaleDays > 0 {
		opts = append(opts, syncledger.WithStaleConflictDays(c.StaleDays))
	}
	if c.RetentionMonths > 0 {
		opts = append(opts, syncledger.WithSnapshotRetention(c.RetentionMonths))
	}
	if c.BatchSize > 0 {
		opts = append(opts, syncledger.WithBatchSize(c.BatchSize))
	}
	return opts, nil
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		if config == nil {
			return errors.NewConfigError("app", "config is nil", nil)
		}
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithLedger sets a ready ledger (useful for testing).
func WithLedger(l *syncledger.Ledger) Option {
	return func(a *App) error {
		a.ledger = l
		return nil
	}
}
