package application

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/agentstation/syncledger"
)

// Mock provides a mock implementation of Application for testing.
// Each method can be customized by setting the corresponding function field.
// If a function field is nil, the method returns a default/zero value.
//
//	l, _ := syncledger.New(memory.New())
//	mock := &application.Mock{
//	    LedgerFunc: func(context.Context) (*syncledger.Ledger, error) { return l, nil },
//	}
//	cmd := runs.NewCommand(mock)
type Mock struct {
	LedgerFunc       func(ctx context.Context) (*syncledger.Ledger, error)
	LoggerFunc       func() *zerolog.Logger
	OutputFormatFunc func() string
	VersionFunc      func() string
}

// Ledger returns a ledger using the mock function or nil.
func (m *Mock) Ledger(ctx context.Context) (*syncledger.Ledger, error) {
	if m.LedgerFunc != nil {
		return m.LedgerFunc(ctx)
	}
	return nil, nil
}

// Logger returns a logger using the mock function or a no-op logger.
func (m *Mock) Logger() *zerolog.Logger {
	if m.LoggerFunc != nil {
		return m.LoggerFunc()
	}
	logger := zerolog.Nop()
	return &logger
}

// OutputFormat returns output format using the mock function or "json".
func (m *Mock) OutputFormat() string {
	if m.OutputFormatFunc != nil {
		return m.OutputFormatFunc()
	}
	return "json"
}

// Version returns version using the mock function or "dev".
func (m *Mock) Version() string {
	if m.VersionFunc != nil {
		return m.VersionFunc()
	}
	return "dev"
}

// Ensure Mock implements Application at compile time.
var _ Application = (*Mock)(nil)
