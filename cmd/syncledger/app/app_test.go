package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/syncledger"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/logging"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

func newTestApp(t *testing.T, config *Config) *App {
	t.Helper()
	isolate(t)
	logger := logging.NewNopLogger()
	if config == nil {
		config = &Config{StoreDSN: "memory://", LogOutput: "discard"}
	}
	app, err := New("1.0.0", "abc123", "2025-09-01", "test", WithConfig(config), WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app
}

func run(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := app.createRootCommand()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNew(t *testing.T) {
	app := newTestApp(t, nil)

	assert.Equal(t, "1.0.0", app.Version())
	assert.Equal(t, "abc123", app.Commit())
	assert.Equal(t, "2025-09-01", app.Date())
	assert.Equal(t, "test", app.BuiltBy())
	assert.NotNil(t, app.Logger())
	assert.NotNil(t, app.Config())

	_, err := New("1.0.0", "", "", "", WithConfig(nil))
	assert.Error(t, err)
}

func TestLedgerSingleton(t *testing.T) {
	app := newTestApp(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ledgers := make([]*syncledger.Ledger, 8)
	for i := range ledgers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := app.Ledger(ctx)
			assert.NoError(t, err)
			ledgers[i] = l
		}(i)
	}
	wg.Wait()
	for _, l := range ledgers {
		assert.Same(t, ledgers[0], l)
	}

	require.NoError(t, app.Shutdown(ctx))
	again, err := app.Ledger(ctx)
	require.NoError(t, err)
	assert.NotSame(t, ledgers[0], again, "shutdown drops the ledger")
}

func TestLedgerOptionsFromConfig(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(`min_confidence: 90
rules:
  - type: DUPLICATE_EMAIL
    action: MERGED
    confidence: 85
    reason: same person
`), 0o600))

	minConf := 80
	app := newTestApp(t, &Config{StoreDSN: "memory://", RulesFile: rules, MinConfidence: &minConf})
	l, err := app.Ledger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 80, l.Conflicts().Rules().MinConfidence, "min_confidence overrides the rule file")
	assert.Len(t, l.Conflicts().Rules().Rules, 1)

	broken := newTestApp(t, &Config{StoreDSN: "memory://", RulesFile: filepath.Join(dir, "missing.yaml")})
	_, err = broken.Ledger(context.Background())
	var ce *errors.ConfigError
	assert.True(t, errors.As(err, &ce))

	badStore := newTestApp(t, &Config{StoreDSN: "redis://localhost"})
	_, err = badStore.Ledger(context.Background())
	assert.True(t, errors.IsValidationError(err))
}

func TestExecuteCommands(t *testing.T) {
	app := newTestApp(t, nil)

	out, err := run(t, app, "runs", "start", "discord", "-o", "json")
	require.NoError(t, err)
	var started syncrun.SyncRun
	require.NoError(t, json.Unmarshal([]byte(out), &started))
	assert.Equal(t, syncrun.TypeDiscord, started.Type)

	out, err = run(t, app, "runs", "list", "--format", "json")
	require.NoError(t, err)
	var listed []syncrun.SyncRun
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, started.ID, listed[0].ID)

	_, err = run(t, app, "runs", "show", "missing", "-o", "json")
	assert.True(t, errors.IsNotFound(err))

	out, err = run(t, app, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "syncledger version 1.0.0\n"))
}

func TestSetupCommandFlags(t *testing.T) {
	app := newTestApp(t, &Config{StoreDSN: "sqlite://does/not/matter.db", LogOutput: "discard"})

	_, err := run(t, app, "--store", "memory://", "--log-level", "error", "-o", "yaml", "runs", "list")
	require.NoError(t, err)
	assert.Equal(t, "memory://", app.Config().StoreDSN)
	assert.Equal(t, "error", app.Config().LogLevel)
	assert.Equal(t, "yaml", app.OutputFormat())
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
}
