package snapshots

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/syncledger"
	"github.com/agentstation/syncledger/internal/cmd/application"
	"github.com/agentstation/syncledger/internal/store/memory"
	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/snapshots"
)

var now = time.Date(2025, 9, 20, 8, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*application.Mock, *syncledger.Ledger) {
	t.Helper()
	l, err := syncledger.New(memory.New(),
		syncledger.WithClock(func() time.Time { return now }),
		syncledger.WithSnapshotRetention(3))
	require.NoError(t, err)
	return &application.Mock{
		LedgerFunc: func(context.Context) (*syncledger.Ledger, error) { return l, nil },
	}, l
}

func execute(t *testing.T, app application.Application, into any, args ...string) error {
	t.Helper()
	var out bytes.Buffer
	cmd := NewCommand(app)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		return err
	}
	if into != nil {
		require.NoError(t, json.Unmarshal(out.Bytes(), into))
	}
	return nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestBuildFromFacts(t *testing.T) {
	app, l := setup(t)
	path := writeFile(t, "facts.yaml", `
- user_id: u1
  was_active: true
  had_login: true
  had_activity: true
  login_count: 3
  activity_count: 5
- user_id: u2
  login_count: -1
`)

	var result snapshots.BatchResult
	require.NoError(t, execute(t, app, &result,
		"build", "--month", "2025-09", "--platform", "hotmart", "--file", path))
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Errors)

	s, err := l.Snapshots().Get(context.Background(), "u1", canonical.PlatformHotmart, now)
	require.NoError(t, err)
	assert.Equal(t, 71, s.EngagementScore)
	assert.Equal(t, snapshots.SourceManual, s.Source)

	require.NoError(t, execute(t, app, &result,
		"build", "--month", "2025-09", "--platform", "hotmart", "--file", path, "--source", "sync"))
	assert.Equal(t, 1, result.Updated)
}

func TestBuildValidatesFlags(t *testing.T) {
	app, _ := setup(t)
	path := writeFile(t, "facts.yaml", "- user_id: u1\n")

	err := execute(t, app, nil, "build", "--month", "09/2025", "--platform", "hotmart", "--file", path)
	assert.True(t, errors.IsValidationError(err))

	err = execute(t, app, nil, "build", "--month", "2025-09", "--platform", "zoom", "--file", path)
	assert.True(t, errors.IsValidationError(err))

	err = execute(t, app, nil, "build", "--month", "2025-09", "--platform", "hotmart", "--file", path, "--source", "api")
	assert.True(t, errors.IsValidationError(err))
}

func TestMonthlyFromActivityFile(t *testing.T) {
	app, _ := setup(t)
	path := writeFile(t, "activity.yaml", `
hotmart:
  - user_id: u1
    was_active: true
  - user_id: u2
discord:
  - user_id: u1
    had_activity: true
    activity_count: 12
`)

	var result snapshots.MonthlyResult
	require.NoError(t, execute(t, app, &result, "monthly", "--month", "2025-08", "--file", path))
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Created)
	assert.Equal(t, 2, result.Platforms[canonical.PlatformHotmart].Created)

	var list []snapshots.Snapshot
	require.NoError(t, execute(t, app, &list, "list", "u1"))
	assert.Len(t, list, 2)

	err := execute(t, app, nil, "monthly", "--month", "2025-08")
	var cfg *errors.ConfigError
	assert.ErrorAs(t, err, &cfg, "no activity source without --file")
}

func TestRetentionAndCleanup(t *testing.T) {
	app, l := setup(t)
	ctx := context.Background()
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c", "d"} {
		_, _, err := l.Snapshots().BuildSnapshot(ctx, id, canonical.PlatformCursEduca, jan, snapshots.Facts{WasActive: true}, snapshots.Origin{})
		require.NoError(t, err)
	}
	for _, id := range []string{"a", "c"} {
		_, _, err := l.Snapshots().BuildSnapshot(ctx, id, canonical.PlatformCursEduca, feb, snapshots.Facts{WasActive: true}, snapshots.Origin{})
		require.NoError(t, err)
	}

	var points []snapshots.Retention
	require.NoError(t, execute(t, app, &points,
		"retention", "--cohort", "2025-01", "--platform", "curseduca", "--offsets", "1,2"))
	require.Len(t, points, 2)
	assert.Equal(t, 4, points[0].Total)
	assert.Equal(t, 2, points[0].Active)
	assert.InDelta(t, 50.0, points[0].Rate, 0.001)
	assert.Equal(t, 0, points[1].Active)

	// Retention of 3 months at September keeps June onwards.
	var cleanup CleanupResult
	require.NoError(t, execute(t, app, &cleanup, "cleanup"))
	assert.Equal(t, 6, cleanup.Deleted)

	err := execute(t, app, nil, "cleanup", "--months", "-2")
	assert.True(t, errors.IsValidationError(err))
}
