package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/syncledger/pkg/constants"
	"github.com/agentstation/syncledger/pkg/errors"
)

// isolate points HOME at an empty directory and clears the variables
// LoadConfig reads.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"SYNCLEDGER_CONFIG", "SYNCLEDGER_STORE_DSN", "SYNCLEDGER_MIN_CONFIDENCE",
		"SYNCLEDGER_BATCH_SIZE", "SYNCLEDGER_AUTO_RESOLVE", "LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	return home
}

func TestLoadConfigDefaults(t *testing.T) {
	home := isolate(t)

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite://"+filepath.Join(home, ".syncledger", constants.DefaultDatabaseFile), config.StoreDSN)
	assert.Equal(t, constants.DefaultStaleConflictDays, config.StaleDays)
	assert.Equal(t, constants.DefaultSnapshotRetentionMonths, config.RetentionMonths)
	assert.Equal(t, constants.DefaultBatchSize, config.BatchSize)
	assert.Nil(t, config.MinConfidence)
	assert.False(t, config.AutoResolve)
	assert.Equal(t, "auto", config.LogFormat)
	assert.Equal(t, "stderr", config.LogOutput)
	assert.Empty(t, config.ConfigFile)
}

func TestLoadConfigEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("SYNCLEDGER_STORE_DSN", "memory://")
	t.Setenv("SYNCLEDGER_MIN_CONFIDENCE", "85")
	t.Setenv("SYNCLEDGER_BATCH_SIZE", "25")
	t.Setenv("SYNCLEDGER_AUTO_RESOLVE", "true")
	t.Setenv("LOG_LEVEL", "debug")

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "memory://", config.StoreDSN)
	require.NotNil(t, config.MinConfidence)
	assert.Equal(t, 85, *config.MinConfidence)
	assert.Equal(t, 25, config.BatchSize)
	assert.True(t, config.AutoResolve)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestLoadConfigFile(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`store_dsn: "sqlite://:memory:"
rules_file: /etc/syncledger/rules.yaml
min_confidence: 0
stale_conflict_days: 3
platform_mismatch: true
log_level: warn
`), 0o600))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, path, config.ConfigFile)
	assert.Equal(t, "sqlite://:memory:", config.StoreDSN)
	assert.Equal(t, "/etc/syncledger/rules.yaml", config.RulesFile)
	require.NotNil(t, config.MinConfidence, "an explicit zero is kept")
	assert.Equal(t, 0, *config.MinConfidence)
	assert.Equal(t, 3, config.StaleDays)
	assert.True(t, config.PlatformMismatch)
	assert.Equal(t, "warn", config.LogLevel)

	_, err = LoadConfig(filepath.Join(home, "missing.yaml"))
	var ce *errors.ConfigError
	assert.True(t, errors.As(err, &ce))
}

func TestUpdateFromFlags(t *testing.T) {
	config := &Config{Format: "yaml", LogLevel: "info", StoreDSN: "memory://"}

	config.UpdateFromFlags(true, false, true, "", "", "")
	assert.True(t, config.Verbose)
	assert.True(t, config.NoColor)
	assert.Equal(t, "yaml", config.Format, "empty flags keep configured values")
	assert.Equal(t, "memory://", config.StoreDSN)

	config.UpdateFromFlags(false, true, false, "json", "error", "postgres://db")
	assert.Equal(t, "json", config.Format)
	assert.Equal(t, "error", config.LogLevel)
	assert.Equal(t, "postgres://db", config.StoreDSN)
}
