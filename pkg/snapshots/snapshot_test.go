package snapshots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/errors"
)

func TestEngagementScore(t *testing.T) {
	tests := []struct {
		name  string
		facts Facts
		want  int
	}{
		{"login and activity", Facts{HadLogin: true, HadActivity: true, LoginCount: 3, ActivityCount: 5}, 71},
		{"nothing", Facts{}, 0},
		{"login only", Facts{HadLogin: true, LoginCount: 1}, 22},
		{"caps volume", Facts{HadLogin: true, HadActivity: true, LoginCount: 50, ActivityCount: 50}, 100},
		{"negative counts ignored", Facts{LoginCount: -4, ActivityCount: -1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EngagementScore(tt.facts))
		})
	}
}

func TestNormalizeMonth(t *testing.T) {
	sp := time.FixedZone("BRT", -3*3600)
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{time.Date(2025, 1, 17, 13, 45, 1, 99, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 1, 31, 22, 0, 0, 0, sp), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeMonth(tt.in))
	}

	m, err := ParseMonth("2025-03")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), m)
	_, err = ParseMonth("March")
	assert.True(t, errors.IsValidationError(err))
}

func TestNew(t *testing.T) {
	now := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	month := time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC)

	s, err := New("u1", canonical.PlatformCursEduca, month, Facts{
		WasActive:   true,
		HadActivity: true,
		Progress:    &Progress{CompletedUnits: 3, TotalUnits: 12},
	}, Origin{Source: SourceSync, SyncRunID: "run-1"}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), s.Month)
	assert.Equal(t, 30, s.EngagementScore)
	assert.Equal(t, 25.0, s.Progress.Percentage)
	assert.Equal(t, "run-1", s.SyncRunID)

	explicit := 250
	s, err = New("u1", canonical.PlatformCursEduca, month, Facts{EngagementScore: &explicit}, Origin{}, now)
	require.NoError(t, err)
	assert.Equal(t, 100, s.EngagementScore, "explicit scores are clamped")
	assert.Equal(t, SourceManual, s.Source)

	t.Run("wasActive is taken as supplied", func(t *testing.T) {
		s, err := New("u1", canonical.PlatformDiscord, month, Facts{HadLogin: true, WasActive: false}, Origin{}, now)
		require.NoError(t, err)
		assert.False(t, s.WasActive)
	})

	for name, call := range map[string]func() error{
		"no user":        func() error { _, err := New("", canonical.PlatformDiscord, month, Facts{}, Origin{}, now); return err },
		"bad platform":   func() error { _, err := New("u", "orkut", month, Facts{}, Origin{}, now); return err },
		"negative count": func() error { _, err := New("u", canonical.PlatformDiscord, month, Facts{LoginCount: -1}, Origin{}, now); return err },
		"bad source":     func() error { _, err := New("u", canonical.PlatformDiscord, month, Facts{}, Origin{Source: "EMAIL"}, now); return err },
		"other user":     func() error { _, err := New("u", canonical.PlatformDiscord, month, Facts{UserID: "v"}, Origin{}, now); return err },
		"zero month":     func() error { _, err := New("u", canonical.PlatformDiscord, time.Time{}, Facts{}, Origin{}, now); return err },
	} {
		assert.True(t, errors.IsValidationError(call()), name)
	}
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0.0, Rate(0, 0))
	assert.Equal(t, 0.0, Rate(5, 0))
	assert.Equal(t, 40.0, Rate(40, 100))
	assert.Equal(t, 100.0, Rate(12, 10))
}
