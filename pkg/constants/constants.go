// Package constants provides shared constants used throughout the syncledger codebase.
// This includes reconciliation thresholds, retention windows, limits and file
// permissions that should be consistent across the application.
package constants

import "time"

// Reconciliation constants
const (
	// MinAutoResolveConfidence is the lowest rule confidence that may auto-resolve a conflict
	MinAutoResolveConfidence = 70

	// SystemResolverID is the resolver identity recorded on auto-resolved conflicts
	SystemResolverID = "system:auto-resolver"

	// DefaultStaleConflictDays is the age after which a pending conflict is reported as stale
	DefaultStaleConflictDays = 7

	// DefaultSnapshotRetentionMonths is how many months of snapshots cleanup keeps
	DefaultSnapshotRetentionMonths = 18

	// DefaultBatchSize is the number of records fed to a sync run per batch
	DefaultBatchSize = 100
)

// Scoring constants for the engagement score
const (
	// LoginPresencePoints are awarded when the user logged in during the month
	LoginPresencePoints = 20

	// ActivityPresencePoints are awarded when the user had any activity during the month
	ActivityPresencePoints = 30

	// PointsPerLogin is multiplied by the login count, capped at MaxLoginPoints
	PointsPerLogin = 2

	// MaxLoginPoints caps the login volume component
	MaxLoginPoints = 20

	// PointsPerActivity is multiplied by the activity count, capped at MaxActivityPoints
	PointsPerActivity = 3

	// MaxActivityPoints caps the activity volume component
	MaxActivityPoints = 30

	// MaxScore is the upper bound of engagement scores, confidences and percentages
	MaxScore = 100
)

// Limit constants define various limits and capacities
const (
	// DefaultPageSize is the default number of items per page for paginated results
	DefaultPageSize = 100

	// MaxPageSize is the maximum allowed page size for paginated results
	MaxPageSize = 1000

	// DefaultReportDays is the default window for dashboard queries
	DefaultReportDays = 30
)

// Timeout constants
const (
	// StoreOperationTimeout bounds a single store round trip opened without a caller deadline
	StoreOperationTimeout = 5 * time.Second

	// SQLiteBusyTimeout is how long SQLite waits on a locked database
	SQLiteBusyTimeout = 5 * time.Second
)

// File permission constants define standard Unix file permissions
const (
	// DirPermissions is the default permission for created directories (rwxr-xr-x)
	DirPermissions = 0755

	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644
)

// Path constants
const (
	// DefaultDataPath is the default directory for the local SQLite database
	DefaultDataPath = "~/.syncledger"

	// DefaultDatabaseFile is the file name of the local SQLite database
	DefaultDatabaseFile = "syncledger.db"
)

// Format constants
const (
	// MonthFormat is the layout used to print and parse snapshot months
	MonthFormat = "2006-01"

	// TimeFormatHuman is a human-readable time format
	TimeFormatHuman = "Jan 2, 2006 at 3:04pm MST"
)
