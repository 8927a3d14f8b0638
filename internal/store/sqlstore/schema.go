package sqlstore

import "strings"

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	trigger_kind TEXT NOT NULL,
	trigger_actor TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	started_at BIGINT NOT NULL,
	completed_at BIGINT,
	stats_total INTEGER NOT NULL DEFAULT 0,
	stats_added INTEGER NOT NULL DEFAULT 0,
	stats_updated INTEGER NOT NULL DEFAULT 0,
	stats_conflicts INTEGER NOT NULL DEFAULT 0,
	stats_errors INTEGER NOT NULL DEFAULT 0,
	duration_seconds {{float}},
	records_per_second {{float}},
	avg_ms_per_record {{float}},
	cancel_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sync_runs_type_started ON sync_runs (type, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_sync_runs_status_started ON sync_runs (status, started_at DESC);

CREATE TABLE IF NOT EXISTS sync_run_conflicts (
	run_id TEXT NOT NULL,
	conflict_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (run_id, conflict_id)
);

CREATE TABLE IF NOT EXISTS sync_run_errors (
	run_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	occurred_at BIGINT NOT NULL,
	message TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS conflicts (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	sync_run_id TEXT NOT NULL,
	detected_at BIGINT NOT NULL,
	conflict_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	field TEXT NOT NULL DEFAULT '',
	existing_value TEXT,
	new_value TEXT,
	platform TEXT NOT NULL DEFAULT '',
	context TEXT,
	suggested_action TEXT,
	suggested_reason TEXT,
	suggested_confidence INTEGER,
	status TEXT NOT NULL,
	resolution_action TEXT,
	resolved_by TEXT,
	resolved_at BIGINT,
	resolution_notes TEXT,
	applied_changes TEXT
);
CREATE INDEX IF NOT EXISTS idx_conflicts_status_severity ON conflicts (status, severity, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_conflicts_email_type ON conflicts (email, conflict_type);
CREATE INDEX IF NOT EXISTS idx_conflicts_run ON conflicts (sync_run_id, detected_at DESC);

CREATE TABLE IF NOT EXISTS activity_snapshots (
	user_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	snapshot_month BIGINT NOT NULL,
	was_active {{bool}} NOT NULL,
	had_login {{bool}} NOT NULL,
	had_activity {{bool}} NOT NULL,
	login_count INTEGER NOT NULL,
	activity_count INTEGER NOT NULL,
	engagement_score INTEGER NOT NULL,
	progress_completed INTEGER,
	progress_total INTEGER,
	progress_percentage {{float}},
	source TEXT NOT NULL,
	sync_run_id TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	revision INTEGER NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_key ON activity_snapshots (user_id, platform, snapshot_month);
CREATE INDEX IF NOT EXISTS idx_snapshots_cohort ON activity_snapshots (platform, snapshot_month, was_active);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	class_id TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users (email, created_at);

CREATE TABLE IF NOT EXISTS user_identities (
	user_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	platform_id TEXT NOT NULL,
	PRIMARY KEY (user_id, platform)
);
`

// schemaStatements returns the DDL for d, one statement per element.
func schemaStatements(d dialect) []string {
	ddl := strings.NewReplacer("{{bool}}", d.boolType, "{{float}}", d.floatType).Replace(schemaTemplate)
	var out []string
	for _, stmt := range strings.Split(ddl, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
