// Package store opens the storage backend named by a DSN.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentstation/syncledger/internal/store/memory"
	"github.com/agentstation/syncledger/internal/store/sqlstore"
	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/conflicts"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/snapshots"
	"github.com/agentstation/syncledger/pkg/syncrun"
)

// Backend is every store the ledger needs, behind one connection.
type Backend interface {
	syncrun.Store
	conflicts.Store
	snapshots.Store
	canonical.Store

	// AddUsers inserts canonical users as-is, including ones sharing an
	// email. It seeds data that predates reconciliation.
	AddUsers(ctx context.Context, users ...*canonical.User) error

	Close() error
}

var (
	_ Backend = (*memory.Store)(nil)
	_ Backend = (*sqlstore.Store)(nil)
)

// Open returns the backend for dsn:
//
//	memory://                    process-local maps
//	sqlite:///var/lib/ledger.db  SQLite file (also file:path or a bare path)
//	sqlite://:memory:            private in-memory SQLite
//	postgres://user@host/db      Postgres (also postgresql://)
func Open(ctx context.Context, dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.NewValidationError("dsn", dsn, "is required")
	}
	scheme := dsnScheme(dsn)
	switch strings.ToLower(scheme) {
	case "memory", "mem":
		return memory.New(), nil
	case "", "file", "sqlite", "sqlite3":
		path := sqlitePath(dsn, scheme)
		if path == "" {
			return nil, errors.NewValidationError("dsn", dsn, "sqlite dsn needs a path")
		}
		return sqlstore.OpenSQLite(ctx, path)
	case "postgres", "postgresql":
		return sqlstore.OpenPostgres(ctx, dsn)
	default:
		return nil, errors.NewValidationError("dsn", dsn, fmt.Sprintf("unsupported store scheme %q", scheme))
	}
}

// dsnScheme returns the URL scheme of dsn, or "" for a plain path.
func dsnScheme(dsn string) string {
	scheme, _, found := strings.Cut(dsn, ":")
	if !found || scheme == "" {
		return ""
	}
	for _, r := range scheme {
		if !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9' || r == '+' || r == '-' || r == '.') {
			return ""
		}
	}
	return scheme
}

func sqlitePath(dsn, scheme string) string {
	if scheme == "" {
		return dsn
	}
	rest := dsn[len(scheme)+1:]
	if strings.HasPrefix(rest, "//") {
		rest = rest[2:]
	}
	return rest
}
