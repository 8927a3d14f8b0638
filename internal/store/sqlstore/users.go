package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentstation/syncledger/pkg/canonical"
	"github.com/agentstation/syncledger/pkg/errors"
)

// CountByEmail returns how many users share email.
func (s *Store) CountByEmail(ctx context.Context, email string) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var n int
	err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM users WHERE email = ?`, canonical.NormalizeEmail(email)).Scan(&n)
	return n, errors.WrapStore("query", "users", err)
}

// FindByEmail returns the oldest user with email, or nil.
func (s *Store) FindByEmail(ctx context.Context, email string) (*canonical.User, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.findByEmail(ctx, s.db, canonical.NormalizeEmail(email))
}

func (s *Store) findByEmail(ctx context.Context, q queryer, email string) (*canonical.User, error) {
	var (
		u                  canonical.User
		created, updatedAt int64
	)
	err := s.queryRow(ctx, q, `SELECT id, email, name, class_id, created_at, updated_at FROM users
		WHERE email = ? ORDER BY created_at, id LIMIT 1`, email).
		Scan(&u.ID, &u.Email, &u.Name, &u.ClassID, &created, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapStore("query", "users", err)
	}
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updatedAt)

	rows, err := s.query(ctx, q, `SELECT platform, platform_id FROM user_identities WHERE user_id = ?`, u.ID)
	if err != nil {
		return nil, errors.WrapStore("query", "user_identities", err)
	}
	u.PlatformIDs = make(map[canonical.Platform]string)
	for rows.Next() {
		var platform, id string
		if err := rows.Scan(&platform, &id); err != nil {
			_ = rows.Close()
			return nil, errors.WrapStore("query", "user_identities", err)
		}
		u.PlatformIDs[canonical.Platform(platform)] = id
	}
	if err := closeRows(rows); err != nil {
		return nil, errors.WrapStore("query", "user_identities", err)
	}
	return &u, nil
}

// Apply creates or updates the oldest user with rec's email.
func (s *Store) Apply(ctx context.Context, rec canonical.Record, now time.Time, newID func() string) (*canonical.User, canonical.Outcome, error) {
	if err := rec.Validate(); err != nil {
		return nil, canonical.Unchanged, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var (
		user    *canonical.User
		outcome = canonical.Unchanged
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		u, err := s.findByEmail(ctx, tx, canonical.NormalizeEmail(rec.Email))
		if err != nil {
			return err
		}
		if u == nil {
			user, outcome = canonical.NewUser(rec, now, newID), canonical.Added
			return s.insertUser(ctx, tx, user)
		}
		user = u
		if !canonical.Merge(u, rec, now) {
			return nil
		}
		outcome = canonical.Updated
		if _, err := s.exec(ctx, tx, `UPDATE users SET name = ?, class_id = ?, updated_at = ? WHERE id = ?`,
			u.Name, u.ClassID, millis(u.UpdatedAt), u.ID); err != nil {
			return errors.WrapStore("update", "users", err)
		}
		return s.writeIdentities(ctx, tx, u)
	})
	if err != nil {
		return nil, canonical.Unchanged, err
	}
	return user, outcome, nil
}

// AddUsers inserts users as-is, including ones sharing an email. It seeds
// legacy data that predates reconciliation.
func (s *Store) AddUsers(ctx context.Context, users ...*canonical.User) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, u := range users {
			if err := s.insertUser(ctx, tx, u); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insertUser(ctx context.Context, q queryer, u *canonical.User) error {
	_, err := s.exec(ctx, q, `INSERT INTO users (id, email, name, class_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, canonical.NormalizeEmail(u.Email), u.Name, u.ClassID, millis(u.CreatedAt), millis(u.UpdatedAt))
	if err != nil {
		return errors.WrapStore("insert", "users", err)
	}
	return s.writeIdentities(ctx, q, u)
}

func (s *Store) writeIdentities(ctx context.Context, q queryer, u *canonical.User) error {
	for platform, id := range u.PlatformIDs {
		_, err := s.exec(ctx, q, `INSERT INTO user_identities (user_id, platform, platform_id) VALUES (?, ?, ?)
			ON CONFLICT (user_id, platform) DO UPDATE SET platform_id = excluded.platform_id`,
			u.ID, string(platform), id)
		if err != nil {
			return errors.WrapStore("upsert", "user_identities", err)
		}
	}
	return nil
}
