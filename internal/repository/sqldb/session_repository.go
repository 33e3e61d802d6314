package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mediahub/internal/domain"
	"mediahub/internal/repository"
)

type SessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) repository.SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.AuthSession) error {
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := r.db.exec(ctx, `
INSERT INTO auth_sessions (id, user_id, expires_at, token_version, ended, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.ExpiresAt.UTC(),
		session.TokenVersion,
		session.Ended,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert auth session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.AuthSession, error) {
	var s domain.AuthSession
	err := r.db.queryRow(ctx, `
SELECT id, user_id, expires_at, token_version, ended, created_at, updated_at
FROM auth_sessions
WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.TokenVersion, &s.Ended, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan auth session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepository) Rotate(ctx context.Context, id, expectedVersion, newVersion string, expiresAt time.Time) (bool, error) {
	res, err := r.db.exec(ctx, `
UPDATE auth_sessions
SET token_version=?, expires_at=?, updated_at=?
WHERE id=? AND token_version=? AND ended=?`,
		newVersion,
		expiresAt.UTC(),
		time.Now().UTC(),
		id,
		expectedVersion,
		false,
	)
	if err != nil {
		return false, fmt.Errorf("rotate auth session: %w", err)
	}
	return rowsChanged(res, "auth session rotate")
}

func (r *SessionRepository) End(ctx context.Context, id string) error {
	res, err := r.db.exec(ctx, `UPDATE auth_sessions SET ended=?, updated_at=? WHERE id=?`, true, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("end auth session: %w", err)
	}
	changed, err := rowsChanged(res, "auth session end")
	if err != nil {
		return err
	}
	if !changed {
		return repository.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) EndAllForUser(ctx context.Context, userID int64) error {
	if _, err := r.db.exec(ctx, `UPDATE auth_sessions SET ended=?, updated_at=? WHERE user_id=? AND ended=?`, true, time.Now().UTC(), userID, false); err != nil {
		return fmt.Errorf("end user auth sessions: %w", err)
	}
	return nil
}
