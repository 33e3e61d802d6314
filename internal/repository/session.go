package repository

import (
	"context"
	"time"

	"mediahub/internal/domain"
)

// SessionRepository persists AuthSession rows.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.AuthSession) error
	Get(ctx context.Context, id string) (*domain.AuthSession, error)
	// Rotate swaps the token version and expiry only if the stored version
	// still equals expectedVersion. It reports whether the swap happened.
	Rotate(ctx context.Context, id, expectedVersion, newVersion string, expiresAt time.Time) (bool, error)
	End(ctx context.Context, id string) error
	EndAllForUser(ctx context.Context, userID int64) error
}
