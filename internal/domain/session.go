package domain

import "time"

// AuthSession backs one refresh-token lineage.
type AuthSession struct {
	ID           string
	UserID       int64
	ExpiresAt    time.Time
	TokenVersion string
	Ended        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Usable reports whether the session may still authenticate requests at now.
func (s *AuthSession) Usable(now time.Time) bool {
	return s != nil && !s.Ended && now.Before(s.ExpiresAt)
}
