package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"mediahub/internal/apperr"
	"mediahub/internal/domain"
	"mediahub/internal/repository"
	"mediahub/internal/security"
)

// TokenCodec signs and verifies session tokens.
type TokenCodec interface {
	Issue(claims security.Claims, expiresAt time.Time) (string, error)
	Decode(token string) (*security.Claims, error)
}

// TokenPair is issued at login and on every refresh. The refresh token is
// only ever handed to the client as a cookie expiring at RefreshExpiresAt.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// SessionManager owns the server-side sessions behind refresh tokens.
type SessionManager interface {
	CreateSession(ctx context.Context, user *domain.User, expiresAt time.Time) (*domain.AuthSession, error)
	// Login authenticates the user, opens a session and issues tokens.
	Login(ctx context.Context, username, password string) (*domain.User, *TokenPair, error)
	ResolveAccess(ctx context.Context, token string) (*domain.User, *domain.AuthSession, error)
	ResolveRefresh(ctx context.Context, token string) (*domain.User, *domain.AuthSession, error)
	// Refresh resolves a refresh token, rotates its session and issues a
	// new pair. Of several concurrent refreshes with the same token exactly
	// one succeeds.
	Refresh(ctx context.Context, token string) (*domain.User, *TokenPair, error)
	Rotate(ctx context.Context, session *domain.AuthSession, expiresAt time.Time) error
	End(ctx context.Context, session *domain.AuthSession) error
	IssueTokens(user *domain.User, session *domain.AuthSession) (*TokenPair, error)
}

type SessionConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type sessionManager struct {
	users    UserService
	userRepo repository.UserRepository
	sessions repository.SessionRepository
	tokens   TokenCodec
	cfg      SessionConfig
	now      func() time.Time
}

func NewSessionManager(users UserService, userRepo repository.UserRepository, sessions repository.SessionRepository, tokens TokenCodec, cfg SessionConfig) SessionManager {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 30 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 3 * 24 * time.Hour
	}
	return &sessionManager{
		users:    users,
		userRepo: userRepo,
		sessions: sessions,
		tokens:   tokens,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (m *sessionManager) CreateSession(ctx context.Context, user *domain.User, expiresAt time.Time) (*domain.AuthSession, error) {
	session := &domain.AuthSession{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		ExpiresAt:    expiresAt.UTC(),
		TokenVersion: uuid.NewString(),
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (m *sessionManager) Login(ctx context.Context, username, password string) (*domain.User, *TokenPair, error) {
	user, err := m.users.Authenticate(ctx, username, password)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, apperr.New(apperr.KindUnauthorized, "Incorrect username or password")
	}

	session, err := m.CreateSession(ctx, user, m.now().Add(m.cfg.RefreshTTL))
	if err != nil {
		return nil, nil, err
	}
	pair, err := m.IssueTokens(user, session)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

func (m *sessionManager) ResolveAccess(ctx context.Context, token string) (*domain.User, *domain.AuthSession, error) {
	user, session, claims, err := m.resolve(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	// refresh tokens carry a version; access tokens never do
	if claims.TokenVersion != "" {
		return nil, nil, apperr.ErrUnauthorized
	}
	return user, session, nil
}

func (m *sessionManager) ResolveRefresh(ctx context.Context, token string) (*domain.User, *domain.AuthSession, error) {
	user, session, claims, err := m.resolve(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if claims.TokenVersion == "" || claims.TokenVersion != session.TokenVersion {
		return nil, nil, apperr.ErrUnauthorized
	}
	return user, session, nil
}

// resolve checks the token and then the session it names. Session state is
// read on every call so ended sessions are rejected immediately.
func (m *sessionManager) resolve(ctx context.Context, token string) (*domain.User, *domain.AuthSession, *security.Claims, error) {
	claims, err := m.tokens.Decode(token)
	if err != nil {
		return nil, nil, nil, apperr.ErrUnauthorized
	}

	user, err := m.userRepo.GetByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, nil, apperr.ErrUnauthorized
		}
		return nil, nil, nil, err
	}

	session, err := m.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, nil, apperr.ErrUnauthorized
		}
		return nil, nil, nil, err
	}
	if session.UserID != user.ID || !session.Usable(m.now()) {
		return nil, nil, nil, apperr.ErrUnauthorized
	}

	return user, session, claims, nil
}

func (m *sessionManager) Refresh(ctx context.Context, token string) (*domain.User, *TokenPair, error) {
	user, session, err := m.ResolveRefresh(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if err := m.Rotate(ctx, session, m.now().Add(m.cfg.RefreshTTL)); err != nil {
		return nil, nil, err
	}
	pair, err := m.IssueTokens(user, session)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Rotate swaps in a new token version, provided nobody rotated the session
// since it was read. On success session carries the new version and expiry.
func (m *sessionManager) Rotate(ctx context.Context, session *domain.AuthSession, expiresAt time.Time) error {
	version := uuid.NewString()
	expiresAt = expiresAt.UTC()

	ok, err := m.sessions.Rotate(ctx, session.ID, session.TokenVersion, version, expiresAt)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrUnauthorized
	}

	session.TokenVersion = version
	session.ExpiresAt = expiresAt
	return nil
}

func (m *sessionManager) End(ctx context.Context, session *domain.AuthSession) error {
	if err := m.sessions.End(ctx, session.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.ErrUnauthorized
		}
		return err
	}
	session.Ended = true
	return nil
}

func (m *sessionManager) IssueTokens(user *domain.User, session *domain.AuthSession) (*TokenPair, error) {
	now := m.now()

	access, err := m.tokens.Issue(security.Claims{
		SessionID:        session.ID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.Username},
	}, now.Add(m.cfg.AccessTTL))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	// refresh tokens carry no exp; the session expiry bounds them
	refresh, err := m.tokens.Issue(security.Claims{
		SessionID:        session.ID,
		TokenVersion:     session.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.Username},
	}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		RefreshExpiresAt: session.ExpiresAt,
	}, nil
}
