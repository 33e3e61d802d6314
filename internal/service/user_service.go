package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mediahub/internal/apperr"
	"mediahub/internal/domain"
	"mediahub/internal/mail"
	"mediahub/internal/repository"
	"mediahub/internal/tasks"
)

const (
	minPasswordLength = 8
	// bcrypt only hashes the first 72 bytes.
	maxPasswordLength = 72
)

// PasswordHasher hashes and checks user passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

type RegisterInput struct {
	Username string
	Password string
	Email    *string
	FullName *string
}

// UpdateInput carries optional profile changes; nil fields are left alone.
type UpdateInput struct {
	Email    *string
	FullName *string
	Password *string
}

// UserService describes user lifecycle operations.
type UserService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	// Authenticate returns nil without an error when the credentials do
	// not match.
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User, in UpdateInput) (*domain.User, error)
	SendVerificationEmail(ctx context.Context, user *domain.User) error
	VerifyEmail(ctx context.Context, token string) (*domain.User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) (*domain.User, error)
}

type UserServiceConfig struct {
	FrontendURL string
	Logger      *logrus.Logger
}

type userService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	hasher   PasswordHasher
	mailer   mail.Sender
	pool     tasks.Pool
	cfg      UserServiceConfig
}

func NewUserService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	hasher PasswordHasher,
	mailer mail.Sender,
	pool tasks.Pool,
	cfg UserServiceConfig,
) UserService {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return &userService{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		mailer:   mailer,
		pool:     pool,
		cfg:      cfg,
	}
}

func (s *userService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, apperr.Invalid("Username is required")
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:                username,
		Email:                   trimmedOrNil(in.Email),
		FullName:                trimmedOrNil(in.FullName),
		PasswordHash:            hash,
		EmailVerificationStatus: domain.EmailVerificationNone,
	}
	if _, err := s.users.Create(ctx, user); err != nil {
		return nil, duplicateToConflict(err)
	}
	return user, nil
}

func (s *userService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, nil
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, nil
	}
	return user, nil
}

func (s *userService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	return user, err
}

func (s *userService) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	return user, err
}

func (s *userService) Update(ctx context.Context, user *domain.User, in UpdateInput) (*domain.User, error) {
	updated := *user

	if in.Email != nil {
		email := trimmedOrNil(in.Email)
		if !sameString(email, user.Email) {
			updated.Email = email
			updated.EmailVerificationStatus = domain.EmailVerificationNone
			updated.EmailVerificationToken = nil
		}
	}
	if in.FullName != nil {
		updated.FullName = trimmedOrNil(in.FullName)
	}
	if in.Password != nil {
		if err := validatePassword(*in.Password); err != nil {
			return nil, err
		}
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, err
		}
		updated.PasswordHash = hash
	}

	if err := s.users.Update(ctx, &updated); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, duplicateToConflict(err)
	}
	return &updated, nil
}

func (s *userService) SendVerificationEmail(ctx context.Context, user *domain.User) error {
	if user.Email == nil {
		return apperr.Invalid("No email to verify")
	}
	if user.EmailVerificationStatus == domain.EmailVerificationVerified {
		return apperr.InvalidState("Email is already verified")
	}

	token := uuid.NewString()
	user.EmailVerificationStatus = domain.EmailVerificationVerifying
	user.EmailVerificationToken = &token
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("store verification token: %w", err)
	}

	link := s.link("/verify-email", token)
	s.sendInBackground(*user.Email, "Verify your email",
		fmt.Sprintf(`<p>Click <a href="%s">here</a> to verify your email.</p>`, html.EscapeString(link)))
	return nil
}

func (s *userService) VerifyEmail(ctx context.Context, token string) (*domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.NotFound("Invalid verification token")
	}
	user, err := s.users.GetByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("Invalid verification token")
		}
		return nil, err
	}

	user.EmailVerificationStatus = domain.EmailVerificationVerified
	user.EmailVerificationToken = nil
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("mark email verified: %w", err)
	}
	return user, nil
}

// RequestPasswordReset mails a reset link to a verified address and is
// silent about addresses it does not know.
func (s *userService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if user.EmailVerificationStatus != domain.EmailVerificationVerified {
		return nil
	}

	token := uuid.NewString()
	user.PasswordResetToken = &token
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	link := s.link("/reset-password", token)
	s.sendInBackground(email, "Reset your password",
		fmt.Sprintf(`<p>Click <a href="%s">here</a> to reset your password.</p>`, html.EscapeString(link)))
	return nil
}

func (s *userService) ResetPassword(ctx context.Context, token, password string) (*domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.NotFound("Invalid reset token")
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	user, err := s.users.GetByPasswordResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("Invalid reset token")
		}
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	user.PasswordResetToken = nil
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("store new password: %w", err)
	}

	if err := s.sessions.EndAllForUser(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *userService) link(path, token string) string {
	return s.cfg.FrontendURL + path + "?token=" + url.QueryEscape(token)
}

func (s *userService) sendInBackground(to, subject, body string) {
	logger := s.cfg.Logger.WithField("email", to)
	if s.mailer == nil || s.pool == nil {
		logger.Warn("mail is not configured, skipping email")
		return
	}
	err := s.pool.Submit("send-email", func(ctx context.Context) {
		if err := s.mailer.Send(ctx, []string{to}, subject, body); err != nil {
			logger.Warnf("email was unable to send: %v", err)
			return
		}
		logger.Info("email has been sent")
	})
	if err != nil {
		logger.Warnf("schedule email: %v", err)
	}
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperr.Invalid(fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return apperr.Invalid(fmt.Sprintf("Password must be at most %d bytes", maxPasswordLength))
	}
	return nil
}

func duplicateToConflict(err error) error {
	var dup *repository.DuplicateError
	if !errors.As(err, &dup) {
		return err
	}
	switch dup.Field {
	case "username":
		return apperr.Conflict("Username is already taken")
	case "email":
		return apperr.Conflict("Email is already taken")
	default:
		return apperr.Conflict("An integrity error occurred")
	}
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
