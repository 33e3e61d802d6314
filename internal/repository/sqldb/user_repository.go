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

const userColumns = `id, username, email, full_name, password_hash, email_verification_status, email_verification_token, password_reset_token, created_at, updated_at`

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) repository.UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) (int64, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.EmailVerificationStatus == "" {
		user.EmailVerificationStatus = domain.EmailVerificationNone
	}

	var id int64
	err := r.db.queryRow(ctx, `
INSERT INTO users (username, email, full_name, password_hash, email_verification_status, email_verification_token, password_reset_token, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`,
		user.Username,
		nullString(user.Email),
		nullString(user.FullName),
		user.PasswordHash,
		string(user.EmailVerificationStatus),
		nullString(user.EmailVerificationToken),
		nullString(user.PasswordResetToken),
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if dup := asDuplicate(err, "username", "email"); dup != err {
			return 0, dup
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}

	user.ID = id
	return id, nil
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()
	res, err := r.db.exec(ctx, `
UPDATE users
SET email=?, full_name=?, password_hash=?, email_verification_status=?, email_verification_token=?, password_reset_token=?, updated_at=?
WHERE id=?`,
		nullString(user.Email),
		nullString(user.FullName),
		user.PasswordHash,
		string(user.EmailVerificationStatus),
		nullString(user.EmailVerificationToken),
		nullString(user.PasswordResetToken),
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if dup := asDuplicate(err, "email"); dup != err {
			return dup
		}
		return fmt.Errorf("update user: %w", err)
	}
	changed, err := rowsChanged(res, "user update")
	if err != nil {
		return err
	}
	if !changed {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.getBy(ctx, "id", id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getBy(ctx, "username", username)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getBy(ctx, "email", email)
}

func (r *UserRepository) GetByVerificationToken(ctx context.Context, token string) (*domain.User, error) {
	return r.getBy(ctx, "email_verification_token", token)
}

func (r *UserRepository) GetByPasswordResetToken(ctx context.Context, token string) (*domain.User, error) {
	return r.getBy(ctx, "password_reset_token", token)
}

// getBy looks a user up by one column; column is never user supplied.
func (r *UserRepository) getBy(ctx context.Context, column string, value any) (*domain.User, error) {
	row := r.db.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)
	return scanUser(row)
}

func scanUser(row scanner) (*domain.User, error) {
	var (
		user              domain.User
		email             sql.NullString
		fullName          sql.NullString
		verification      string
		verificationToken sql.NullString
		resetToken        sql.NullString
	)
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&email,
		&fullName,
		&user.PasswordHash,
		&verification,
		&verificationToken,
		&resetToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	user.Email = stringPtr(email)
	user.FullName = stringPtr(fullName)
	user.EmailVerificationStatus = domain.EmailVerificationStatus(verification)
	user.EmailVerificationToken = stringPtr(verificationToken)
	user.PasswordResetToken = stringPtr(resetToken)
	return &user, nil
}
