package sqldb

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediahub/internal/domain"
	"mediahub/internal/repository"
)

func TestUserRepositoryCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewUserRepository(db)

	email := "alice@example.com"
	user := &domain.User{Username: "alice", Email: &email, PasswordHash: "hash"}
	id, err := repo.Create(ctx, user)
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.Equal(t, domain.EmailVerificationNone, user.EmailVerificationStatus)

	byName, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)
	require.NotNil(t, byName.Email)
	assert.Equal(t, email, *byName.Email)
	assert.Nil(t, byName.FullName)

	byEmail, err := repo.GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.ID)

	_, err = repo.GetByUsername(ctx, "bob")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserRepositoryDuplicates(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewUserRepository(db)

	email := "alice@example.com"
	_, err := repo.Create(ctx, &domain.User{Username: "alice", Email: &email, PasswordHash: "h"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &domain.User{Username: "alice", PasswordHash: "h"})
	var dup *repository.DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "username", dup.Field)

	_, err = repo.Create(ctx, &domain.User{Username: "alice2", Email: &email, PasswordHash: "h"})
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "email", dup.Field)
}

func TestUserRepositoryUpdateTokens(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewUserRepository(db)
	user := createTestUser(t, db, "alice")

	token := "verify-token"
	reset := "reset-token"
	user.EmailVerificationStatus = domain.EmailVerificationVerifying
	user.EmailVerificationToken = &token
	user.PasswordResetToken = &reset
	require.NoError(t, repo.Update(ctx, user))

	got, err := repo.GetByVerificationToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, domain.EmailVerificationVerifying, got.EmailVerificationStatus)

	got, err = repo.GetByPasswordResetToken(ctx, reset)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	err = repo.Update(ctx, &domain.User{ID: 9999, Username: "ghost"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserRepositoryPostgresDuplicate(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer sqlDB.Close()

	repo := NewUserRepository(Wrap(sqlDB, DialectPostgres))

	mock.ExpectQuery(regexp.QuoteMeta(`VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_users_email", Message: "duplicate key value violates unique constraint"})

	_, err = repo.Create(context.Background(), &domain.User{Username: "alice", PasswordHash: "h"})
	var dup *repository.DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "email", dup.Field)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryPostgresOtherError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer sqlDB.Close()

	repo := NewUserRepository(Wrap(sqlDB, DialectPostgres))
	mock.ExpectQuery(`INSERT INTO users`).WillReturnError(errors.New("db down"))

	_, err = repo.Create(context.Background(), &domain.User{Username: "alice", PasswordHash: "h"})
	require.Error(t, err)
	var dup *repository.DuplicateError
	assert.False(t, errors.As(err, &dup))
	assert.Contains(t, err.Error(), "insert user: db down")
}
