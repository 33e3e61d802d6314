package domain

import "time"

type EmailVerificationStatus string

const (
	EmailVerificationNone      EmailVerificationStatus = "none"
	EmailVerificationVerifying EmailVerificationStatus = "verifying"
	EmailVerificationVerified  EmailVerificationStatus = "verified"
)

// User represents an authenticated user of the system.
type User struct {
	ID                      int64
	Username                string
	Email                   *string
	FullName                *string
	PasswordHash            string
	EmailVerificationStatus EmailVerificationStatus
	EmailVerificationToken  *string
	PasswordResetToken      *string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// VerifiedEmail returns the user's email if it has been verified.
func (u *User) VerifiedEmail() *string {
	if u == nil || u.Email == nil || u.EmailVerificationStatus != EmailVerificationVerified {
		return nil
	}
	email := *u.Email
	return &email
}
