package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFileStatusSets(t *testing.T) {
	for _, s := range []FileStatus{FileStatusPending, FileStatusQueuing, FileStatusProcessing} {
		assert.True(t, s.IsActive(), s)
		assert.False(t, s.IsFinished(), s)
	}
	for _, s := range []FileStatus{FileStatusSuccess, FileStatusFailed, FileStatusCancelled} {
		assert.False(t, s.IsActive(), s)
		assert.True(t, s.IsFinished(), s)
	}
	assert.False(t, FileStatus("unknown").Valid())
}

func TestSessionUsable(t *testing.T) {
	now := time.Now()

	assert.True(t, (&AuthSession{ExpiresAt: now.Add(time.Minute)}).Usable(now))
	assert.False(t, (&AuthSession{ExpiresAt: now}).Usable(now))
	assert.False(t, (&AuthSession{ExpiresAt: now.Add(time.Minute), Ended: true}).Usable(now))

	var missing *AuthSession
	assert.False(t, missing.Usable(now))
}

func TestVerifiedEmail(t *testing.T) {
	email := "alice@example.com"
	u := &User{Email: &email, EmailVerificationStatus: EmailVerificationVerifying}
	assert.Nil(t, u.VerifiedEmail())

	u.EmailVerificationStatus = EmailVerificationVerified
	if assert.NotNil(t, u.VerifiedEmail()) {
		assert.Equal(t, email, *u.VerifiedEmail())
	}
}

func TestFileListQueryOffset(t *testing.T) {
	assert.Equal(t, 0, FileListQuery{Page: 1, PageSize: 20}.Offset())
	assert.Equal(t, 40, FileListQuery{Page: 3, PageSize: 20}.Offset())
	assert.Equal(t, 0, FileListQuery{Page: 0, PageSize: 20}.Offset())
}
