package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"mediahub/internal/domain"
	"mediahub/internal/events"
	"mediahub/internal/ratelimit"
	"mediahub/internal/repository"
	"mediahub/internal/repository/sqldb"
	"mediahub/internal/security"
	"mediahub/internal/tasks"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type testRepos struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	files    repository.FileRepository
}

func newTestRepos(t *testing.T) testRepos {
	t.Helper()
	db, err := sqldb.Open(string(sqldb.DialectSQLite), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return testRepos{
		users:    sqldb.NewUserRepository(db),
		sessions: sqldb.NewSessionRepository(db),
		files:    sqldb.NewFileRepository(db),
	}
}

func newTestLimiter(t *testing.T) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimit.NewLimiter(client), mr
}

func newTestPool(t *testing.T) tasks.Pool {
	t.Helper()
	pool := tasks.NewPool(tasks.Config{Workers: 2, QueueSize: 16, Logger: quietLogger()})
	pool.Start(context.Background())
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })
	return pool
}

type fakePublisher struct {
	mu       sync.Mutex
	uploaded []int64
	statuses []events.StatusUpdated
	failUpl  bool
}

func (p *fakePublisher) PublishFileUploaded(_ context.Context, fileID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failUpl {
		return errors.New("broker unavailable")
	}
	p.uploaded = append(p.uploaded, fileID)
	return nil
}

func (p *fakePublisher) PublishStatusUpdated(_ context.Context, ev events.StatusUpdated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, ev)
	return nil
}

func (p *fakePublisher) uploadedIDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.uploaded...)
}

func (p *fakePublisher) statusEvents() []events.StatusUpdated {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.StatusUpdated(nil), p.statuses...)
}

type fakeBlobs struct {
	mu      sync.Mutex
	gate    chan struct{}
	objects map[string][]byte
	deleted []string
	putErr  error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (b *fakeBlobs) Put(ctx context.Context, key string, body io.Reader, _ string) error {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.putErr != nil {
		return b.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *fakeBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	b.deleted = append(b.deleted, key)
	return nil
}

func (b *fakeBlobs) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func (b *fakeBlobs) deletedKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

type sentMail struct {
	to      []string
	subject string
	html    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) Send(_ context.Context, to []string, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to, subject, html})
	return nil
}

func (m *fakeMailer) messages() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

func newTestHasher() *security.PasswordHasher {
	return security.NewPasswordHasher(bcrypt.MinCost)
}

func createUser(t *testing.T, users repository.UserRepository, username string) *domain.User {
	t.Helper()
	hash, err := newTestHasher().Hash("Secr3t!!")
	require.NoError(t, err)
	user := &domain.User{Username: username, PasswordHash: hash}
	_, err = users.Create(context.Background(), user)
	require.NoError(t, err)
	return user
}

func waitForStatus(t *testing.T, files repository.FileRepository, id int64, status domain.FileStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		f, err := files.Get(context.Background(), id)
		return err == nil && f.Status == status
	}, 2*time.Second, 5*time.Millisecond, "file %d never reached %s", id, status)
}
