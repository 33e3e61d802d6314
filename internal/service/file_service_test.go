package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediahub/internal/apperr"
	"mediahub/internal/domain"
	"mediahub/internal/tasks"
)

type fileFixture struct {
	repos     testRepos
	blobs     *fakeBlobs
	publisher *fakePublisher
	svc       FileService
	user      *domain.User
}

func newFileFixture(t *testing.T, blobs *fakeBlobs) fileFixture {
	repos := newTestRepos(t)
	limiter, _ := newTestLimiter(t)
	publisher := &fakePublisher{}
	notifier := NewStatusNotifier(repos.users, publisher, quietLogger())
	svc := NewFileService(repos.files, limiter, blobs, publisher, notifier, newTestPool(t), FileServiceConfig{
		CreditLimit:  5,
		CreditWindow: time.Hour,
		Logger:       quietLogger(),
	})
	return fileFixture{
		repos:     repos,
		blobs:     blobs,
		publisher: publisher,
		svc:       svc,
		user:      createUser(t, repos.users, "alice"),
	}
}

func textUpload(name string) UploadInput {
	return UploadInput{Filename: name, ContentType: "text/plain", Size: 10, Content: []byte("0123456789")}
}

func TestUploadReturnsBeforeBlobIsStored(t *testing.T) {
	blobs := newFakeBlobs()
	blobs.gate = make(chan struct{})
	f := newFileFixture(t, blobs)
	ctx := context.Background()

	file, err := f.svc.Upload(ctx, f.user, textUpload("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, domain.FileStatusPending, file.Status)
	assert.Equal(t, "https://cdn.example.com/"+file.ObjectPath, file.URL)

	stored, err := f.repos.files.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FileStatusPending, stored.Status)
	assert.Empty(t, f.publisher.uploadedIDs())

	close(blobs.gate)
	waitForStatus(t, f.repos.files, file.ID, domain.FileStatusQueuing)
	require.Eventually(t, func() bool { return len(f.publisher.uploadedIDs()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{file.ID}, f.publisher.uploadedIDs())

	require.Eventually(t, func() bool { return len(f.publisher.statusEvents()) == 2 }, time.Second, 5*time.Millisecond)
	statuses := f.publisher.statusEvents()
	assert.Equal(t, "pending", statuses[0].Status)
	assert.Equal(t, `File "a.txt" is waiting to be uploaded`, statuses[0].Message)
	assert.Equal(t, "queuing", statuses[1].Status)
	assert.Equal(t, `File "a.txt" is queuing`, statuses[1].Message)
	assert.Nil(t, statuses[1].Email)
}

func TestUploadCreditLimit(t *testing.T) {
	f := newFileFixture(t, newFakeBlobs())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Upload(ctx, f.user, textUpload("a.txt"))
		require.NoError(t, err)
	}

	_, err := f.svc.Upload(ctx, f.user, textUpload("b.txt"))
	assert.ErrorIs(t, err, apperr.ErrRateLimited)

	list, err := f.svc.List(ctx, f.user, domain.FileListQuery{Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 5, list.Total)
	assert.Equal(t, 5, list.Credits.Used)
	assert.Equal(t, 5, list.Credits.Limit)
	assert.NotNil(t, list.Credits.ResetAt)
}

func TestUploadFailureMarksFileFailed(t *testing.T) {
	blobs := newFakeBlobs()
	blobs.putErr = errors.New("bucket missing")
	f := newFileFixture(t, blobs)

	file, err := f.svc.Upload(context.Background(), f.user, textUpload("a.txt"))
	require.NoError(t, err)

	waitForStatus(t, f.repos.files, file.ID, domain.FileStatusFailed)
	require.Eventually(t, func() bool { return len(f.publisher.statusEvents()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, `File "a.txt" was failed to push to queue`, f.publisher.statusEvents()[1].Message)
	assert.Empty(t, f.publisher.uploadedIDs())
}

func TestUploadCancelledWhilePendingIsNotQueued(t *testing.T) {
	blobs := newFakeBlobs()
	blobs.gate = make(chan struct{})
	f := newFileFixture(t, blobs)
	ctx := context.Background()

	file, err := f.svc.Upload(ctx, f.user, textUpload("a.txt"))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, f.user, file.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FileStatusCancelled, cancelled.Status)

	close(blobs.gate)
	// the blob lands, but the file must not be queued
	require.Eventually(t, func() bool {
		blobs.mu.Lock()
		defer blobs.mu.Unlock()
		return len(blobs.objects) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	stored, err := f.repos.files.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FileStatusCancelled, stored.Status)
	assert.Empty(t, f.publisher.uploadedIDs())
}

func TestUploadQueueFullIsUpstreamFailure(t *testing.T) {
	repos := newTestRepos(t)
	limiter, _ := newTestLimiter(t)
	publisher := &fakePublisher{}
	user := createUser(t, repos.users, "alice")

	// never started, so the single slot fills up
	pool := tasks.NewPool(tasks.Config{Workers: 1, QueueSize: 1, Logger: quietLogger()})
	svc := NewFileService(repos.files, limiter, newFakeBlobs(), publisher,
		NewStatusNotifier(repos.users, publisher, quietLogger()), pool,
		FileServiceConfig{CreditLimit: 5, CreditWindow: time.Hour, Logger: quietLogger()})

	_, err := svc.Upload(context.Background(), user, textUpload("a.txt"))
	require.NoError(t, err)

	_, err = svc.Upload(context.Background(), user, textUpload("b.txt"))
	assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)
	assert.Equal(t, "Error occured while uploading file", apperr.MessageOf(err))

	files, _, err := repos.files.List(context.Background(), domain.FileListQuery{UserID: user.ID, Page: 1, PageSize: 10, SortBy: domain.FileSortName, Order: domain.SortAsc})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, domain.FileStatusFailed, files[1].Status)
}

func TestRetryRules(t *testing.T) {
	f := newFileFixture(t, newFakeBlobs())
	ctx := context.Background()

	file := &domain.File{UserID: f.user.ID, Filename: "a.txt", Status: domain.FileStatusProcessing, Type: "text/plain", ObjectPath: "k"}
	_, err := f.repos.files.Create(ctx, file)
	require.NoError(t, err)

	_, err = f.svc.Retry(ctx, f.user, file.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, "File is being proccessed", apperr.MessageOf(err))

	_, err = f.repos.files.TransitionStatus(ctx, file.ID, domain.FileStatusFailed)
	require.NoError(t, err)

	retried, err := f.svc.Retry(ctx, f.user, file.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FileStatusQueuing, retried.Status)
	assert.Equal(t, []int64{file.ID}, f.publisher.uploadedIDs())

	other := createUser(t, f.repos.users, "bob")
	_, err = f.svc.Retry(ctx, other, file.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, "File doesn't exist", apperr.MessageOf(err))
}

func TestCancelRules(t *testing.T) {
	f := newFileFixture(t, newFakeBlobs())
	ctx := context.Background()

	file := &domain.File{UserID: f.user.ID, Filename: "a.txt", Status: domain.FileStatusSuccess, Type: "text/plain", ObjectPath: "k"}
	_, err := f.repos.files.Create(ctx, file)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, f.user, file.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, "Only files in progress can be cancelled", apperr.MessageOf(err))

	_, err = f.repos.files.TransitionStatus(ctx, file.ID, domain.FileStatusQueuing)
	require.NoError(t, err)
	cancelled, err := f.svc.Cancel(ctx, f.user, file.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FileStatusCancelled, cancelled.Status)
}

func TestDeleteRules(t *testing.T) {
	f := newFileFixture(t, newFakeBlobs())
	ctx := context.Background()

	file := &domain.File{UserID: f.user.ID, Filename: "a.txt", Status: domain.FileStatusQueuing, Type: "text/plain", ObjectPath: "1/a.txt"}
	_, err := f.repos.files.Create(ctx, file)
	require.NoError(t, err)

	err = f.svc.Delete(ctx, f.user, file.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, "Unable to delete processing files", apperr.MessageOf(err))

	_, err = f.repos.files.TransitionStatus(ctx, file.ID, domain.FileStatusCancelled)
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, f.user, file.ID))

	_, err = f.repos.files.Get(ctx, file.ID)
	assert.Error(t, err)
	require.Eventually(t, func() bool { return len(f.blobs.deletedKeys()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1/a.txt"}, f.blobs.deletedKeys())

	err = f.svc.Delete(ctx, f.user, file.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListValidatesPaging(t *testing.T) {
	f := newFileFixture(t, newFakeBlobs())
	ctx := context.Background()

	_, err := f.svc.List(ctx, f.user, domain.FileListQuery{Page: 0, PageSize: 20})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = f.svc.List(ctx, f.user, domain.FileListQuery{Page: 1, PageSize: 51})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = f.svc.List(ctx, f.user, domain.FileListQuery{Page: 1, PageSize: 20, SortBy: "size"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		_, err := f.repos.files.Create(ctx, &domain.File{UserID: f.user.ID, Filename: name, Status: domain.FileStatusSuccess, Type: "text/plain", ObjectPath: name})
		require.NoError(t, err)
	}

	list, err := f.svc.List(ctx, f.user, domain.FileListQuery{Page: 2, PageSize: 2, SortBy: domain.FileSortName, Order: domain.SortAsc})
	require.NoError(t, err)
	assert.Equal(t, 3, list.Total)
	assert.Equal(t, 2, list.PageCount)
	require.Len(t, list.Files, 1)
	assert.Equal(t, "c.txt", list.Files[0].Filename)
	assert.Equal(t, 0, list.Credits.Used)
	assert.Nil(t, list.Credits.ResetAt)

	empty, err := f.svc.List(ctx, createUser(t, f.repos.users, "bob"), domain.FileListQuery{Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.PageCount)
}

func TestListFallsBackWhenCreditStoreIsDown(t *testing.T) {
	repos := newTestRepos(t)
	limiter, mr := newTestLimiter(t)
	publisher := &fakePublisher{}
	user := createUser(t, repos.users, "alice")
	svc := NewFileService(repos.files, limiter, newFakeBlobs(), publisher,
		NewStatusNotifier(repos.users, publisher, quietLogger()), newTestPool(t),
		FileServiceConfig{CreditLimit: 5, CreditWindow: time.Hour, Logger: quietLogger()})

	mr.Close()

	list, err := svc.List(context.Background(), user, domain.FileListQuery{Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 5, list.Credits.Limit)
	assert.Equal(t, 0, list.Credits.Used)

	_, err = svc.Upload(context.Background(), user, textUpload("a.txt"))
	assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)
}
