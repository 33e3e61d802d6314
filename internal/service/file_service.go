package service

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"mediahub/internal/apperr"
	"mediahub/internal/domain"
	"mediahub/internal/ratelimit"
	"mediahub/internal/repository"
	"mediahub/internal/storage"
	"mediahub/internal/tasks"
)

const maxPageSize = 50

// CreditLimiter gates file processing per user.
type CreditLimiter interface {
	TryConsume(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Usage(ctx context.Context, key string, limit int) (ratelimit.Usage, error)
}

type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Content     []byte
}

// FileList is one page of a user's files plus their credit usage.
type FileList struct {
	Files     []domain.File
	Total     int
	Page      int
	PageSize  int
	PageCount int
	Credits   ratelimit.Usage
}

// FileService coordinates the upload pipeline and user actions on files.
type FileService interface {
	// Upload records the file as pending and stores and queues it in the
	// background. It returns before the payload reaches the blob store.
	Upload(ctx context.Context, user *domain.User, in UploadInput) (*domain.File, error)
	List(ctx context.Context, user *domain.User, query domain.FileListQuery) (*FileList, error)
	Retry(ctx context.Context, user *domain.User, fileID int64) (*domain.File, error)
	Cancel(ctx context.Context, user *domain.User, fileID int64) (*domain.File, error)
	Delete(ctx context.Context, user *domain.User, fileID int64) error
}

type FileServiceConfig struct {
	CreditLimit  int
	CreditWindow time.Duration
	Logger       *logrus.Logger
}

type fileService struct {
	files     repository.FileRepository
	limiter   CreditLimiter
	blobs     storage.Service
	publisher EventPublisher
	notifier  *StatusNotifier
	pool      tasks.Pool
	cfg       FileServiceConfig
}

func NewFileService(
	files repository.FileRepository,
	limiter CreditLimiter,
	blobs storage.Service,
	publisher EventPublisher,
	notifier *StatusNotifier,
	pool tasks.Pool,
	cfg FileServiceConfig,
) FileService {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.CreditLimit <= 0 {
		cfg.CreditLimit = 5
	}
	if cfg.CreditWindow <= 0 {
		cfg.CreditWindow = time.Hour
	}
	return &fileService{
		files:     files,
		limiter:   limiter,
		blobs:     blobs,
		publisher: publisher,
		notifier:  notifier,
		pool:      pool,
		cfg:       cfg,
	}
}

func (s *fileService) Upload(ctx context.Context, user *domain.User, in UploadInput) (*domain.File, error) {
	if err := s.consumeCredit(ctx, user.ID); err != nil {
		return nil, err
	}

	key := storage.NewObjectKey(user.ID, in.Filename)
	file := &domain.File{
		UserID:     user.ID,
		Filename:   in.Filename,
		Status:     domain.FileStatusPending,
		Size:       in.Size,
		Type:       in.ContentType,
		URL:        s.blobs.PublicURL(key),
		ObjectPath: key,
	}
	if _, err := s.files.Create(ctx, file); err != nil {
		return nil, err
	}
	logger := s.cfg.Logger.WithFields(logrus.Fields{"file_id": file.ID, "user_id": user.ID})

	s.notifier.Notify(ctx, file, waitingMessage(file))

	snapshot := *file
	content := in.Content
	err := s.pool.Submit("upload-file", func(ctx context.Context) {
		s.storeAndQueue(ctx, &snapshot, content)
	})
	if err != nil {
		logger.Errorf("schedule upload: %v", err)
		s.failUpload(context.WithoutCancel(ctx), file)
		return nil, apperr.Upstream("Error occured while uploading file", err)
	}

	logger.Info("file accepted for upload")
	return file, nil
}

// storeAndQueue runs on the task pool: it stores the payload, marks the file
// queuing and hands it to the worker through the event log.
func (s *fileService) storeAndQueue(ctx context.Context, file *domain.File, content []byte) {
	logger := s.cfg.Logger.WithField("file_id", file.ID)

	if err := s.blobs.Put(ctx, file.ObjectPath, bytes.NewReader(content), file.Type); err != nil {
		logger.Errorf("store file: %v", err)
		s.failUpload(ctx, file)
		return
	}

	// queuing is recorded before the event goes out so the worker never
	// sees its own processing status overwritten
	moved, err := s.files.TransitionStatus(ctx, file.ID, domain.FileStatusQueuing, domain.FileStatusPending)
	if err != nil {
		logger.Errorf("mark file queuing: %v", err)
		s.failUpload(ctx, file)
		return
	}
	if !moved {
		logger.Info("file left pending during upload, not queuing")
		return
	}
	file.Status = domain.FileStatusQueuing

	if err := s.publisher.PublishFileUploaded(ctx, file.ID); err != nil {
		logger.Errorf("publish file uploaded: %v", err)
		s.failUpload(ctx, file)
		return
	}

	s.notifier.Notify(ctx, file, queuingMessage(file))
	logger.Debug("file uploaded and queued")
}

// failUpload is best effort. A file cancelled in the meantime stays
// cancelled.
func (s *fileService) failUpload(ctx context.Context, file *domain.File) {
	logger := s.cfg.Logger.WithField("file_id", file.ID)
	moved, err := s.files.TransitionStatus(ctx, file.ID, domain.FileStatusFailed, domain.FileStatusPending, domain.FileStatusQueuing)
	if err != nil {
		logger.Errorf("persist failure status: %v", err)
		return
	}
	if !moved {
		return
	}
	file.Status = domain.FileStatusFailed
	s.notifier.Notify(ctx, file, queueFailedMessage(file))
}

func (s *fileService) List(ctx context.Context, user *domain.User, query domain.FileListQuery) (*FileList, error) {
	if query.Page < 1 {
		return nil, apperr.Invalid("Page must be at least 1")
	}
	if query.PageSize < 1 || query.PageSize > maxPageSize {
		return nil, apperr.Invalid("Page size must be between 1 and 50")
	}
	switch query.SortBy {
	case "":
		query.SortBy = domain.FileSortCreatedAt
	case domain.FileSortCreatedAt, domain.FileSortName, domain.FileSortStatus:
	default:
		return nil, apperr.Invalid("Unsupported sort field")
	}
	switch query.Order {
	case "":
		query.Order = domain.SortAsc
	case domain.SortAsc, domain.SortDesc:
	default:
		return nil, apperr.Invalid("Unsupported sort order")
	}
	query.UserID = user.ID

	files, total, err := s.files.List(ctx, query)
	if err != nil {
		return nil, err
	}

	usage, err := s.limiter.Usage(ctx, ratelimit.FileCreditKey(user.ID), s.cfg.CreditLimit)
	if err != nil {
		s.cfg.Logger.WithField("user_id", user.ID).Warnf("read credit usage: %v", err)
		usage = ratelimit.Usage{Limit: s.cfg.CreditLimit}
	}

	return &FileList{
		Files:     files,
		Total:     total,
		Page:      query.Page,
		PageSize:  query.PageSize,
		PageCount: (total + query.PageSize - 1) / query.PageSize,
		Credits:   usage,
	}, nil
}

func (s *fileService) Retry(ctx context.Context, user *domain.User, fileID int64) (*domain.File, error) {
	file, err := s.ownedFile(ctx, user, fileID)
	if err != nil {
		return nil, err
	}
	if file.Status.IsActive() {
		return nil, apperr.InvalidState("File is being proccessed")
	}
	if err := s.consumeCredit(ctx, user.ID); err != nil {
		return nil, err
	}

	moved, err := s.files.TransitionStatus(ctx, file.ID, domain.FileStatusQueuing, domain.FinishedFileStatuses...)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, apperr.InvalidState("File is being proccessed")
	}
	file.Status = domain.FileStatusQueuing

	if err := s.publisher.PublishFileUploaded(ctx, file.ID); err != nil {
		s.cfg.Logger.WithField("file_id", file.ID).Errorf("publish retry: %v", err)
		s.failUpload(context.WithoutCancel(ctx), file)
		return nil, apperr.Upstream("Error occured while retrying file", err)
	}

	s.notifier.Notify(ctx, file, queuingMessage(file))
	return file, nil
}

func (s *fileService) Cancel(ctx context.Context, user *domain.User, fileID int64) (*domain.File, error) {
	file, err := s.ownedFile(ctx, user, fileID)
	if err != nil {
		return nil, err
	}
	if !file.Status.IsActive() {
		return nil, apperr.InvalidState("Only files in progress can be cancelled")
	}

	moved, err := s.files.TransitionStatus(ctx, file.ID, domain.FileStatusCancelled, domain.ActiveFileStatuses...)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, apperr.InvalidState("Only files in progress can be cancelled")
	}
	file.Status = domain.FileStatusCancelled
	return file, nil
}

func (s *fileService) Delete(ctx context.Context, user *domain.User, fileID int64) error {
	file, err := s.ownedFile(ctx, user, fileID)
	if err != nil {
		return err
	}
	if file.Status.IsActive() {
		return apperr.InvalidState("Unable to delete processing files")
	}

	deleted, err := s.files.DeleteFinished(ctx, user.ID, file.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.InvalidState("Unable to delete processing files")
	}

	logger := s.cfg.Logger.WithField("file_id", file.ID)
	objectPath := file.ObjectPath
	err = s.pool.Submit("delete-blob", func(ctx context.Context) {
		if err := s.blobs.Delete(ctx, objectPath); err != nil {
			logger.Warnf("delete blob %s: %v", objectPath, err)
		}
	})
	if err != nil {
		logger.Warnf("schedule blob delete: %v", err)
	}
	return nil
}

func (s *fileService) ownedFile(ctx context.Context, user *domain.User, fileID int64) (*domain.File, error) {
	file, err := s.files.GetForUser(ctx, user.ID, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("File doesn't exist")
		}
		return nil, err
	}
	return file, nil
}

func (s *fileService) consumeCredit(ctx context.Context, userID int64) error {
	ok, err := s.limiter.TryConsume(ctx, ratelimit.FileCreditKey(userID), s.cfg.CreditLimit, s.cfg.CreditWindow)
	if err != nil {
		return apperr.Upstream("Credit store unavailable", err)
	}
	if !ok {
		return apperr.ErrRateLimited
	}
	return nil
}
