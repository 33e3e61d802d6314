package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"mediahub/internal/domain"
	"mediahub/internal/events"
	"mediahub/internal/repository"
)

// EventPublisher writes pipeline events to the event log.
type EventPublisher interface {
	PublishFileUploaded(ctx context.Context, fileID int64) error
	PublishStatusUpdated(ctx context.Context, ev events.StatusUpdated) error
}

// StatusNotifier emits StatusUpdated events for a file's current status.
type StatusNotifier struct {
	users     repository.UserRepository
	publisher EventPublisher
	logger    *logrus.Logger
}

func NewStatusNotifier(users repository.UserRepository, publisher EventPublisher, logger *logrus.Logger) *StatusNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &StatusNotifier{users: users, publisher: publisher, logger: logger}
}

// Notify publishes file's status with message. Failures are logged and
// swallowed. The owner's email is attached only once it is verified.
func (n *StatusNotifier) Notify(ctx context.Context, file *domain.File, message string) {
	logger := n.logger.WithFields(logrus.Fields{"file_id": file.ID, "user_id": file.UserID})

	ev := events.StatusUpdated{
		UserID:  file.UserID,
		FileID:  file.ID,
		Status:  string(file.Status),
		Message: message,
	}
	if owner, err := n.users.GetByID(ctx, file.UserID); err != nil {
		logger.Warnf("load file owner for notification: %v", err)
	} else {
		ev.Email = owner.VerifiedEmail()
	}

	if err := n.publisher.PublishStatusUpdated(ctx, ev); err != nil {
		logger.Warnf("publish status notification: %v", err)
	}
}

func waitingMessage(file *domain.File) string {
	return fmt.Sprintf("File \"%s\" is waiting to be uploaded", file.Filename)
}

func queuingMessage(file *domain.File) string {
	return fmt.Sprintf("File \"%s\" is queuing", file.Filename)
}

func queueFailedMessage(file *domain.File) string {
	return fmt.Sprintf("File \"%s\" was failed to push to queue", file.Filename)
}

// ProcessingMessage and the messages below are shared with the worker.
func ProcessingMessage(file *domain.File) string {
	return fmt.Sprintf("File \"%s\" is being processed", file.Filename)
}

func SuccessMessage(file *domain.File) string {
	return fmt.Sprintf("File \"%s\" is successfully processed", file.Filename)
}

func FailureMessage(file *domain.File) string {
	return fmt.Sprintf("An error occured when proccessing file \"%s\"", file.Filename)
}
