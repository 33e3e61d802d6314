package notify

import (
	"context"
	"html"

	"github.com/sirupsen/logrus"

	"mediahub/internal/domain"
	"mediahub/internal/events"
	"mediahub/internal/mail"
)

const finishedSubject = "Your file processing has finished"

type publisher interface {
	Publish(ctx context.Context, userID int64, n Notification) error
}

// Fanout turns StatusUpdated events into pushed notifications and, for
// finished files, emails.
type Fanout struct {
	hub    publisher
	mailer mail.Sender
	logger *logrus.Logger
}

func NewFanout(hub publisher, mailer mail.Sender, logger *logrus.Logger) *Fanout {
	if logger == nil {
		logger = logrus.New()
	}
	return &Fanout{hub: hub, mailer: mailer, logger: logger}
}

// Handle never fails: publishing and mailing are both best effort.
func (f *Fanout) Handle(ctx context.Context, msg events.Message) error {
	ev, ok := msg.Event.(events.StatusUpdated)
	if !ok {
		f.logger.Warnf("notification worker ignoring %s event", msg.Event.Kind())
		return nil
	}
	logger := f.logger.WithFields(logrus.Fields{"user_id": ev.UserID, "file_id": ev.FileID, "status": ev.Status})

	n := Notification{Type: TypeInfo, Category: CategoryFile, Message: ev.Message}
	if ev.Status == string(domain.FileStatusFailed) {
		n.Type = TypeError
	}
	if err := f.hub.Publish(ctx, ev.UserID, n); err != nil {
		logger.Warnf("push notification: %v", err)
	}

	if ev.Email == nil || f.mailer == nil {
		return nil
	}
	switch domain.FileStatus(ev.Status) {
	case domain.FileStatusSuccess, domain.FileStatusFailed:
	default:
		return nil
	}
	if err := f.mailer.Send(ctx, []string{*ev.Email}, finishedSubject, "<p>"+html.EscapeString(ev.Message)+"</p>"); err != nil {
		logger.Warnf("email to %s was unable to send: %v", *ev.Email, err)
		return nil
	}
	logger.Infof("email to %s has been sent", *ev.Email)
	return nil
}
