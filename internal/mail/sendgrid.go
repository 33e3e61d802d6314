// Package mail delivers outbound email through SendGrid.
package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Sender delivers an HTML email to recipients.
type Sender interface {
	Send(ctx context.Context, to []string, subject, html string) error
}

type client interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

type SendGrid struct {
	client  client
	from    string
	timeout time.Duration
}

func NewSendGrid(apiKey, from string, timeout time.Duration) *SendGrid {
	return newSendGrid(sendgrid.NewSendClient(apiKey), from, timeout)
}

func newSendGrid(c client, from string, timeout time.Duration) *SendGrid {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SendGrid{client: c, from: from, timeout: timeout}
}

func (s *SendGrid) Send(ctx context.Context, to []string, subject, html string) error {
	if len(to) == 0 {
		return errors.New("no recipients")
	}

	message := sgmail.NewV3Mail()
	message.SetFrom(sgmail.NewEmail("", s.from))
	message.Subject = subject
	p := sgmail.NewPersonalization()
	for _, addr := range to {
		p.AddTos(sgmail.NewEmail("", addr))
	}
	message.AddPersonalizations(p)
	message.AddContent(sgmail.NewContent("text/html", html))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send email: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

var _ Sender = (*SendGrid)(nil)
