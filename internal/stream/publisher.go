package stream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"mediahub/internal/events"
)

// Publisher writes event envelopes to the event log.
type Publisher struct {
	writer MessageWriter
	source string
	now    func() time.Time
}

func NewPublisher(writer MessageWriter, source string) *Publisher {
	return &Publisher{writer: writer, source: source, now: time.Now}
}

func (p *Publisher) PublishFileUploaded(ctx context.Context, fileID int64) error {
	return p.publish(ctx, TopicFiles, strconv.FormatInt(fileID, 10), events.FileUploaded{FileID: fileID})
}

func (p *Publisher) PublishStatusUpdated(ctx context.Context, ev events.StatusUpdated) error {
	key := fmt.Sprintf("%d,%d,%s", ev.UserID, ev.FileID, ev.Status)
	return p.publish(ctx, TopicNotifications, key, ev)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, ev events.Event) error {
	value, err := events.Encode(ev, p.source, p.now())
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}); err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.Kind(), topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
