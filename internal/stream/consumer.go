package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"mediahub/internal/events"
)

// Handler processes one decoded event. A returned error withholds the
// commit so the message is delivered again.
type Handler func(ctx context.Context, msg events.Message) error

type ConsumerConfig struct {
	Topic           string
	PollTimeout     time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
	DeadLetterTopic string
	Logger          *logrus.Logger
}

// Consumer is a single-threaded fetch, handle, commit loop.
type Consumer struct {
	cfg        ConsumerConfig
	reader     MessageReader
	deadLetter MessageWriter
	handler    Handler
}

func NewConsumer(cfg ConsumerConfig, reader MessageReader, deadLetter MessageWriter, handler Handler) *Consumer {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Consumer{
		cfg:        cfg,
		reader:     reader,
		deadLetter: deadLetter,
		handler:    handler,
	}
}

// Run polls until ctx is cancelled. A message already fetched when ctx is
// cancelled is still handled and committed before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	logger := c.cfg.Logger.WithField("topic", c.cfg.Topic)
	logger.Info("consumer started")
	defer logger.Info("consumer stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		msg, err := c.reader.FetchMessage(pollCtx)
		cancel()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case errors.Is(err, io.EOF):
				return nil
			}
			logger.Errorf("fetch message: %v", err)
			if !sleep(ctx, c.cfg.RetryBackoff) {
				return nil
			}
			continue
		}

		if c.process(ctx, logger, msg) {
			c.commit(ctx, logger, msg)
		}
	}
}

// process handles msg and reports whether its offset may be committed.
func (c *Consumer) process(ctx context.Context, logger *logrus.Entry, msg kafka.Message) bool {
	entry := logger.WithFields(logrus.Fields{"partition": msg.Partition, "offset": msg.Offset})

	decoded, err := events.Decode(msg.Value)
	if err != nil {
		var unknown *events.UnknownEventKindError
		if errors.As(err, &unknown) {
			entry.Warnf("skipping event of unknown kind %q", unknown.Kind)
		} else {
			entry.Errorf("skipping undecodable message: %v", err)
		}
		return true
	}

	handleCtx := context.WithoutCancel(ctx)
	for attempt := 1; ; attempt++ {
		err = c.handle(handleCtx, decoded)
		if err == nil {
			return true
		}
		entry.Warnf("handle %s attempt %d/%d: %v", decoded.Event.Kind(), attempt, c.cfg.MaxAttempts, err)
		if attempt >= c.cfg.MaxAttempts {
			break
		}
		if !sleep(ctx, c.cfg.RetryBackoff) {
			// stopping; leave the offset for the next owner
			return false
		}
	}

	return c.sendToDeadLetter(ctx, entry, msg, err)
}

// handle runs the handler, turning a panic into a failed attempt.
func (c *Consumer) handle(ctx context.Context, msg events.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, msg)
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, logger *logrus.Entry, msg kafka.Message, cause error) bool {
	if c.deadLetter == nil || c.cfg.DeadLetterTopic == "" {
		logger.Errorf("dropping message after %d attempts: %v", c.cfg.MaxAttempts, cause)
		return true
	}

	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "source_topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
	)
	dead := kafka.Message{
		Topic:   c.cfg.DeadLetterTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}

	for {
		err := c.deadLetter.WriteMessages(context.WithoutCancel(ctx), dead)
		if err == nil {
			logger.Errorf("moved message to %s after %d attempts: %v", c.cfg.DeadLetterTopic, c.cfg.MaxAttempts, cause)
			return true
		}
		logger.Errorf("write dead letter: %v", err)
		if !sleep(ctx, c.cfg.RetryBackoff) {
			return false
		}
	}
}

func (c *Consumer) commit(ctx context.Context, logger *logrus.Entry, msg kafka.Message) {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
		logger.WithField("offset", msg.Offset).Errorf("commit message: %v", err)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
