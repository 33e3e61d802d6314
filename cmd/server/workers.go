package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"mediahub/internal/config"
	"mediahub/internal/events"
	"mediahub/internal/fetch"
	"mediahub/internal/notify"
	"mediahub/internal/repository/sqldb"
	"mediahub/internal/service"
	"mediahub/internal/stream"
	"mediahub/internal/summarize"
	"mediahub/internal/worker"
)

func runFileWorker(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	summarizer, err := summarize.NewGemini(ctx, summarize.Config{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.Gemini.Timeout,
	})
	if err != nil {
		return err
	}

	writer := stream.NewWriter(cfg.Kafka.Brokers)
	publisher := stream.NewPublisher(writer, events.SourceFileWorker)
	defer publisher.Close()

	processor := worker.NewProcessor(
		sqldb.NewFileRepository(db),
		fetch.New(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes),
		summarizer,
		service.NewStatusNotifier(sqldb.NewUserRepository(db), publisher, logger),
		worker.Config{Logger: logger},
	)

	consumer := newConsumer(cfg, logger, stream.TopicFiles, processor.Handle, writer)
	defer consumer.Close()

	if err := consumer.Run(ctx); err != nil {
		return fmt.Errorf("file worker: %w", err)
	}
	return nil
}

func runNotificationWorker(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	deadLetter := stream.NewWriter(cfg.Kafka.Brokers)
	defer deadLetter.Close()

	fanout := notify.NewFanout(notify.NewHub(rdb), buildMailer(cfg, logger), logger)
	consumer := newConsumer(cfg, logger, stream.TopicNotifications, fanout.Handle, deadLetter)
	defer consumer.Close()

	if err := consumer.Run(ctx); err != nil {
		return fmt.Errorf("notification worker: %w", err)
	}
	return nil
}

func runMigrate(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.WithField("driver", cfg.Database.Driver).Info("migrations applied")
	return nil
}
