package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"mediahub/internal/config"
	"mediahub/internal/mail"
	"mediahub/internal/repository/sqldb"
	"mediahub/internal/security"
	"mediahub/internal/storage"
	"mediahub/internal/stream"
)

const (
	blobTimeout = 30 * time.Second
	mailTimeout = 15 * time.Second
)

func openDatabase(ctx context.Context, cfg config.Config) (*sqldb.DB, error) {
	db, err := sqldb.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func openRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
	}
	return client, nil
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*storage.S3Service, error) {
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client, storage.Options{
		Bucket:  cfg.Storage.Bucket,
		CDNURL:  cfg.Storage.CDNURL,
		Region:  cfg.Storage.Region,
		Timeout: blobTimeout,
	}), nil
}

func buildTokenCodec(cfg config.Config) (*security.TokenCodec, error) {
	tokenCfg := security.TokenConfig{
		Algorithm: cfg.Auth.Algorithm,
		Secret:    cfg.Auth.Secret,
	}
	if cfg.Auth.PrivateKeyFile != "" {
		pem, err := os.ReadFile(cfg.Auth.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		tokenCfg.PrivateKeyPEM = pem
	}
	if cfg.Auth.PublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.Auth.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		tokenCfg.PublicKeyPEM = pem
	}
	return security.NewTokenCodec(tokenCfg)
}

// buildMailer returns nil when SendGrid is not configured; callers skip
// email in that case.
func buildMailer(cfg config.Config, logger *logrus.Logger) mail.Sender {
	if cfg.Mail.SendgridAPIKey == "" || cfg.Mail.SourceEmail == "" {
		logger.Warn("sendgrid is not configured, emails are disabled")
		return nil
	}
	return mail.NewSendGrid(cfg.Mail.SendgridAPIKey, cfg.Mail.SourceEmail, mailTimeout)
}

func newConsumer(cfg config.Config, logger *logrus.Logger, topic string, handler stream.Handler, deadLetter stream.MessageWriter) *stream.Consumer {
	group := cfg.Kafka.GroupPrefix + "-" + topic
	reader := stream.NewReader(cfg.Kafka.Brokers, group, topic)
	return stream.NewConsumer(stream.ConsumerConfig{
		Topic:           topic,
		PollTimeout:     cfg.Kafka.PollTimeout,
		MaxAttempts:     cfg.Kafka.MaxAttempts,
		RetryBackoff:    cfg.Kafka.RetryBackoff,
		DeadLetterTopic: topic + cfg.Kafka.DeadLetterSuffix,
		Logger:          logger,
	}, reader, deadLetter, handler)
}

// originChecker accepts websocket upgrades from the configured CORS origins.
func originChecker(origins string) func(r *http.Request) bool {
	allowed := map[string]struct{}{}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		if _, ok := allowed["*"]; ok {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
