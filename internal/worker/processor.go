// Package worker processes uploaded files: it fetches their content, asks
// the summarizer for a description and records the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"mediahub/internal/apperr"
	"mediahub/internal/domain"
	"mediahub/internal/events"
	"mediahub/internal/repository"
	"mediahub/internal/service"
	"mediahub/internal/summarize"
)

// Checkpoint names a point at which processing observes cancellation.
type Checkpoint string

const (
	CheckpointLoaded          Checkpoint = "loaded"
	CheckpointBeforeSummarize Checkpoint = "before_summarize"
	CheckpointAfterSummarize  Checkpoint = "after_summarize"
)

// Fetcher downloads file content from its public URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Notifier interface {
	Notify(ctx context.Context, file *domain.File, message string)
}

type Config struct {
	Logger *logrus.Logger
	// OnCheckpoint, when set, runs as each checkpoint is reached.
	OnCheckpoint func(ctx context.Context, cp Checkpoint, fileID int64)
}

type Processor struct {
	files      repository.FileRepository
	fetcher    Fetcher
	summarizer summarize.Summarizer
	notifier   Notifier
	cfg        Config
}

func NewProcessor(files repository.FileRepository, fetcher Fetcher, summarizer summarize.Summarizer, notifier Notifier, cfg Config) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Processor{
		files:      files,
		fetcher:    fetcher,
		summarizer: summarizer,
		notifier:   notifier,
		cfg:        cfg,
	}
}

// Handle adapts Process to the consumer loop.
func (p *Processor) Handle(ctx context.Context, msg events.Message) error {
	ev, ok := msg.Event.(events.FileUploaded)
	if !ok {
		p.cfg.Logger.Warnf("file worker ignoring %s event", msg.Event.Kind())
		return nil
	}
	return p.Process(ctx, ev.FileID)
}

// Process drives one file to success. Terminal files other than failed ones
// are left untouched, so a redelivered event is harmless. A processing
// error marks the file failed and is returned so the event is redelivered.
// Redelivery attempts stay silent until the file succeeds: the user hears
// about processing and failure once per upload or retry.
func (p *Processor) Process(ctx context.Context, fileID int64) error {
	logger := p.cfg.Logger.WithField("file_id", fileID)

	file, err := p.files.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("file no longer exists, skipping")
			return nil
		}
		return fmt.Errorf("load file %d: %w", fileID, err)
	}

	switch file.Status {
	case domain.FileStatusCancelled, domain.FileStatusSuccess, domain.FileStatusPending:
		logger.Debugf("file is %s, skipping", file.Status)
		return nil
	}

	// failed: an earlier attempt already told the user it failed.
	// processing: an earlier attempt died after announcing itself.
	announced := file.Status == domain.FileStatusFailed || file.Status == domain.FileStatusProcessing
	run := &attempt{file: file, notifyFailure: file.Status != domain.FileStatusFailed}

	p.reach(ctx, CheckpointLoaded, fileID)
	moved, err := p.files.TransitionStatus(ctx, fileID, domain.FileStatusProcessing,
		domain.FileStatusQueuing, domain.FileStatusProcessing, domain.FileStatusFailed)
	if err != nil {
		return p.fail(ctx, run, fmt.Errorf("mark processing: %w", err))
	}
	if !moved {
		logger.Info("file was cancelled before processing")
		return nil
	}
	file.Status = domain.FileStatusProcessing
	if !announced {
		p.notifier.Notify(ctx, file, service.ProcessingMessage(file))
	}

	content, err := p.fetcher.Fetch(ctx, file.URL)
	if err != nil {
		return p.fail(ctx, run, apperr.Upstream("fetch file content", err))
	}

	if stop, err := p.cancelled(ctx, CheckpointBeforeSummarize, run); err != nil || stop {
		return err
	}

	description, err := p.summarizer.Summarize(ctx, content, file.Type)
	if err != nil {
		return p.fail(ctx, run, apperr.Upstream("summarize file", err))
	}

	if stop, err := p.cancelled(ctx, CheckpointAfterSummarize, run); err != nil || stop {
		return err
	}

	completed, err := p.files.Complete(ctx, fileID, description)
	if err != nil {
		return p.fail(ctx, run, fmt.Errorf("store description: %w", err))
	}
	if !completed {
		logger.Info("file was cancelled while storing description")
		return nil
	}

	file.Status = domain.FileStatusSuccess
	file.Description = &description
	p.notifier.Notify(ctx, file, service.SuccessMessage(file))
	logger.Info("file processed")
	return nil
}

func (p *Processor) reach(ctx context.Context, cp Checkpoint, fileID int64) {
	if p.cfg.OnCheckpoint != nil {
		p.cfg.OnCheckpoint(ctx, cp, fileID)
	}
}

// attempt is the state of one Process call.
type attempt struct {
	file          *domain.File
	notifyFailure bool
}

// cancelled re-reads the file at cp and reports whether work must stop.
func (p *Processor) cancelled(ctx context.Context, cp Checkpoint, run *attempt) (bool, error) {
	file := run.file
	p.reach(ctx, cp, file.ID)

	current, err := p.files.Get(ctx, file.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, nil
		}
		return true, p.fail(ctx, run, fmt.Errorf("reload file at %s: %w", cp, err))
	}
	if current.Status != domain.FileStatusProcessing {
		p.cfg.Logger.WithField("file_id", file.ID).Infof("file is %s at %s, stopping", current.Status, cp)
		return true, nil
	}
	return false, nil
}

// fail records the failure best effort and returns cause.
func (p *Processor) fail(ctx context.Context, run *attempt, cause error) error {
	file := run.file
	ctx = context.WithoutCancel(ctx)
	logger := p.cfg.Logger.WithField("file_id", file.ID)
	logger.Errorf("process file: %v", cause)

	moved, err := p.files.TransitionStatus(ctx, file.ID, domain.FileStatusFailed, domain.FileStatusProcessing)
	if err != nil {
		logger.Errorf("persist failure status: %v", err)
	}
	if moved {
		file.Status = domain.FileStatusFailed
		if run.notifyFailure {
			p.notifier.Notify(ctx, file, service.FailureMessage(file))
		}
	}
	return cause
}
