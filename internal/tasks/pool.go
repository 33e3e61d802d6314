// Package tasks runs request-initiated work out of band on a bounded pool.
package tasks

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("task queue is full")
	// ErrStopped is returned by Submit after Shutdown has begun.
	ErrStopped = errors.New("task pool is stopped")
)

// Task is one unit of background work. ctx is cancelled only when Shutdown
// gives up waiting.
type Task func(ctx context.Context)

// Pool coordinates a fixed set of workers draining a bounded queue.
type Pool interface {
	Start(ctx context.Context)
	Submit(name string, task Task) error
	Shutdown(ctx context.Context) error
}

type Config struct {
	Workers   int
	QueueSize int
	Logger    *logrus.Logger
}

type job struct {
	name string
	run  Task
}

type pool struct {
	cfg    Config
	queue  chan job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool
}

func NewPool(cfg Config) Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &pool{
		cfg:   cfg,
		queue: make(chan job, cfg.QueueSize),
	}
}

// Start launches the workers. Cancelling ctx does not abort queued tasks;
// only Shutdown ends the pool.
func (p *pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	p.cfg.Logger.Infof("task pool started with %d workers", p.cfg.Workers)
}

func (p *pool) work() {
	defer p.wg.Done()
	for j := range p.queue {
		p.runJob(j)
	}
}

func (p *pool) runJob(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.cfg.Logger.WithField("task", j.name).Errorf("task panicked: %v", r)
		}
	}()
	j.run(p.ctx)
}

// Submit queues task without blocking.
func (p *pool) Submit(name string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- job{name: name, run: task}:
		return nil
	default:
		p.cfg.Logger.WithField("task", name).Warn("task queue full, rejecting task")
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish. If ctx
// ends first the running tasks are cancelled and ctx's error is returned
// once they return.
func (p *pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		if p.cancel != nil {
			p.cancel()
		}
		<-done
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.cfg.Logger.Info("task pool stopped")
	return err
}

var _ Pool = (*pool)(nil)
