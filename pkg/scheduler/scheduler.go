// Package scheduler runs the engine's background work: periodic jobs on
// tickers (foreign cleanup, cache sweep, trust decay) and one-off deferred
// tasks (clustering after a foreign write). Everything stops with Stop.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned when work is submitted after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Job is a unit of background work. It should return promptly once ctx
// is cancelled.
type Job func(ctx context.Context) error

// Config holds scheduler configuration.
type Config struct {
	// JobTimeout bounds a single run of a periodic job.
	JobTimeout time.Duration

	// TaskTimeout bounds a single deferred task.
	TaskTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		JobTimeout:  30 * time.Second,
		TaskTimeout: 10 * time.Second,
	}
}

type periodic struct {
	name     string
	interval time.Duration
	job      Job
}

// Scheduler owns the goroutines it starts.
type Scheduler struct {
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    []periodic
	started bool
	stopped bool
	tasks   sync.WaitGroup
	tickers sync.WaitGroup
}

// New creates a scheduler. Nothing runs until Start or Defer is called.
func New(cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg,
		logger: logger.Named("scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every registers a periodic job. Jobs with a non-positive interval are
// ignored. Jobs registered after Start begin immediately.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) {
	if interval <= 0 {
		s.logger.Debug("periodic job disabled", zap.String("job", name))
		return
	}
	p := periodic{name: name, interval: interval, job: job}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.jobs = append(s.jobs, p)
	if s.started {
		s.startTicker(p)
	}
}

// Start begins all registered periodic jobs. Call Stop() to terminate.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	for _, p := range s.jobs {
		s.startTicker(p)
	}
}

func (s *Scheduler) startTicker(p periodic) {
	s.tickers.Add(1)
	go func() {
		defer s.tickers.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.runJob(p.name, p.job, s.cfg.JobTimeout)
			}
		}
	}()
}

// Defer runs task once in the background. Panics and errors are logged.
func (s *Scheduler) Defer(name string, task Job) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.tasks.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.tasks.Done()
		s.runJob(name, task, s.cfg.TaskTimeout)
	}()
	return nil
}

// RunNow runs every registered periodic job once, synchronously.
// Exported for testing and for manual cleanup triggers.
func (s *Scheduler) RunNow(ctx context.Context) error {
	s.mu.Lock()
	jobs := append([]periodic(nil), s.jobs...)
	s.mu.Unlock()

	var errs []error
	for _, p := range jobs {
		if err := p.job(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every deferred task submitted so far has finished.
func (s *Scheduler) Wait() {
	s.tasks.Wait()
}

// Stop cancels running work and waits for goroutines to exit. It is safe
// to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.tickers.Wait()
	s.tasks.Wait()
}

func (s *Scheduler) runJob(name string, job Job, timeout time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("background job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Warn("background job failed",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("background job done", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
}
