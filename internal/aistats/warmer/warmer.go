// Package warmer refetches every mode's sources on an interval so that
// candidate requests are served from the source cache.
package warmer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RobinCoderZhao/aistats/internal/aistats/fetch"
	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
	"github.com/RobinCoderZhao/aistats/pkg/cache"
)

// Registry lists modes and their sources.
type Registry interface {
	Modes() []string
	SourcesForMode(mode string) []sources.Source
}

// Fetcher refetches sources from their adapters and rewrites the cache.
type Fetcher interface {
	Refresh(ctx context.Context, srcs []sources.Source) *fetch.Result
}

// Purger is a cache that can drop expired entries in bulk. Stores without
// native expiry only drop an entry when its key is read again.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// Job is one named unit of work.
type Job struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Scheduler runs jobs at a fixed interval.
type Scheduler struct {
	jobs     []Job
	logger   *slog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler. A nil logger uses slog.Default.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger, done: make(chan struct{})}
}

// Add registers a job.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// RunOnce runs every job in order. A failing job does not stop the rest;
// the failures are returned joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		start := time.Now()
		if err := job.Fn(ctx); err != nil {
			s.logger.Error("job failed", "name", job.Name, "error", err, "duration", time.Since(start))
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
			continue
		}
		s.logger.Debug("job completed", "name", job.Name, "duration", time.Since(start))
	}
	return errors.Join(errs...)
}

// Start runs the jobs immediately and then every interval until ctx is
// done or Stop is called.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("scheduler started", "interval", interval, "jobs", len(s.jobs))
	s.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-s.done:
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop ends Start. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// New builds a scheduler that warms every mode on each run. The mode list
// is read on every run so added or removed modes are picked up. When c can
// purge, expired entries are swept after the warm-up.
func New(reg Registry, f Fetcher, c cache.Store, logger *slog.Logger) *Scheduler {
	s := NewScheduler(logger)
	s.Add(Job{Name: "warm_sources", Fn: func(ctx context.Context) error {
		return WarmAll(ctx, reg, f, s.logger)
	}})
	if p, ok := c.(Purger); ok {
		s.Add(PurgeJob(p, s.logger))
	}
	return s
}

// PurgeJob removes expired entries from p.
func PurgeJob(p Purger, logger *slog.Logger) Job {
	if logger == nil {
		logger = slog.Default()
	}
	return Job{Name: "purge_cache", Fn: func(ctx context.Context) error {
		n, err := p.Purge(ctx)
		if err != nil {
			return err
		}
		logger.Info("expired cache entries purged", "count", n)
		return nil
	}}
}

// WarmAll refetches every mode once, bypassing cached entries so that each
// one is replaced before it expires. Only a rejected warehouse query counts
// as a failure; ordinary per-source errors are logged by the fetcher.
func WarmAll(ctx context.Context, reg Registry, f Fetcher, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	for _, mode := range reg.Modes() {
		res := f.Refresh(ctx, reg.SourcesForMode(mode))
		logger.Info("mode warmed",
			"mode", mode,
			"sources", len(res.PerSource),
			"candidates", len(res.Candidates),
			"errors", len(res.Errors),
		)
		if len(res.Fatal) > 0 {
			errs = append(errs, fmt.Errorf("mode %s: %w", mode, errors.Join(res.Fatal...)))
		}
	}
	return errors.Join(errs...)
}
