package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
)

// Scheduler owns the periodic refresh loops: priority-1 sources on a short
// cadence and the full registry on a longer one. The per-source cache TTL
// still gates actual network calls, so an early tick against fresh sources is
// cheap. Refreshes are not canceled mid-flight beyond the fetch timeout and
// there is no retry loop, the next tick serves as the retry.
type Scheduler struct {
	fetcher *Fetcher

	priorityInterval time.Duration
	fullInterval     time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// SchedulerConfig holds refresh cadences. Zero values get defaults.
type SchedulerConfig struct {
	PriorityInterval time.Duration // priority-1 refresh cadence, default 15m
	FullInterval     time.Duration // full registry refresh cadence, default 1h
}

// NewScheduler creates a scheduler driving the given fetcher
func NewScheduler(f *Fetcher, cfg SchedulerConfig) *Scheduler {
	if cfg.PriorityInterval == 0 {
		cfg.PriorityInterval = 15 * time.Minute
	}
	if cfg.FullInterval == 0 {
		cfg.FullInterval = time.Hour
	}
	return &Scheduler{
		fetcher:          f,
		priorityInterval: cfg.PriorityInterval,
		fullInterval:     cfg.FullInterval,
	}
}

// Start begins the refresh loops
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.priorityWorker(ctx)

	s.wg.Add(1)
	go s.fullWorker(ctx)

	lgr.Printf("[INFO] scheduler started, priority-1 every %v, full refresh every %v",
		s.priorityInterval, s.fullInterval)
}

// Stop gracefully stops the refresh loops
func (s *Scheduler) Stop() {
	lgr.Printf("[INFO] stopping scheduler...")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	lgr.Printf("[INFO] scheduler stopped")
}

// priorityWorker refreshes priority-1 sources, running once immediately
func (s *Scheduler) priorityWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.priorityInterval)
	defer ticker.Stop()

	items := s.fetcher.FetchPriority1(ctx)
	lgr.Printf("[INFO] initial priority-1 refresh yielded %d items", len(items))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			items := s.fetcher.FetchPriority1(ctx)
			lgr.Printf("[DEBUG] priority-1 refresh yielded %d items", len(items))
		}
	}
}

// fullWorker refreshes every registered source
func (s *Scheduler) fullWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.fullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			items := s.fetcher.FetchAll(ctx)
			lgr.Printf("[DEBUG] full refresh yielded %d items", len(items))
		}
	}
}
