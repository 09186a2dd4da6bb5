// Package worker runs the periodic background jobs: auto-sync, snapshots
// and metadata enrichment.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrUnknownJob is returned by RunOnce for a name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// Job is a named task run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	// Immediate runs the job once on Start instead of waiting a full interval.
	Immediate bool
	Run       func(ctx context.Context) error
}

// Scheduler runs registered jobs, each on its own ticker. A job never
// overlaps with itself.
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// runMu serialises executions per job between the loop, RunOnce and
	// Exclusive.
	runMu map[string]*sync.Mutex
}

// NewScheduler creates a scheduler for jobs. Jobs without a Run func or
// with a non-positive interval are skipped.
func NewScheduler(logger *slog.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		logger: logger,
		runMu:  make(map[string]*sync.Mutex),
	}
	for _, j := range jobs {
		if j.Run == nil || j.Interval <= 0 {
			logger.Warn("skipping job", "job", j.Name, "interval", j.Interval)
			continue
		}
		s.jobs = append(s.jobs, j)
		s.runMu[j.Name] = &sync.Mutex{}
	}
	return s
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

// Start begins running every job in the background
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}

	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop signals every job loop to exit and waits for in-flight runs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce runs the named job now, waiting for any in-flight run of it.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.Name == name {
			return s.execute(ctx, j)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// Exclusive runs fn while holding the named job's lock, so fn never
// overlaps a run of that job. fn runs unguarded when no such job exists.
func (s *Scheduler) Exclusive(ctx context.Context, name string, fn func(context.Context) error) error {
	if mu, ok := s.runMu[name]; ok {
		mu.Lock()
		defer mu.Unlock()
	}
	return fn(ctx)
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	defer s.wg.Done()

	if j.Immediate {
		_ = s.execute(ctx, j)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.execute(ctx, j)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j Job) error {
	start := time.Now()
	err := s.Exclusive(ctx, j.Name, j.Run)
	if err != nil {
		s.logger.Error("job failed",
			"job", j.Name,
			"duration", time.Since(start),
			"error", err,
		)
		return err
	}

	s.logger.Info("job completed",
		"job", j.Name,
		"duration", time.Since(start),
	)
	return nil
}
