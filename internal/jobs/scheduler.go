// Package jobs runs the worker's background maintenance loops.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one background task. Runs are serialized by the scheduler.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler is responsible for running background jobs
type Scheduler struct {
	logger   *slog.Logger
	interval time.Duration
	jobs     []Job

	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	ticker *time.Ticker
	wg     sync.WaitGroup
}

// NewScheduler builds a scheduler ticking at the given interval.
func NewScheduler(interval time.Duration, logger *slog.Logger, jobs ...Job) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:   logger,
		interval: interval,
		jobs:     jobs,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(job Job) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running",
			slog.String("job", job.Name()))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", job.Name()),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := job.Run(s.ctx); err != nil {
		s.logger.Error("Error executing job",
			slog.String("job", job.Name()),
			slog.Any("error", err))
	}
}

// Start begins all background jobs
func (s *Scheduler) Start() {
	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return
	}
	s.isRunning = true

	s.logger.Info("Starting background jobs...",
		slog.Duration("interval", s.interval),
		slog.Int("jobs", len(s.jobs)))

	s.ticker = time.NewTicker(s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Run initial execution
		for _, job := range s.jobs {
			s.executeJobSafely(job)
		}

		for {
			select {
			case <-s.ticker.C:
				for _, job := range s.jobs {
					s.executeJobSafely(job)
				}
			case <-s.ctx.Done():
				s.logger.Info("Background jobs stopped")
				return
			}
		}
	}()
}

// Stop halts all background jobs and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	if !s.isRunning {
		return
	}
	s.logger.Info("Stopping background jobs...")

	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.cancel()
	s.wg.Wait()
	s.isRunning = false
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}
