// ============================================================================
// Admission Controller - Engine-Wide Concurrency Limiter
// ============================================================================
//
// Package: internal/controller
// File: controller.go
// Purpose: Bound how many submissions execute at once and queue the rest FIFO
//
// Design:
//   A weighted semaphore with MaxConcurrent permits guards task execution.
//   semaphore.Weighted serves blocked Acquire calls in call order, so the
//   queue is FIFO without any hand-written bookkeeping.
//
//   Do(ctx, job, task)
//     1. Track the job as queued          (jobmanager)
//     2. Acquire a permit                 (blocks while MaxConcurrent are running)
//     3. Mark running, run task           (panics become errors)
//     4. Release the permit               (next queued job starts)
//     5. Mark completed/failed, metrics
//
// Cancellation:
//   None. A queued job waits for its slot even if the caller goes away, and a
//   running job runs to completion. Stop() only refuses new submissions and
//   waits for admitted ones to drain.
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ChuLiYu/judge-engine/internal/jobmanager"
	"github.com/ChuLiYu/judge-engine/internal/metrics"
	"github.com/ChuLiYu/judge-engine/pkg/types"
)

var log = slog.Default()

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrStopped controller no longer admits submissions
	ErrStopped = errors.New("controller is stopped")
	// ErrTaskPanic task panicked while executing
	ErrTaskPanic = errors.New("task panicked")
)

// DefaultMaxConcurrent is the admission limit when none is configured.
const DefaultMaxConcurrent = 2

// ============================================================================
// Types
// ============================================================================

// Config Controller configuration
type Config struct {
	MaxConcurrent int
	Retention     int // finished jobs kept by the tracker
}

// Task is the work admitted for one submission.
type Task func(ctx context.Context) (*types.JobResult, error)

// Stats admission counters.
type Stats struct {
	Active        int `json:"activeJobs"`
	Queued        int `json:"queueLength"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Controller admission controller
type Controller struct {
	sem     *semaphore.Weighted
	max     int
	active  atomic.Int64
	queued  atomic.Int64
	jobs    *jobmanager.JobManager
	metrics *metrics.Collector

	mu      sync.Mutex
	stopped bool
	inWork  sync.WaitGroup
}

// NewController creates a controller. m may be nil.
func NewController(cfg Config, m *metrics.Collector) *Controller {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Controller{
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		max:     cfg.MaxConcurrent,
		jobs:    jobmanager.NewJobManager(cfg.Retention),
		metrics: m,
	}
}

// ============================================================================
// Admission
// ============================================================================

// Do admits task for sub, waits for a slot, runs it and returns its result.
// The returned JobID is valid even when err != nil.
func (c *Controller) Do(ctx context.Context, sub types.Submission, task Task) (types.JobID, *types.JobResult, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return "", nil, ErrStopped
	}
	c.inWork.Add(1)
	c.mu.Unlock()
	defer c.inWork.Done()

	id := types.JobID(uuid.NewString())
	if err := c.jobs.Enqueue(types.Job{ID: id, SubmissionID: sub.ID, Language: sub.Language}); err != nil {
		return id, nil, fmt.Errorf("track job: %w", err)
	}
	c.metrics.RecordSubmitted()

	queuedAt := time.Now()
	c.queued.Add(1)
	c.updateGauges()
	log.Info("Job queued",
		"job", id,
		"submission", sub.ID,
		"language", sub.Language,
		"active", c.active.Load(),
		"queue", c.queued.Load())

	// Admitted jobs run to completion whatever happens to the caller.
	ctx = context.WithoutCancel(ctx)
	_ = c.sem.Acquire(ctx, 1)
	c.queued.Add(-1)
	c.active.Add(1)
	c.updateGauges()
	_ = c.jobs.MarkRunning(id)
	log.Debug("Job admitted", "job", id, "waited", time.Since(queuedAt))

	result, err := c.run(ctx, task)

	c.sem.Release(1)
	c.active.Add(-1)
	c.updateGauges()

	elapsed := time.Since(queuedAt)
	if err != nil {
		_ = c.jobs.MarkFailed(id, err.Error())
		c.metrics.RecordVerdict(string(types.VerdictRE), elapsed)
		log.Error("Job failed", "job", id, "duration", elapsed, "error", err)
		return id, nil, err
	}
	_ = c.jobs.MarkCompleted(id, result.Verdict)
	c.metrics.RecordVerdict(string(result.Verdict), elapsed)
	log.Info("Job finished",
		"job", id,
		"verdict", result.Verdict,
		"passed", result.PassedTestCases,
		"total", result.TotalTestCases,
		"duration", elapsed)
	return id, result, nil
}

func (c *Controller) run(ctx context.Context, task Task) (result *types.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	result, err = task(ctx)
	if err == nil && result == nil {
		err = errors.New("task returned no result")
	}
	return result, err
}

func (c *Controller) updateGauges() {
	c.metrics.UpdateAdmission(int(c.active.Load()), int(c.queued.Load()))
}

// ============================================================================
// Queries / Shutdown
// ============================================================================

// Stats returns the admission counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Active:        int(c.active.Load()),
		Queued:        int(c.queued.Load()),
		MaxConcurrent: c.max,
	}
}

// Job returns the tracker record of id.
func (c *Controller) Job(id types.JobID) (types.Job, error) {
	return c.jobs.Get(id)
}

// JobStats returns tracker counters.
func (c *Controller) JobStats() jobmanager.Stats {
	return c.jobs.Stats()
}

// Stop refuses new submissions and waits until admitted ones finish or ctx
// expires. It is idempotent.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inWork.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain admitted jobs: %w", ctx.Err())
	}
}
