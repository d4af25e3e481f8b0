// ============================================================================
// Submission Tracker - Job State Machine
// ============================================================================
//
// Package: internal/jobmanager
// File: job_manager.go
// Purpose: Track every admitted request from queueing to its verdict
//
// State Machine:
//   Queued
//      ↓ MarkRunning()       (admission slot acquired)
//   Running
//      ↓ MarkCompleted()     (a JobResult was produced, any verdict)
//      ↓ MarkFailed()        (the pipeline itself failed)
//   Completed / Failed
//
// Retention:
//   Active jobs are always kept. Finished jobs are kept in arrival order of
//   completion and the oldest is evicted once more than `retention` are held.
//   Completed/failed counters are cumulative and survive eviction.
//
// Concurrency:
//   sync.RWMutex protects all state; Get returns copies.
//
// ============================================================================

package jobmanager

import (
	"errors"
	"sync"
	"time"

	"github.com/ChuLiYu/judge-engine/pkg/types"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrDuplicateJob job ID already tracked
	ErrDuplicateJob = errors.New("job already exists")
	// ErrJobNotFound job unknown or evicted
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition status change not allowed from the current status
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// DefaultRetention is the number of finished jobs kept for lookup.
const DefaultRetention = 1000

// Stats summarises tracker contents.
type Stats struct {
	Queued    int    `json:"queued"`
	Running   int    `json:"running"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Retained  int    `json:"retained"`
}

// JobManager tracks jobs.
type JobManager struct {
	mu        sync.RWMutex
	jobs      map[types.JobID]*types.Job
	finished  []types.JobID // completion order, oldest first
	retention int

	queued    int
	running   int
	completed uint64
	failed    uint64

	now func() time.Time
}

// NewJobManager creates a tracker keeping at most retention finished jobs.
func NewJobManager(retention int) *JobManager {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &JobManager{
		jobs:      make(map[types.JobID]*types.Job),
		retention: retention,
		now:       time.Now,
	}
}

// Enqueue records a new job in the queued status.
func (jm *JobManager) Enqueue(job types.Job) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if _, exists := jm.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}
	job.Status = types.StatusQueued
	job.QueuedAt = jm.now().UnixMilli()
	job.StartedAt, job.FinishedAt = 0, 0
	jm.jobs[job.ID] = &job
	jm.queued++
	return nil
}

// MarkRunning moves a queued job to running.
func (jm *JobManager) MarkRunning(id types.JobID) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, ok := jm.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != types.StatusQueued {
		return ErrInvalidTransition
	}
	job.Status = types.StatusRunning
	job.StartedAt = jm.now().UnixMilli()
	jm.queued--
	jm.running++
	return nil
}

// MarkCompleted records the verdict of a running job.
func (jm *JobManager) MarkCompleted(id types.JobID, verdict types.Verdict) error {
	return jm.finish(id, types.StatusCompleted, verdict, "")
}

// MarkFailed records a pipeline failure of a running job.
func (jm *JobManager) MarkFailed(id types.JobID, errMsg string) error {
	return jm.finish(id, types.StatusFailed, types.VerdictRE, errMsg)
}

func (jm *JobManager) finish(id types.JobID, status types.JobStatus, verdict types.Verdict, errMsg string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, ok := jm.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != types.StatusRunning {
		return ErrInvalidTransition
	}
	job.Status = status
	job.Verdict = verdict
	job.Error = errMsg
	job.FinishedAt = jm.now().UnixMilli()
	jm.running--
	if status == types.StatusCompleted {
		jm.completed++
	} else {
		jm.failed++
	}

	jm.finished = append(jm.finished, id)
	for len(jm.finished) > jm.retention {
		delete(jm.jobs, jm.finished[0])
		jm.finished = jm.finished[1:]
	}
	return nil
}

// Get returns a copy of the job.
func (jm *JobManager) Get(id types.JobID) (types.Job, error) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, ok := jm.jobs[id]
	if !ok {
		return types.Job{}, ErrJobNotFound
	}
	return *job, nil
}

// Stats returns current counts.
func (jm *JobManager) Stats() Stats {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	return Stats{
		Queued:    jm.queued,
		Running:   jm.running,
		Completed: jm.completed,
		Failed:    jm.failed,
		Retained:  len(jm.finished),
	}
}
