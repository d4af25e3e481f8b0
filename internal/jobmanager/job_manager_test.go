package jobmanager

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/judge-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Basic Lifecycle
// ============================================================================

func TestEnqueue(t *testing.T) {
	jm := NewJobManager(10)

	require.NoError(t, jm.Enqueue(types.Job{ID: "job-1", SubmissionID: "sub-1", Language: types.LangPython}))

	job, err := jm.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, job.Status)
	assert.Equal(t, types.SubmissionID("sub-1"), job.SubmissionID)
	assert.NotZero(t, job.QueuedAt)
	assert.Zero(t, job.StartedAt)
	assert.Equal(t, Stats{Queued: 1}, jm.Stats())
}

func TestEnqueueDuplicate(t *testing.T) {
	jm := NewJobManager(10)
	require.NoError(t, jm.Enqueue(types.Job{ID: "job-1"}))
	assert.ErrorIs(t, jm.Enqueue(types.Job{ID: "job-1"}), ErrDuplicateJob)
}

func TestCompletedLifecycle(t *testing.T) {
	jm := NewJobManager(10)
	now := time.UnixMilli(1_700_000_000_000)
	jm.now = func() time.Time { return now }

	require.NoError(t, jm.Enqueue(types.Job{ID: "job-1"}))
	now = now.Add(100 * time.Millisecond)
	require.NoError(t, jm.MarkRunning("job-1"))
	assert.Equal(t, Stats{Running: 1}, jm.Stats())

	now = now.Add(time.Second)
	require.NoError(t, jm.MarkCompleted("job-1", types.VerdictWA))

	job, err := jm.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, job.Status)
	assert.Equal(t, types.VerdictWA, job.Verdict)
	assert.True(t, job.Finished())
	assert.Equal(t, int64(100), job.StartedAt-job.QueuedAt)
	assert.Equal(t, int64(1000), job.FinishedAt-job.StartedAt)
	assert.Equal(t, Stats{Completed: 1, Retained: 1}, jm.Stats())
}

func TestFailedLifecycle(t *testing.T) {
	jm := NewJobManager(10)
	require.NoError(t, jm.Enqueue(types.Job{ID: "job-1"}))
	require.NoError(t, jm.MarkRunning("job-1"))
	require.NoError(t, jm.MarkFailed("job-1", "workspace: permission denied"))

	job, err := jm.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, job.Status)
	assert.Equal(t, types.VerdictRE, job.Verdict)
	assert.Equal(t, "workspace: permission denied", job.Error)
	assert.Equal(t, uint64(1), jm.Stats().Failed)
}

func TestInvalidTransitions(t *testing.T) {
	jm := NewJobManager(10)

	assert.ErrorIs(t, jm.MarkRunning("missing"), ErrJobNotFound)
	assert.ErrorIs(t, jm.MarkCompleted("missing", types.VerdictAC), ErrJobNotFound)

	require.NoError(t, jm.Enqueue(types.Job{ID: "job-1"}))
	assert.ErrorIs(t, jm.MarkCompleted("job-1", types.VerdictAC), ErrInvalidTransition, "queued jobs cannot finish")

	require.NoError(t, jm.MarkRunning("job-1"))
	assert.ErrorIs(t, jm.MarkRunning("job-1"), ErrInvalidTransition)

	require.NoError(t, jm.MarkCompleted("job-1", types.VerdictAC))
	assert.ErrorIs(t, jm.MarkFailed("job-1", "late"), ErrInvalidTransition)
}

// ============================================================================
// Retention
// ============================================================================

func TestRetentionEvictsOldestFinished(t *testing.T) {
	jm := NewJobManager(3)

	// One job stays running the whole time and must never be evicted.
	require.NoError(t, jm.Enqueue(types.Job{ID: "long"}))
	require.NoError(t, jm.MarkRunning("long"))

	for i := 0; i < 5; i++ {
		id := types.JobID(fmt.Sprintf("job-%d", i))
		require.NoError(t, jm.Enqueue(types.Job{ID: id}))
		require.NoError(t, jm.MarkRunning(id))
		require.NoError(t, jm.MarkCompleted(id, types.VerdictAC))
	}

	for _, id := range []types.JobID{"job-0", "job-1"} {
		_, err := jm.Get(id)
		assert.ErrorIs(t, err, ErrJobNotFound, string(id))
	}
	for _, id := range []types.JobID{"job-2", "job-3", "job-4", "long"} {
		_, err := jm.Get(id)
		assert.NoError(t, err, string(id))
	}

	s := jm.Stats()
	assert.Equal(t, uint64(5), s.Completed, "counters survive eviction")
	assert.Equal(t, 3, s.Retained)
	assert.Equal(t, 1, s.Running)
}

func TestDefaultRetention(t *testing.T) {
	assert.Equal(t, DefaultRetention, NewJobManager(0).retention)
}

// ============================================================================
// Concurrency
// ============================================================================

func TestConcurrentLifecycle(t *testing.T) {
	jm := NewJobManager(50)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := types.JobID(fmt.Sprintf("job-%d", i))
			assert.NoError(t, jm.Enqueue(types.Job{ID: id}))
			assert.NoError(t, jm.MarkRunning(id))
			if i%4 == 0 {
				assert.NoError(t, jm.MarkFailed(id, "boom"))
			} else {
				assert.NoError(t, jm.MarkCompleted(id, types.VerdictAC))
			}
		}(i)
	}
	wg.Wait()

	s := jm.Stats()
	assert.Equal(t, 0, s.Queued)
	assert.Equal(t, 0, s.Running)
	assert.Equal(t, uint64(75), s.Completed)
	assert.Equal(t, uint64(25), s.Failed)
	assert.Equal(t, 50, s.Retained)
}
