package recovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/internal/testutil"
	"github.com/taskmesh/taskmesh/queue"
)

func TestPolicyBackoffGrowsMonotonically(t *testing.T) {
	p := NewPolicy(60 * time.Second)

	assert.Equal(t, 60*time.Second, p.NextRetryDelay(0))
	assert.Equal(t, 120*time.Second, p.NextRetryDelay(1))
	assert.Equal(t, 240*time.Second, p.NextRetryDelay(2))

	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := p.NextRetryDelay(i)
		assert.Greater(t, d, prev)
		prev = d
	}
}

func TestPolicyShouldRetry(t *testing.T) {
	p := NewPolicy(time.Second)

	job := &core.Job{RetryCount: 0, MaxRetries: 3}
	assert.True(t, p.ShouldRetry(job))

	job.RetryCount = 2
	assert.True(t, p.ShouldRetry(job))

	job.RetryCount = 3
	assert.False(t, p.ShouldRetry(job))
}

func TestManagerSchedulesRetryWithBudgetLeft(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMemStore()
	q := testutil.NewMemQueue()
	m := NewManager(st, q, func(o *ManagerOptions) {
		o.Policy = NewPolicy(time.Minute)
	})

	job := &core.Job{Type: "implement_feature", MaxRetries: 3}
	id, err := st.CreateJob(ctx, job)
	require.NoError(t, err)

	before := time.Now()
	require.NoError(t, m.HandleFailure(ctx, job, "backend timeout"))

	stored, err := st.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "backend timeout", *stored.LastError)
	require.NotNil(t, stored.NextRetryAt)
	assert.WithinDuration(t, before.Add(time.Minute), *stored.NextRetryAt, 5*time.Second)

	items := q.Items(queue.RetryList)
	require.Len(t, items, 1)
	rec, err := queue.DecodeRetryRecord(items[0])
	require.NoError(t, err)
	assert.Equal(t, id, rec.JobID)
	assert.Equal(t, 1, rec.RetryCount)
}

func TestManagerMovesExhaustedJobToDeadLetter(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMemStore()
	q := testutil.NewMemQueue()
	m := NewManager(st, q)

	job := &core.Job{Type: "create_tests", MaxRetries: 2, RetryCount: 2}
	id, err := st.CreateJob(ctx, job)
	require.NoError(t, err)
	job.RetryCount = 2
	job.MaxRetries = 2

	require.NoError(t, m.HandleFailure(ctx, job, "still failing"))

	stored, err := st.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeadLetter, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Equal(t, "Max retries (2) exceeded. Last error: still failing", *stored.FailureReason)

	items := q.Items(queue.DeadLetter)
	require.Len(t, items, 1)
	rec, err := queue.DecodeDeadLetterRecord(items[0])
	require.NoError(t, err)
	assert.Equal(t, id, rec.JobID)
	assert.Equal(t, "create_tests", rec.Type)
	assert.Contains(t, rec.FailureReason, "Max retries (2) exceeded")

	// No retry envelope was produced.
	n, err := q.Len(ctx, queue.RetryList)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManagerRetryDeadLetterJob(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMemStore()
	q := testutil.NewMemQueue()
	m := NewManager(st, q)

	job := &core.Job{Type: "implement_feature", MaxRetries: 1}
	id, err := st.CreateJob(ctx, job)
	require.NoError(t, err)
	require.NoError(t, st.MarkJobRunning(ctx, id, 7))
	require.NoError(t, st.MarkJobDeadLetter(ctx, id, "exhausted"))

	require.NoError(t, m.RetryDeadLetterJob(ctx, id))

	stored, err := st.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, stored.Status)
	assert.Zero(t, stored.RetryCount)
	assert.Nil(t, stored.FailureReason)
	// The old assignment is dropped so the router picks a fresh agent.
	assert.Nil(t, stored.AssignedAgentID)

	items := q.Items(queue.Inbox)
	require.Len(t, items, 1)
	assert.Equal(t, fmt.Sprintf("%d", id), items[0])
}

func TestManagerRetryDeadLetterJobRejectsLiveJobs(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMemStore()
	q := testutil.NewMemQueue()
	m := NewManager(st, q)

	job := &core.Job{Type: "implement_feature"}
	id, err := st.CreateJob(ctx, job)
	require.NoError(t, err)

	err = m.RetryDeadLetterJob(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not dead_letter")

	n, lenErr := q.Len(ctx, queue.Inbox)
	require.NoError(t, lenErr)
	assert.Zero(t, n)
}

func TestManagerListDeadLetterPreservesQueue(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMemStore()
	q := testutil.NewMemQueue()
	m := NewManager(st, q)

	for i := 1; i <= 3; i++ {
		rec := queue.DeadLetterRecord{JobID: int64(i), Type: "implement_feature", MovedAt: time.Now()}
		encoded, err := rec.Encode()
		require.NoError(t, err)
		require.NoError(t, q.Push(ctx, queue.DeadLetter, encoded))
	}

	records, err := m.ListDeadLetter(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, int64(1), records[0].JobID)

	// Listing rotates but does not consume.
	n, err := q.Len(ctx, queue.DeadLetter)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
