package recovery

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/internal/testutil"
	"github.com/taskmesh/taskmesh/queue"
)

func pushRetry(t *testing.T, q *testutil.MemQueue, rec queue.RetryRecord) {
	t.Helper()
	encoded, err := rec.Encode()
	require.NoError(t, err)
	require.NoError(t, q.Push(context.Background(), queue.RetryList, encoded))
}

func TestSweeperRequeuesDueJob(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMemStore()
	q := testutil.NewMemQueue()

	job := &core.Job{Type: "implement_feature", MaxRetries: 3}
	id, err := st.CreateJob(ctx, job)
	require.NoError(t, err)
	require.NoError(t, st.ScheduleJobRetry(ctx, id, 1, "boom", time.Now().Add(-time.Second)))

	pushRetry(t, q, queue.RetryRecord{JobID: id, RetryAt: time.Now().Add(-time.Second), RetryCount: 1})

	s := NewSweeper(st, q)
	requeued, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	stored, err := st.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, stored.Status)

	items := q.Items(queue.Inbox)
	require.Len(t, items, 1)
	assert.Equal(t, strconv.FormatInt(id, 10), items[0])

	n, err := q.Len(ctx, queue.RetryList)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeperPushesBackNotDueJob(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMemStore()
	q := testutil.NewMemQueue()

	job := &core.Job{Type: "implement_feature", MaxRetries: 3}
	id, err := st.CreateJob(ctx, job)
	require.NoError(t, err)
	require.NoError(t, st.ScheduleJobRetry(ctx, id, 1, "boom", time.Now().Add(time.Hour)))

	pushRetry(t, q, queue.RetryRecord{JobID: id, RetryAt: time.Now().Add(time.Hour), RetryCount: 1})

	s := NewSweeper(st, q)
	requeued, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued)

	// The record survives for a later pass and the job stays retrying.
	n, err := q.Len(ctx, queue.RetryList)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err := st.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRetrying, stored.Status)

	inbox, err := q.Len(ctx, queue.Inbox)
	require.NoError(t, err)
	assert.Zero(t, inbox)
}

func TestSweeperDropsStaleRecords(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMemStore()
	q := testutil.NewMemQueue()

	// Completed job: the envelope is stale and must not resurrect it.
	job := &core.Job{Type: "implement_feature", MaxRetries: 3}
	id, err := st.CreateJob(ctx, job)
	require.NoError(t, err)
	require.NoError(t, st.MarkJobCompleted(ctx, id, nil))
	pushRetry(t, q, queue.RetryRecord{JobID: id, RetryAt: time.Now().Add(-time.Second), RetryCount: 1})

	// Unknown job id.
	pushRetry(t, q, queue.RetryRecord{JobID: 9999, RetryAt: time.Now().Add(-time.Second), RetryCount: 1})

	// Malformed entry.
	require.NoError(t, q.Push(ctx, queue.RetryList, "not json"))

	s := NewSweeper(st, q)
	requeued, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued)

	n, err := q.Len(ctx, queue.RetryList)
	require.NoError(t, err)
	assert.Zero(t, n)

	inbox, err := q.Len(ctx, queue.Inbox)
	require.NoError(t, err)
	assert.Zero(t, inbox)

	stored, err := st.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, stored.Status)
}
