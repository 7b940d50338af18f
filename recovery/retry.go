// Package recovery owns the failure path of the engine: the retry policy with
// exponential backoff, the dead-letter queue for exhausted jobs, the sweeper
// that requeues due retries and the circuit breaker protecting backend calls.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/metrics"
	"github.com/taskmesh/taskmesh/queue"
	"github.com/taskmesh/taskmesh/store"
)

// DefaultBaseDelay is the backoff base for the first retry.
const DefaultBaseDelay = 60 * time.Second

// Policy computes retry eligibility and backoff delays.
type Policy struct {
	// BaseDelay is the delay before the first retry. Each subsequent retry
	// doubles it; the growth is uncapped.
	BaseDelay time.Duration
}

// NewPolicy creates a policy, substituting DefaultBaseDelay for a
// non-positive base.
func NewPolicy(baseDelay time.Duration) Policy {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return Policy{BaseDelay: baseDelay}
}

// ShouldRetry reports whether a failed job has retry budget left.
func (p Policy) ShouldRetry(job *core.Job) bool {
	return job.RetryCount < job.MaxRetries
}

// NextRetryDelay returns the backoff delay for a given retry count:
// base * 2^retryCount, so the first retry waits the base delay.
func (p Policy) NextRetryDelay(retryCount int) time.Duration {
	return p.BaseDelay * time.Duration(int64(1)<<uint(retryCount))
}

// Manager applies the retry policy to failed jobs: it schedules retries onto
// the retry list and moves exhausted jobs to the dead-letter queue. The job
// row is updated before the envelope is pushed; the reverse order could hand
// the sweeper an envelope for a row that never left running. A crash between
// the two leaves a retrying row with no envelope, which stays parked until an
// operator resets its status.
type Manager struct {
	store   store.Store
	queue   queue.Queue
	policy  Policy
	logger  logging.Logger
	metrics metrics.Recorder
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Policy  Policy
	Logger  logging.Logger
	Metrics metrics.Recorder
}

// NewManager creates a retry manager over the given store and queue.
func NewManager(s store.Store, q queue.Queue, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		Policy:  NewPolicy(DefaultBaseDelay),
		Logger:  logging.NoOpLogger{},
		Metrics: metrics.NoOpRecorder{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{store: s, queue: q, policy: opts.Policy, logger: opts.Logger, metrics: opts.Metrics}
}

// HandleFailure routes a failed job to either a scheduled retry or the
// dead-letter queue depending on its remaining retry budget.
func (m *Manager) HandleFailure(ctx context.Context, job *core.Job, errMsg string) error {
	if m.policy.ShouldRetry(job) {
		return m.ScheduleRetry(ctx, job, errMsg)
	}
	return m.MoveToDeadLetter(ctx, job, errMsg)
}

// ScheduleRetry increments the retry count, records the error and pushes a
// retry envelope due after the backoff delay.
func (m *Manager) ScheduleRetry(ctx context.Context, job *core.Job, errMsg string) error {
	delay := m.policy.NextRetryDelay(job.RetryCount)
	retryCount := job.RetryCount + 1
	retryAt := time.Now().Add(delay)

	if err := m.store.ScheduleJobRetry(ctx, job.ID, retryCount, errMsg, retryAt); err != nil {
		return fmt.Errorf("schedule retry for job %d: %w", job.ID, err)
	}

	rec := queue.RetryRecord{JobID: job.ID, RetryAt: retryAt, RetryCount: retryCount}
	encoded, err := rec.Encode()
	if err != nil {
		return err
	}
	if err := m.queue.Push(ctx, queue.RetryList, encoded); err != nil {
		return fmt.Errorf("push retry record for job %d: %w", job.ID, err)
	}

	m.metrics.IncRetry(job.Type)
	m.logger.Info("job scheduled for retry",
		"job_id", job.ID,
		"retry_count", retryCount,
		"max_retries", job.MaxRetries,
		"delay", delay,
		"error", errMsg,
	)
	return nil
}

// MoveToDeadLetter records the terminal dead-letter transition and pushes a
// diagnostic envelope for manual review.
func (m *Manager) MoveToDeadLetter(ctx context.Context, job *core.Job, errMsg string) error {
	reason := fmt.Sprintf("Max retries (%d) exceeded. Last error: %s", job.MaxRetries, errMsg)

	if err := m.store.MarkJobDeadLetter(ctx, job.ID, reason); err != nil {
		return fmt.Errorf("mark job %d dead letter: %w", job.ID, err)
	}

	rec := queue.DeadLetterRecord{
		JobID:         job.ID,
		Type:          job.Type,
		FailureReason: reason,
		RetryCount:    job.RetryCount,
		MovedAt:       time.Now().UTC(),
	}
	encoded, err := rec.Encode()
	if err != nil {
		return err
	}
	if err := m.queue.Push(ctx, queue.DeadLetter, encoded); err != nil {
		return fmt.Errorf("push dead letter record for job %d: %w", job.ID, err)
	}

	m.metrics.IncDeadLetter(job.Type)
	m.logger.Warn("job moved to dead letter queue",
		"job_id", job.ID,
		"retry_count", job.RetryCount,
		"reason", reason,
	)
	return nil
}

// ListDeadLetter returns up to limit dead-letter envelopes without consuming
// them. Entries that fail to decode are skipped.
func (m *Manager) ListDeadLetter(ctx context.Context, limit int) ([]queue.DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	length, err := m.queue.Len(ctx, queue.DeadLetter)
	if err != nil {
		return nil, err
	}

	// Each entry is popped and re-pushed, rotating the list once. Listing is
	// therefore not concurrency safe with another dead-letter consumer.
	records := make([]queue.DeadLetterRecord, 0, limit)
	for i := int64(0); i < length; i++ {
		value, ok, err := m.queue.Pop(ctx, queue.DeadLetter, 0)
		if err != nil {
			return records, err
		}
		if !ok {
			break
		}
		if pushErr := m.queue.Push(ctx, queue.DeadLetter, value); pushErr != nil {
			return records, pushErr
		}
		if len(records) >= limit {
			continue
		}
		rec, err := queue.DecodeDeadLetterRecord(value)
		if err != nil {
			m.logger.Warn("skipping malformed dead letter entry", "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// RetryDeadLetterJob manually resurrects a dead-letter job: it clears retry
// bookkeeping, returns the row to pending and pushes the id onto the inbox.
func (m *Manager) RetryDeadLetterJob(ctx context.Context, jobID int64) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %d: %w", jobID, err)
	}
	if job.Status != core.StatusDeadLetter {
		return fmt.Errorf("job %d is %s, not %s", jobID, job.Status, core.StatusDeadLetter)
	}
	if err := m.store.ResetJobForRequeue(ctx, jobID); err != nil {
		return fmt.Errorf("reset job %d: %w", jobID, err)
	}
	if err := m.queue.Push(ctx, queue.Inbox, fmt.Sprintf("%d", jobID)); err != nil {
		return fmt.Errorf("requeue job %d: %w", jobID, err)
	}
	m.logger.Info("dead letter job requeued", "job_id", jobID)
	return nil
}
