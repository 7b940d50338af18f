package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/queue"
	"github.com/taskmesh/taskmesh/store"
)

// Sweeper drains the retry list and requeues jobs whose backoff has elapsed.
// Records that are not yet due go back onto the list and the sweeper sleeps
// before looking again, so a single not-due record does not spin.
type Sweeper struct {
	store  store.Store
	queue  queue.Queue
	logger logging.Logger

	pollInterval time.Duration
}

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	// PollInterval is how long to sleep after finding no due records.
	PollInterval time.Duration
	Logger       logging.Logger
}

// NewSweeper creates a retry sweeper over the given store and queue.
func NewSweeper(s store.Store, q queue.Queue, optFns ...func(o *SweeperOptions)) *Sweeper {
	opts := SweeperOptions{
		PollInterval: 5 * time.Second,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Sweeper{store: s, queue: q, logger: opts.Logger, pollInterval: opts.PollInterval}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("retry sweeper started", "poll_interval", s.pollInterval)
	for {
		requeued, err := s.Sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("retry sweeper stopped")
				return ctx.Err()
			}
			s.logger.Error("sweep failed", "error", err)
		}
		if requeued == 0 {
			select {
			case <-ctx.Done():
				s.logger.Info("retry sweeper stopped")
				return ctx.Err()
			case <-time.After(s.pollInterval):
			}
		}
	}
}

// Sweep performs one pass over the retry list and returns how many jobs it
// requeued. It stops at the first not-due record, pushing it back, since the
// list is not ordered by due time and a full rotation per pass is enough.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	length, err := s.queue.Len(ctx, queue.RetryList)
	if err != nil {
		return 0, fmt.Errorf("retry list length: %w", err)
	}

	requeued := 0
	for i := int64(0); i < length; i++ {
		value, ok, err := s.queue.Pop(ctx, queue.RetryList, 0)
		if err != nil {
			return requeued, fmt.Errorf("pop retry record: %w", err)
		}
		if !ok {
			break
		}

		rec, err := queue.DecodeRetryRecord(value)
		if err != nil {
			s.logger.Warn("dropping malformed retry entry", "error", err)
			continue
		}

		if time.Now().Before(rec.RetryAt) {
			if pushErr := s.queue.Push(ctx, queue.RetryList, value); pushErr != nil {
				return requeued, fmt.Errorf("push back retry record: %w", pushErr)
			}
			continue
		}

		if err := s.requeue(ctx, rec); err != nil {
			s.logger.Error("requeue failed", "job_id", rec.JobID, "error", err)
			if pushErr := s.queue.Push(ctx, queue.RetryList, value); pushErr != nil {
				return requeued, fmt.Errorf("push back retry record: %w", pushErr)
			}
			continue
		}
		requeued++
	}
	return requeued, nil
}

// requeue returns a due job to pending and pushes its id onto the inbox. The
// job row is re-read first so stale envelopes for jobs that moved on (for
// example cancelled or manually requeued ones) are dropped.
func (s *Sweeper) requeue(ctx context.Context, rec queue.RetryRecord) error {
	job, err := s.store.GetJob(ctx, rec.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("retry record for unknown job dropped", "job_id", rec.JobID)
			return nil
		}
		return err
	}
	if job.Status != core.StatusRetrying {
		s.logger.Debug("retry record dropped, job no longer retrying",
			"job_id", rec.JobID, "status", job.Status)
		return nil
	}

	if err := s.store.SetJobStatus(ctx, rec.JobID, core.StatusPending); err != nil {
		return fmt.Errorf("reset job %d to pending: %w", rec.JobID, err)
	}
	if err := s.queue.Push(ctx, queue.Inbox, fmt.Sprintf("%d", rec.JobID)); err != nil {
		return fmt.Errorf("push job %d to inbox: %w", rec.JobID, err)
	}

	s.logger.Info("retry requeued", "job_id", rec.JobID, "retry_count", rec.RetryCount)
	return nil
}
