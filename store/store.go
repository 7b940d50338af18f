// Package store is the persistent record store for jobs, agents and system
// configuration. Job rows are the source of truth for job state; every status
// transition is a single-row atomic update keyed by primary key. The Postgres
// implementation lives in this package; consumers depend on the Store
// interface so tests can substitute the in-memory fake.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/taskmesh/taskmesh/core"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the record-store contract shared by the router, workers and the
// failure-recovery subsystem.
type Store interface {
	// CreateJob persists a new job and returns its assigned id. Used by the
	// intake boundary and tests; the engine itself only mutates existing rows.
	CreateJob(ctx context.Context, job *core.Job) (int64, error)

	// GetJob loads one job by id.
	GetJob(ctx context.Context, id int64) (*core.Job, error)

	// SetJobStatus updates only the lifecycle status.
	SetJobStatus(ctx context.Context, id int64, status core.JobStatus) error

	// MarkJobRunning claims the job for an agent: status running plus
	// assigned_agent_id in one update.
	MarkJobRunning(ctx context.Context, id, agentID int64) error

	// MarkJobCompleted records the terminal success result.
	MarkJobCompleted(ctx context.Context, id int64, result json.RawMessage) error

	// MarkJobFailed records a non-retryable failure (configuration errors).
	MarkJobFailed(ctx context.Context, id int64, reason string) error

	// AssignJob records a routing decision without touching status.
	AssignJob(ctx context.Context, jobID, agentID int64) error

	// ScheduleJobRetry records retry bookkeeping: retry_count, last_error,
	// next_retry_at and status retrying in one update.
	ScheduleJobRetry(ctx context.Context, id int64, retryCount int, lastError string, nextRetryAt time.Time) error

	// MarkJobDeadLetter records the terminal dead-letter transition.
	MarkJobDeadLetter(ctx context.Context, id int64, reason string) error

	// ResetJobForRequeue clears retry bookkeeping and the agent assignment
	// and returns the job to pending, so the router picks a fresh agent.
	// Only the manual dead-letter recovery path uses it.
	ResetJobForRequeue(ctx context.Context, id int64) error

	// GetAgent loads one agent by id.
	GetAgent(ctx context.Context, id int64) (*core.Agent, error)

	// FindIdleAgent selects the best assignable agent for a job type:
	// provider preference first, then priority descending. Returns
	// ErrNotFound when no idle matching agent exists.
	FindIdleAgent(ctx context.Context, agentType, preferredProvider string) (*core.Agent, error)

	// Heartbeat announces worker liveness: last_heartbeat, status and the
	// in-flight job id.
	Heartbeat(ctx context.Context, agentID int64, status core.AgentStatus, currentJobID *int64) error

	// ConfigValue looks up a system configuration override by key, returning
	// ErrNotFound when the key is absent.
	ConfigValue(ctx context.Context, key string) (string, error)
}
