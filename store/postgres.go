package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmesh/taskmesh/core"
)

const jobColumns = `id, type, status, payload, result, assigned_agent_id, priority,
retry_count, max_retries, last_error, failure_reason, next_retry_at, created_at, updated_at`

const agentColumns = `id, name, type, provider, model, status, current_job_id,
last_heartbeat, priority, max_concurrent_jobs, maintenance_mode`

// Postgres implements Store over a pgx connection pool.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *pgxpool.Pool) *Postgres { return &Postgres{db: db} }

// CreateJob implements Store.
func (s *Postgres) CreateJob(ctx context.Context, job *core.Job) (int64, error) {
	status := job.Status
	if status == "" {
		status = core.StatusPending
	}
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = core.DefaultMaxRetries
	}
	var id int64
	err := s.db.QueryRow(ctx, `
		insert into jobs (type, status, payload, assigned_agent_id, priority, retry_count, max_retries, created_at, updated_at)
		values ($1, $2, $3, $4, $5, 0, $6, now(), now())
		returning id`,
		job.Type, status, job.Payload, job.AssignedAgentID, job.Priority, maxRetries,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	return id, nil
}

// GetJob implements Store.
func (s *Postgres) GetJob(ctx context.Context, id int64) (*core.Job, error) {
	row := s.db.QueryRow(ctx, `select `+jobColumns+` from jobs where id = $1`, id)
	return scanJob(row)
}

// SetJobStatus implements Store.
func (s *Postgres) SetJobStatus(ctx context.Context, id int64, status core.JobStatus) error {
	return s.execJob(ctx, id,
		`update jobs set status = $2, updated_at = now() where id = $1`, status)
}

// MarkJobRunning implements Store.
func (s *Postgres) MarkJobRunning(ctx context.Context, id, agentID int64) error {
	return s.execJob(ctx, id, `
		update jobs set status = $2, assigned_agent_id = $3, updated_at = now()
		where id = $1`, core.StatusRunning, agentID)
}

// MarkJobCompleted implements Store.
func (s *Postgres) MarkJobCompleted(ctx context.Context, id int64, result json.RawMessage) error {
	return s.execJob(ctx, id, `
		update jobs set status = $2, result = $3, updated_at = now()
		where id = $1`, core.StatusCompleted, result)
}

// MarkJobFailed implements Store.
func (s *Postgres) MarkJobFailed(ctx context.Context, id int64, reason string) error {
	return s.execJob(ctx, id, `
		update jobs set status = $2, last_error = $3, failure_reason = $3, updated_at = now()
		where id = $1`, core.StatusFailed, reason)
}

// AssignJob implements Store.
func (s *Postgres) AssignJob(ctx context.Context, jobID, agentID int64) error {
	return s.execJob(ctx, jobID,
		`update jobs set assigned_agent_id = $2, updated_at = now() where id = $1`, agentID)
}

// ScheduleJobRetry implements Store.
func (s *Postgres) ScheduleJobRetry(ctx context.Context, id int64, retryCount int, lastError string, nextRetryAt time.Time) error {
	return s.execJob(ctx, id, `
		update jobs set status = $2, retry_count = $3, last_error = $4, next_retry_at = $5, updated_at = now()
		where id = $1`, core.StatusRetrying, retryCount, lastError, nextRetryAt)
}

// MarkJobDeadLetter implements Store.
func (s *Postgres) MarkJobDeadLetter(ctx context.Context, id int64, reason string) error {
	return s.execJob(ctx, id, `
		update jobs set status = $2, failure_reason = $3, updated_at = now()
		where id = $1`, core.StatusDeadLetter, reason)
}

// ResetJobForRequeue implements Store.
func (s *Postgres) ResetJobForRequeue(ctx context.Context, id int64) error {
	return s.execJob(ctx, id, `
		update jobs set status = $2, retry_count = 0, last_error = null,
			failure_reason = null, next_retry_at = null,
			assigned_agent_id = null, updated_at = now()
		where id = $1`, core.StatusPending)
}

// GetAgent implements Store.
func (s *Postgres) GetAgent(ctx context.Context, id int64) (*core.Agent, error) {
	row := s.db.QueryRow(ctx, `select `+agentColumns+` from agents where id = $1`, id)
	return scanAgent(row)
}

// FindIdleAgent implements Store. Mirrors the routing preference order: an
// idle agent on the preferred provider wins outright; otherwise the highest
// priority idle agent of the right type.
func (s *Postgres) FindIdleAgent(ctx context.Context, agentType, preferredProvider string) (*core.Agent, error) {
	if preferredProvider != "" {
		row := s.db.QueryRow(ctx, `
			select `+agentColumns+` from agents
			where type = $1 and provider = $2 and status = 'idle' and maintenance_mode = false
			order by priority desc limit 1`, agentType, preferredProvider)
		agent, err := scanAgent(row)
		if err == nil {
			return agent, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	row := s.db.QueryRow(ctx, `
		select `+agentColumns+` from agents
		where type = $1 and status = 'idle' and maintenance_mode = false
		order by priority desc limit 1`, agentType)
	return scanAgent(row)
}

// Heartbeat implements Store.
func (s *Postgres) Heartbeat(ctx context.Context, agentID int64, status core.AgentStatus, currentJobID *int64) error {
	tag, err := s.db.Exec(ctx, `
		update agents set last_heartbeat = now(), status = $2, current_job_id = $3
		where id = $1`, agentID, status, currentJobID)
	if err != nil {
		return fmt.Errorf("heartbeat agent %d: %w", agentID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ConfigValue implements Store.
func (s *Postgres) ConfigValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `select value from system_config where key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("config value %q: %w", key, err)
	}
	return value, nil
}

// execJob runs a single-job update and converts zero affected rows to ErrNotFound.
func (s *Postgres) execJob(ctx context.Context, id int64, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*core.Job, error) {
	var j core.Job
	err := row.Scan(
		&j.ID, &j.Type, &j.Status, &j.Payload, &j.Result, &j.AssignedAgentID, &j.Priority,
		&j.RetryCount, &j.MaxRetries, &j.LastError, &j.FailureReason, &j.NextRetryAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

func scanAgent(row pgx.Row) (*core.Agent, error) {
	var a core.Agent
	var model *string
	err := row.Scan(
		&a.ID, &a.Name, &a.Type, &a.Provider, &model, &a.Status, &a.CurrentJobID,
		&a.LastHeartbeat, &a.Priority, &a.MaxConcurrentJobs, &a.MaintenanceMode,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	if model != nil {
		a.Model = *model
	}
	return &a, nil
}
