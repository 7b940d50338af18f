package core

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

// Job lifecycle states. Terminal states are StatusCompleted and
// StatusDeadLetter; StatusDeadLetter is recoverable only through an explicit
// manual reset that clears retry bookkeeping and re-enters the inbox.
const (
	StatusPending    JobStatus = "pending"     // Awaiting routing or execution
	StatusQueued     JobStatus = "queued"      // No idle matching agent; backpressure state
	StatusRunning    JobStatus = "running"     // Claimed by a worker
	StatusRetrying   JobStatus = "retrying"    // Scheduled for a future retry
	StatusCompleted  JobStatus = "completed"   // Terminal success
	StatusFailed     JobStatus = "failed"      // Non-retryable failure (configuration errors)
	StatusDeadLetter JobStatus = "dead_letter" // Retries exhausted; manual intervention required
	StatusCancelled  JobStatus = "cancelled"   // Abandoned when the owning agent was deleted
)

// Terminal reports whether the status ends the normal job lifecycle.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDeadLetter, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is a unit of work. The record store row is the source of truth; queue
// entries only carry the id. AssignedAgentID is set once per routing decision
// and cleared only by a dead-letter reset. RetryCount never exceeds
// MaxRetries; exceeding it is the sole trigger for the dead_letter transition.
type Job struct {
	ID              int64           `json:"id"`
	Type            string          `json:"type"`
	Status          JobStatus       `json:"status"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	AssignedAgentID *int64          `json:"assigned_agent_id,omitempty"`
	Priority        int             `json:"priority"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	LastError       *string         `json:"last_error,omitempty"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DefaultMaxRetries applies when a job is created without an explicit cap.
const DefaultMaxRetries = 3

// PayloadField extracts a string field from the job payload, returning the
// fallback when the payload is absent, malformed or the field is not a string.
func (j *Job) PayloadField(key, fallback string) string {
	if len(j.Payload) == 0 {
		return fallback
	}
	var m map[string]any
	if err := json.Unmarshal(j.Payload, &m); err != nil {
		return fallback
	}
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
