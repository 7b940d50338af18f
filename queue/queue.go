// Package queue provides the named-list transport the router, workers and the
// retry sweeper communicate through. Lists carry either bare decimal job ids
// (inbox and per-agent lists) or JSON envelopes (retry and dead-letter lists);
// the record store remains the source of truth in all cases.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Well-known list names.
const (
	Inbox      = "incoming_jobs"     // Global intake drained by the router
	RetryList  = "retry_queue"       // RetryRecord envelopes awaiting their backoff
	DeadLetter = "dead_letter_queue" // DeadLetterRecord envelopes for manual review
)

// AgentList returns the private list name for one agent identity.
func AgentList(agentID int64) string {
	return fmt.Sprintf("job_queue_agent_%d", agentID)
}

// Queue is the FIFO list store. Pop blocks up to timeout (a zero timeout
// means no blocking at all) and reports ok=false when nothing was available;
// both operations are atomic per call.
type Queue interface {
	Push(ctx context.Context, list, value string) error
	Pop(ctx context.Context, list string, timeout time.Duration) (value string, ok bool, err error)
	Len(ctx context.Context, list string) (int64, error)
}

// RetryRecord is the envelope pushed onto the retry list. Not authoritative;
// the sweeper re-reads the job row before requeueing.
type RetryRecord struct {
	JobID      int64     `json:"job_id"`
	RetryAt    time.Time `json:"retry_at"`
	RetryCount int       `json:"retry_count"`
}

// DeadLetterRecord is the diagnostic envelope pushed onto the dead-letter list.
type DeadLetterRecord struct {
	JobID         int64     `json:"job_id"`
	Type          string    `json:"type"`
	FailureReason string    `json:"failure_reason"`
	RetryCount    int       `json:"retry_count"`
	MovedAt       time.Time `json:"moved_at"`
}

// Encode serializes the record for the retry list.
func (r RetryRecord) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode retry record: %w", err)
	}
	return string(b), nil
}

// DecodeRetryRecord parses a retry list entry.
func DecodeRetryRecord(value string) (RetryRecord, error) {
	var r RetryRecord
	if err := json.Unmarshal([]byte(value), &r); err != nil {
		return RetryRecord{}, fmt.Errorf("decode retry record: %w", err)
	}
	return r, nil
}

// Encode serializes the record for the dead-letter list.
func (r DeadLetterRecord) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode dead letter record: %w", err)
	}
	return string(b), nil
}

// DecodeDeadLetterRecord parses a dead-letter list entry.
func DecodeDeadLetterRecord(value string) (DeadLetterRecord, error) {
	var r DeadLetterRecord
	if err := json.Unmarshal([]byte(value), &r); err != nil {
		return DeadLetterRecord{}, fmt.Errorf("decode dead letter record: %w", err)
	}
	return r, nil
}
