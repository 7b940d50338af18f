// Package testutil provides in-memory fakes for the queue and store
// contracts so engine components can be tested without Redis or Postgres.
package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/store"
)

// MemQueue is a map-backed Queue. Push prepends and Pop takes from the tail,
// mirroring the LPush/BRPop pairing of the Redis implementation.
type MemQueue struct {
	mu    sync.Mutex
	lists map[string][]string
}

// NewMemQueue creates an empty queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{lists: map[string][]string{}}
}

// Push implements queue.Queue.
func (q *MemQueue) Push(_ context.Context, list, value string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lists[list] = append([]string{value}, q.lists[list]...)
	return nil
}

// Pop implements queue.Queue. A zero timeout never blocks; otherwise the
// queue is polled until the timeout elapses.
func (q *MemQueue) Pop(ctx context.Context, list string, timeout time.Duration) (string, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if value, ok := q.tryPop(list); ok {
			return value, true, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (q *MemQueue) tryPop(list string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.lists[list]
	if len(items) == 0 {
		return "", false
	}
	value := items[len(items)-1]
	q.lists[list] = items[:len(items)-1]
	return value, true
}

// Len implements queue.Queue.
func (q *MemQueue) Len(_ context.Context, list string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.lists[list])), nil
}

// Items returns a copy of a list, newest first.
func (q *MemQueue) Items(list string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.lists[list]...)
}

// MemStore is a map-backed Store.
type MemStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*core.Job
	agents map[int64]*core.Agent
	config map[string]string
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		nextID: 1,
		jobs:   map[int64]*core.Job{},
		agents: map[int64]*core.Agent{},
		config: map[string]string{},
	}
}

// SeedAgent inserts an agent row.
func (s *MemStore) SeedAgent(agent *core.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agent
	s.agents[agent.ID] = &cp
}

// SetConfig inserts a system configuration row.
func (s *MemStore) SetConfig(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
}

// CreateJob implements store.Store.
func (s *MemStore) CreateJob(_ context.Context, job *core.Job) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	cp := *job
	cp.ID = id
	if cp.Status == "" {
		cp.Status = core.StatusPending
	}
	if cp.MaxRetries == 0 {
		cp.MaxRetries = core.DefaultMaxRetries
	}
	now := time.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.jobs[id] = &cp
	job.ID = id
	return id, nil
}

// GetJob implements store.Store.
func (s *MemStore) GetJob(_ context.Context, id int64) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// SetJobStatus implements store.Store.
func (s *MemStore) SetJobStatus(_ context.Context, id int64, status core.JobStatus) error {
	return s.update(id, func(j *core.Job) { j.Status = status })
}

// MarkJobRunning implements store.Store.
func (s *MemStore) MarkJobRunning(_ context.Context, id, agentID int64) error {
	return s.update(id, func(j *core.Job) {
		j.Status = core.StatusRunning
		j.AssignedAgentID = &agentID
	})
}

// MarkJobCompleted implements store.Store.
func (s *MemStore) MarkJobCompleted(_ context.Context, id int64, result json.RawMessage) error {
	return s.update(id, func(j *core.Job) {
		j.Status = core.StatusCompleted
		j.Result = result
	})
}

// MarkJobFailed implements store.Store.
func (s *MemStore) MarkJobFailed(_ context.Context, id int64, reason string) error {
	return s.update(id, func(j *core.Job) {
		j.Status = core.StatusFailed
		j.FailureReason = &reason
	})
}

// AssignJob implements store.Store.
func (s *MemStore) AssignJob(_ context.Context, jobID, agentID int64) error {
	return s.update(jobID, func(j *core.Job) { j.AssignedAgentID = &agentID })
}

// ScheduleJobRetry implements store.Store.
func (s *MemStore) ScheduleJobRetry(_ context.Context, id int64, retryCount int, lastError string, nextRetryAt time.Time) error {
	return s.update(id, func(j *core.Job) {
		j.Status = core.StatusRetrying
		j.RetryCount = retryCount
		j.LastError = &lastError
		j.NextRetryAt = &nextRetryAt
	})
}

// MarkJobDeadLetter implements store.Store.
func (s *MemStore) MarkJobDeadLetter(_ context.Context, id int64, reason string) error {
	return s.update(id, func(j *core.Job) {
		j.Status = core.StatusDeadLetter
		j.FailureReason = &reason
	})
}

// ResetJobForRequeue implements store.Store.
func (s *MemStore) ResetJobForRequeue(_ context.Context, id int64) error {
	return s.update(id, func(j *core.Job) {
		j.Status = core.StatusPending
		j.RetryCount = 0
		j.LastError = nil
		j.FailureReason = nil
		j.NextRetryAt = nil
		j.AssignedAgentID = nil
	})
}

// GetAgent implements store.Store.
func (s *MemStore) GetAgent(_ context.Context, id int64) (*core.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *agent
	return &cp, nil
}

// FindIdleAgent implements store.Store: preferred provider wins, then
// priority descending, then lowest id for determinism.
func (s *MemStore) FindIdleAgent(_ context.Context, agentType, preferredProvider string) (*core.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*core.Agent
	for _, agent := range s.agents {
		if agent.Type == agentType && agent.Assignable() {
			candidates = append(candidates, agent)
		}
	}
	if len(candidates) == 0 {
		return nil, store.ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		ap := a.Provider == preferredProvider
		bp := b.Provider == preferredProvider
		if ap != bp {
			return ap
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
	cp := *candidates[0]
	return &cp, nil
}

// Heartbeat implements store.Store.
func (s *MemStore) Heartbeat(_ context.Context, agentID int64, status core.AgentStatus, currentJobID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return store.ErrNotFound
	}
	agent.Status = status
	agent.CurrentJobID = currentJobID
	agent.LastHeartbeat = time.Now()
	return nil
}

// ConfigValue implements store.Store.
func (s *MemStore) ConfigValue(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.config[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return value, nil
}

func (s *MemStore) update(id int64, fn func(j *core.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(job)
	job.UpdatedAt = time.Now()
	return nil
}
