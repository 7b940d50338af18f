package core

import "time"

// AgentStatus is the liveness/availability state of an Agent.
type AgentStatus string

// Agent availability states.
const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// Agent is a worker identity: one reasoning backend (provider + model) bound
// to the job types it accepts. Workers mutate only Status, CurrentJobID and
// LastHeartbeat; everything else is administrative.
type Agent struct {
	ID                int64       `json:"id"`
	Name              string      `json:"name"`
	Type              string      `json:"type"`
	Provider          string      `json:"provider"`
	Model             string      `json:"model,omitempty"`
	Status            AgentStatus `json:"status"`
	CurrentJobID      *int64      `json:"current_job_id,omitempty"`
	LastHeartbeat     time.Time   `json:"last_heartbeat"`
	Priority          int         `json:"priority"`
	MaxConcurrentJobs int         `json:"max_concurrent_jobs"`
	MaintenanceMode   bool        `json:"maintenance_mode"`
}

// Assignable reports whether the agent may receive new work.
func (a *Agent) Assignable() bool {
	return a.Status == AgentIdle && !a.MaintenanceMode
}
