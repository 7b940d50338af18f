package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	terminal := []JobStatus{StatusCompleted, StatusDeadLetter, StatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}

	live := []JobStatus{StatusPending, StatusQueued, StatusRunning, StatusRetrying, StatusFailed}
	for _, s := range live {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestPayloadField(t *testing.T) {
	job := &Job{Payload: json.RawMessage(`{"task":"build it","count":3}`)}

	assert.Equal(t, "build it", job.PayloadField("task", "fallback"))
	// Non-string values fall back.
	assert.Equal(t, "fallback", job.PayloadField("count", "fallback"))
	assert.Equal(t, "fallback", job.PayloadField("missing", "fallback"))

	empty := &Job{}
	assert.Equal(t, "fallback", empty.PayloadField("task", "fallback"))

	malformed := &Job{Payload: json.RawMessage(`{broken`)}
	assert.Equal(t, "fallback", malformed.PayloadField("task", "fallback"))
}

func TestAgentAssignable(t *testing.T) {
	agent := &Agent{Status: AgentIdle}
	assert.True(t, agent.Assignable())

	agent.Status = AgentBusy
	assert.False(t, agent.Assignable())

	agent.Status = AgentIdle
	agent.MaintenanceMode = true
	assert.False(t, agent.Assignable())
}

func TestContentHelpers(t *testing.T) {
	c := Content{Role: "assistant", Parts: []Part{
		FunctionCallPart{FunctionCall: FunctionCall{ID: "1", Name: "read_file"}},
		TextPart{Text: "working on it"},
		FunctionCallPart{FunctionCall: FunctionCall{ID: "2", Name: "run_command"}},
	}}

	assert.Equal(t, "working on it", c.FirstText())

	calls := c.FunctionCalls()
	assert.Len(t, calls, 2)
	assert.Equal(t, "read_file", calls[0].Name)
	assert.Equal(t, "run_command", calls[1].Name)

	user := NewUserText("hi")
	assert.Equal(t, "user", user.Role)
	assert.Equal(t, "hi", user.FirstText())
	assert.Empty(t, user.FunctionCalls())
}
