package model

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/core"
)

// StopReason is the normalized reason a backend finished its turn.
type StopReason string

// Normalized stop reasons. Adapters map provider-native values onto these;
// anything unrecognized passes through verbatim and is treated as an error
// outcome by the runner.
const (
	StopEndTurn   StopReason = "end_turn"   // Final answer produced
	StopToolUse   StopReason = "tool_use"   // One or more tool invocations requested
	StopMaxTokens StopReason = "max_tokens" // Output budget exhausted mid-turn
)

// ToolDefinition declaratively exposes a callable tool to the backend.
// InputSchema is a minimal JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request captures the normalized backend input assembled by the runner.
type Request struct {
	System    string           `json:"system"`   // System instruction text
	Messages  []core.Content   `json:"messages"` // Ordered transcript
	Tools     []ToolDefinition `json:"tools,omitempty"`
	MaxTokens int64            `json:"max_tokens"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage across turns.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Response is the normalized backend output for one turn.
type Response struct {
	StopReason StopReason   `json:"stop_reason"`
	Content    core.Content `json:"content"` // Assistant content blocks (text and/or tool calls)
	Usage      TokenUsage   `json:"usage"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "anthropic", "openai", "xai", ...
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the runner requires to drive one turn.
// Generate is synchronous: the runner's loop is bounded and sequential, so a
// single response per turn is the natural shape.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// Turn is a scripted response used by ScriptedModel.
type Turn struct {
	Resp *Response
	Err  error
}

// ScriptedModel replays a fixed sequence of turns. It is the in-memory Model
// used by tests: deterministic, no network, counts calls.
type ScriptedModel struct {
	info  Info
	turns []Turn
	calls int
}

// NewScriptedModel constructs a ScriptedModel that replays turns in order.
// Once the script is exhausted the last turn repeats.
func NewScriptedModel(name string, turns ...Turn) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: name, Provider: "scripted", SupportsTools: true},
		turns: turns,
	}
}

// Generate implements Model by replaying the script.
func (m *ScriptedModel) Generate(ctx context.Context, _ Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.turns) == 0 {
		return nil, fmt.Errorf("scripted model has no turns")
	}
	idx := m.calls
	if idx >= len(m.turns) {
		idx = len(m.turns) - 1
	}
	m.calls++
	t := m.turns[idx]
	return t.Resp, t.Err
}

// Calls returns how many times Generate was invoked.
func (m *ScriptedModel) Calls() int { return m.calls }

// Info implements the Model interface.
func (m *ScriptedModel) Info() Info { return m.info }
