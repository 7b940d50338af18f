package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/internal/util"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/tool"
)

func endTurn(text string) model.Turn {
	return model.Turn{Resp: &model.Response{
		StopReason: model.StopEndTurn,
		Content:    core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: text}}},
		Usage:      model.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}}
}

func toolUse(name, args string) model.Turn {
	return model.Turn{Resp: &model.Response{
		StopReason: model.StopToolUse,
		Content: core.Content{Role: "assistant", Parts: []core.Part{
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "call-1", Name: name, Arguments: args}},
		}},
		Usage: model.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}}
}

func echoTool() tool.Tool {
	return tool.NewFunctionTool("echo", "Echo the input back",
		util.ObjectSchema(map[string]any{"text": util.StringProperty("Text to echo")}, "text"),
		func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		})
}

func failingTool() tool.Tool {
	return tool.NewFunctionTool("boom", "Always fail",
		util.ObjectSchema(map[string]any{}),
		func(_ context.Context, _ map[string]any) (any, error) {
			return nil, errors.New("tool exploded")
		})
}

func TestRunCompletesOnEndTurn(t *testing.T) {
	backend := model.NewScriptedModel("scripted", endTurn("all done"))
	r := New(backend, tool.NewRegistry())

	outcome := r.Run(context.Background(), "system", "task")

	assert.True(t, outcome.Success())
	assert.Equal(t, StatusCompleted, outcome.Status)
	assert.Equal(t, "all done", outcome.FinalResponse)
	assert.Equal(t, 1, outcome.Iterations)
	assert.Equal(t, 1, backend.Calls())
	assert.NoError(t, outcome.Err())
}

func TestRunExecutesToolsBetweenTurns(t *testing.T) {
	backend := model.NewScriptedModel("scripted",
		toolUse("echo", `{"text":"hello"}`),
		endTurn("echoed"),
	)
	r := New(backend, tool.NewRegistry(echoTool()))

	outcome := r.Run(context.Background(), "system", "task")

	assert.True(t, outcome.Success())
	assert.Equal(t, 2, outcome.Iterations)
	assert.Equal(t, 2, backend.Calls())
	// Usage accumulates across both turns.
	assert.Equal(t, 20, outcome.Usage.InputTokens)
	assert.Equal(t, 10, outcome.Usage.OutputTokens)
}

func TestRunTerminatesAtIterationCap(t *testing.T) {
	// The backend always asks for another tool call, so only the cap can end
	// the run.
	backend := model.NewScriptedModel("scripted", toolUse("echo", `{"text":"again"}`))
	r := New(backend, tool.NewRegistry(echoTool()), func(o *Options) {
		o.MaxIterations = 3
	})

	outcome := r.Run(context.Background(), "system", "task")

	assert.Equal(t, StatusExhausted, outcome.Status)
	assert.Equal(t, 3, outcome.Iterations)
	assert.Equal(t, 3, backend.Calls())
	assert.Contains(t, outcome.ErrorMessage, "no terminal answer after 3 iterations")
	assert.Error(t, outcome.Err())
}

func TestRunFoldsToolErrorsIntoTranscript(t *testing.T) {
	backend := model.NewScriptedModel("scripted",
		toolUse("boom", `{}`),
		endTurn("recovered"),
	)
	r := New(backend, tool.NewRegistry(failingTool()))

	outcome := r.Run(context.Background(), "system", "task")

	// The failure reached the backend as transcript text, not as a run error.
	assert.True(t, outcome.Success())
	assert.Equal(t, "recovered", outcome.FinalResponse)
}

func TestRunReturnsUnknownToolResult(t *testing.T) {
	backend := model.NewScriptedModel("scripted",
		toolUse("no_such_tool", `{}`),
		endTurn("done"),
	)
	r := New(backend, tool.NewRegistry())

	outcome := r.Run(context.Background(), "system", "task")
	assert.True(t, outcome.Success())
	assert.Equal(t, 2, backend.Calls())
}

func TestRunTruncatesLongToolOutput(t *testing.T) {
	long := strings.Repeat("x", 10000)
	backend := model.NewScriptedModel("scripted",
		toolUse("echo", fmt.Sprintf(`{"text":%q}`, long)),
		endTurn("done"),
	)

	var captured core.Content
	capturing := &transcriptCapture{inner: backend, onRequest: func(req model.Request) {
		if len(req.Messages) >= 3 {
			captured = req.Messages[2]
		}
	}}

	r := New(capturing, tool.NewRegistry(echoTool()), func(o *Options) {
		o.TruncateLength = 100
	})
	outcome := r.Run(context.Background(), "system", "task")
	require.True(t, outcome.Success())

	require.Len(t, captured.Parts, 1)
	fr, ok := captured.Parts[0].(core.FunctionResponsePart)
	require.True(t, ok)
	assert.LessOrEqual(t, len(fr.FunctionResponse.Response), 100+len("\n[output truncated]"))
	assert.Contains(t, fr.FunctionResponse.Response, "[output truncated]")
}

func TestRunFailsOnBackendError(t *testing.T) {
	backend := model.NewScriptedModel("scripted", model.Turn{Err: errors.New("rate limited")})
	r := New(backend, tool.NewRegistry())

	outcome := r.Run(context.Background(), "system", "task")

	assert.Equal(t, StatusError, outcome.Status)
	assert.Contains(t, outcome.ErrorMessage, "rate limited")
}

func TestRunFailsOnUnexpectedStopReason(t *testing.T) {
	backend := model.NewScriptedModel("scripted", model.Turn{Resp: &model.Response{
		StopReason: model.StopMaxTokens,
		Content:    core.Content{Role: "assistant"},
	}})
	r := New(backend, tool.NewRegistry())

	outcome := r.Run(context.Background(), "system", "task")

	assert.Equal(t, StatusError, outcome.Status)
	assert.Contains(t, outcome.ErrorMessage, "unexpected stop reason: max_tokens")
}

func TestRunFailsFastWhenBreakerOpen(t *testing.T) {
	backend := model.NewScriptedModel("scripted", endTurn("never reached"))
	r := New(backend, tool.NewRegistry(), func(o *Options) {
		o.Breaker = stubBreaker{allow: false}
	})

	outcome := r.Run(context.Background(), "system", "task")

	assert.Equal(t, StatusError, outcome.Status)
	assert.Contains(t, outcome.ErrorMessage, "circuit breaker is open")
	assert.Zero(t, backend.Calls())
}

type stubBreaker struct{ allow bool }

func (s stubBreaker) Allow() bool { return s.allow }
func (s stubBreaker) Record(bool) {}

// transcriptCapture wraps a Model to observe requests.
type transcriptCapture struct {
	inner     model.Model
	onRequest func(model.Request)
}

func (c *transcriptCapture) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	c.onRequest(req)
	return c.inner.Generate(ctx, req)
}

func (c *transcriptCapture) Info() model.Info { return c.inner.Info() }
