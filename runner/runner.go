package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/internal/util"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/tool"
)

// Status is the terminal state of one run.
type Status string

// Run outcomes. Only StatusCompleted is a success; StatusExhausted (iteration
// cap reached) and StatusError are failures eligible for the retry path.
const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusExhausted Status = "max_iterations"
)

// Outcome is the structured result of one run.
type Outcome struct {
	Status        Status           `json:"status"`
	FinalResponse string           `json:"final_response,omitempty"`
	ErrorMessage  string           `json:"error,omitempty"`
	Iterations    int              `json:"iterations"`
	Usage         model.TokenUsage `json:"usage"`
}

// Success reports whether the run produced a final answer.
func (o Outcome) Success() bool { return o.Status == StatusCompleted }

// Err folds a non-success outcome into an error value for callers that need
// one; nil on success.
func (o Outcome) Err() error {
	if o.Success() {
		return nil
	}
	if o.ErrorMessage != "" {
		return fmt.Errorf("run %s: %s", o.Status, o.ErrorMessage)
	}
	return fmt.Errorf("run %s after %d iterations", o.Status, o.Iterations)
}

// Breaker guards the shared backend. Implementations are injected at
// construction so independent runners can hold independent breakers.
type Breaker interface {
	Allow() bool
	Record(success bool)
}

// Options configure a Runner.
type Options struct {
	MaxIterations   int     // turn cap per run (default 20)
	MaxOutputTokens int64   // per-turn output budget handed to the backend
	TruncateLength  int     // cap on tool output folded into the transcript (default 5000)
	Breaker         Breaker // optional; nil disables breaker protection
	Logger          logging.Logger
}

// Runner executes tasks against one backend with a fixed tool catalogue.
type Runner struct {
	backend model.Model
	tools   tool.Registry
	opts    Options
}

// New creates a Runner with sensible defaults.
func New(backend model.Model, tools tool.Registry, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxIterations:   20,
		MaxOutputTokens: 4096,
		TruncateLength:  5000,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Runner{backend: backend, tools: tools, opts: opts}
}

// Run conducts at most MaxIterations turns with the backend, executing
// requested tools between turns. It always returns an Outcome; it never
// panics or returns ordinary failures as errors.
func (r *Runner) Run(ctx context.Context, system, task string) Outcome {
	runID := uuid.NewString()
	log := r.opts.Logger
	info := r.backend.Info()

	transcript := []core.Content{core.NewUserText(task)}
	toolDefs := r.toolDefinitions()

	var usage model.TokenUsage

	for iteration := 1; iteration <= r.opts.MaxIterations; iteration++ {
		log.Debug("run iteration", "run_id", runID, "iteration", iteration, "max", r.opts.MaxIterations)

		start := time.Now()
		resp, err := r.generate(ctx, model.Request{
			System:    system,
			Messages:  transcript,
			Tools:     toolDefs,
			MaxTokens: r.opts.MaxOutputTokens,
		})
		if err != nil {
			logging.LogModelCall(log, info.Name, 0, time.Since(start), err)
			return Outcome{
				Status:       StatusError,
				ErrorMessage: err.Error(),
				Iterations:   iteration,
				Usage:        usage,
			}
		}
		usage.Add(resp.Usage)
		logging.LogModelCall(log, info.Name, resp.Usage.InputTokens+resp.Usage.OutputTokens, time.Since(start), nil)

		switch resp.StopReason {
		case model.StopEndTurn:
			log.Info("run completed", "run_id", runID, "iterations", iteration)
			return Outcome{
				Status:        StatusCompleted,
				FinalResponse: resp.Content.FirstText(),
				Iterations:    iteration,
				Usage:         usage,
			}

		case model.StopToolUse:
			transcript = append(transcript, resp.Content)
			transcript = append(transcript, r.dispatchTools(ctx, runID, resp.Content.FunctionCalls()))

		default:
			log.Warn("unexpected stop reason", "run_id", runID, "stop_reason", string(resp.StopReason))
			return Outcome{
				Status:       StatusError,
				ErrorMessage: fmt.Sprintf("unexpected stop reason: %s", resp.StopReason),
				Iterations:   iteration,
				Usage:        usage,
			}
		}
	}

	log.Warn("run exhausted iteration cap", "run_id", runID, "max", r.opts.MaxIterations)
	return Outcome{
		Status:       StatusExhausted,
		ErrorMessage: fmt.Sprintf("no terminal answer after %d iterations", r.opts.MaxIterations),
		Iterations:   r.opts.MaxIterations,
		Usage:        usage,
	}
}

// generate performs one guarded backend call.
func (r *Runner) generate(ctx context.Context, req model.Request) (*model.Response, error) {
	if r.opts.Breaker != nil && !r.opts.Breaker.Allow() {
		return nil, fmt.Errorf("backend unavailable: circuit breaker is open")
	}
	resp, err := r.backend.Generate(ctx, req)
	if r.opts.Breaker != nil {
		r.opts.Breaker.Record(err == nil)
	}
	return resp, err
}

// dispatchTools executes every requested tool call and returns the tool-result
// content appended to the transcript. Tool failures fold into the transcript
// as error text so the backend can react; only the iteration cap bounds a
// backend that never recovers.
func (r *Runner) dispatchTools(ctx context.Context, runID string, calls []core.FunctionCall) core.Content {
	parts := make([]core.Part, 0, len(calls))
	for _, call := range calls {
		start := time.Now()
		result, err := r.executeTool(ctx, call)
		logging.LogToolCall(r.opts.Logger, call.Name, time.Since(start), err)

		text := result
		if err != nil {
			text = fmt.Sprintf("Error: %s", err)
		}
		parts = append(parts, core.FunctionResponsePart{
			FunctionResponse: core.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: util.Truncate(text, r.opts.TruncateLength),
			},
		})
	}
	return core.Content{Role: "tool", Parts: parts}
}

// executeTool looks up and invokes one tool. An unknown tool name yields the
// literal "Unknown tool" result rather than an error.
func (r *Runner) executeTool(ctx context.Context, call core.FunctionCall) (string, error) {
	impl, ok := r.tools[call.Name]
	if !ok {
		return "Unknown tool", nil
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "", fmt.Errorf("unmarshal arguments for %s: %w", call.Name, err)
		}
	}

	result, err := impl.Call(ctx, args)
	if err != nil {
		return "", err
	}
	return stringifyResult(result), nil
}

// stringifyResult flattens a tool's string-or-structured result into transcript text.
func stringifyResult(result any) string {
	switch v := result.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// toolDefinitions builds the catalogue advertised to the backend.
func (r *Runner) toolDefinitions() []model.ToolDefinition {
	if len(r.tools) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return defs
}
