// Package worker is the per-agent execution service. Each worker owns one
// agent identity, drains that agent's private list, runs jobs through the
// bounded execution loop and reports outcomes back to the record store. All
// failure handling is delegated to the recovery manager; the worker itself
// never decides between retry and dead letter.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/metrics"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/queue"
	"github.com/taskmesh/taskmesh/recovery"
	"github.com/taskmesh/taskmesh/runner"
	"github.com/taskmesh/taskmesh/sandbox"
	"github.com/taskmesh/taskmesh/store"
	"github.com/taskmesh/taskmesh/tool"
)

// Options configure a Worker.
type Options struct {
	// PollTimeout bounds each blocking pop on the agent list.
	PollTimeout time.Duration
	// HeartbeatInterval is the minimum gap between liveness updates.
	HeartbeatInterval time.Duration
	// MaxIterations caps backend turns per job.
	MaxIterations int
	// TruncateLength caps tool output folded into the transcript.
	TruncateLength int
	// Workdir is the sandbox working directory for tool execution.
	Workdir string
	// Breaker guards backend calls; nil disables protection.
	Breaker runner.Breaker
	Logger  logging.Logger
	Metrics metrics.Recorder

	// ModelFactory overrides backend construction. Defaults to provider
	// resolution against the agent record and credential store.
	ModelFactory func(ctx context.Context, provider, modelName string) (model.Model, error)
}

// Worker processes jobs for one agent identity.
type Worker struct {
	agentID  int64
	store    store.Store
	queue    queue.Queue
	recovery *recovery.Manager
	sandbox  sandbox.Sandbox
	logger   logging.Logger
	opts     Options

	currentJobID  *int64
	lastHeartbeat time.Time
}

// New creates a worker bound to one agent id.
func New(agentID int64, s store.Store, q queue.Queue, rm *recovery.Manager, sb sandbox.Sandbox, optFns ...func(o *Options)) *Worker {
	opts := Options{
		PollTimeout:       5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxIterations:     20,
		TruncateLength:    5000,
		Workdir:           ".",
		Logger:            logging.NoOpLogger{},
		Metrics:           metrics.NoOpRecorder{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Worker{
		agentID:  agentID,
		store:    s,
		queue:    q,
		recovery: rm,
		sandbox:  sb,
		logger:   opts.Logger,
		opts:     opts,
	}
}

// Run polls the agent list until the context is cancelled. Job failures and
// panics are contained per iteration so one bad job cannot take the worker
// down.
func (w *Worker) Run(ctx context.Context) error {
	list := queue.AgentList(w.agentID)
	w.logger.Info("worker started", "agent_id", w.agentID, "list", list)

	for {
		if err := ctx.Err(); err != nil {
			w.heartbeatNow(context.WithoutCancel(ctx), core.AgentOffline)
			w.logger.Info("worker stopped", "agent_id", w.agentID)
			return err
		}

		w.maybeHeartbeat(ctx)

		value, ok, err := w.queue.Pop(ctx, list, w.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("poll failed", "list", list, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}

		jobID, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			w.logger.Warn("dropping malformed queue entry", "list", list, "value", value)
			continue
		}

		w.runContained(ctx, jobID)
	}
}

// runContained wraps ProcessJob with panic recovery. A panicking job is
// handed to the recovery manager like any other failure.
func (w *Worker) runContained(ctx context.Context, jobID int64) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while processing job", "job_id", jobID, "panic", r)
			if job, err := w.store.GetJob(ctx, jobID); err == nil {
				msg := fmt.Sprintf("panic: %v", r)
				if err := w.recovery.HandleFailure(ctx, job, msg); err != nil {
					w.logger.Error("failure handling failed", "job_id", jobID, "error", err)
				}
			}
		}
		w.currentJobID = nil
	}()

	if err := w.ProcessJob(ctx, jobID); err != nil {
		w.logger.Error("process job failed", "job_id", jobID, "error", err)
	}
}

// ProcessJob executes one job end to end. Claiming is idempotent: a job that
// is already completed or running is skipped without side effects, so a
// duplicate queue delivery is harmless.
func (w *Worker) ProcessJob(ctx context.Context, jobID int64) error {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %d: %w", jobID, err)
	}

	if job.Status == core.StatusCompleted || job.Status == core.StatusRunning {
		w.logger.Info("job already claimed, skipping", "job_id", jobID, "status", job.Status)
		return nil
	}
	if job.Status.Terminal() {
		w.logger.Info("job in terminal state, skipping", "job_id", jobID, "status", job.Status)
		return nil
	}

	if err := w.store.MarkJobRunning(ctx, jobID, w.agentID); err != nil {
		return fmt.Errorf("claim job %d: %w", jobID, err)
	}
	w.currentJobID = &jobID
	w.heartbeatNow(ctx, core.AgentBusy)
	w.logger.Info("job started", "job_id", jobID, "job_type", job.Type)

	backend, err := w.buildBackend(ctx, job)
	if err != nil {
		// Credential and provider problems are configuration faults; retrying
		// cannot fix them, so the job fails terminally.
		w.logger.Error("backend construction failed", "job_id", jobID, "error", err)
		if markErr := w.store.MarkJobFailed(ctx, jobID, err.Error()); markErr != nil {
			return fmt.Errorf("mark job %d failed: %w", jobID, markErr)
		}
		return nil
	}

	start := time.Now()
	outcome := w.execute(ctx, backend, job)
	elapsed := time.Since(start)

	info := backend.Info()
	w.opts.Metrics.ObserveModelCall(info.Name, info.Provider,
		outcome.Usage.InputTokens, outcome.Usage.OutputTokens, outcome.Success(), elapsed)
	w.opts.Metrics.ObserveJob(job.Type, string(outcome.Status), elapsed)

	if outcome.Success() {
		result, err := json.Marshal(outcome)
		if err != nil {
			return fmt.Errorf("marshal outcome for job %d: %w", jobID, err)
		}
		if err := w.store.MarkJobCompleted(ctx, jobID, result); err != nil {
			return fmt.Errorf("mark job %d completed: %w", jobID, err)
		}
		w.heartbeatIdle(ctx)
		w.logger.Info("job completed", "job_id", jobID, "iterations", outcome.Iterations)
		return nil
	}

	errMsg := outcome.ErrorMessage
	if errMsg == "" {
		errMsg = outcome.Err().Error()
	}
	if err := w.recovery.HandleFailure(ctx, job, errMsg); err != nil {
		return fmt.Errorf("handle failure of job %d: %w", jobID, err)
	}
	w.heartbeatIdle(ctx)
	return nil
}

// buildBackend resolves the agent record's provider and model into a backend.
// Jobs without an assigned agent fall back to this worker's own agent record.
func (w *Worker) buildBackend(ctx context.Context, job *core.Job) (model.Model, error) {
	agentID := w.agentID
	if job.AssignedAgentID != nil {
		agentID = *job.AssignedAgentID
	}

	provider, modelName := "", ""
	if agent, err := w.store.GetAgent(ctx, agentID); err == nil {
		provider, modelName = agent.Provider, agent.Model
	} else {
		w.logger.Warn("agent record unavailable, using provider defaults",
			"agent_id", agentID, "error", err)
	}
	if w.opts.ModelFactory != nil {
		return w.opts.ModelFactory(ctx, provider, modelName)
	}
	return w.buildModel(ctx, provider, modelName)
}

// execute runs the job through the bounded execution loop with the sandbox
// tool catalogue and this job type's persona.
func (w *Worker) execute(ctx context.Context, backend model.Model, job *core.Job) runner.Outcome {
	agentType := agentTypeForJob(job.Type)
	tools := tool.NewRegistry(tool.SandboxTools(w.sandbox, w.workdirFor(job))...)

	run := runner.New(backend, tools, func(o *runner.Options) {
		o.MaxIterations = w.opts.MaxIterations
		o.TruncateLength = w.opts.TruncateLength
		o.Breaker = w.opts.Breaker
		o.Logger = w.logger
	})
	return run.Run(ctx, systemPromptFor(agentType), taskForJob(job))
}

// workdirFor resolves the sandbox working directory, honoring a payload
// override.
func (w *Worker) workdirFor(job *core.Job) string {
	return job.PayloadField("workspace_path", w.opts.Workdir)
}

// maybeHeartbeat sends a liveness update if the interval has elapsed.
func (w *Worker) maybeHeartbeat(ctx context.Context) {
	if time.Since(w.lastHeartbeat) < w.opts.HeartbeatInterval {
		return
	}
	status := core.AgentIdle
	if w.currentJobID != nil {
		status = core.AgentBusy
	}
	w.heartbeatNow(ctx, status)
}

// heartbeatIdle clears the in-flight job and reports idle immediately.
func (w *Worker) heartbeatIdle(ctx context.Context) {
	w.currentJobID = nil
	w.heartbeatNow(ctx, core.AgentIdle)
}

func (w *Worker) heartbeatNow(ctx context.Context, status core.AgentStatus) {
	if err := w.store.Heartbeat(ctx, w.agentID, status, w.currentJobID); err != nil {
		w.logger.Error("heartbeat failed", "agent_id", w.agentID, "error", err)
		return
	}
	w.lastHeartbeat = time.Now()
	w.logger.Debug("heartbeat sent", "agent_id", w.agentID, "status", status)
}
