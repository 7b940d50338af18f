// Package router drains the global inbox and dispatches each job to the
// private list of a selected agent. Routing is a single-consumer loop; jobs
// with no eligible agent are parked as queued and stay parked until an
// external requeue returns them to the inbox.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/metrics"
	"github.com/taskmesh/taskmesh/queue"
	"github.com/taskmesh/taskmesh/store"
)

// PreferredProvider wins ties during agent selection when several idle agents
// accept the same job type.
const PreferredProvider = "xai"

// Router is the dispatch loop between the inbox and per-agent lists.
type Router struct {
	store   store.Store
	queue   queue.Queue
	logger  logging.Logger
	metrics metrics.Recorder

	pollTimeout time.Duration
}

// Options configures a Router.
type Options struct {
	// PollTimeout bounds each blocking inbox pop so shutdown is responsive.
	PollTimeout time.Duration
	Logger      logging.Logger
	Metrics     metrics.Recorder
}

// New creates a router over the given store and queue.
func New(s store.Store, q queue.Queue, optFns ...func(o *Options)) *Router {
	opts := Options{
		PollTimeout: time.Second,
		Logger:      logging.NoOpLogger{},
		Metrics:     metrics.NoOpRecorder{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		store:       s,
		queue:       q,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		pollTimeout: opts.PollTimeout,
	}
}

// Run routes jobs until the context is cancelled.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Info("router started", "inbox", queue.Inbox)
	for {
		if err := ctx.Err(); err != nil {
			r.logger.Info("router stopped")
			return err
		}
		if err := r.routeNext(ctx); err != nil {
			if ctx.Err() != nil {
				r.logger.Info("router stopped")
				return ctx.Err()
			}
			r.logger.Error("routing pass failed", "error", err)
		}
	}
}

// routeNext pops one inbox entry and routes it. An empty inbox is not an
// error; the bounded pop simply expires and the loop comes back around.
func (r *Router) routeNext(ctx context.Context) error {
	value, ok, err := r.queue.Pop(ctx, queue.Inbox, r.pollTimeout)
	if err != nil {
		return fmt.Errorf("pop inbox: %w", err)
	}
	if !ok {
		return nil
	}

	jobID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		r.logger.Warn("dropping malformed inbox entry", "value", value)
		return nil
	}
	return r.Route(ctx, jobID)
}

// Route dispatches one job by id. Transient store or queue failures push the
// id back onto the inbox so the job is retried on a later pass instead of
// being lost.
func (r *Router) Route(ctx context.Context, jobID int64) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("inbox entry for unknown job dropped", "job_id", jobID)
			return nil
		}
		return r.pushBack(ctx, jobID, fmt.Errorf("load job %d: %w", jobID, err))
	}
	if job.Status.Terminal() {
		r.logger.Debug("skipping terminal job", "job_id", jobID, "status", job.Status)
		r.metrics.ObserveRouting(job.Type, "dropped")
		return nil
	}

	// A pre-assigned job goes to its agent's list if the agent still exists.
	// If the agent is gone the job is dropped for manual intervention rather
	// than silently reassigned; it stays pending.
	if job.AssignedAgentID != nil {
		agent, err := r.store.GetAgent(ctx, *job.AssignedAgentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				r.metrics.ObserveRouting(job.Type, "dropped")
				r.logger.Warn("assigned agent no longer exists, dropping job from routing",
					"job_id", jobID, "agent_id", *job.AssignedAgentID)
				return nil
			}
			return r.pushBack(ctx, jobID, fmt.Errorf("load agent for job %d: %w", jobID, err))
		}
		return r.dispatch(ctx, job, agent)
	}

	agent, err := r.store.FindIdleAgent(ctx, job.Type, PreferredProvider)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return r.park(ctx, job)
		}
		return r.pushBack(ctx, jobID, fmt.Errorf("select agent for job %d: %w", jobID, err))
	}

	return r.dispatch(ctx, job, agent)
}

// dispatch records the routing decision and hands the job to the agent list.
func (r *Router) dispatch(ctx context.Context, job *core.Job, agent *core.Agent) error {
	if err := r.store.AssignJob(ctx, job.ID, agent.ID); err != nil {
		return r.pushBack(ctx, job.ID, fmt.Errorf("assign job %d: %w", job.ID, err))
	}
	if err := r.store.SetJobStatus(ctx, job.ID, core.StatusPending); err != nil {
		return r.pushBack(ctx, job.ID, fmt.Errorf("mark job %d pending: %w", job.ID, err))
	}
	if err := r.queue.Push(ctx, queue.AgentList(agent.ID), strconv.FormatInt(job.ID, 10)); err != nil {
		return r.pushBack(ctx, job.ID, fmt.Errorf("push job %d to agent %d: %w", job.ID, agent.ID, err))
	}

	r.metrics.ObserveRouting(job.Type, "dispatched")
	r.logger.Info("job routed",
		"job_id", job.ID,
		"job_type", job.Type,
		"agent_id", agent.ID,
		"agent_name", agent.Name,
		"provider", agent.Provider,
	)
	return nil
}

// park marks a job queued when no eligible agent exists. Parked jobs are not
// re-examined by the router; a later requeue must return them to the inbox.
func (r *Router) park(ctx context.Context, job *core.Job) error {
	if err := r.store.SetJobStatus(ctx, job.ID, core.StatusQueued); err != nil {
		return r.pushBack(ctx, job.ID, fmt.Errorf("park job %d: %w", job.ID, err))
	}
	r.metrics.ObserveRouting(job.Type, "parked")
	r.logger.Info("no idle agent, job parked", "job_id", job.ID, "job_type", job.Type)
	return nil
}

// pushBack returns a job id to the inbox after a transient failure.
func (r *Router) pushBack(ctx context.Context, jobID int64, cause error) error {
	if err := r.queue.Push(ctx, queue.Inbox, strconv.FormatInt(jobID, 10)); err != nil {
		return errors.Join(cause, fmt.Errorf("push back job %d: %w", jobID, err))
	}
	return cause
}
