package engine

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/opsplane/opsplane/errors"
	"github.com/opsplane/opsplane/metric"
	"github.com/opsplane/opsplane/model"
	"github.com/opsplane/opsplane/queue"
)

// OperationStore is the slice of the operation store the engine needs.
type OperationStore interface {
	GetByID(ctx context.Context, id string) (*model.Operation, error)
	Update(ctx context.Context, op *model.Operation) error
}

// ResourceStore is the slice of the resource store the engine needs.
type ResourceStore interface {
	GetByID(ctx context.Context, id string) (*model.Resource, error)
	SetDeploymentStatus(ctx context.Context, id string, status model.Status) error
	MergeProperties(ctx context.Context, id string, props map[string]any) error
}

// TemplateStore resolves templates for dispatch-time request building.
type TemplateStore interface {
	GetByName(ctx context.Context, name string) (*model.Template, error)
}

// RequestPublisher publishes resolved step requests to the deploy stream.
type RequestPublisher interface {
	SendResourceRequest(ctx context.Context, req *queue.ResourceRequestMessage) error
}

// Engine applies worker status updates to operation documents: it records
// the step's progress, recomputes the aggregate status, mirrors statuses
// onto resources, merges worker outputs and dispatches the next step.
type Engine struct {
	ops        OperationStore
	resources  ResourceStore
	dispatcher *Dispatcher
	metrics    *metric.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithMetrics attaches engine instruments.
func WithMetrics(m *metric.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// New creates an engine.
func New(ops OperationStore, resources ResourceStore, dispatcher *Dispatcher, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		ops:        ops,
		resources:  resources,
		dispatcher: dispatcher,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleStatusUpdate applies one worker status update to its operation.
//
// A nil return means the message is finished with, whether it was applied
// or deliberately absorbed; the caller acks either way. A non-nil return
// means a store write failed mid-flight and the document may be partially
// updated, which the next redelivery resolves because every write here is
// idempotent.
func (e *Engine) HandleStatusUpdate(ctx context.Context, msg *queue.StatusUpdateMessage) error {
	started := e.now()
	err := e.handle(ctx, msg)
	if e.metrics != nil {
		e.metrics.StatusUpdateDuration.Observe(e.now().Sub(started).Seconds())
		if err != nil {
			e.metrics.StatusUpdatesProcessed.WithLabelValues(metric.OutcomeError).Inc()
		}
	}
	return err
}

func (e *Engine) handle(ctx context.Context, msg *queue.StatusUpdateMessage) error {
	log := e.logger.With("operation_id", msg.OperationID, "step_id", msg.StepID, "status", msg.Status)

	op, err := e.ops.GetByID(ctx, msg.OperationID)
	if err != nil {
		if stderrors.Is(err, errors.ErrOperationNotFound) {
			log.Warn("Status update references unknown operation, dropping")
			e.absorbed()
			return nil
		}
		return errors.Wrap(err, "Engine", "HandleStatusUpdate", "load operation")
	}

	idx, step, ok := op.FindStep(msg.StepID)
	if !ok {
		log.Warn("Status update references unknown step, dropping")
		e.absorbed()
		return nil
	}

	if step.Status.IsTerminal() {
		if msg.Status != step.Status {
			log.Warn("Stale status update for terminal step, dropping",
				"recorded_status", step.Status)
			e.absorbed()
			return nil
		}
		if !step.Status.IsSuccess() || op.IsLastStep(idx) {
			log.Debug("Duplicate status update for terminal step, dropping")
			e.absorbed()
			return nil
		}
		if op.Steps[idx+1].Status != model.StatusAwaitingAction {
			log.Debug("Duplicate status update for advanced pipeline, dropping")
			e.absorbed()
			return nil
		}
		// A redelivered success whose next step never left awaiting_action
		// means the process died after recording the step but before the
		// next request was published. Re-run the advance; the publisher's
		// message id collapses the dispatch if the first one did get through.
		log.Info("Redelivered success for recorded step, resuming pipeline")
		return e.advance(ctx, op, idx, step, msg, log)
	}

	now := e.now()
	step.Status = msg.Status
	step.Message = msg.Message
	step.UpdatedWhen = now

	isLast := op.IsLastStep(idx)
	mirrorPrimary := op.RecomputeAggregate(step, isLast, now)

	if err := e.ops.Update(ctx, op); err != nil {
		return errors.Wrap(err, "Engine", "HandleStatusUpdate", "persist operation")
	}

	if e.metrics != nil && op.Status.IsFailure() {
		e.metrics.PipelineFailures.Inc()
	}

	if mirrorPrimary {
		if err := e.mirrorPrimaryFailure(ctx, op, log); err != nil {
			return err
		}
	}

	if err := e.resources.SetDeploymentStatus(ctx, step.ResourceID, step.Status); err != nil {
		if stderrors.Is(err, errors.ErrResourceNotFound) {
			log.Warn("Step targets unknown resource, status mirror skipped",
				"resource_id", step.ResourceID)
		} else {
			return errors.Wrap(err, "Engine", "HandleStatusUpdate", "mirror step status")
		}
	}

	if !step.Status.IsSuccess() {
		log.Info("Status update applied", "aggregate_status", op.Status)
		e.handled()
		return nil
	}

	return e.advance(ctx, op, idx, step, msg, log)
}

// advance runs the post-success half of an update: merge the step's outputs
// into its resource and publish the next step. Every write here is idempotent
// so the whole path can be re-run on redelivery.
func (e *Engine) advance(ctx context.Context, op *model.Operation, idx int, step *model.Step, msg *queue.StatusUpdateMessage, log *slog.Logger) error {
	if props := msg.OutputProperties(); props != nil {
		if err := e.resources.MergeProperties(ctx, step.ResourceID, props); err != nil {
			return errors.Wrap(err, "Engine", "HandleStatusUpdate", "merge step outputs")
		}
		log.Debug("Step outputs merged", "resource_id", step.ResourceID, "outputs", len(props))
	}

	if !op.IsLastStep(idx) {
		if err := e.dispatchNext(ctx, op, idx+1, log); err != nil {
			return err
		}
	}

	log.Info("Status update applied", "aggregate_status", op.Status)
	e.handled()
	return nil
}

// dispatchNext publishes the request for the step after a successful one.
// A publish failure is not an error from the session's point of view: it is
// recorded as that next step's failure so the pipeline terminates visibly
// instead of hanging.
func (e *Engine) dispatchNext(ctx context.Context, op *model.Operation, nextIdx int, log *slog.Logger) error {
	next := &op.Steps[nextIdx]

	if err := e.dispatcher.DispatchStep(ctx, op, next); err != nil {
		log.Error("Next step dispatch failed, recording pipeline failure",
			"next_step_id", next.StepID, "error", err)

		now := e.now()
		next.Status = model.FailureStatusFor(op.Action)
		next.Message = "Failed to publish step request: " + err.Error()
		next.UpdatedWhen = now

		mirrorPrimary := op.RecomputeAggregate(next, op.IsLastStep(nextIdx), now)

		if err := e.ops.Update(ctx, op); err != nil {
			return errors.Wrap(err, "Engine", "dispatchNext", "persist dispatch failure")
		}
		if e.metrics != nil {
			e.metrics.PipelineFailures.Inc()
		}
		if mirrorPrimary {
			if err := e.mirrorPrimaryFailure(ctx, op, log); err != nil {
				return err
			}
		}
		return nil
	}

	if e.metrics != nil {
		e.metrics.StepsDispatched.Inc()
	}
	return nil
}

// mirrorPrimaryFailure force-sets the aggregate failure status on the
// operation's primary resource, so the resource is never left showing an
// in-progress status after its pipeline died on a different step.
func (e *Engine) mirrorPrimaryFailure(ctx context.Context, op *model.Operation, log *slog.Logger) error {
	main := op.MainStep()
	if main == nil {
		log.Warn("Operation has no main step, primary mirror skipped")
		return nil
	}

	err := e.resources.SetDeploymentStatus(ctx, main.ResourceID, op.Status)
	if err != nil {
		if stderrors.Is(err, errors.ErrResourceNotFound) {
			log.Warn("Primary resource missing, failure mirror skipped",
				"resource_id", main.ResourceID)
			return nil
		}
		return errors.Wrap(err, "Engine", "mirrorPrimaryFailure", "mirror failure on primary")
	}
	return nil
}

func (e *Engine) handled() {
	if e.metrics != nil {
		e.metrics.StatusUpdatesProcessed.WithLabelValues(metric.OutcomeHandled).Inc()
	}
}

func (e *Engine) absorbed() {
	if e.metrics != nil {
		e.metrics.StatusUpdatesProcessed.WithLabelValues(metric.OutcomeAbsorbed).Inc()
	}
}
