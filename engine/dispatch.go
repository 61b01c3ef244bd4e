package engine

import (
	"context"
	"log/slog"

	"github.com/opsplane/opsplane/errors"
	"github.com/opsplane/opsplane/model"
	"github.com/opsplane/opsplane/queue"
)

// Dispatcher builds and publishes the provisioning request for a step.
//
// Requests are resolved at dispatch time from the current state of the
// primary resource, re-read from the store because earlier steps may have
// merged new properties into it. The correlation id is the operation id and
// the session id is the step's own target resource id, so every message
// concerning one resource is processed in order by one consumer.
type Dispatcher struct {
	resources ResourceStore
	templates TemplateStore
	publisher RequestPublisher
	logger    *slog.Logger
}

// NewDispatcher creates a step dispatcher.
func NewDispatcher(resources ResourceStore, templates TemplateStore, publisher RequestPublisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		resources: resources,
		templates: templates,
		publisher: publisher,
		logger:    logger,
	}
}

// DispatchStep resolves and publishes the request for one step of an
// operation.
func (d *Dispatcher) DispatchStep(ctx context.Context, op *model.Operation, step *model.Step) error {
	req, err := d.resolve(ctx, op, step)
	if err != nil {
		return err
	}

	if err := d.publisher.SendResourceRequest(ctx, req); err != nil {
		return err
	}

	d.logger.Debug("Dispatched step request",
		"operation_id", op.ID,
		"step_id", step.StepID,
		"resource_id", req.ResourceID,
		"action", string(req.Action))
	return nil
}

// DispatchFirst publishes the request for a freshly created operation's
// first step.
func (d *Dispatcher) DispatchFirst(ctx context.Context, op *model.Operation) error {
	if len(op.Steps) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidInput, "Dispatcher", "DispatchFirst",
			"operation "+op.ID+" has no steps")
	}
	return d.DispatchStep(ctx, op, &op.Steps[0])
}

// resolve builds the request payload from the step declaration, the
// operation's user/action context and the current primary resource.
func (d *Dispatcher) resolve(ctx context.Context, op *model.Operation, step *model.Step) (*queue.ResourceRequestMessage, error) {
	// Prior steps may have updated the primary resource; always re-read it.
	primary, err := d.resources.GetByID(ctx, op.ResourceID)
	if err != nil {
		return nil, errors.Wrap(err, "Dispatcher", "resolve", "read primary resource "+op.ResourceID)
	}

	targetID := step.ResourceID
	if targetID == "" {
		targetID = primary.ID
	}

	target := primary
	if targetID != primary.ID {
		target, err = d.resources.GetByID(ctx, targetID)
		if err != nil {
			return nil, errors.Wrap(err, "Dispatcher", "resolve", "read target resource "+targetID)
		}
	}

	templateName := step.ResourceTemplateName
	if templateName == "" {
		templateName = target.TemplateName
	}
	tmpl, err := d.templates.GetByName(ctx, templateName)
	if err != nil {
		return nil, errors.Wrap(err, "Dispatcher", "resolve", "resolve template "+templateName)
	}

	action := step.ResourceAction
	if action == "" {
		action = op.Action
	}

	return &queue.ResourceRequestMessage{
		OperationID:     op.ID,
		StepID:          step.StepID,
		Action:          action,
		ResourceID:      target.ID,
		ResourcePath:    target.ResourcePath,
		TemplateName:    tmpl.Name,
		TemplateVersion: tmpl.Version,
		ResourceVersion: target.ResourceVersion,
		User:            op.User,
		Properties:      target.Properties,
	}, nil
}
