package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opsplane/opsplane/errors"
)

// NewOperationInput carries everything the factory needs to build an
// operation: the target resource, the action, the initiating user, the
// caller-supplied initial status/message (typically an in-progress variant)
// and the resolved template definition.
type NewOperationInput struct {
	ResourceID      string
	ResourcePath    string
	ResourceVersion int
	Action          Action
	User            User
	Status          Status
	Message         string
	Template        *Template
}

// NewOperation builds an operation with its ordered step list.
//
// If the template declares a pipeline for the action, one step is
// materialized per declared entry: the "main" marker becomes a fully
// populated main step derived from the operation's own action, resource and
// template; any other entry becomes a step carrying exactly its declared
// fields and a fresh timestamp. If no pipeline is declared for the action,
// the operation has a single main step.
//
// The result is not persisted; the caller writes it through the operation
// store in one document write.
func NewOperation(in NewOperationInput) (*Operation, error) {
	if in.ResourceID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidInput, "model", "NewOperation", "resource id is empty")
	}
	if in.Template == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidInput, "model", "NewOperation", "template is nil")
	}
	if !in.Status.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidInput, "model", "NewOperation",
			fmt.Sprintf("unknown initial status %q", in.Status))
	}

	now := time.Now().UTC()

	var steps []Step
	if decls, ok := in.Template.PipelineFor(in.Action); ok {
		seen := make(map[string]struct{}, len(decls))
		hasMain := false
		for _, decl := range decls {
			if decl.StepID == "" {
				return nil, errors.WrapInvalid(errors.ErrInvalidInput, "model", "NewOperation",
					fmt.Sprintf("pipeline for action %q declares a step without a stepId", in.Action))
			}
			if _, dup := seen[decl.StepID]; dup {
				return nil, errors.WrapInvalid(errors.ErrInvalidInput, "model", "NewOperation",
					fmt.Sprintf("pipeline for action %q declares duplicate stepId %q", in.Action, decl.StepID))
			}
			seen[decl.StepID] = struct{}{}

			if decl.IsMain() {
				hasMain = true
				steps = append(steps, mainStep(in, now))
				continue
			}
			steps = append(steps, Step{
				StepID:               decl.StepID,
				StepTitle:            decl.StepTitle,
				ResourceID:           decl.ResourceID,
				ResourceTemplateName: decl.ResourceTemplateName,
				ResourceType:         decl.ResourceType,
				ResourceAction:       decl.ResourceAction,
				Status:               StatusAwaitingAction,
				UpdatedWhen:          now,
			})
		}
		if !hasMain {
			return nil, errors.WrapInvalid(errors.ErrInvalidInput, "model", "NewOperation",
				fmt.Sprintf("pipeline for action %q has no main step", in.Action))
		}
	} else {
		steps = []Step{mainStep(in, now)}
	}

	return &Operation{
		ID:              uuid.NewString(),
		ResourceID:      in.ResourceID,
		ResourcePath:    in.ResourcePath,
		Action:          in.Action,
		User:            in.User,
		Status:          in.Status,
		Message:         in.Message,
		ResourceVersion: in.ResourceVersion,
		CreatedWhen:     now,
		UpdatedWhen:     now,
		Steps:           steps,
	}, nil
}

// mainStep derives the fully populated main step from the operation's own
// action, resource and template.
func mainStep(in NewOperationInput, now time.Time) Step {
	return Step{
		StepID:               MainStepID,
		StepTitle:            fmt.Sprintf("Main step for %s", in.ResourceID),
		ResourceID:           in.ResourceID,
		ResourceTemplateName: in.Template.Name,
		ResourceType:         in.Template.ResourceType,
		ResourceAction:       in.Action,
		Status:               in.Status,
		Message:              in.Message,
		UpdatedWhen:          now,
	}
}
