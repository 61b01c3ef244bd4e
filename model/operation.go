package model

import (
	"time"
)

// MainStepID is the reserved step id for the step that performs the
// operation's own action against its primary resource. Every operation has
// exactly one main step.
const MainStepID = "main"

// Operator-facing aggregate messages for multi-step pipelines.
const (
	msgPipelineRunning   = "Multi step pipeline running. See steps for details."
	msgPipelineSucceeded = "Multi step pipeline completed successfully"
)

// User identifies who initiated an operation. Authentication itself is an
// external collaborator; only attribution is recorded here.
type User struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Step is one unit of provisioning work within an operation, targeting one
// resource. Steps are created with the operation and mutated in place; none
// are added or removed after creation.
type Step struct {
	StepID               string    `json:"stepId"`
	StepTitle            string    `json:"stepTitle,omitempty"`
	ResourceID           string    `json:"resourceId"`
	ResourceTemplateName string    `json:"resourceTemplateName,omitempty"`
	ResourceType         string    `json:"resourceType,omitempty"`
	ResourceAction       Action    `json:"resourceAction"`
	Status               Status    `json:"status"`
	Message              string    `json:"message,omitempty"`
	UpdatedWhen          time.Time `json:"updatedWhen"`
}

// Operation is one tracked lifecycle action against one primary resource,
// broken into an ordered, fixed sequence of steps. It is created once, only
// ever updated until terminal, and never deleted by this engine.
type Operation struct {
	ID              string    `json:"id"`
	ResourceID      string    `json:"resourceId"`
	ResourcePath    string    `json:"resourcePath,omitempty"`
	Action          Action    `json:"action"`
	User            User      `json:"user"`
	Status          Status    `json:"status"`
	Message         string    `json:"message,omitempty"`
	ResourceVersion int       `json:"resourceVersion"`
	CreatedWhen     time.Time `json:"createdWhen"`
	UpdatedWhen     time.Time `json:"updatedWhen"`
	Steps           []Step    `json:"steps"`
}

// FindStep returns the index and step matching stepID, or ok=false when the
// operation has no such step.
func (o *Operation) FindStep(stepID string) (int, *Step, bool) {
	for i := range o.Steps {
		if o.Steps[i].StepID == stepID {
			return i, &o.Steps[i], true
		}
	}
	return 0, nil, false
}

// MainStep returns the step carrying the operation's own action, or nil if
// the document is malformed and has none.
func (o *Operation) MainStep() *Step {
	_, step, ok := o.FindStep(MainStepID)
	if !ok {
		return nil
	}
	return step
}

// IsLastStep reports whether idx is the final step in dispatch order.
func (o *Operation) IsLastStep(idx int) bool {
	return idx == len(o.Steps)-1
}

// RecomputeAggregate derives the operation's headline status from the step
// that was just updated.
//
// Single-step operations copy the step's status and message verbatim. For
// multi-step operations the aggregate defaults to pipeline_running; a
// terminal step failure maps the aggregate to the failure status for the
// operation's action, and a terminal success on the last step maps it to the
// success status for the action.
//
// The returned flag is true when the step failure must also be force-set on
// the primary resource's status mirror (the resource referenced by the main
// step), even though that resource's own step may not be the one that
// failed. The caller owns that store write.
func (o *Operation) RecomputeAggregate(step *Step, isLast bool, now time.Time) (mirrorPrimary bool) {
	o.UpdatedWhen = now

	if len(o.Steps) == 1 {
		o.Status = step.Status
		o.Message = step.Message
		return false
	}

	o.Status = StatusPipelineRunning
	o.Message = msgPipelineRunning

	if step.Status.IsFailure() {
		o.Status = FailureStatusFor(o.Action)
		o.Message = "Multi step pipeline failed on step " + step.StepID
		return true
	}

	if step.Status.IsSuccess() && isLast {
		o.Status = SuccessStatusFor(o.Action)
		o.Message = msgPipelineSucceeded
	}

	return false
}
