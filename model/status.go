package model

// Status is the shared lifecycle status enum for operations and steps.
// The set is closed: the state machine only ever reasons about the values
// below, and the terminal/non-terminal split is fixed.
type Status string

// Status values
const (
	// StatusAwaitingAction marks a step that has not been dispatched yet.
	StatusAwaitingAction Status = "awaiting_action"

	// In-progress variants, one per lifecycle action.
	StatusDeploying Status = "deploying"
	StatusUpdating  Status = "updating"
	StatusDeleting  Status = "deleting"

	// Success terminals.
	StatusDeployed        Status = "deployed"
	StatusUpdated         Status = "updated"
	StatusDeleted         Status = "deleted"
	StatusActionSucceeded Status = "action_succeeded"

	// Failure terminals.
	StatusDeploymentFailed Status = "deployment_failed"
	StatusUpdatingFailed   Status = "updating_failed"
	StatusDeletingFailed   Status = "deleting_failed"
	StatusActionFailed     Status = "action_failed"
	StatusInvalidVersion   Status = "invalid_version"

	// StatusPipelineRunning is the operation-only aggregate used while a
	// multi-step pipeline is in flight.
	StatusPipelineRunning Status = "pipeline_running"
)

// allStatuses is the closed set, used for wire validation.
var allStatuses = map[Status]struct{}{
	StatusAwaitingAction:   {},
	StatusDeploying:        {},
	StatusUpdating:         {},
	StatusDeleting:         {},
	StatusDeployed:         {},
	StatusUpdated:          {},
	StatusDeleted:          {},
	StatusActionSucceeded:  {},
	StatusDeploymentFailed: {},
	StatusUpdatingFailed:   {},
	StatusDeletingFailed:   {},
	StatusActionFailed:     {},
	StatusInvalidVersion:   {},
	StatusPipelineRunning:  {},
}

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	_, ok := allStatuses[s]
	return ok
}

// IsSuccess reports whether s is a terminal success status.
func (s Status) IsSuccess() bool {
	switch s {
	case StatusDeployed, StatusUpdated, StatusDeleted, StatusActionSucceeded:
		return true
	default:
		return false
	}
}

// IsFailure reports whether s is a terminal failure status.
func (s Status) IsFailure() bool {
	switch s {
	case StatusDeploymentFailed, StatusUpdatingFailed, StatusDeletingFailed,
		StatusActionFailed, StatusInvalidVersion:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is expected from s
// within one operation run.
func (s Status) IsTerminal() bool {
	return s.IsSuccess() || s.IsFailure()
}

// Action is the lifecycle action an operation performs against its
// primary resource.
type Action string

// Action values
const (
	ActionInstall   Action = "install"
	ActionUninstall Action = "uninstall"
	ActionUpgrade   Action = "upgrade"
)

// SuccessStatusFor maps an action to its terminal success status.
// Unknown (custom) actions map to the generic action_succeeded.
func SuccessStatusFor(action Action) Status {
	switch action {
	case ActionInstall:
		return StatusDeployed
	case ActionUninstall:
		return StatusDeleted
	case ActionUpgrade:
		return StatusUpdated
	default:
		return StatusActionSucceeded
	}
}

// FailureStatusFor maps an action to its terminal failure status.
// Unknown (custom) actions map to the generic action_failed.
func FailureStatusFor(action Action) Status {
	switch action {
	case ActionInstall:
		return StatusDeploymentFailed
	case ActionUninstall:
		return StatusDeletingFailed
	case ActionUpgrade:
		return StatusUpdatingFailed
	default:
		return StatusActionFailed
	}
}
