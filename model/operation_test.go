package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multiStepOp(action Action) *Operation {
	return &Operation{
		ID:         "op-1",
		ResourceID: "res-primary",
		Action:     action,
		Status:     StatusPipelineRunning,
		Steps: []Step{
			{StepID: "pre", ResourceID: "res-shared", Status: StatusDeploying},
			{StepID: MainStepID, ResourceID: "res-primary", Status: StatusAwaitingAction},
			{StepID: "post", ResourceID: "res-shared", Status: StatusAwaitingAction},
		},
	}
}

func TestFindStep(t *testing.T) {
	op := multiStepOp(ActionInstall)

	idx, step, ok := op.FindStep("post")
	require.True(t, ok)
	assert.Equal(t, 2, idx)
	assert.Equal(t, "post", step.StepID)

	// Returned pointer aliases the slice element.
	step.Status = StatusDeployed
	assert.Equal(t, StatusDeployed, op.Steps[2].Status)

	_, _, ok = op.FindStep("missing")
	assert.False(t, ok)
}

func TestMainStep(t *testing.T) {
	op := multiStepOp(ActionInstall)
	main := op.MainStep()
	require.NotNil(t, main)
	assert.Equal(t, "res-primary", main.ResourceID)

	assert.Nil(t, (&Operation{}).MainStep())
}

func TestIsLastStep(t *testing.T) {
	op := multiStepOp(ActionInstall)
	assert.False(t, op.IsLastStep(0))
	assert.False(t, op.IsLastStep(1))
	assert.True(t, op.IsLastStep(2))
}

func TestRecomputeAggregate_SingleStepCopiesStatus(t *testing.T) {
	now := time.Now().UTC()
	op := &Operation{
		Action: ActionInstall,
		Steps: []Step{
			{StepID: MainStepID, Status: StatusDeployed, Message: "done"},
		},
	}

	mirror := op.RecomputeAggregate(&op.Steps[0], true, now)

	assert.False(t, mirror)
	assert.Equal(t, StatusDeployed, op.Status)
	assert.Equal(t, "done", op.Message)
	assert.Equal(t, now, op.UpdatedWhen)
}

func TestRecomputeAggregate_MultiStepInProgress(t *testing.T) {
	op := multiStepOp(ActionInstall)
	op.Steps[0].Status = StatusDeployed

	mirror := op.RecomputeAggregate(&op.Steps[0], false, time.Now().UTC())

	assert.False(t, mirror)
	assert.Equal(t, StatusPipelineRunning, op.Status)
	assert.Contains(t, op.Message, "pipeline running")
}

func TestRecomputeAggregate_MultiStepFailure(t *testing.T) {
	tests := []struct {
		action Action
		want   Status
	}{
		{ActionInstall, StatusDeploymentFailed},
		{ActionUpgrade, StatusUpdatingFailed},
		{ActionUninstall, StatusDeletingFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			op := multiStepOp(tt.action)
			op.Steps[1].Status = FailureStatusFor(tt.action)

			mirror := op.RecomputeAggregate(&op.Steps[1], false, time.Now().UTC())

			assert.True(t, mirror, "failure must force the primary resource mirror")
			assert.Equal(t, tt.want, op.Status)
			assert.Equal(t, "Multi step pipeline failed on step main", op.Message)
		})
	}
}

func TestRecomputeAggregate_LastStepSuccess(t *testing.T) {
	op := multiStepOp(ActionUpgrade)
	op.Steps[2].Status = StatusUpdated

	mirror := op.RecomputeAggregate(&op.Steps[2], true, time.Now().UTC())

	assert.False(t, mirror)
	assert.Equal(t, StatusUpdated, op.Status)
	assert.Equal(t, "Multi step pipeline completed successfully", op.Message)
}

func TestRecomputeAggregate_MidPipelineSuccessStaysRunning(t *testing.T) {
	op := multiStepOp(ActionInstall)
	op.Steps[1].Status = StatusDeployed

	mirror := op.RecomputeAggregate(&op.Steps[1], false, time.Now().UTC())

	assert.False(t, mirror)
	assert.Equal(t, StatusPipelineRunning, op.Status)
}
