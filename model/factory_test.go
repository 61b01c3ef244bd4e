package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsplane/opsplane/errors"
)

func upgradeTemplate() *Template {
	return &Template{
		Name:         "workspace-base",
		Version:      "1.2.0",
		ResourceType: "workspace",
		Pipeline: map[Action][]PipelineStepDecl{
			ActionUpgrade: {
				{StepID: "pause-firewall", StepTitle: "Pause firewall", ResourceID: "res-fw",
					ResourceTemplateName: "firewall", ResourceType: "shared_service", ResourceAction: ActionUpgrade},
				{StepID: MainStepID},
				{StepID: "resume-firewall", StepTitle: "Resume firewall", ResourceID: "res-fw",
					ResourceTemplateName: "firewall", ResourceType: "shared_service", ResourceAction: ActionUpgrade},
			},
		},
	}
}

func baseInput(tmpl *Template) NewOperationInput {
	return NewOperationInput{
		ResourceID:      "res-ws",
		ResourcePath:    "/workspaces/res-ws",
		ResourceVersion: 3,
		Action:          ActionUpgrade,
		User:            User{ID: "user-1", Name: "alex"},
		Status:          StatusUpdating,
		Message:         "Upgrade requested",
		Template:        tmpl,
	}
}

func TestNewOperation_MaterializesPipeline(t *testing.T) {
	op, err := NewOperation(baseInput(upgradeTemplate()))
	require.NoError(t, err)

	assert.NotEmpty(t, op.ID)
	assert.Equal(t, "res-ws", op.ResourceID)
	assert.Equal(t, StatusUpdating, op.Status)
	require.Len(t, op.Steps, 3)

	// Declared steps carry exactly their declared fields and await dispatch.
	pre := op.Steps[0]
	assert.Equal(t, "pause-firewall", pre.StepID)
	assert.Equal(t, "res-fw", pre.ResourceID)
	assert.Equal(t, "firewall", pre.ResourceTemplateName)
	assert.Equal(t, StatusAwaitingAction, pre.Status)
	assert.False(t, pre.UpdatedWhen.IsZero())

	// The main marker is replaced by a fully populated main step.
	main := op.Steps[1]
	assert.Equal(t, MainStepID, main.StepID)
	assert.Equal(t, "res-ws", main.ResourceID)
	assert.Equal(t, "workspace-base", main.ResourceTemplateName)
	assert.Equal(t, "workspace", main.ResourceType)
	assert.Equal(t, ActionUpgrade, main.ResourceAction)
	assert.Equal(t, StatusUpdating, main.Status)
	assert.Equal(t, "Upgrade requested", main.Message)
}

func TestNewOperation_NoPipelineFallsBackToSingleMainStep(t *testing.T) {
	tmpl := upgradeTemplate()
	in := baseInput(tmpl)
	in.Action = ActionInstall // template declares no install pipeline
	in.Status = StatusDeploying

	op, err := NewOperation(in)
	require.NoError(t, err)

	require.Len(t, op.Steps, 1)
	assert.Equal(t, MainStepID, op.Steps[0].StepID)
	assert.Equal(t, ActionInstall, op.Steps[0].ResourceAction)
	assert.Equal(t, StatusDeploying, op.Steps[0].Status)
}

func TestNewOperation_RejectsDuplicateStepIDs(t *testing.T) {
	tmpl := upgradeTemplate()
	tmpl.Pipeline[ActionUpgrade][2].StepID = "pause-firewall"

	_, err := NewOperation(baseInput(tmpl))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "duplicate stepId")
}

func TestNewOperation_RejectsEmptyStepID(t *testing.T) {
	tmpl := upgradeTemplate()
	tmpl.Pipeline[ActionUpgrade][0].StepID = ""

	_, err := NewOperation(baseInput(tmpl))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewOperation_RejectsPipelineWithoutMain(t *testing.T) {
	tmpl := upgradeTemplate()
	tmpl.Pipeline[ActionUpgrade] = tmpl.Pipeline[ActionUpgrade][:1]

	_, err := NewOperation(baseInput(tmpl))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no main step")
}

func TestNewOperation_ValidatesInput(t *testing.T) {
	in := baseInput(upgradeTemplate())
	in.ResourceID = ""
	_, err := NewOperation(in)
	assert.Error(t, err)

	in = baseInput(nil)
	_, err = NewOperation(in)
	assert.Error(t, err)

	in = baseInput(upgradeTemplate())
	in.Status = Status("bogus")
	_, err = NewOperation(in)
	assert.Error(t, err)
}
