package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsplane/opsplane/errors"
	"github.com/opsplane/opsplane/model"
)

func TestParseStatusUpdate(t *testing.T) {
	data := []byte(`{
		"id": "msg-1",
		"operationId": "op-1",
		"stepId": "main",
		"status": "deployed",
		"message": "all good",
		"outputs": [
			{"Name": "connection_uri", "Value": "'https://example.test'"},
			{"Name": "replicas", "Value": 3}
		]
	}`)

	msg, err := ParseStatusUpdate(data)
	require.NoError(t, err)

	assert.Equal(t, "op-1", msg.OperationID)
	assert.Equal(t, "main", msg.StepID)
	assert.Equal(t, model.StatusDeployed, msg.Status)
	assert.Equal(t, "all good", msg.Message)
	require.Len(t, msg.Outputs, 2)
}

func TestParseStatusUpdate_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"missing operationId", `{"stepId":"main","status":"deployed"}`},
		{"missing stepId", `{"operationId":"op-1","status":"deployed"}`},
		{"unknown status", `{"operationId":"op-1","stepId":"main","status":"exploded"}`},
		{"empty status", `{"operationId":"op-1","stepId":"main"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStatusUpdate([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "malformed messages must be dropped, not retried")
		})
	}
}

func TestOutputUnwrapped(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"single quoted", "'secret'", "secret"},
		{"double quoted", `"secret"`, "secret"},
		{"plain string", "secret", "secret"},
		{"double then single", `"'nested'"`, "'nested'"},
		{"number", float64(3), float64(3)},
		{"bool", true, true},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Output{Name: "x", Value: tt.value}
			assert.Equal(t, tt.want, out.Unwrapped())
		})
	}
}

func TestOutputProperties(t *testing.T) {
	msg := &StatusUpdateMessage{
		Outputs: []Output{
			{Name: "uri", Value: "'https://example.test'"},
			{Name: "count", Value: float64(2)},
		},
	}

	props := msg.OutputProperties()
	assert.Equal(t, map[string]any{
		"uri":   "https://example.test",
		"count": float64(2),
	}, props)

	assert.Nil(t, (&StatusUpdateMessage{}).OutputProperties())
}
