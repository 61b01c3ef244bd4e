package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opsplane/opsplane/errors"
	"github.com/opsplane/opsplane/model"
)

// Output is one key/value pair produced by a worker for a step. Values may
// arrive as quoted string literals; Unwrapped strips the quoting.
type Output struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// Unwrapped returns the output value with string-literal quoting removed.
// Non-string scalars pass through untouched.
func (o Output) Unwrapped() any {
	s, ok := o.Value.(string)
	if !ok {
		return o.Value
	}
	s = strings.Trim(s, "'")
	return strings.Trim(s, `"`)
}

// StatusUpdateMessage is the message a worker publishes to report step
// progress.
type StatusUpdateMessage struct {
	ID          string       `json:"id"`
	OperationID string       `json:"operationId"`
	StepID      string       `json:"stepId"`
	Status      model.Status `json:"status"`
	Message     string       `json:"message,omitempty"`
	Outputs     []Output     `json:"outputs,omitempty"`
}

// ParseStatusUpdate decodes and validates a status update message.
// Malformed messages are classified invalid: they are logged and dropped,
// never retried.
func ParseStatusUpdate(data []byte) (*StatusUpdateMessage, error) {
	var msg StatusUpdateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.WrapInvalid(err, "queue", "ParseStatusUpdate", "decode status update")
	}

	if msg.OperationID == "" {
		return nil, errors.WrapInvalid(errors.ErrMalformedMsg, "queue", "ParseStatusUpdate",
			"status update has no operationId")
	}
	if msg.StepID == "" {
		return nil, errors.WrapInvalid(errors.ErrMalformedMsg, "queue", "ParseStatusUpdate",
			"status update has no stepId")
	}
	if !msg.Status.Valid() {
		return nil, errors.WrapInvalid(errors.ErrUnknownStatus, "queue", "ParseStatusUpdate",
			fmt.Sprintf("status update carries unknown status %q", msg.Status))
	}

	return &msg, nil
}

// OutputProperties converts the reported outputs into a property map with
// quoted string values unwrapped.
func (m *StatusUpdateMessage) OutputProperties() map[string]any {
	if len(m.Outputs) == 0 {
		return nil
	}
	props := make(map[string]any, len(m.Outputs))
	for _, out := range m.Outputs {
		props[out.Name] = out.Unwrapped()
	}
	return props
}

// ResourceRequestMessage is the fully resolved provisioning request for one
// step, carrying enough context for the worker to act without further
// lookups.
type ResourceRequestMessage struct {
	OperationID     string         `json:"operationId"`
	StepID          string         `json:"stepId"`
	Action          model.Action   `json:"action"`
	ResourceID      string         `json:"resourceId"`
	ResourcePath    string         `json:"resourcePath,omitempty"`
	TemplateName    string         `json:"templateName"`
	TemplateVersion string         `json:"templateVersion,omitempty"`
	ResourceVersion int            `json:"resourceVersion"`
	User            model.User     `json:"user"`
	Properties      map[string]any `json:"properties,omitempty"`
}
