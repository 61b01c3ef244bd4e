package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/opsplane/opsplane/errors"
	"github.com/opsplane/opsplane/model"
	"github.com/opsplane/opsplane/natsclient"
)

// Message headers carried on every published message.
const (
	HeaderCorrelationID = "Ops-Correlation-Id"
	HeaderSessionID     = "Ops-Session-Id"
	HeaderAction        = "Ops-Action"
)

// Publisher publishes messages onto one JetStream stream, one subject per
// session id.
type Publisher struct {
	client        *natsclient.Client
	subjectPrefix string
	logger        *slog.Logger
}

// NewPublisher creates a publisher for the stream whose subjects start with
// subjectPrefix (e.g. "ops.deploy").
func NewPublisher(client *natsclient.Client, subjectPrefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:        client,
		subjectPrefix: subjectPrefix,
		logger:        logger,
	}
}

// Send publishes raw content with correlation/session headers. The subject
// is derived from the session id, which is what gives per-resource-chain
// ordering downstream.
func (p *Publisher) Send(ctx context.Context, content []byte, correlationID, sessionID string, action model.Action) error {
	if sessionID == "" {
		return errors.WrapInvalid(errors.ErrInvalidInput, "Publisher", "Send", "session id is empty")
	}

	msg := &nats.Msg{
		Subject: fmt.Sprintf("%s.%s", p.subjectPrefix, sessionID),
		Data:    content,
		Header: nats.Header{
			HeaderCorrelationID: []string{correlationID},
			HeaderSessionID:     []string{sessionID},
			HeaderAction:        []string{string(action)},
		},
	}

	if _, err := p.client.PublishMsg(ctx, msg); err != nil {
		return errors.WrapTransient(err, "Publisher", "Send", "publish to "+msg.Subject)
	}

	p.logger.Debug("Message published", "subject", msg.Subject,
		"correlation_id", correlationID, "session_id", sessionID, "action", action)
	return nil
}

// SendResourceRequest publishes a resolved step request. The JetStream
// message id dedupes redundant dispatches of the same step.
func (p *Publisher) SendResourceRequest(ctx context.Context, req *ResourceRequestMessage) error {
	content, err := json.Marshal(req)
	if err != nil {
		return errors.WrapInvalid(err, "Publisher", "SendResourceRequest", "marshal resource request")
	}

	msg := &nats.Msg{
		Subject: fmt.Sprintf("%s.%s", p.subjectPrefix, req.ResourceID),
		Data:    content,
		Header: nats.Header{
			HeaderCorrelationID: []string{req.OperationID},
			HeaderSessionID:     []string{req.ResourceID},
			HeaderAction:        []string{string(req.Action)},
			nats.MsgIdHdr:       []string{fmt.Sprintf("%s.%s.%s", req.OperationID, req.StepID, req.Action)},
		},
	}

	if _, err := p.client.PublishMsg(ctx, msg); err != nil {
		return errors.WrapTransient(err, "Publisher", "SendResourceRequest", "publish to "+msg.Subject)
	}

	p.logger.Info("Step dispatched to deployment queue",
		"operation_id", req.OperationID, "step_id", req.StepID,
		"resource_id", req.ResourceID, "action", req.Action)
	return nil
}
