package queue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsplane/opsplane/model"
	"github.com/opsplane/opsplane/natsclient"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func deployStream(t *testing.T) (*natsclient.Client, jetstream.Stream) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	stream, err := tc.Client.CreateStream(context.Background(), jetstream.StreamConfig{
		Name:       "OPS_DEPLOY",
		Subjects:   []string{"ops.deploy.>"},
		Retention:  jetstream.WorkQueuePolicy,
		Duplicates: 2 * time.Minute,
	})
	require.NoError(t, err)
	return tc.Client, stream
}

func fetchOne(t *testing.T, stream jetstream.Stream, subject string) jetstream.Msg {
	t.Helper()
	ctx := context.Background()

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          "probe",
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	require.NoError(t, err)

	batch, err := cons.Fetch(1, jetstream.FetchMaxWait(2*time.Second))
	require.NoError(t, err)
	for msg := range batch.Messages() {
		require.NoError(t, msg.Ack())
		return msg
	}
	t.Fatalf("no message on %s", subject)
	return nil
}

func TestIntegration_Publisher_SendCarriesHeaders(t *testing.T) {
	client, stream := deployStream(t)
	p := NewPublisher(client, "ops.deploy", discardLogger())

	err := p.Send(context.Background(), []byte(`{"hello":"worker"}`), "op-1", "res-1", model.ActionInstall)
	require.NoError(t, err)

	msg := fetchOne(t, stream, "ops.deploy.res-1")
	assert.Equal(t, "op-1", msg.Headers().Get(HeaderCorrelationID))
	assert.Equal(t, "res-1", msg.Headers().Get(HeaderSessionID))
	assert.Equal(t, "install", msg.Headers().Get(HeaderAction))
}

func TestIntegration_Publisher_RejectsEmptySession(t *testing.T) {
	client, _ := deployStream(t)
	p := NewPublisher(client, "ops.deploy", discardLogger())

	err := p.Send(context.Background(), []byte("x"), "op-1", "", model.ActionInstall)
	assert.Error(t, err)
}

func TestIntegration_Publisher_ResourceRequestDeduped(t *testing.T) {
	client, stream := deployStream(t)
	p := NewPublisher(client, "ops.deploy", discardLogger())
	ctx := context.Background()

	req := &ResourceRequestMessage{
		OperationID:  "op-1",
		StepID:       "main",
		Action:       model.ActionInstall,
		ResourceID:   "res-1",
		TemplateName: "workspace-base",
		User:         model.User{ID: "user-1"},
	}

	// Redundant dispatches of the same step collapse via the message id.
	require.NoError(t, p.SendResourceRequest(ctx, req))
	require.NoError(t, p.SendResourceRequest(ctx, req))

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)

	msg := fetchOne(t, stream, "ops.deploy.res-1")
	assert.Equal(t, "op-1.main.install", msg.Headers().Get(nats.MsgIdHdr))

	var decoded ResourceRequestMessage
	require.NoError(t, json.Unmarshal(msg.Data(), &decoded))
	assert.Equal(t, "workspace-base", decoded.TemplateName)
	assert.Equal(t, model.ActionInstall, decoded.Action)
}
