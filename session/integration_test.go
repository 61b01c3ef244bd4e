package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsplane/opsplane/errors"
	"github.com/opsplane/opsplane/model"
	"github.com/opsplane/opsplane/natsclient"
	"github.com/opsplane/opsplane/queue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	client    *natsclient.Client
	stream    jetstream.Stream
	sessions  *natsclient.KVStore
	publisher *queue.Publisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tc := natsclient.NewTestClient(t, natsclient.WithKVBuckets("ops_sessions"))
	ctx := context.Background()

	stream, err := tc.Client.CreateStream(ctx, jetstream.StreamConfig{
		Name:      "OPS_STATUS",
		Subjects:  []string{"ops.status.>"},
		Retention: jetstream.WorkQueuePolicy,
	})
	require.NoError(t, err)

	return &harness{
		client:    tc.Client,
		stream:    stream,
		sessions:  tc.Client.NewKVStore(tc.Bucket(t, "ops_sessions")),
		publisher: queue.NewPublisher(tc.Client, "ops.status", discardLogger()),
	}
}

func (h *harness) broker(owner string) *Broker {
	return NewBroker(h.stream, h.sessions, BrokerConfig{
		SubjectPrefix:   "ops.status",
		Owner:           owner,
		RenewInterval:   200 * time.Millisecond,
		MaxLockDuration: 10 * time.Second,
	}, nil, discardLogger())
}

func (h *harness) publish(t *testing.T, sessionID, payload string) {
	t.Helper()
	err := h.publisher.Send(context.Background(), []byte(payload), "corr-1", sessionID, model.ActionInstall)
	require.NoError(t, err)
}

func TestIntegration_Broker_NoSessionsWhenEmpty(t *testing.T) {
	h := newHarness(t)

	_, err := h.broker("owner-1").Next(context.Background())
	assert.ErrorIs(t, err, errors.ErrNoSessions)
}

func TestIntegration_Session_OrderedDrain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.publish(t, "res-1", fmt.Sprintf("msg-%d", i))
	}

	sess, err := h.broker("owner-1").Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "res-1", sess.ID())

	var got []string
	err = sess.Messages(ctx, func(_ context.Context, msg jetstream.Msg) error {
		got = append(got, string(msg.Data()))
		assert.Equal(t, "corr-1", msg.Headers().Get(queue.HeaderCorrelationID))
		assert.Equal(t, "res-1", msg.Headers().Get(queue.HeaderSessionID))
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sess.Close(ctx))

	assert.Equal(t, []string{"msg-0", "msg-1", "msg-2", "msg-3", "msg-4"}, got,
		"messages within a session arrive in publish order")
}

func TestIntegration_Broker_ExclusiveLease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.publish(t, "res-1", "payload")

	first, err := h.broker("owner-1").Next(ctx)
	require.NoError(t, err)
	defer first.Close(ctx)

	// A second consumer cannot claim the only pending session.
	_, err = h.broker("owner-2").Next(ctx)
	assert.ErrorIs(t, err, errors.ErrNoSessions)
}

func TestIntegration_Broker_DistinctSessionsToDistinctConsumers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.publish(t, "res-a", "a1")
	h.publish(t, "res-b", "b1")

	first, err := h.broker("owner-1").Next(ctx)
	require.NoError(t, err)
	defer first.Close(ctx)

	second, err := h.broker("owner-2").Next(ctx)
	require.NoError(t, err)
	defer second.Close(ctx)

	assert.NotEqual(t, first.ID(), second.ID())
}

func TestIntegration_Session_ReleasedSessionCanBeReclaimed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.publish(t, "res-1", "first")

	sess, err := h.broker("owner-1").Next(ctx)
	require.NoError(t, err)

	require.NoError(t, sess.Messages(ctx, func(context.Context, jetstream.Msg) error { return nil }))
	require.NoError(t, sess.Close(ctx))

	// New traffic on the same session id is claimable again, by anyone.
	h.publish(t, "res-1", "second")

	again, err := h.broker("owner-2").Next(ctx)
	require.NoError(t, err)
	defer again.Close(ctx)
	assert.Equal(t, "res-1", again.ID())
}

func TestIntegration_Session_StaleCloseDoesNotEvictNewOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.publish(t, "res-1", "payload")

	stale, err := h.broker("owner-1").Next(ctx)
	require.NoError(t, err)

	// Simulate the bucket TTL expiring the stalled owner's lease.
	require.NoError(t, h.sessions.Delete(ctx, "lease.res-1"))

	// The next renewal fails against the vanished key and marks the lease lost.
	require.Eventually(t, func() bool {
		select {
		case <-stale.lease.Lost():
			return true
		default:
			return false
		}
	}, 2*time.Second, 50*time.Millisecond)

	fresh, err := h.broker("owner-2").Next(ctx)
	require.NoError(t, err)
	defer fresh.Close(ctx)

	require.NoError(t, stale.Close(ctx))

	// The new owner's lease and consumer survive the stale close.
	_, err = h.sessions.Get(ctx, "lease.res-1")
	require.NoError(t, err)
	_, err = h.stream.Consumer(ctx, "sess-res-1")
	require.NoError(t, err)
}

func TestIntegration_Lease_ReleaseIsRevisionChecked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.publish(t, "res-1", "payload")

	b := NewBroker(h.stream, h.sessions, BrokerConfig{
		SubjectPrefix:   "ops.status",
		Owner:           "owner-1",
		RenewInterval:   time.Hour, // renewal never fires during the test
		MaxLockDuration: 2 * time.Hour,
	}, nil, discardLogger())

	sess, err := b.Next(ctx)
	require.NoError(t, err)

	// Another writer rewrites the lease key out from under the holder.
	_, err = h.sessions.Put(ctx, "lease.res-1", []byte(`{"owner":"owner-2","sessionId":"res-1"}`))
	require.NoError(t, err)

	require.NoError(t, sess.Close(ctx))

	// The rewritten key survives the stale delete.
	entry, err := h.sessions.Get(ctx, "lease.res-1")
	require.NoError(t, err)
	assert.Contains(t, string(entry.Value), "owner-2")
}

func TestIntegration_Lease_RenewalKeepsLease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.publish(t, "res-1", "payload")

	sess, err := h.broker("owner-1").Next(ctx)
	require.NoError(t, err)
	defer sess.Close(ctx)

	// Outlive several renew intervals; the lease must still be held.
	time.Sleep(700 * time.Millisecond)

	select {
	case <-sess.lease.Lost():
		t.Fatal("lease lost while renewals were running")
	default:
	}

	_, err = h.broker("owner-2").Next(ctx)
	assert.ErrorIs(t, err, errors.ErrNoSessions)
}
