package consumer

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/opsplane/opsplane/errors"
	"github.com/opsplane/opsplane/metric"
	"github.com/opsplane/opsplane/queue"
	"github.com/opsplane/opsplane/session"
)

const closeTimeout = 5 * time.Second

// StatusHandler applies one parsed status update.
type StatusHandler interface {
	HandleStatusUpdate(ctx context.Context, msg *queue.StatusUpdateMessage) error
}

// HeldSession is the consumer's view of one exclusively held session.
type HeldSession interface {
	ID() string
	Messages(ctx context.Context, fn session.Handler) error
	Close(ctx context.Context) error
}

// SessionBroker yields exclusive sessions to drain.
type SessionBroker interface {
	Next(ctx context.Context) (HeldSession, error)
}

// BrokerSource adapts the concrete session broker to the SessionBroker
// interface.
func BrokerSource(b *session.Broker) SessionBroker {
	return brokerSource{b}
}

type brokerSource struct{ b *session.Broker }

func (s brokerSource) Next(ctx context.Context) (HeldSession, error) {
	sess, err := s.b.Next(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Consumer is one session-draining loop.
type Consumer struct {
	name        string
	broker      SessionBroker
	handler     StatusHandler
	acquireWait time.Duration
	metrics     *metric.Metrics
	logger      *slog.Logger
}

// New creates a consumer loop.
func New(name string, broker SessionBroker, handler StatusHandler, acquireWait time.Duration, metrics *metric.Metrics, logger *slog.Logger) *Consumer {
	if acquireWait <= 0 {
		acquireWait = time.Second
	}
	return &Consumer{
		name:        name,
		broker:      broker,
		handler:     handler,
		acquireWait: acquireWait,
		metrics:     metrics,
		logger:      logger.With("consumer", name),
	}
}

// Run drains sessions until the context is cancelled. It never returns for
// any other reason: broker and drain errors are logged, backed off and
// retried, because a consumer that exits silently strands its share of the
// workload.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Consumer started")

	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info("Consumer stopped")
			return err
		}

		sess, err := c.broker.Next(ctx)
		if err != nil {
			if stderrors.Is(err, errors.ErrNoSessions) {
				c.pause(ctx)
				continue
			}
			c.logger.Warn("Session acquisition failed, backing off", "error", err)
			c.pause(ctx)
			continue
		}

		c.drain(ctx, sess)
	}
}

// drain processes one held session to completion and always releases it.
func (c *Consumer) drain(ctx context.Context, sess HeldSession) {
	log := c.logger.With("session_id", sess.ID())

	err := sess.Messages(ctx, c.handleMessage)
	switch {
	case err == nil:
		log.Debug("Session drained")
	case stderrors.Is(err, errors.ErrSessionLost):
		log.Warn("Session lease lost mid-drain, messages will be redelivered")
	case ctx.Err() != nil:
		// Shutdown; release below and let Run observe the cancellation.
	default:
		log.Warn("Session drain interrupted", "error", err)
	}

	// Release with a fresh deadline so shutdown still cleans up the lease.
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		log.Warn("Session release failed", "error", err)
	}
}

// handleMessage parses and applies a single status update. It never returns
// an error that should block the session: malformed messages are dropped
// with a log line, and engine errors surface in the session's handler log.
func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg) error {
	update, err := queue.ParseStatusUpdate(msg.Data())
	if err != nil {
		c.logger.Warn("Malformed status update dropped",
			"subject", msg.Subject(), "error", err)
		if c.metrics != nil {
			c.metrics.StatusUpdatesProcessed.WithLabelValues(metric.OutcomeMalformed).Inc()
		}
		return nil
	}

	return c.handler.HandleStatusUpdate(ctx, update)
}

// pause sleeps the acquire interval or until cancellation.
func (c *Consumer) pause(ctx context.Context) {
	timer := time.NewTimer(c.acquireWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
