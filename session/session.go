package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/opsplane/opsplane/errors"
	"github.com/opsplane/opsplane/metric"
)

const (
	fetchBatchSize = 16
	fetchMaxWait   = 2 * time.Second
)

// Handler processes one message from a session. Returning an error only
// affects logging; the message is acked regardless, so a bad message can
// never wedge the session behind itself.
type Handler func(ctx context.Context, msg jetstream.Msg) error

// Session is an exclusively held, ordered message session for one resource
// chain.
type Session struct {
	id string

	subject      string
	stream       jetstream.Stream
	consumer     jetstream.Consumer
	consumerName string
	lease        *Lease

	metrics *metric.Metrics
	logger  *slog.Logger
}

// ID returns the session id, which is the resource id whose messages the
// session carries.
func (s *Session) ID() string { return s.id }

// Messages drains the session in order, invoking fn for each message. It
// returns nil once the session is empty, ErrSessionLost when the lease is
// lost mid-drain, or the context/fetch error that interrupted it.
func (s *Session) Messages(ctx context.Context, fn Handler) error {
	for {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Session", "Messages", "drain session "+s.id)
		case <-s.lease.Lost():
			return errors.ErrSessionLost
		default:
		}

		batch, err := s.consumer.Fetch(fetchBatchSize, jetstream.FetchMaxWait(fetchMaxWait))
		if err != nil {
			return errors.WrapTransient(err, "Session", "Messages", "fetch from session "+s.id)
		}

		received := 0
		for msg := range batch.Messages() {
			received++

			if err := fn(ctx, msg); err != nil {
				s.logger.Error("Session message handler failed", "error", err)
			}

			// Ack unconditionally so the next message in the session can
			// be delivered.
			if err := msg.Ack(); err != nil {
				s.logger.Warn("Message ack failed", "error", err)
			}

			select {
			case <-s.lease.Lost():
				return errors.ErrSessionLost
			default:
			}
		}
		if err := batch.Error(); err != nil {
			return errors.WrapTransient(err, "Session", "Messages", "fetch batch for session "+s.id)
		}

		if received == 0 {
			// Session drained; release it for whoever publishes next.
			return nil
		}
	}
}

// Close releases the session: the lease is deleted and the filtered consumer
// removed. Safe to call after Messages returns for any reason. When the lease
// was lost, the durable consumer may already be serving whoever re-claimed
// the session, so only the renewal goroutine is torn down.
func (s *Session) Close(ctx context.Context) error {
	if s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
	}

	select {
	case <-s.lease.Lost():
		err := s.lease.release(ctx)
		s.logger.Info("Session lost, left to its new owner")
		return err
	default:
	}

	var firstErr error
	if err := s.stream.DeleteConsumer(ctx, s.consumerName); err != nil {
		s.logger.Warn("Session consumer delete failed", "error", err)
		firstErr = errors.WrapTransient(err, "Session", "Close", "delete consumer "+s.consumerName)
	}

	if err := s.lease.release(ctx); err != nil {
		s.logger.Warn("Session lease release failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	s.logger.Info("Session released")
	return firstErr
}
