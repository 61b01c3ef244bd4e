package session

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/opsplane/opsplane/errors"
	"github.com/opsplane/opsplane/metric"
	"github.com/opsplane/opsplane/natsclient"
)

// Broker hands out exclusive sessions over a work-queue stream. Each call to
// Next inspects which per-session subjects currently hold messages and tries
// to claim one that no other consumer has leased.
type Broker struct {
	stream        jetstream.Stream
	sessions      *natsclient.KVStore
	subjectPrefix string
	owner         string

	renewInterval   time.Duration
	maxLockDuration time.Duration
	ackWait         time.Duration

	metrics *metric.Metrics
	logger  *slog.Logger
}

// BrokerConfig carries the session-handling knobs.
type BrokerConfig struct {
	SubjectPrefix   string        // e.g. "ops.status"
	Owner           string        // unique id of this process/consumer pool
	RenewInterval   time.Duration // lease renewal period
	MaxLockDuration time.Duration // renewal window before the lease is given up
	AckWait         time.Duration // redelivery window per message; zero means 30s
}

// NewBroker creates a broker over an existing stream and sessions bucket.
func NewBroker(stream jetstream.Stream, sessions *natsclient.KVStore, cfg BrokerConfig, metrics *metric.Metrics, logger *slog.Logger) *Broker {
	ackWait := cfg.AckWait
	if ackWait == 0 {
		ackWait = 30 * time.Second
	}
	return &Broker{
		stream:          stream,
		sessions:        sessions,
		subjectPrefix:   cfg.SubjectPrefix,
		owner:           cfg.Owner,
		renewInterval:   cfg.RenewInterval,
		maxLockDuration: cfg.MaxLockDuration,
		ackWait:         ackWait,
		metrics:         metrics,
		logger:          logger,
	}
}

// Next claims the first session that has pending messages and no live lease.
// Returns ErrNoSessions when every pending session is leased elsewhere or no
// messages are waiting at all; callers treat that as the idle steady state,
// not a fault.
func (b *Broker) Next(ctx context.Context) (*Session, error) {
	subjects, err := b.pendingSubjects(ctx)
	if err != nil {
		return nil, err
	}
	if len(subjects) == 0 {
		return nil, errors.ErrNoSessions
	}

	for _, subject := range subjects {
		sessionID := strings.TrimPrefix(subject, b.subjectPrefix+".")

		lease, err := acquireLease(ctx, b.sessions, sessionID, b.owner, b.logger)
		if err != nil {
			if err == errLeaseHeld {
				continue
			}
			return nil, err
		}

		sess, err := b.open(ctx, sessionID, subject, lease)
		if err != nil {
			if relErr := lease.release(ctx); relErr != nil {
				b.logger.Warn("Lease release after failed open", "session_id", sessionID, "error", relErr)
			}
			return nil, err
		}

		lease.startRenewal(b.renewInterval, b.maxLockDuration)
		if b.metrics != nil {
			b.metrics.ActiveSessions.Inc()
		}
		b.logger.Info("Session acquired", "session_id", sessionID, "owner", b.owner)
		return sess, nil
	}

	return nil, errors.ErrNoSessions
}

// pendingSubjects lists the session subjects that currently hold messages,
// in sorted order so competing consumers probe them in the same sequence and
// conflicts resolve quickly.
func (b *Broker) pendingSubjects(ctx context.Context) ([]string, error) {
	info, err := b.stream.Info(ctx, jetstream.WithSubjectFilter(b.subjectPrefix+".>"))
	if err != nil {
		return nil, errors.WrapTransient(err, "Broker", "pendingSubjects", "read stream info")
	}

	subjects := make([]string, 0, len(info.State.Subjects))
	for subject, pending := range info.State.Subjects {
		if pending > 0 {
			subjects = append(subjects, subject)
		}
	}
	sort.Strings(subjects)
	return subjects, nil
}

// consumerNameFor derives the durable consumer name from the session id.
// Session ids are resource ids and may carry characters that are invalid in
// consumer names (dots, wildcards, path separators, whitespace).
func consumerNameFor(sessionID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', '/', '\\', ' ', '\t':
			return '_'
		}
		return r
	}, sessionID)
	return "sess-" + sanitized
}

// open creates the filtered consumer that drains one session in order.
// MaxAckPending of one holds back delivery of a message until its
// predecessor is acked.
func (b *Broker) open(ctx context.Context, sessionID, subject string, lease *Lease) (*Session, error) {
	name := consumerNameFor(sessionID)

	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          name,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       b.ackWait,
		MaxAckPending: 1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Broker", "open", "create consumer for "+subject)
	}

	return &Session{
		id:           sessionID,
		subject:      subject,
		stream:       b.stream,
		consumer:     consumer,
		consumerName: name,
		lease:        lease,
		metrics:      b.metrics,
		logger:       b.logger.With("session_id", sessionID),
	}, nil
}
