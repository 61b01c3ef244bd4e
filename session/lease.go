package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opsplane/opsplane/errors"
	"github.com/opsplane/opsplane/natsclient"
)

const leaseKeyPrefix = "lease."

// errLeaseHeld is returned by acquireLease when another consumer owns the
// session.
var errLeaseHeld = stderrors.New("session lease held by another consumer")

// leaseRecord is the JSON document stored under the lease key.
type leaseRecord struct {
	Owner        string    `json:"owner"`
	SessionID    string    `json:"sessionId"`
	AcquiredWhen time.Time `json:"acquiredWhen"`
	RenewedWhen  time.Time `json:"renewedWhen"`
}

// Lease is an exclusive claim on one session, kept alive by periodic CAS
// renewals. The sessions bucket carries a per-entry TTL, so a crashed owner's
// lease expires on its own once renewals stop.
type Lease struct {
	kv     *natsclient.KVStore
	key    string
	logger *slog.Logger

	record   leaseRecord
	revision uint64

	cancel context.CancelFunc
	done   chan struct{}

	lostOnce sync.Once
	lost     chan struct{}
}

// acquireLease attempts to claim the session for owner. The create-only KV
// write is the arbitration point: exactly one competing consumer wins.
func acquireLease(ctx context.Context, kv *natsclient.KVStore, sessionID, owner string, logger *slog.Logger) (*Lease, error) {
	now := time.Now().UTC()
	rec := leaseRecord{
		Owner:        owner,
		SessionID:    sessionID,
		AcquiredWhen: now,
		RenewedWhen:  now,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Lease", "acquireLease", "marshal lease record")
	}

	rev, err := kv.Create(ctx, leaseKeyPrefix+sessionID, data)
	if err != nil {
		if natsclient.IsKVConflictError(err) {
			return nil, errLeaseHeld
		}
		return nil, errors.WrapTransient(err, "Lease", "acquireLease", "claim session "+sessionID)
	}

	return &Lease{
		kv:       kv,
		key:      leaseKeyPrefix + sessionID,
		logger:   logger.With("session_id", sessionID, "owner", owner),
		record:   rec,
		revision: rev,
		lost:     make(chan struct{}),
	}, nil
}

// startRenewal renews the lease every interval until maxDuration elapses,
// the lease is released, or a renewal fails. A failed renewal means another
// consumer took the session over (or the bucket expired the entry); the lost
// channel is closed so the holder stops processing.
func (l *Lease) startRenewal(interval, maxDuration time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	deadline := time.Now().Add(maxDuration)

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if time.Now().After(deadline) {
					l.logger.Warn("Session lock duration exhausted, releasing")
					l.markLost()
					return
				}
				if err := l.renew(ctx); err != nil {
					l.logger.Warn("Session lease renewal failed, releasing", "error", err)
					l.markLost()
					return
				}
			}
		}
	}()
}

// renew rewrites the lease record with a revision check. The CAS keeps a
// stale holder from resurrecting a lease that expired and was re-claimed.
func (l *Lease) renew(ctx context.Context) error {
	l.record.RenewedWhen = time.Now().UTC()
	data, err := json.Marshal(l.record)
	if err != nil {
		return err
	}

	rev, err := l.kv.Update(ctx, l.key, data, l.revision)
	if err != nil {
		return err
	}
	l.revision = rev
	return nil
}

// Lost is closed when the lease can no longer be held. Holders select on it
// while processing and stop promptly when it fires.
func (l *Lease) Lost() <-chan struct{} {
	return l.lost
}

func (l *Lease) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

// release stops the renewal goroutine and deletes the lease key so another
// consumer can claim the session immediately instead of waiting out the TTL.
// The delete is revision-checked: a lease that expired and was re-claimed by
// another consumer belongs to that consumer now and is left alone.
func (l *Lease) release(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}

	select {
	case <-l.lost:
		return nil
	default:
	}

	if err := l.kv.DeleteRevision(ctx, l.key, l.revision); err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) || natsclient.IsKVConflictError(err) {
			l.logger.Warn("Lease no longer held at release, leaving key alone")
			return nil
		}
		return errors.WrapTransient(err, "Lease", "release", "delete lease "+l.key)
	}
	return nil
}
