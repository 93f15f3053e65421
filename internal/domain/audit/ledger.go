package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	retryQueueSize = 1024
	retryInterval  = 5 * time.Second
	writeTimeout   = 10 * time.Second
)

// Ledger is the single write path into the audit trail. Record never
// fails the business operation that produced the entry: a write that
// cannot reach the database is logged in full and queued for retry.
type Ledger struct {
	repo    Repository
	logger  zerolog.Logger
	retryCh chan *Entry
}

func NewLedger(repo Repository, logger zerolog.Logger) *Ledger {
	return &Ledger{
		repo:    repo,
		logger:  logger.With().Str("component", "audit-ledger").Logger(),
		retryCh: make(chan *Entry, retryQueueSize),
	}
}

// Record writes an entry to the ledger. Storage-assigned fields (ID,
// Timestamp) are filled if unset. The write runs against a fresh
// context so that cancellation of the request that triggered it cannot
// suppress the trail.
//
// The returned ID is valid even if the insert is still pending retry.
func (l *Ledger) Record(ctx context.Context, e *Entry) uuid.UUID {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if err := e.Validate(); err != nil {
		l.logger.Error().Err(err).Interface("entry", e).Msg("invalid audit entry dropped")
		return e.ID
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := l.repo.Insert(writeCtx, e); err != nil {
		l.failSafe(e, err)
	}
	return e.ID
}

// failSafe logs the complete entry so nothing is lost even if the
// retry queue overflows, then enqueues it without blocking.
func (l *Ledger) failSafe(e *Entry, cause error) {
	l.logger.Error().Err(cause).
		Str("entry_id", e.ID.String()).
		Str("tenant_id", e.TenantID).
		Str("actor_id", e.ActorID).
		Str("subject_id", e.SubjectID).
		Str("action", e.Action).
		Str("resource", e.Resource).
		Interface("entry", e).
		Msg("audit write failed, queued for retry")

	select {
	case l.retryCh <- e:
	default:
		l.logger.Error().Str("entry_id", e.ID.String()).Msg("audit retry queue full, entry preserved in log only")
	}
}

// Run drains the retry queue until ctx is cancelled. Entries that fail
// again go back on the queue.
func (l *Ledger) Run(ctx context.Context) {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.drain(ctx)
		}
	}
}

func (l *Ledger) drain(ctx context.Context) {
	for {
		select {
		case e := <-l.retryCh:
			writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
			err := l.repo.Insert(writeCtx, e)
			cancel()
			if err != nil {
				select {
				case l.retryCh <- e:
				default:
				}
				return
			}
			l.logger.Info().Str("entry_id", e.ID.String()).Msg("audit entry recovered on retry")
		default:
			return
		}
	}
}
