package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caresafe/caresafe/internal/domain/audit"
)

const emergencyMaxPerHour = 10

// ErrRateLimited is returned when an actor exceeds the emergency
// request budget.
var ErrRateLimited = errors.New("emergency access rate limit exceeded")

// rateLimit tracks per-actor request timestamps in a rolling hour. The
// caller supplies the current time so tests can drive the clock.
type rateLimit struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func newRateLimit() *rateLimit {
	return &rateLimit{entries: make(map[string][]time.Time)}
}

func (rl *rateLimit) allow(actorID string, now time.Time, maxPerHour int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-1 * time.Hour)

	existing := rl.entries[actorID]
	pruned := existing[:0]
	for _, ts := range existing {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= maxPerHour {
		rl.entries[actorID] = pruned
		return false
	}

	rl.entries[actorID] = append(pruned, now)
	return true
}

// Workflow issues time-boxed emergency access grants. Every grant
// requires a reason, is rate limited per actor, is scoped to critical
// information only, and leaves an immutable log row plus an audit
// entry. Expiry is enforced here on the server; any countdown shown to
// a user is cosmetic.
type Workflow struct {
	logs   EmergencyLogRepository
	ledger *audit.Ledger
	logger zerolog.Logger
	limit  *rateLimit
	ttl    time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	active map[string]*EmergencyGrant
}

func NewWorkflow(logs EmergencyLogRepository, ledger *audit.Ledger, logger zerolog.Logger, ttl time.Duration) *Workflow {
	return &Workflow{
		logs:   logs,
		ledger: ledger,
		logger: logger.With().Str("component", "emergency-access").Logger(),
		limit:  newRateLimit(),
		ttl:    ttl,
		now:    time.Now,
		active: make(map[string]*EmergencyGrant),
	}
}

// RequestAccess opens an emergency window for actor onto subject. The
// reason is mandatory and is preserved verbatim in the log and ledger.
func (w *Workflow) RequestAccess(ctx context.Context, tenantID, actorID, actorRole, subjectID, reason string) (*EmergencyGrant, error) {
	if reason == "" {
		return nil, fmt.Errorf("reason is required")
	}
	if tenantID == "" || actorID == "" || subjectID == "" {
		return nil, fmt.Errorf("tenant_id, actor_id and subject_id are required")
	}

	now := w.now().UTC()
	if !w.limit.allow(actorID, now, emergencyMaxPerHour) {
		w.logger.Warn().
			Str("actor_id", actorID).
			Str("subject_id", subjectID).
			Msg("emergency access rate limited")
		return nil, ErrRateLimited
	}

	grant := &EmergencyGrant{
		ID:        uuid.New(),
		TenantID:  tenantID,
		ActorID:   actorID,
		SubjectID: subjectID,
		Reason:    reason,
		Scope:     ScopeCriticalInfoOnly,
		GrantedAt: now,
		ExpiresAt: now.Add(w.ttl),
	}

	if err := w.logs.InsertEmergencyLog(ctx, &EmergencyAccessLog{
		ID:        grant.ID,
		TenantID:  grant.TenantID,
		ActorID:   grant.ActorID,
		SubjectID: grant.SubjectID,
		Reason:    grant.Reason,
		Scope:     grant.Scope,
		GrantedAt: grant.GrantedAt,
		ExpiresAt: grant.ExpiresAt,
	}); err != nil {
		return nil, fmt.Errorf("record emergency access: %w", err)
	}

	w.ledger.Record(ctx, &audit.Entry{
		TenantID:        tenantID,
		ActorID:         actorID,
		ActorRole:       actorRole,
		SubjectID:       subjectID,
		Action:          audit.ActionView,
		Resource:        "emergency_access",
		ResourceID:      grant.ID.String(),
		Justification:   reason,
		ComplianceFlags: []string{audit.FlagEmergencyAccess},
	})

	w.mu.Lock()
	w.active[activeKey(actorID, subjectID)] = grant
	w.mu.Unlock()

	w.logger.Warn().
		Str("actor_id", actorID).
		Str("subject_id", subjectID).
		Str("grant_id", grant.ID.String()).
		Time("expires_at", grant.ExpiresAt).
		Str("reason", reason).
		Msg("emergency access granted")

	return grant, nil
}

// ActiveGrant returns the live grant for an (actor, subject) pair, or
// nil when none exists or the window has lapsed.
func (w *Workflow) ActiveGrant(actorID, subjectID string) *EmergencyGrant {
	w.mu.RLock()
	grant := w.active[activeKey(actorID, subjectID)]
	w.mu.RUnlock()

	if grant == nil {
		return nil
	}
	if !grant.Active(w.now().UTC()) {
		w.mu.Lock()
		delete(w.active, activeKey(actorID, subjectID))
		w.mu.Unlock()
		return nil
	}
	return grant
}

// Logs returns the emergency access history for a subject.
func (w *Workflow) Logs(ctx context.Context, tenantID, subjectID string, limit, offset int) ([]*EmergencyAccessLog, int, error) {
	return w.logs.ListEmergencyLogs(ctx, tenantID, subjectID, limit, offset)
}

func activeKey(actorID, subjectID string) string {
	return actorID + "|" + subjectID
}
