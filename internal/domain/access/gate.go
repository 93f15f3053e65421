package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/caresafe/caresafe/internal/platform/auth"
)

// ErrEmergencyRoute signals that the actor holds EmergencyOnly
// permission: the request cannot proceed normally and must go through
// the emergency workflow.
var ErrEmergencyRoute = errors.New("access requires the emergency workflow")

// ErrDenied is returned by callers of the gate when a decision came
// back negative.
var ErrDenied = errors.New("access denied")

const permCacheTTL = 30 * time.Second

// Gate decides whether an actor may perform an action on a subject.
// The decision order is fixed: self access, then the tenant boundary,
// then family delegation, then clinical role, then emergency-only
// routing. The tenant check runs before any family or role lookup; a
// cross-tenant request is denied without ever consulting those fields.
type Gate struct {
	repo      RelationshipRepository
	emergency *Workflow
	cache     *permCache
	logger    zerolog.Logger
}

func NewGate(repo RelationshipRepository, emergency *Workflow, logger zerolog.Logger) *Gate {
	return &Gate{
		repo:      repo,
		emergency: emergency,
		cache:     newPermCache(permCacheTTL),
		logger:    logger.With().Str("component", "access-gate").Logger(),
	}
}

// Authorize runs the access state machine for one request. A write is
// any mutating action. Returns ErrEmergencyRoute when the actor must
// use the emergency workflow instead.
func (g *Gate) Authorize(ctx context.Context, p auth.Principal, sub SubjectRef, write bool) (Decision, error) {
	if p.ActorID == "" {
		return g.deny(p, sub, "unauthenticated"), nil
	}

	if p.ActorID == sub.OwnerID && p.TenantID == sub.TenantID {
		return g.grant(p, sub, Grant{Mode: ModeNormal, Scope: ScopeAll, Reason: "self"}), nil
	}

	if p.TenantID != sub.TenantID {
		return g.deny(p, sub, "tenant isolation"), nil
	}

	rel, err := g.relationship(ctx, p.TenantID, p.ActorID, sub.ID)
	if err != nil {
		return Decision{}, err
	}
	if rel != nil {
		switch rel.Permission {
		case Full:
			return g.grant(p, sub, Grant{Mode: ModeFamilyDelegated, Scope: ScopeAll, Reason: "family full"}), nil
		case Limited:
			if !rel.CanViewHealthData {
				return g.deny(p, sub, "delegation lacks health data visibility"), nil
			}
			return g.grant(p, sub, Grant{Mode: ModeFamilyDelegated, Scope: ScopeHealthDataOnly, Reason: "family limited"}), nil
		case ViewOnly:
			if !rel.CanViewHealthData {
				return g.deny(p, sub, "delegation lacks health data visibility"), nil
			}
			if write {
				return g.deny(p, sub, "view-only permission cannot write"), nil
			}
			return g.grant(p, sub, Grant{Mode: ModeFamilyDelegated, Scope: ScopeHealthDataOnly, Reason: "family view-only"}), nil
		}
	}

	if p.IsClinical() {
		return g.grant(p, sub, Grant{Mode: ModeClinicalRole, Scope: ScopeAll, Reason: "clinical role"}), nil
	}

	if rel != nil && rel.Permission == EmergencyOnly {
		if g.emergency != nil {
			if grant := g.emergency.ActiveGrant(p.ActorID, sub.ID); grant != nil {
				return g.grant(p, sub, Grant{Mode: ModeEmergencyOverride, Scope: grant.Scope, Reason: grant.Reason}), nil
			}
		}
		g.logger.Info().
			Str("actor_id", p.ActorID).
			Str("subject_id", sub.ID).
			Msg("emergency-only actor routed to emergency workflow")
		return Decision{}, ErrEmergencyRoute
	}

	return g.deny(p, sub, "no relationship or role grants access"), nil
}

// SetPermission upserts a family delegation and invalidates the cached
// entry before returning, so the new level is live the moment the call
// completes.
func (g *Gate) SetPermission(ctx context.Context, rel *Relationship) error {
	if rel.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if rel.ActorID == "" {
		return fmt.Errorf("actor_id is required")
	}
	if rel.SubjectID == "" {
		return fmt.Errorf("subject_id is required")
	}
	if _, err := ParsePermissionLevel(string(rel.Permission)); err != nil {
		return err
	}

	if err := g.repo.Set(ctx, rel); err != nil {
		return err
	}
	g.cache.invalidate(rel.TenantID, rel.ActorID, rel.SubjectID)
	return nil
}

// ListPermissions returns the delegations on a subject.
func (g *Gate) ListPermissions(ctx context.Context, tenantID, subjectID string) ([]*Relationship, error) {
	return g.repo.ListForSubject(ctx, tenantID, subjectID)
}

// EmergencyEligible reports whether the actor holds an EmergencyOnly
// delegation toward the subject. Only such actors may open a
// break-glass window.
func (g *Gate) EmergencyEligible(ctx context.Context, tenantID, actorID, subjectID string) (bool, error) {
	rel, err := g.relationship(ctx, tenantID, actorID, subjectID)
	if err != nil {
		return false, err
	}
	return rel != nil && rel.Permission == EmergencyOnly, nil
}

func (g *Gate) relationship(ctx context.Context, tenantID, actorID, subjectID string) (*Relationship, error) {
	if rel, ok := g.cache.get(tenantID, actorID, subjectID); ok {
		return rel, nil
	}

	rel, err := g.repo.Get(ctx, tenantID, actorID, subjectID)
	if errors.Is(err, ErrNotFound) {
		g.cache.put(tenantID, actorID, subjectID, nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	g.cache.put(tenantID, actorID, subjectID, rel)
	return rel, nil
}

func (g *Gate) grant(p auth.Principal, sub SubjectRef, grant Grant) Decision {
	g.logger.Info().
		Str("actor_id", p.ActorID).
		Str("subject_id", sub.ID).
		Str("mode", string(grant.Mode)).
		Str("scope", string(grant.Scope)).
		Msg("access granted")
	return Decision{Granted: true, Grant: grant}
}

func (g *Gate) deny(p auth.Principal, sub SubjectRef, reason string) Decision {
	g.logger.Warn().
		Str("actor_id", p.ActorID).
		Str("actor_tenant", p.TenantID).
		Str("subject_id", sub.ID).
		Str("subject_tenant", sub.TenantID).
		Str("reason", reason).
		Msg("access denied")
	return Decision{Granted: false, DenialReason: reason}
}
