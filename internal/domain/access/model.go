package access

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PermissionLevel is what a family member may do with a subject's data.
type PermissionLevel string

const (
	// Full allows reading and updating everything the subject owns.
	Full PermissionLevel = "full"
	// Limited allows reading and updating health data only, and only
	// while the delegation has health data visibility.
	Limited PermissionLevel = "limited"
	// ViewOnly allows reading health data, never writing, and only
	// while the delegation has health data visibility.
	ViewOnly PermissionLevel = "view_only"
	// EmergencyOnly grants nothing by itself. Access must go through
	// the emergency workflow, with a reason, and yields only the
	// critical subset.
	EmergencyOnly PermissionLevel = "emergency_only"
)

// ParsePermissionLevel validates a permission level from user input.
func ParsePermissionLevel(s string) (PermissionLevel, error) {
	switch PermissionLevel(s) {
	case Full, Limited, ViewOnly, EmergencyOnly:
		return PermissionLevel(s), nil
	}
	return "", fmt.Errorf("unknown permission level %q", s)
}

// Mode says on what basis access was granted.
type Mode string

const (
	ModeNormal            Mode = "normal"
	ModeFamilyDelegated   Mode = "family_delegated"
	ModeClinicalRole      Mode = "clinical_role"
	ModeEmergencyOverride Mode = "emergency_override"
)

// Scope bounds how much of the subject's data the grant covers.
type Scope string

const (
	ScopeAll              Scope = "all"
	ScopeHealthDataOnly   Scope = "health_data_only"
	ScopeCriticalInfoOnly Scope = "critical_info_only"
)

// Relationship is a family delegation row: actor may act on subject at
// the given level. One row per (actor, subject) pair per tenant.
// CanViewHealthData is the owner's separate consent to health data:
// Limited and ViewOnly delegations grant nothing without it.
type Relationship struct {
	ID                uuid.UUID       `json:"id"`
	TenantID          string          `json:"tenant_id"`
	ActorID           string          `json:"actor_id"`
	SubjectID         string          `json:"subject_id"`
	Permission        PermissionLevel `json:"permission"`
	CanViewHealthData bool            `json:"can_view_health_data"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// SubjectRef is the slice of a subject the gate needs: identity, tenant
// and owning actor. The gate never loads clinical data.
type SubjectRef struct {
	ID       string
	TenantID string
	OwnerID  string
}

// Grant is a positive authorization outcome.
type Grant struct {
	Mode   Mode   `json:"mode"`
	Scope  Scope  `json:"scope"`
	Reason string `json:"reason,omitempty"`
}

// Decision is the gate's answer for one (actor, subject, action)
// triple. DenialReason is for the audit trail and logs, never shown to
// the denied actor beyond a generic 403.
type Decision struct {
	Granted      bool   `json:"granted"`
	Grant        Grant  `json:"grant,omitempty"`
	DenialReason string `json:"denial_reason,omitempty"`
}

// EmergencyGrant is a live emergency-access window.
type EmergencyGrant struct {
	ID        uuid.UUID `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ActorID   string    `json:"actor_id"`
	SubjectID string    `json:"subject_id"`
	Reason    string    `json:"reason"`
	Scope     Scope     `json:"scope"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the grant is still inside its window.
func (g *EmergencyGrant) Active(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// EmergencyAccessLog is the immutable record of one emergency access.
// There is no update or delete path for these rows anywhere in the
// system.
type EmergencyAccessLog struct {
	ID        uuid.UUID `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ActorID   string    `json:"actor_id"`
	SubjectID string    `json:"subject_id"`
	Reason    string    `json:"reason"`
	Scope     Scope     `json:"scope"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
