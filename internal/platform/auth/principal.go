package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	ActorIDKey contextKey = "actor_id"
	TenantKey  contextKey = "actor_tenant_id"
	RolesKey   contextKey = "actor_roles"
)

// Roles recognized by the access gate. The identity provider is trusted
// to assign them; this core never authenticates.
const (
	RolePatient         = "patient"
	RoleFamilyMember    = "family_member"
	RoleClinicalAdvisor = "clinical_advisor"
	RoleSuperAdmin      = "super_admin"
)

// Principal is the already-authenticated actor supplied by the identity
// provider. Family permission levels toward specific subjects are
// resolved from the relationship store, not from the token, so that a
// permission change takes effect immediately.
type Principal struct {
	ActorID  string
	TenantID string
	Roles    []string
}

// Claims is the JWT claim set issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsClinical reports whether the principal holds a clinical role that
// grants cross-patient access within its tenant.
func (p Principal) IsClinical() bool {
	return p.HasRole(RoleClinicalAdvisor) || p.HasRole(RoleSuperAdmin)
}

// WithPrincipal stores the principal's fields in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, ActorIDKey, p.ActorID)
	ctx = context.WithValue(ctx, TenantKey, p.TenantID)
	ctx = context.WithValue(ctx, RolesKey, p.Roles)
	return ctx
}

// PrincipalFromContext rebuilds the principal from context values. The
// zero Principal means the request was not authenticated.
func PrincipalFromContext(ctx context.Context) Principal {
	return Principal{
		ActorID:  ActorIDFromContext(ctx),
		TenantID: TenantIDFromContext(ctx),
		Roles:    RolesFromContext(ctx),
	}
}

// ActorIDFromContext returns the authenticated actor ID, or "".
func ActorIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ActorIDKey).(string)
	return v
}

// TenantIDFromContext returns the actor's tenant ID, or "".
func TenantIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(TenantKey).(string)
	return v
}

// RolesFromContext returns the actor's roles, or nil.
func RolesFromContext(ctx context.Context) []string {
	v, _ := ctx.Value(RolesKey).([]string)
	return v
}
