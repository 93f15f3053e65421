package access

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no relationship exists for a pair.
var ErrNotFound = errors.New("relationship not found")

// RelationshipRepository stores family delegations.
type RelationshipRepository interface {
	Get(ctx context.Context, tenantID, actorID, subjectID string) (*Relationship, error)
	Set(ctx context.Context, rel *Relationship) error
	ListForSubject(ctx context.Context, tenantID, subjectID string) ([]*Relationship, error)
}

// EmergencyLogRepository stores emergency access records. Insert-only.
type EmergencyLogRepository interface {
	InsertEmergencyLog(ctx context.Context, log *EmergencyAccessLog) error
	ListEmergencyLogs(ctx context.Context, tenantID, subjectID string, limit, offset int) ([]*EmergencyAccessLog, int, error)
}
