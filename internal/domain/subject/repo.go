package subject

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a subject does not exist in the tenant.
var ErrNotFound = errors.New("subject not found")

// Repository persists subjects and their clinical facts. Facts are
// append/supersede only; there are no update-in-place operations.
type Repository interface {
	CreateSubject(ctx context.Context, s *Subject) error
	GetSubject(ctx context.Context, tenantID string, id uuid.UUID) (*Subject, error)
	GetProfile(ctx context.Context, tenantID string, id uuid.UUID) (*Profile, error)

	AddMedication(ctx context.Context, m *Medication) error
	SupersedeMedication(ctx context.Context, subjectID, medicationID uuid.UUID, at time.Time) error

	// ReplaceAllergies supersedes the current allergy rows and inserts
	// the new set in one transaction. Same for restrictions.
	ReplaceAllergies(ctx context.Context, subjectID uuid.UUID, allergies []*Allergy) error
	ReplaceDietaryRestrictions(ctx context.Context, subjectID uuid.UUID, restrictions []*DietaryRestriction) error

	AddBiometric(ctx context.Context, b *BiometricReading) error
}
