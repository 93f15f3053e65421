package subject

import (
	"time"

	"github.com/google/uuid"

	"github.com/caresafe/caresafe/internal/domain/conflict"
)

// Subject is the person whose clinical data the platform holds. The
// owner is the actor account allowed to act on it as themselves.
type Subject struct {
	ID                uuid.UUID          `json:"id"`
	TenantID          string             `json:"tenant_id"`
	OwnerID           string             `json:"owner_id"`
	DisplayName       string             `json:"display_name"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts,omitempty"`
	Providers         []Provider         `json:"providers,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

type EmergencyContact struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Relation string `json:"relation,omitempty"`
}

type Provider struct {
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Specialty string `json:"specialty,omitempty"`
}

// Medication is an append/supersede fact. Deactivation stamps
// SupersededAt; the row itself is never rewritten.
type Medication struct {
	ID           uuid.UUID  `json:"id"`
	SubjectID    uuid.UUID  `json:"subject_id"`
	Name         string     `json:"name"`
	Dose         string     `json:"dose,omitempty"`
	Critical     bool       `json:"critical"`
	ActiveSince  time.Time  `json:"active_since"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
}

// Active reports whether the medication is currently in effect.
func (m *Medication) Active() bool {
	return m.SupersededAt == nil
}

type Allergy struct {
	ID           uuid.UUID         `json:"id"`
	SubjectID    uuid.UUID         `json:"subject_id"`
	Allergen     string            `json:"allergen"`
	Severity     conflict.Severity `json:"severity"`
	Reactions    []string          `json:"reactions,omitempty"`
	RecordedAt   time.Time         `json:"recorded_at"`
	SupersededAt *time.Time        `json:"superseded_at,omitempty"`
}

type DietaryRestriction struct {
	ID           uuid.UUID  `json:"id"`
	SubjectID    uuid.UUID  `json:"subject_id"`
	Kind         string     `json:"kind"`
	Strictness   string     `json:"strictness,omitempty"`
	RecordedAt   time.Time  `json:"recorded_at"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
}

// BiometricReading is strictly append-only. There is no supersede
// marker: history is the point.
type BiometricReading struct {
	ID        uuid.UUID `json:"id"`
	SubjectID uuid.UUID `json:"subject_id"`
	Kind      string    `json:"kind"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	TakenAt   time.Time `json:"taken_at"`
}

const BiometricWeight = "weight"

// Profile is the full clinical view of one subject.
type Profile struct {
	Subject             *Subject              `json:"subject"`
	Medications         []*Medication         `json:"medications"`
	Allergies           []*Allergy            `json:"allergies"`
	DietaryRestrictions []*DietaryRestriction `json:"dietary_restrictions"`
	Biometrics          []*BiometricReading   `json:"biometrics"`
}

// State projects the profile into the snapshot the conflict engine
// consumes: active medication names, current allergens, current
// restrictions, last known weight.
func (p *Profile) State() conflict.State {
	var meds []string
	for _, m := range p.Medications {
		if m.Active() {
			meds = append(meds, m.Name)
		}
	}

	var allergens []string
	for _, a := range p.Allergies {
		if a.SupersededAt == nil {
			allergens = append(allergens, a.Allergen)
		}
	}

	var restrictions []string
	for _, d := range p.DietaryRestrictions {
		if d.SupersededAt == nil {
			restrictions = append(restrictions, d.Kind)
		}
	}

	return conflict.State{
		ActiveMedications:   meds,
		Allergies:           allergens,
		DietaryRestrictions: restrictions,
		LastWeight:          p.LastWeight(),
	}
}

// LastWeight returns the most recent weight reading, or nil.
func (p *Profile) LastWeight() *float64 {
	var latest *BiometricReading
	for _, b := range p.Biometrics {
		if b.Kind != BiometricWeight {
			continue
		}
		if latest == nil || b.TakenAt.After(latest.TakenAt) {
			latest = b
		}
	}
	if latest == nil {
		return nil
	}
	v := latest.Value
	return &v
}

// CriticalProfile is the slice of a profile visible under an
// emergency grant: what a responder needs and nothing more.
type CriticalProfile struct {
	Subject           *Subject           `json:"subject"`
	SevereAllergies   []*Allergy         `json:"severe_allergies"`
	CriticalMeds      []*Medication      `json:"critical_medications"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts"`
	Providers         []Provider         `json:"providers"`
}

// CriticalSubset reduces a profile to its emergency-relevant core.
func CriticalSubset(p *Profile) *CriticalProfile {
	out := &CriticalProfile{
		Subject:           &Subject{ID: p.Subject.ID, TenantID: p.Subject.TenantID, DisplayName: p.Subject.DisplayName},
		EmergencyContacts: p.Subject.EmergencyContacts,
		Providers:         p.Subject.Providers,
	}
	for _, a := range p.Allergies {
		if a.SupersededAt == nil && a.Severity.AtLeast(conflict.SeverityHigh) {
			out.SevereAllergies = append(out.SevereAllergies, a)
		}
	}
	for _, m := range p.Medications {
		if m.Active() && m.Critical {
			out.CriticalMeds = append(out.CriticalMeds, m)
		}
	}
	return out
}
