package conflict

import "time"

// Type classifies a detected conflict.
type Type string

const (
	TypeMedicationInteraction Type = "medication_interaction"
	TypeAllergyConflict       Type = "allergy_conflict"
	TypeDietaryConflict       Type = "dietary_conflict"
	TypeBiometricAnomaly      Type = "biometric_anomaly"
)

// Severity orders conflict seriousness. The zero value is unknown.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at or above the given threshold.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// ParseSeverity maps a catalog severity string to a Severity, defaulting
// to medium for unknown values so missing data never downgrades a
// finding to ignorable.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s)
	default:
		return SeverityMedium
	}
}

// Conflict is the output of one detector finding. Conflicts are
// request-scoped: they are returned to the caller and embedded in the
// audit entry for that request, never persisted standalone.
type Conflict struct {
	Type             Type     `json:"type"`
	Severity         Severity `json:"severity"`
	Description      string   `json:"description"`
	AffectedFields   []string `json:"affected_fields,omitempty"`
	Recommendations  []string `json:"recommendations,omitempty"`
	RequiresApproval bool     `json:"requires_approval"`
}

// Disposition is the single policy decision derived from a conflict set.
type Disposition string

const (
	DispositionAllow           Disposition = "allow"
	DispositionWarn            Disposition = "warn"
	DispositionRequireApproval Disposition = "require_approval"
	DispositionBlock           Disposition = "block"
)

// Proposed is the change under evaluation. It exists only for the
// duration of one request.
type Proposed struct {
	Medications []string  `json:"medications,omitempty"`
	Ingredients []string  `json:"ingredients,omitempty"`
	Weight      *float64  `json:"weight,omitempty"`
	WeightUnit  string    `json:"weight_unit,omitempty"`
	TakenAt     time.Time `json:"taken_at,omitempty"`
}

// State is the snapshot of the subject's current clinical facts that
// detectors evaluate against.
type State struct {
	ActiveMedications   []string
	Allergies           []string
	DietaryRestrictions []string
	LastWeight          *float64
}

// Result is the explicit outcome of one evaluation, threaded through the
// calling code instead of being attached to the request.
type Result struct {
	Disposition           Disposition `json:"disposition"`
	Conflicts             []Conflict  `json:"conflicts"`
	OverrideEndpoint      string      `json:"override_endpoint,omitempty"`
	RequestReviewEndpoint string      `json:"request_review_endpoint,omitempty"`
	SystemError           bool        `json:"system_error,omitempty"`
}

// Proceedable reports whether the originating request may be committed
// without an override.
func (r Result) Proceedable() bool {
	return r.Disposition == DispositionAllow || r.Disposition == DispositionWarn
}
