package subject

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caresafe/caresafe/internal/domain/access"
	"github.com/caresafe/caresafe/internal/domain/audit"
	"github.com/caresafe/caresafe/internal/domain/conflict"
	"github.com/caresafe/caresafe/internal/platform/auth"
)

// ErrNotOverridable is returned when an override targets a conflict set
// containing a hard block.
var ErrNotOverridable = fmt.Errorf("conflict cannot be overridden")

// Service runs every clinical mutation through the same sequence:
// access gate, conflict evaluation, persistence only when the
// disposition permits, and an audit entry written before the call
// returns. No path skips a step.
type Service struct {
	repo   Repository
	engine *conflict.Engine
	gate   *access.Gate
	ledger *audit.Ledger
	logger zerolog.Logger
}

func NewService(repo Repository, engine *conflict.Engine, gate *access.Gate, ledger *audit.Ledger, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		engine: engine,
		gate:   gate,
		ledger: ledger,
		logger: logger.With().Str("component", "subject-service").Logger(),
	}
}

// MutationResult is what a gated write returns to the handler.
type MutationResult struct {
	Disposition           conflict.Disposition `json:"disposition"`
	Conflicts             []conflict.Conflict  `json:"conflicts,omitempty"`
	OverrideEndpoint      string               `json:"override_endpoint,omitempty"`
	RequestReviewEndpoint string               `json:"request_review_endpoint,omitempty"`
	AuditEntryID          uuid.UUID            `json:"audit_entry_id"`
	Persisted             bool                 `json:"persisted"`
}

// RequestMeta carries the forensic fields from the HTTP layer into the
// audit entry.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type MedicationInput struct {
	Name     string `json:"name"`
	Dose     string `json:"dose,omitempty"`
	Critical bool   `json:"critical,omitempty"`
}

type BiometricInput struct {
	Kind    string    `json:"kind"`
	Value   float64   `json:"value"`
	Unit    string    `json:"unit"`
	TakenAt time.Time `json:"taken_at,omitempty"`
}

type AllergyInput struct {
	Allergen  string   `json:"allergen"`
	Severity  string   `json:"severity"`
	Reactions []string `json:"reactions,omitempty"`
}

type RestrictionInput struct {
	Kind       string `json:"kind"`
	Strictness string `json:"strictness,omitempty"`
}

type ProfileUpdate struct {
	Allergies    []AllergyInput     `json:"allergies"`
	Restrictions []RestrictionInput `json:"dietary_restrictions"`
}

// CreateSubject registers a subject. Creation is not a gated clinical
// mutation, but it is audited like everything else.
func (s *Service) CreateSubject(ctx context.Context, p auth.Principal, sub *Subject, meta RequestMeta) error {
	if sub.DisplayName == "" {
		return fmt.Errorf("display_name is required")
	}
	if sub.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	sub.TenantID = p.TenantID

	if err := s.repo.CreateSubject(ctx, sub); err != nil {
		return err
	}

	s.ledger.Record(ctx, &audit.Entry{
		TenantID:   p.TenantID,
		ActorID:    p.ActorID,
		ActorRole:  primaryRole(p),
		SubjectID:  sub.ID.String(),
		Action:     audit.ActionCreate,
		Resource:   "subject",
		ResourceID: sub.ID.String(),
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

// AddMedication evaluates the proposed medication against the subject's
// state and persists it only on Allow or Warn.
func (s *Service) AddMedication(ctx context.Context, p auth.Principal, subjectID uuid.UUID, in MedicationInput, meta RequestMeta) (*MutationResult, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}

	return s.gatedMutation(ctx, p, subjectID, "medication", meta, "",
		conflict.Proposed{Medications: []string{in.Name}},
		func(ctx context.Context) (string, error) {
			m := &Medication{SubjectID: subjectID, Name: in.Name, Dose: in.Dose, Critical: in.Critical}
			if err := s.repo.AddMedication(ctx, m); err != nil {
				return "", err
			}
			return m.ID.String(), nil
		})
}

// UpdateBiometrics appends a reading. Weight readings are screened for
// anomalous swings first.
func (s *Service) UpdateBiometrics(ctx context.Context, p auth.Principal, subjectID uuid.UUID, in BiometricInput, meta RequestMeta) (*MutationResult, error) {
	if in.Kind == "" {
		return nil, fmt.Errorf("kind is required")
	}
	if in.Value <= 0 {
		return nil, fmt.Errorf("value must be positive")
	}

	proposed := conflict.Proposed{TakenAt: in.TakenAt}
	if in.Kind == BiometricWeight {
		v := in.Value
		proposed.Weight = &v
		proposed.WeightUnit = in.Unit
	}

	return s.gatedMutation(ctx, p, subjectID, "biometric", meta, "",
		proposed,
		func(ctx context.Context) (string, error) {
			b := &BiometricReading{SubjectID: subjectID, Kind: in.Kind, Value: in.Value, Unit: in.Unit, TakenAt: in.TakenAt}
			if err := s.repo.AddBiometric(ctx, b); err != nil {
				return "", err
			}
			return b.ID.String(), nil
		})
}

// ApplyRecipe checks a recipe's ingredients against allergies,
// restrictions, and food interactions. Nothing is persisted beyond the
// audit entry; the evaluation result is the product.
func (s *Service) ApplyRecipe(ctx context.Context, p auth.Principal, subjectID uuid.UUID, ingredients []string, meta RequestMeta) (*MutationResult, error) {
	if len(ingredients) == 0 {
		return nil, fmt.Errorf("ingredients are required")
	}

	return s.gatedMutation(ctx, p, subjectID, "recipe", meta, "",
		conflict.Proposed{Ingredients: ingredients},
		func(ctx context.Context) (string, error) { return "", nil })
}

// UpdateProfile replaces the subject's allergies and dietary
// restrictions.
func (s *Service) UpdateProfile(ctx context.Context, p auth.Principal, subjectID uuid.UUID, in ProfileUpdate, meta RequestMeta) (*MutationResult, error) {
	allergies := make([]*Allergy, 0, len(in.Allergies))
	for _, a := range in.Allergies {
		if strings.TrimSpace(a.Allergen) == "" {
			return nil, fmt.Errorf("allergen is required")
		}
		allergies = append(allergies, &Allergy{
			Allergen:  a.Allergen,
			Severity:  conflict.ParseSeverity(a.Severity),
			Reactions: a.Reactions,
		})
	}
	restrictions := make([]*DietaryRestriction, 0, len(in.Restrictions))
	for _, d := range in.Restrictions {
		if strings.TrimSpace(d.Kind) == "" {
			return nil, fmt.Errorf("kind is required")
		}
		restrictions = append(restrictions, &DietaryRestriction{Kind: d.Kind, Strictness: d.Strictness})
	}

	return s.gatedMutation(ctx, p, subjectID, "profile", meta, "",
		conflict.Proposed{},
		func(ctx context.Context) (string, error) {
			if err := s.repo.ReplaceAllergies(ctx, subjectID, allergies); err != nil {
				return "", err
			}
			if err := s.repo.ReplaceDietaryRestrictions(ctx, subjectID, restrictions); err != nil {
				return "", err
			}
			return subjectID.String(), nil
		})
}

// GetProfile is the audited read path. The profile is reduced to the
// critical subset when the grant's scope demands it.
func (s *Service) GetProfile(ctx context.Context, p auth.Principal, subjectID uuid.UUID, meta RequestMeta) (interface{}, error) {
	sub, err := s.repo.GetSubject(ctx, p.TenantID, subjectID)
	if err != nil {
		return nil, err
	}

	dec, err := s.gate.Authorize(ctx, p, subjectRef(sub), false)
	if err != nil {
		return nil, err
	}
	if !dec.Granted {
		s.auditAccess(ctx, p, subjectID, audit.ActionView, "profile", meta, nil, "denied: "+dec.DenialReason, nil)
		return nil, access.ErrDenied
	}

	profile, err := s.repo.GetProfile(ctx, p.TenantID, subjectID)
	if err != nil {
		return nil, err
	}

	var flags []string
	if dec.Grant.Mode == access.ModeEmergencyOverride {
		flags = append(flags, audit.FlagEmergencyAccess)
	}
	s.auditAccess(ctx, p, subjectID, audit.ActionView, "profile", meta, nil, dec.Grant.Reason, flags)

	if dec.Grant.Scope == access.ScopeCriticalInfoOnly {
		return CriticalSubset(profile), nil
	}
	return profile, nil
}

// Override re-runs a blocked-for-approval mutation with an approver's
// sign-off. Conflict sets containing a non-overridable conflict are
// refused outright regardless of who asks.
func (s *Service) Override(ctx context.Context, p auth.Principal, subjectID uuid.UUID, proposed conflict.Proposed, reason string, meta RequestMeta) (*MutationResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("reason is required")
	}
	if !p.IsClinical() {
		return nil, access.ErrDenied
	}

	sub, err := s.repo.GetSubject(ctx, p.TenantID, subjectID)
	if err != nil {
		return nil, err
	}
	dec, err := s.gate.Authorize(ctx, p, subjectRef(sub), true)
	if err != nil {
		return nil, err
	}
	if !dec.Granted {
		return nil, access.ErrDenied
	}

	profile, err := s.repo.GetProfile(ctx, p.TenantID, subjectID)
	if err != nil {
		return nil, err
	}
	result := s.engine.Evaluate(proposed, profile.State())

	if conflict.AnyNonOverridable(result.Conflicts) {
		s.auditAccess(ctx, p, subjectID, audit.ActionUpdate, "override", meta, result.Conflicts, "override refused: "+reason, nil)
		return nil, ErrNotOverridable
	}

	for _, name := range proposed.Medications {
		m := &Medication{SubjectID: subjectID, Name: name}
		if err := s.repo.AddMedication(ctx, m); err != nil {
			return nil, err
		}
	}

	entryID := s.auditAccess(ctx, p, subjectID, audit.ActionUpdate, "override", meta, result.Conflicts,
		reason, []string{"override:" + reason})

	return &MutationResult{
		Disposition:  conflict.DispositionAllow,
		Conflicts:    result.Conflicts,
		AuditEntryID: entryID,
		Persisted:    true,
	}, nil
}

// RequestReview records that an actor asked for manual clinical review
// of a conflict set. Review itself happens out of band.
func (s *Service) RequestReview(ctx context.Context, p auth.Principal, subjectID uuid.UUID, conflicts []conflict.Conflict, note string, meta RequestMeta) (uuid.UUID, error) {
	entryID := s.auditAccess(ctx, p, subjectID, audit.ActionCreate, "review_request", meta, conflicts, note, []string{"review_requested"})
	return entryID, nil
}

// gatedMutation is the shared write path: authorize, evaluate, persist
// when proceedable, audit before returning.
func (s *Service) gatedMutation(
	ctx context.Context,
	p auth.Principal,
	subjectID uuid.UUID,
	resource string,
	meta RequestMeta,
	justification string,
	proposed conflict.Proposed,
	persist func(ctx context.Context) (string, error),
) (*MutationResult, error) {
	sub, err := s.repo.GetSubject(ctx, p.TenantID, subjectID)
	if err != nil {
		return nil, err
	}

	dec, err := s.gate.Authorize(ctx, p, subjectRef(sub), true)
	if err != nil {
		return nil, err
	}
	if !dec.Granted {
		s.auditAccess(ctx, p, subjectID, actionFor(resource), resource, meta, nil, "denied: "+dec.DenialReason, nil)
		return nil, access.ErrDenied
	}

	profile, err := s.repo.GetProfile(ctx, p.TenantID, subjectID)
	if err != nil {
		return nil, err
	}
	result := s.engine.Evaluate(proposed, profile.State())

	res := &MutationResult{
		Disposition:           result.Disposition,
		Conflicts:             result.Conflicts,
		OverrideEndpoint:      result.OverrideEndpoint,
		RequestReviewEndpoint: result.RequestReviewEndpoint,
	}

	resourceID := ""
	var persistErr error
	if result.Proceedable() {
		resourceID, persistErr = persist(ctx)
		res.Persisted = persistErr == nil
	}

	var flags []string
	if result.SystemError {
		flags = append(flags, audit.FlagSystemError)
	}
	if dec.Grant.Mode == access.ModeEmergencyOverride {
		flags = append(flags, audit.FlagEmergencyAccess)
	}
	// Proceeding past a warning is itself a recorded decision, and an
	// evaluated attempt whose write failed still leaves an entry.
	if result.Disposition == conflict.DispositionWarn && res.Persisted {
		flags = append(flags, audit.FlagWarnProceeded)
	}
	if persistErr != nil {
		flags = append(flags, audit.FlagPersistFailed)
	}

	entry := &audit.Entry{
		TenantID:          p.TenantID,
		ActorID:           p.ActorID,
		ActorRole:         primaryRole(p),
		SubjectID:         subjectID.String(),
		Action:            actionFor(resource),
		Resource:          resource,
		ResourceID:        resourceID,
		IPAddress:         meta.IPAddress,
		UserAgent:         meta.UserAgent,
		Justification:     justification,
		ComplianceFlags:   flags,
		ConflictsObserved: result.Conflicts,
	}
	res.AuditEntryID = s.ledger.Record(ctx, entry)

	if persistErr != nil {
		return nil, persistErr
	}
	return res, nil
}

func (s *Service) auditAccess(ctx context.Context, p auth.Principal, subjectID uuid.UUID, action, resource string, meta RequestMeta, conflicts []conflict.Conflict, justification string, flags []string) uuid.UUID {
	return s.ledger.Record(ctx, &audit.Entry{
		TenantID:          p.TenantID,
		ActorID:           p.ActorID,
		ActorRole:         primaryRole(p),
		SubjectID:         subjectID.String(),
		Action:            action,
		Resource:          resource,
		IPAddress:         meta.IPAddress,
		UserAgent:         meta.UserAgent,
		Justification:     justification,
		ComplianceFlags:   flags,
		ConflictsObserved: conflicts,
	})
}

func subjectRef(sub *Subject) access.SubjectRef {
	return access.SubjectRef{ID: sub.ID.String(), TenantID: sub.TenantID, OwnerID: sub.OwnerID}
}

func actionFor(resource string) string {
	switch resource {
	case "profile":
		return audit.ActionUpdate
	default:
		return audit.ActionCreate
	}
}

func primaryRole(p auth.Principal) string {
	if len(p.Roles) > 0 {
		return p.Roles[0]
	}
	return ""
}
