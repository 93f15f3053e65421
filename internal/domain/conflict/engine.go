package conflict

import (
	"github.com/rs/zerolog"

	"github.com/caresafe/caresafe/internal/catalog"
)

const (
	overrideEndpoint      = "/api/v1/conflicts/override"
	requestReviewEndpoint = "/api/v1/conflicts/review"
)

// Engine aggregates detector output into a single disposition. It is
// stateless apart from the injected catalog and is safe to share across
// requests.
type Engine struct {
	cat    *catalog.Catalog
	logger zerolog.Logger
}

func NewEngine(cat *catalog.Catalog, logger zerolog.Logger) *Engine {
	return &Engine{
		cat:    cat,
		logger: logger.With().Str("component", "conflict-engine").Logger(),
	}
}

// CatalogVersion reports the version of the injected rule catalog, for
// audit entries and replay.
func (e *Engine) CatalogVersion() string {
	if e.cat == nil {
		return ""
	}
	return e.cat.Version
}

// Evaluate runs every applicable detector over the proposed change and
// subject state, then applies the disposition ladder:
//
//  1. any critical conflict with RequiresApproval=false -> block (no override)
//  2. any high, or critical-but-approvable               -> require approval
//  3. any medium or low                                  -> warn
//  4. none                                               -> allow
//
// Missing catalog data fails open for dietary and food categories and
// closed (require approval) for allergy and medication categories. A
// detector panic is recovered, logged, and surfaces as a system-error
// result that requires manual review; the request is never silently
// approved.
func (e *Engine) Evaluate(proposed Proposed, state State) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("detector failure, routing to manual review")
			result = Result{
				Disposition:           DispositionRequireApproval,
				SystemError:           true,
				RequestReviewEndpoint: requestReviewEndpoint,
				Conflicts: []Conflict{{
					Type:             TypeMedicationInteraction,
					Severity:         SeverityHigh,
					Description:      "safety evaluation failed; manual clinical review required",
					RequiresApproval: true,
				}},
			}
		}
	}()

	var conflicts []Conflict
	failClosed := false

	if len(proposed.Medications) > 0 || len(state.ActiveMedications) > 0 {
		if e.cat == nil || !e.cat.HasInteractionData() {
			// Interaction table missing: patient safety over availability.
			failClosed = true
			e.logger.Warn().Msg("drug interaction catalog unavailable, failing closed")
		} else {
			conflicts = append(conflicts, DetectMedicationInteractions(proposed.Medications, state.ActiveMedications, e.cat)...)
		}
	}

	if len(proposed.Ingredients) > 0 {
		if e.cat == nil || !e.cat.HasAllergenData() {
			if len(state.Allergies) > 0 {
				failClosed = true
				e.logger.Warn().Msg("allergen catalog unavailable, failing closed")
			}
		} else {
			conflicts = append(conflicts, DetectAllergyConflicts(proposed.Ingredients, state.Allergies, e.cat)...)
		}

		// Dietary and food interactions fail open: a missing low-stakes
		// table must not take the whole write path down.
		if e.cat != nil {
			conflicts = append(conflicts, DetectDietaryConflicts(proposed.Ingredients, state.DietaryRestrictions, e.cat)...)
			conflicts = append(conflicts, DetectMedicationFood(proposed.Ingredients, state.ActiveMedications, e.cat)...)
		}
	}

	conflicts = append(conflicts, DetectBiometricAnomaly(proposed.Weight, state.LastWeight)...)

	result = Result{Conflicts: conflicts, Disposition: evaluateDisposition(conflicts)}
	if failClosed && result.Disposition != DispositionBlock {
		result.Disposition = DispositionRequireApproval
	}
	if result.Disposition == DispositionRequireApproval {
		result.OverrideEndpoint = overrideEndpoint
		result.RequestReviewEndpoint = requestReviewEndpoint
	}
	return result
}

// evaluateDisposition is the pure disposition ladder. Re-running it on
// an identical conflict list always yields the same answer.
func evaluateDisposition(conflicts []Conflict) Disposition {
	if len(conflicts) == 0 {
		return DispositionAllow
	}
	disposition := DispositionWarn
	for _, c := range conflicts {
		if c.Severity == SeverityCritical && !c.RequiresApproval {
			return DispositionBlock
		}
		if c.Severity == SeverityHigh || c.Severity == SeverityCritical {
			disposition = DispositionRequireApproval
		}
	}
	return disposition
}

// Overridable reports whether the given conflict may be overridden by an
// authorized approver. Critical non-approvable conflicts (allergy
// exposure) have a hard floor: they can only be blocked.
func Overridable(c Conflict) bool {
	return !(c.Severity == SeverityCritical && !c.RequiresApproval)
}

// AnyNonOverridable reports whether the conflict set contains at least
// one conflict no override can clear.
func AnyNonOverridable(conflicts []Conflict) bool {
	for _, c := range conflicts {
		if !Overridable(c) {
			return true
		}
	}
	return false
}
