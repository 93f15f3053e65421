package conflict

import (
	"fmt"
	"strings"

	"github.com/caresafe/caresafe/internal/catalog"
)

// Detectors are pure functions: same inputs, same conflicts, no I/O.
// The policy engine, not a detector, decides the overall disposition.

// DetectMedicationInteractions checks every unordered pair drawn from
// the union of active and proposed medications against the interaction
// catalog. Pair lookup is bidirectional and case-insensitive. O(n^2)
// over the combined list, which stays small in practice.
func DetectMedicationInteractions(proposed []string, active []string, cat *catalog.Catalog) []Conflict {
	combined := make([]string, 0, len(active)+len(proposed))
	seen := make(map[string]bool)
	for _, m := range append(append([]string{}, active...), proposed...) {
		norm := catalog.Normalize(m)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		combined = append(combined, norm)
	}

	var out []Conflict
	for i := 0; i < len(combined); i++ {
		for j := i + 1; j < len(combined); j++ {
			d := cat.LookupInteraction(combined[i], combined[j])
			if d == nil {
				continue
			}
			recs := []string{}
			if d.Management != "" {
				recs = append(recs, d.Management)
			}
			out = append(out, Conflict{
				Type:             TypeMedicationInteraction,
				Severity:         ParseSeverity(d.Severity),
				Description:      fmt.Sprintf("%s interacts with %s: %s", d.MedicationA, d.MedicationB, d.Description),
				AffectedFields:   []string{"medications"},
				Recommendations:  recs,
				RequiresApproval: d.RequiresApproval,
			})
		}
	}
	return out
}

// DetectMedicationFood checks each (medication, ingredient) pair against
// the food-interaction catalog. Matching is a normalized substring test
// against the first token of the catalog food item; simplistic on
// purpose. Food conflicts are floored at medium severity and never
// require approval on their own.
func DetectMedicationFood(ingredients []string, medications []string, cat *catalog.Catalog) []Conflict {
	var out []Conflict
	for _, med := range medications {
		for _, fi := range cat.FoodInteractionsFor(med) {
			token := firstToken(fi.FoodItem)
			if token == "" {
				continue
			}
			for _, ing := range ingredients {
				if !strings.Contains(catalog.Normalize(ing), token) {
					continue
				}
				sev := ParseSeverity(fi.Severity)
				if !sev.AtLeast(SeverityMedium) {
					sev = SeverityMedium
				}
				out = append(out, Conflict{
					Type:            TypeMedicationInteraction,
					Severity:        sev,
					Description:     fmt.Sprintf("%s interacts with %s: %s", fi.Medication, ing, fi.Description),
					AffectedFields:  []string{"medications", "ingredients"},
					Recommendations: []string{"Review meal plan with prescribing clinician"},
				})
			}
		}
	}
	return out
}

// DetectAllergyConflicts expands each subject allergen to its synonym
// set and flags any proposed ingredient whose normalized name contains a
// synonym. Allergy conflicts are always critical and never approvable;
// the engine turns them into an unconditional block.
func DetectAllergyConflicts(ingredients []string, allergies []string, cat *catalog.Catalog) []Conflict {
	var out []Conflict
	for _, allergen := range allergies {
		synonyms := cat.SynonymsFor(allergen)
		for _, ing := range ingredients {
			norm := catalog.Normalize(ing)
			for _, syn := range synonyms {
				if syn == "" || !strings.Contains(norm, syn) {
					continue
				}
				out = append(out, Conflict{
					Type:             TypeAllergyConflict,
					Severity:         SeverityCritical,
					Description:      fmt.Sprintf("ingredient %q matches recorded allergy %q", ing, allergen),
					AffectedFields:   []string{"ingredients", "allergies"},
					Recommendations:  []string{"Remove the ingredient", "Verify the allergy record with the patient"},
					RequiresApproval: false,
				})
				break
			}
		}
	}
	return out
}

// DetectDietaryConflicts flags proposed ingredients excluded by the
// subject's dietary restrictions. Medium severity, always overridable
// with justification.
func DetectDietaryConflicts(ingredients []string, restrictions []string, cat *catalog.Catalog) []Conflict {
	var out []Conflict
	for _, restriction := range restrictions {
		excluded := cat.ExclusionsFor(restriction)
		for _, ing := range ingredients {
			norm := catalog.Normalize(ing)
			for _, ex := range excluded {
				if ex == "" || !strings.Contains(norm, ex) {
					continue
				}
				out = append(out, Conflict{
					Type:             TypeDietaryConflict,
					Severity:         SeverityMedium,
					Description:      fmt.Sprintf("ingredient %q conflicts with %s restriction", ing, catalog.Normalize(restriction)),
					AffectedFields:   []string{"ingredients", "dietary_restrictions"},
					Recommendations:  []string{"Substitute a compliant ingredient", "Proceed with documented patient consent"},
					RequiresApproval: true,
				})
				break
			}
		}
	}
	return out
}

// biometricChangeThreshold is the relative weight change above which a
// new reading is flagged for re-measurement.
const biometricChangeThreshold = 0.20

// DetectBiometricAnomaly flags a new weight reading that differs from
// the last recorded weight by more than 20% in either direction. A
// smell test, not a diagnosis.
func DetectBiometricAnomaly(newWeight, lastWeight *float64) []Conflict {
	if newWeight == nil || lastWeight == nil || *lastWeight <= 0 {
		return nil
	}
	change := (*newWeight - *lastWeight) / *lastWeight
	if change < 0 {
		change = -change
	}
	if change <= biometricChangeThreshold {
		return nil
	}
	return []Conflict{{
		Type:     TypeBiometricAnomaly,
		Severity: SeverityMedium,
		Description: fmt.Sprintf("reported weight %.1f differs from last recorded %.1f by %.0f%%",
			*newWeight, *lastWeight, change*100),
		AffectedFields:   []string{"biometrics.weight"},
		Recommendations:  []string{"Re-measure to confirm", "Flag for clinical review if confirmed"},
		RequiresApproval: true,
	}}
}

func firstToken(s string) string {
	fields := strings.Fields(catalog.Normalize(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
