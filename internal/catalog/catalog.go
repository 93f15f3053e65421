package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Catalog holds the clinical reference data the conflict detectors run
// against: drug-drug interaction pairs, drug-food interactions, allergen
// synonym sets, and dietary exclusion lists. A Catalog is immutable once
// built and is injected into the engine; there is no package-level state.
type Catalog struct {
	Version          string              `json:"version"`
	DrugInteractions []DrugInteraction   `json:"drug_interactions"`
	FoodInteractions []FoodInteraction   `json:"food_interactions"`
	AllergenSynonyms map[string][]string `json:"allergen_synonyms"`
	DietExclusions   map[string][]string `json:"diet_exclusions"`

	pairIndex map[pairKey]*DrugInteraction
}

// DrugInteraction is one known medication-medication interaction.
// Direction does not matter: (a,b) and (b,a) resolve to the same entry.
type DrugInteraction struct {
	MedicationA      string `json:"medication_a"`
	MedicationB      string `json:"medication_b"`
	Severity         string `json:"severity"`
	Description      string `json:"description"`
	Management       string `json:"management,omitempty"`
	RequiresApproval bool   `json:"requires_approval"`
}

// FoodInteraction is one known medication-food interaction. FoodItem is
// matched by normalized substring against the first token of the
// ingredient name; this is a deliberate simplification, the canonical ID
// is carried so an ontology lookup can replace the string match later.
type FoodInteraction struct {
	Medication  string `json:"medication"`
	FoodItem    string `json:"food_item"`
	CanonicalID string `json:"canonical_id,omitempty"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

type pairKey struct{ a, b string }

// Normalize lowercases and trims a medication/ingredient name so lookups
// are insensitive to casing and padding.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func newPairKey(a, b string) pairKey {
	na, nb := Normalize(a), Normalize(b)
	if na > nb {
		na, nb = nb, na
	}
	return pairKey{a: na, b: nb}
}

// buildIndex populates the bidirectional pair index. Called once at
// construction; Catalog methods are read-only afterwards.
func (c *Catalog) buildIndex() {
	c.pairIndex = make(map[pairKey]*DrugInteraction, len(c.DrugInteractions))
	for i := range c.DrugInteractions {
		d := &c.DrugInteractions[i]
		c.pairIndex[newPairKey(d.MedicationA, d.MedicationB)] = d
	}
}

// LookupInteraction returns the interaction entry for an unordered
// medication pair, or nil when the pair is not in the catalog.
func (c *Catalog) LookupInteraction(medA, medB string) *DrugInteraction {
	if c.pairIndex == nil {
		return nil
	}
	return c.pairIndex[newPairKey(medA, medB)]
}

// HasInteractionData reports whether the drug-interaction table was
// loaded at all. The engine fails closed for this category when it is
// missing.
func (c *Catalog) HasInteractionData() bool {
	return c.pairIndex != nil && len(c.DrugInteractions) > 0
}

// HasAllergenData reports whether allergen synonym sets were loaded.
func (c *Catalog) HasAllergenData() bool {
	return len(c.AllergenSynonyms) > 0
}

// SynonymsFor expands an allergen to its synonym set, always including
// the normalized allergen itself.
func (c *Catalog) SynonymsFor(allergen string) []string {
	norm := Normalize(allergen)
	out := []string{norm}
	for _, s := range c.AllergenSynonyms[norm] {
		out = append(out, Normalize(s))
	}
	return out
}

// ExclusionsFor returns the excluded-ingredient list for a dietary
// restriction kind, or nil when the restriction is unknown.
func (c *Catalog) ExclusionsFor(restriction string) []string {
	raw := c.DietExclusions[Normalize(restriction)]
	if raw == nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		out = append(out, Normalize(e))
	}
	return out
}

// FoodInteractionsFor returns the food-interaction entries for one
// medication.
func (c *Catalog) FoodInteractionsFor(medication string) []FoodInteraction {
	norm := Normalize(medication)
	var out []FoodInteraction
	for _, fi := range c.FoodInteractions {
		if Normalize(fi.Medication) == norm {
			out = append(out, fi)
		}
	}
	return out
}

// Load reads a catalog from a JSON file. Used when CATALOG_FILE is set;
// allows rule updates without a rebuild.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	if c.Version == "" {
		return nil, fmt.Errorf("catalog file %s has no version", path)
	}
	c.buildIndex()
	return &c, nil
}
