package catalog

// Default returns the built-in reference catalog. Severities follow the
// conflict package taxonomy: low, medium, high, critical.
func Default() *Catalog {
	c := &Catalog{
		Version: "builtin-2024.2",
		DrugInteractions: []DrugInteraction{
			{
				MedicationA: "warfarin", MedicationB: "aspirin",
				Severity:         "high",
				Description:      "Increased bleeding risk from combined anticoagulant and antiplatelet effect",
				Management:       "Avoid combination; if unavoidable, monitor INR closely and watch for bleeding",
				RequiresApproval: true,
			},
			{
				MedicationA: "warfarin", MedicationB: "ibuprofen",
				Severity:         "high",
				Description:      "NSAIDs potentiate warfarin and irritate gastric mucosa; elevated GI bleeding risk",
				Management:       "Prefer acetaminophen for analgesia; monitor INR if NSAID is required",
				RequiresApproval: true,
			},
			{
				MedicationA: "lisinopril", MedicationB: "potassium chloride",
				Severity:         "high",
				Description:      "ACE inhibitors reduce potassium excretion; supplementation risks hyperkalemia",
				Management:       "Monitor serum potassium; reassess need for supplementation",
				RequiresApproval: true,
			},
			{
				MedicationA: "simvastatin", MedicationB: "clarithromycin",
				Severity:         "critical",
				Description:      "CYP3A4 inhibition raises statin levels; risk of rhabdomyolysis",
				Management:       "Suspend statin during macrolide course or switch antibiotic class",
				RequiresApproval: true,
			},
			{
				MedicationA: "metformin", MedicationB: "prednisone",
				Severity:         "medium",
				Description:      "Corticosteroids raise blood glucose and blunt metformin control",
				Management:       "Increase glucose monitoring during steroid course",
				RequiresApproval: false,
			},
			{
				MedicationA: "sertraline", MedicationB: "tramadol",
				Severity:         "high",
				Description:      "Additive serotonergic activity; risk of serotonin syndrome",
				Management:       "Use alternative analgesic or monitor for agitation, hyperthermia, clonus",
				RequiresApproval: true,
			},
			{
				MedicationA: "levothyroxine", MedicationB: "calcium carbonate",
				Severity:         "low",
				Description:      "Calcium reduces levothyroxine absorption when taken together",
				Management:       "Separate doses by at least four hours",
				RequiresApproval: false,
			},
		},
		FoodInteractions: []FoodInteraction{
			{Medication: "warfarin", FoodItem: "spinach", CanonicalID: "food:leafy-greens", Severity: "medium",
				Description: "Vitamin K in leafy greens antagonizes warfarin; keep intake consistent"},
			{Medication: "warfarin", FoodItem: "kale", CanonicalID: "food:leafy-greens", Severity: "medium",
				Description: "Vitamin K in leafy greens antagonizes warfarin; keep intake consistent"},
			{Medication: "simvastatin", FoodItem: "grapefruit", CanonicalID: "food:grapefruit", Severity: "high",
				Description: "Grapefruit inhibits CYP3A4 and raises statin exposure"},
			{Medication: "atorvastatin", FoodItem: "grapefruit", CanonicalID: "food:grapefruit", Severity: "medium",
				Description: "Grapefruit moderately raises atorvastatin exposure"},
			{Medication: "phenelzine", FoodItem: "aged cheese", CanonicalID: "food:tyramine", Severity: "high",
				Description: "Tyramine-rich foods with MAOIs can trigger hypertensive crisis"},
			{Medication: "lisinopril", FoodItem: "banana", CanonicalID: "food:high-potassium", Severity: "medium",
				Description: "High-potassium foods add to ACE-inhibitor hyperkalemia risk"},
			{Medication: "ciprofloxacin", FoodItem: "milk", CanonicalID: "food:dairy", Severity: "medium",
				Description: "Dairy calcium chelates fluoroquinolones and reduces absorption"},
		},
		AllergenSynonyms: map[string][]string{
			"nuts":      {"peanut", "peanuts", "almond", "almonds", "walnut", "walnuts", "cashew", "cashews", "pecan", "pistachio", "hazelnut"},
			"peanuts":   {"peanut", "peanut oil", "peanut butter", "groundnut", "arachis"},
			"tree nuts": {"almond", "walnut", "cashew", "pecan", "pistachio", "hazelnut", "macadamia", "brazil nut"},
			"shellfish": {"shrimp", "prawn", "crab", "lobster", "crayfish", "scallop", "clam", "mussel", "oyster"},
			"dairy":     {"milk", "cheese", "butter", "cream", "yogurt", "whey", "casein", "lactose"},
			"eggs":      {"egg", "egg white", "egg yolk", "albumin", "mayonnaise"},
			"gluten":    {"wheat", "barley", "rye", "malt", "semolina", "spelt", "flour"},
			"soy":       {"soybean", "soy sauce", "tofu", "edamame", "miso", "tempeh"},
			"fish":      {"salmon", "tuna", "cod", "anchovy", "sardine", "fish sauce"},
		},
		DietExclusions: map[string][]string{
			"vegetarian": {"beef", "pork", "chicken", "turkey", "lamb", "veal", "duck", "bacon", "ham", "gelatin", "fish", "shrimp", "anchovy"},
			"vegan":      {"beef", "pork", "chicken", "turkey", "lamb", "fish", "shrimp", "milk", "cheese", "butter", "cream", "yogurt", "egg", "honey", "gelatin", "whey"},
			"kosher":     {"pork", "bacon", "ham", "shellfish", "shrimp", "crab", "lobster", "clam", "oyster"},
			"halal":      {"pork", "bacon", "ham", "lard", "alcohol", "wine", "beer", "gelatin"},
			"low-sodium": {"soy sauce", "bacon", "ham", "salami", "pickles", "canned soup", "anchovy", "bouillon"},
			"diabetic":   {"sugar", "corn syrup", "honey", "candy", "soda", "white bread", "pastry"},
		},
	}
	c.buildIndex()
	return c
}
