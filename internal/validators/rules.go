package validators

// Rules configures the deterministic checks. Callers start from
// DefaultRules and adjust; a Validator never reads global state.
type Rules struct {
	// Hyperbole linting applies only at or below this impact level.
	LowImpactThreshold int

	HyperboleWords        []string
	ScaleWords            []string
	ScopeOverclaimPhrases []string

	// MeritsPhrases imply a decision on the merits; matched whole-word,
	// case-insensitive.
	MeritsPhrases []string
	// ProceduralKeywords frame a procedural disposition; matched at a word
	// start, case-insensitive.
	ProceduralKeywords []string
	// ExactProceduralKeywords are matched whole-word and case-sensitive.
	ExactProceduralKeywords []string

	DissentTerms []string
}

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		LowImpactThreshold: 2,
		HyperboleWords: []string{
			"guts", "obliterates", "sweeping", "massive", "tyranny",
			"crisis", "devastating", "catastrophic", "unprecedented", "historic",
		},
		ScaleWords: []string{
			"millions", "thousands", "nationwide", "across the country",
			"every american", "all americans", "everyone",
		},
		ScopeOverclaimPhrases: []string{
			"broadly", "far-reaching", "opens the door", "sets a precedent",
			"for the first time", "effectively ends", "landmark", "groundbreaking",
			"across the board", "wholesale", "fundamentally changes",
		},
		MeritsPhrases: []string{
			"held that", "found that", "ruled that", "declared", "struck down",
			"upheld", "invalidated", "overturned", "established", "prevailed",
			"won", "lost", "victory", "defeat",
		},
		ProceduralKeywords: []string{
			"dismissed", "remanded", "vacated", "standing", "moot",
			"jurisdiction", "procedural", "cert denied", "no merits",
		},
		ExactProceduralKeywords: []string{"DIG"},
		DissentTerms:            []string{"dissent", "dissents", "dissenter", "dissenters", "dissenting", "dissented"},
	}
}
