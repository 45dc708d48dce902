package analysis

import "fmt"

// Feature is one of the eight analysis categories run against a project's script.
type Feature uint8

const (
	SceneExtraction Feature = iota + 1
	CharacterAnalysis
	CastingSuggestions
	LocationAnalysis
	VFXAnalysis
	ProductPlacement
	FinancialPlanning
	ProjectSummary
)

var allFeatures = [...]Feature{
	SceneExtraction,
	CharacterAnalysis,
	CastingSuggestions,
	LocationAnalysis,
	VFXAnalysis,
	ProductPlacement,
	FinancialPlanning,
	ProjectSummary,
}

// All returns every feature in display order.
func All() []Feature {
	out := make([]Feature, len(allFeatures))
	copy(out, allFeatures[:])
	return out
}

// Key is the wire name of the feature.
func (f Feature) Key() string {
	switch f {
	case SceneExtraction:
		return "scene_extraction"
	case CharacterAnalysis:
		return "character_analysis"
	case CastingSuggestions:
		return "casting_suggestions"
	case LocationAnalysis:
		return "location_analysis"
	case VFXAnalysis:
		return "vfx_analysis"
	case ProductPlacement:
		return "product_placement"
	case FinancialPlanning:
		return "financial_planning"
	case ProjectSummary:
		return "project_summary"
	}
	return ""
}

// Endpoint is the path segment the AI worker serves the feature under.
func (f Feature) Endpoint() string {
	switch f {
	case SceneExtraction:
		return "scenes"
	case CharacterAnalysis:
		return "characters"
	case CastingSuggestions:
		return "casting"
	case LocationAnalysis:
		return "locations"
	case VFXAnalysis:
		return "vfx"
	case ProductPlacement:
		return "product-placement"
	case FinancialPlanning:
		return "financials"
	case ProjectSummary:
		return "summary"
	}
	return ""
}

func (f Feature) Valid() bool {
	return f.Key() != ""
}

func (f Feature) String() string {
	if k := f.Key(); k != "" {
		return k
	}
	return fmt.Sprintf("Feature(%d)", uint8(f))
}

// ParseFeature resolves a wire key into a Feature.
func ParseFeature(key string) (Feature, error) {
	for _, f := range allFeatures {
		if f.Key() == key {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFeature, key)
}

func (f Feature) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFeature, uint8(f))
	}
	return []byte(f.Key()), nil
}

func (f *Feature) UnmarshalText(b []byte) error {
	parsed, err := ParseFeature(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
