package loader

// Artifact is the unified output of any format-specific extractor: plain
// text content plus structural and quality metadata (spec §4.3).
type Artifact struct {
	Content           string
	Structure         map[string]any
	Metadata          map[string]any
	ExtractionMethod  string
	ExtractionQuality float64
	NeedsOCR          bool
}
