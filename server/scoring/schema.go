package scoring

import (
	"fmt"
	"strconv"
	"strings"
)

// Language is an output language for feedback text.
type Language string

const (
	English  Language = "en"
	Japanese Language = "ja"
	French   Language = "fr"
)

// DefaultLanguage is used when a request names no language.
const DefaultLanguage = English

// ParseLanguage resolves a request language code. The empty string selects
// DefaultLanguage.
func ParseLanguage(s string) (Language, error) {
	switch l := Language(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return DefaultLanguage, nil
	case English, Japanese, French:
		return l, nil
	default:
		return "", fmt.Errorf("unsupported language %q", s)
	}
}

// Metric names one independently scored quality dimension.
type Metric string

const (
	Clarity      Metric = "clarity"
	Specificity  Metric = "specificity"
	Constraints  Metric = "constraints"
	Intent       Metric = "intent"
	Safety       Metric = "safety"
	Evaluability Metric = "evaluability"
)

// OverallKey is the field holding the holistic score.
const OverallKey = "overall"

// legacyEvaluabilityKey is read when a response omits "evaluability".
// Earlier rubrics called the dimension testability.
const legacyEvaluabilityKey = "testability"

// CommentKey returns the response field holding feedback in lang.
func CommentKey(lang Language) string { return "comment_" + string(lang) }

// ImprovedPromptKey returns the response field holding the rewrite in lang.
func ImprovedPromptKey(lang Language) string { return "improved_prompt_" + string(lang) }

// Schema describes one compatible shape of a scoring result. Metrics is
// the set the rubric asks for, Required the subset whose absence from a
// response is worth reporting, Languages the feedback languages.
type Schema struct {
	Version   int
	Metrics   []Metric
	Required  []Metric
	Languages []Language
}

var (
	baseMetrics = []Metric{Clarity, Specificity, Constraints, Intent, Safety}
	allMetrics  = []Metric{Clarity, Specificity, Constraints, Intent, Safety, Evaluability}

	SchemaV1 = Schema{
		Version:   1,
		Metrics:   baseMetrics,
		Required:  baseMetrics,
		Languages: []Language{English, Japanese},
	}
	SchemaV2 = Schema{
		Version:   2,
		Metrics:   allMetrics,
		Required:  baseMetrics,
		Languages: []Language{English, Japanese},
	}
	SchemaV3 = Schema{
		Version:   3,
		Metrics:   allMetrics,
		Required:  allMetrics,
		Languages: []Language{English, Japanese, French},
	}

	// CurrentSchema is the shape produced for new requests.
	CurrentSchema = SchemaV3
)

// SchemaForVersion returns the schema with the given version tag.
func SchemaForVersion(version int) (Schema, bool) {
	switch version {
	case 1:
		return SchemaV1, true
	case 2:
		return SchemaV2, true
	case 3:
		return SchemaV3, true
	}
	return Schema{}, false
}

// Tag is the version label mixed into cache keys.
func (s Schema) Tag() string {
	return "v" + strconv.Itoa(s.Version)
}

// SupportsLanguage reports whether feedback in lang exists in this schema.
func (s Schema) SupportsLanguage(lang Language) bool {
	for _, l := range s.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// HasMetric reports whether the schema scores m.
func (s Schema) HasMetric(m Metric) bool {
	for _, x := range s.Metrics {
		if x == m {
			return true
		}
	}
	return false
}
