package scoring

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Feedback is the comment and rewrite produced for one language.
type Feedback struct {
	Comment        string
	ImprovedPrompt string
}

// Result is a normalized evaluation. Metrics holds one bounded score per
// metric of the schema it was normalized against; Feedback one entry per
// schema language. Missing lists required metrics the model left out.
type Result struct {
	Schema   int
	Metrics  map[Metric]int
	Overall  int
	Feedback map[Language]Feedback
	Missing  []Metric
}

// Normalizer turns a parsed response into a Result. It never fails.
type Normalizer struct {
	// MaxTextRunes truncates feedback text to at most this many runes.
	// Zero keeps text as returned.
	MaxTextRunes int
}

// Normalize coerces raw against schema. Unparseable or missing numbers
// become 0, and text that is missing or null becomes "".
func (n Normalizer) Normalize(raw map[string]any, schema Schema) Result {
	res := Result{
		Schema:   schema.Version,
		Metrics:  make(map[Metric]int, len(schema.Metrics)),
		Feedback: make(map[Language]Feedback, len(schema.Languages)),
	}

	for _, m := range schema.Metrics {
		v, ok := raw[string(m)]
		if !ok && m == Evaluability {
			v, ok = raw[legacyEvaluabilityKey]
		}
		res.Metrics[m] = Score(v)
		if !ok || v == nil {
			for _, req := range schema.Required {
				if req == m {
					res.Missing = append(res.Missing, m)
					break
				}
			}
		}
	}
	res.Overall = Score(raw[OverallKey])

	for _, lang := range schema.Languages {
		res.Feedback[lang] = Feedback{
			Comment:        n.text(raw[CommentKey(lang)]),
			ImprovedPrompt: n.text(raw[ImprovedPromptKey(lang)]),
		}
	}
	return res
}

// Score converts v to an integer in [0,100]. Halves round up, NaN and
// unconvertible values give 0, +Inf gives 100.
func Score(v any) int {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) {
		return 0
	}
	f = math.Floor(f + 0.5)
	switch {
	case f < 0:
		return 0
	case f > 100:
		return 100
	}
	return int(f)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		return parseFloat(x.String())
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		return parseFloat(strings.TrimSpace(x))
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// parseFloat keeps the ±Inf or zero that ParseFloat returns for out of
// range input so the caller's clamp applies.
func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}

func (n Normalizer) text(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s = x
	case json.Number:
		s = x.String()
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		s = string(b)
	}
	if n.MaxTextRunes > 0 && utf8.RuneCountInString(s) > n.MaxTextRunes {
		s = string([]rune(s)[:n.MaxTextRunes])
	}
	return s
}

// RestrictTo clears feedback for every language except lang.
func (r *Result) RestrictTo(lang Language) {
	for l := range r.Feedback {
		if l != lang {
			r.Feedback[l] = Feedback{}
		}
	}
}
