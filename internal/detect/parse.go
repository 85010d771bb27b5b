package detect

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Candidate is one term proposed by the extraction model (or by the regex
// fallback) before filtering.
type Candidate struct {
	Term       string  `json:"term"`
	Confidence float64 `json:"confidence"`
	Context    string  `json:"context,omitempty"`
	Timestamp  float64 `json:"timestamp,omitempty"`
}

// ErrNoCandidates is returned by [ParseCandidates] when no parsing strategy
// recovers any terms from the model output.
var ErrNoCandidates = errors.New("detect: no candidates in model response")

// objectLiteral matches a flat JSON object containing a "term" key, used as
// the second-chance sweep when the model wraps its array in prose.
var objectLiteral = regexp.MustCompile(`\{[^{}]*"term"[^{}]*\}`)

// ParseCandidates recovers the candidate array from a model response. The
// prompt demands a raw JSON array, but small models routinely wrap it in
// commentary, so parsing is layered:
//
//  1. Slice out the outermost [ ... ] substring and decode it.
//  2. Regex-sweep for individual object literals containing "term".
//
// On total failure it returns [ErrNoCandidates]; callers fall back to
// [FallbackDetect].
func ParseCandidates(raw string) ([]Candidate, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoCandidates
	}

	if start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]"); start >= 0 && end > start {
		var parsed []Candidate
		if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err == nil {
			return sanitize(parsed), nil
		}
	}

	var swept []Candidate
	for _, m := range objectLiteral.FindAllString(raw, -1) {
		var c Candidate
		if err := json.Unmarshal([]byte(m), &c); err == nil {
			swept = append(swept, c)
		}
	}
	if len(swept) > 0 {
		return sanitize(swept), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoCandidates, truncate(raw, 120))
}

// sanitize drops candidates without a term and clamps confidence defaults.
func sanitize(in []Candidate) []Candidate {
	out := in[:0]
	for _, c := range in {
		c.Term = strings.TrimSpace(c.Term)
		if c.Term == "" {
			continue
		}
		if c.Confidence == 0 {
			c.Confidence = DefaultManualConfidence
		}
		out = append(out, c)
	}
	return out
}

// Regex fallback detector, used when the extraction model is unreachable or
// returns garbage. Categories mirror the kinds of vocabulary the pipeline is
// built to explain; anything very long is assumed to be specialist too.
var fallbackCategories = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"technical_terms", regexp.MustCompile(`\b(?:[A-Z]{2,6}s?|[a-z]+(?:[-_][a-z]+)+|\w+(?:ization|isation|ology|metry|genesis|morphism))\b`)},
	{"business_terms", regexp.MustCompile(`(?i)\b(?:stakeholder|synergy|scalab\w+|onboarding|churn|runway|liquidity|arbitrage|amortization|procurement)\b`)},
	{"academic_terms", regexp.MustCompile(`(?i)\b(?:hypothesis|empirical|heuristic|stochastic|epistemic|paradigm|taxonomy|meta-analysis|correlation|regression)\b`)},
	{"long_words", regexp.MustCompile(`\b\w{14,}\b`)},
}

// fallbackConfidence is assigned to regex-detected terms; low enough to pass
// the default threshold, since the regexes already select for rarity.
const fallbackConfidence = 0.5

// FallbackDetect scans text for likely jargon using category regexes.
// Duplicate terms (case-insensitive) are collapsed to the first match.
func FallbackDetect(text string) []Candidate {
	seen := make(map[string]struct{})
	var out []Candidate
	for _, cat := range fallbackCategories {
		for _, m := range cat.pattern.FindAllString(text, -1) {
			key := strings.ToLower(m)
			if _, dup := seen[key]; dup {
				continue
			}
			if IsStopword(m) {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, Candidate{
				Term:       m,
				Confidence: fallbackConfidence,
				Context:    cat.name,
			})
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
