// Package transcript provides text-level guards applied to transcription
// output before it enters the pipeline.
//
// Speech models trained on web video emit canned sign-off phrases ("thanks
// for watching", "please like and subscribe") during silence or music. The
// hallucination filter blocks these at emission time (streaming loop) and
// again at ingestion time (detector), since the two run in separate
// processes.
package transcript

import (
	"regexp"
	"strings"
)

// strictPatterns match entire canned phrases. One strict hit is a strong
// hallucination signal on its own.
var strictPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bthanks?\s+for\s+watching\b`),
	regexp.MustCompile(`(?i)\bthank\s+you\s+(so\s+much\s+)?for\s+watching\b`),
	regexp.MustCompile(`(?i)\bplease\s+(like\s+and\s+)?subscribe\b`),
	regexp.MustCompile(`(?i)\bdon'?t\s+forget\s+to\s+subscribe\b`),
	regexp.MustCompile(`(?i)\bsee\s+you\s+(in\s+the\s+)?next\s+(time|video|one)\b`),
	regexp.MustCompile(`(?i)\bhit\s+the\s+bell\s+icon\b`),
	regexp.MustCompile(`(?i)\bsubtitles?\s+by\b`),
	regexp.MustCompile(`(?i)\btranscri(bed|ption)\s+by\b`),
}

// moderatePatterns match short sign-off fillers that are only suspicious
// when little else was said.
var moderatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*thanks?[.!\s]*$`),
	regexp.MustCompile(`(?i)^\s*thank\s+you[.!\s]*$`),
	regexp.MustCompile(`(?i)\bbye[-\s]?bye\b`),
	regexp.MustCompile(`(?i)\bgoodbye\b`),
	regexp.MustCompile(`(?i)\bsee\s+you\s+(later|soon)\b`),
	regexp.MustCompile(`(?i)\btake\s+care\b`),
}

// Residual-word minimums. A transcription that matched a hallucination
// pattern passes only when enough real content remains after the matched
// phrases are stripped.
const (
	baseResidualWords  = 3
	tightResidualWords = 5
)

// Result describes one filter decision.
type Result struct {
	// Blocked reports whether the text should be discarded.
	Blocked bool

	// Matches is the number of pattern hits across both tiers.
	Matches int

	// Reason is a short diagnostic for logging ("" when not blocked).
	Reason string
}

// Check evaluates text against the hallucination tiers.
//
// The decision is residual-based: matched phrases are removed and the
// remaining meaningful words are counted. One match requires at least
// baseResidualWords of residual content; two or more matches tighten the
// requirement to tightResidualWords.
func Check(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{}
	}

	residual := trimmed
	matches := 0
	for _, p := range strictPatterns {
		if p.MatchString(residual) {
			matches++
			residual = p.ReplaceAllString(residual, " ")
		}
	}
	for _, p := range moderatePatterns {
		if p.MatchString(residual) {
			matches++
			residual = p.ReplaceAllString(residual, " ")
		}
	}
	if matches == 0 {
		return Result{}
	}

	required := baseResidualWords
	if matches >= 2 {
		required = tightResidualWords
	}
	if countWords(residual) < required {
		return Result{
			Blocked: true,
			Matches: matches,
			Reason:  "hallucinated sign-off with no residual content",
		}
	}
	return Result{Matches: matches}
}

// countWords counts alphanumeric word tokens in s.
func countWords(s string) int {
	n := 0
	for _, f := range strings.Fields(s) {
		f = strings.Trim(f, ".,!?;:'\"()[]")
		if f != "" {
			n++
		}
	}
	return n
}
