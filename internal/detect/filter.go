package detect

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lexhound/lexhound/internal/settings"
)

// Filter decides which candidate terms proceed to explanation. A term passes
// when all three hold:
//
//   - its confidence is strictly below the configured threshold (confidence
//     measures how common/well-known a term is, so low confidence means the
//     audience likely needs an explanation),
//   - it is not in the built-in stop list,
//   - it has not been accepted within the cooldown window.
//
// Accepting a term starts its cooldown. The cooldown map is private to one
// Filter instance; expired entries are pruned lazily.
type Filter struct {
	settings *settings.Store

	mu           sync.Mutex
	lastAccepted map[string]time.Time

	// now is swappable in tests.
	now func() time.Time
}

// NewFilter creates a Filter reading threshold and cooldown from store.
func NewFilter(store *settings.Store) *Filter {
	return &Filter{
		settings:     store,
		lastAccepted: make(map[string]time.Time),
		now:          time.Now,
	}
}

// ShouldPass reports whether the term should be explained. A passing term is
// recorded in the cooldown map as a side effect.
func (f *Filter) ShouldPass(term string, confidence float64) bool {
	ok, _ := f.Evaluate(term, confidence)
	return ok
}

// Evaluate is [Filter.ShouldPass] with the rejection reason exposed, one of
// "invalid", "threshold", "stopword", or "cooldown". The reason is empty for
// a passing term.
func (f *Filter) Evaluate(term string, confidence float64) (bool, string) {
	if confidence < 0 || confidence > 1 {
		slog.Warn("detect: rejecting candidate with out-of-range confidence",
			"term", term, "confidence", confidence)
		return false, "invalid"
	}

	key := strings.ToLower(strings.TrimSpace(term))
	if key == "" {
		return false, "invalid"
	}

	// Threshold first: high confidence means common knowledge, skip it.
	if confidence >= f.settings.ConfidenceThreshold() {
		return false, "threshold"
	}
	if IsStopword(key) {
		return false, "stopword"
	}

	cooldown := time.Duration(f.settings.CooldownSeconds() * float64(time.Second))

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if last, ok := f.lastAccepted[key]; ok && now.Sub(last) < cooldown {
		return false, "cooldown"
	}

	f.prune(now, cooldown)
	f.lastAccepted[key] = now
	return true, ""
}

// prune drops expired cooldown entries. Caller holds f.mu.
func (f *Filter) prune(now time.Time, cooldown time.Duration) {
	for term, last := range f.lastAccepted {
		if now.Sub(last) >= cooldown {
			delete(f.lastAccepted, term)
		}
	}
}
