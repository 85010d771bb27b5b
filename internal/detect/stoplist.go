package detect

import "strings"

// stoplist holds common conversational and service words that never need an
// explanation, no matter what confidence the model assigns them. Matching is
// case-insensitive on the trimmed term.
var stoplist = map[string]struct{}{}

func init() {
	words := []string{
		// Articles, pronouns, conjunctions.
		"the", "a", "an", "and", "or", "but", "if", "then", "else", "when",
		"while", "because", "so", "that", "this", "these", "those", "it",
		"its", "they", "them", "their", "we", "us", "our", "you", "your",
		"he", "she", "his", "her", "i", "me", "my", "who", "whom", "which",
		"what", "where", "why", "how",

		// Verbs and auxiliaries.
		"is", "are", "was", "were", "be", "been", "being", "have", "has",
		"had", "do", "does", "did", "will", "would", "can", "could",
		"should", "shall", "may", "might", "must", "get", "got", "make",
		"made", "go", "going", "went", "come", "came", "take", "took",
		"see", "saw", "know", "knew", "think", "thought", "want", "need",
		"use", "used", "work", "works", "say", "said", "tell", "told",

		// Prepositions and qualifiers.
		"in", "on", "at", "to", "of", "for", "with", "from", "by", "about",
		"into", "over", "under", "between", "through", "after", "before",
		"up", "down", "out", "off", "not", "no", "yes", "all", "some",
		"any", "more", "most", "less", "very", "just", "only", "also",
		"too", "here", "there", "now", "later", "again", "still",

		// Conversational filler.
		"okay", "ok", "well", "like", "right", "really", "actually",
		"basically", "maybe", "thing", "things", "stuff", "lot", "kind",
		"sort", "bit", "way", "time", "times", "day", "today", "people",
		"everyone", "something", "anything", "nothing", "everything",

		// Service words from the transcription and prompting machinery.
		"transcription", "audio", "speech", "text", "message", "system",
		"please", "thanks", "thank", "hello", "hi", "bye",
	}
	for _, w := range words {
		stoplist[w] = struct{}{}
	}
}

// IsStopword reports whether term is in the built-in stop list.
func IsStopword(term string) bool {
	_, ok := stoplist[strings.ToLower(strings.TrimSpace(term))]
	return ok
}
