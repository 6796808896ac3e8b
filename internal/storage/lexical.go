package storage

import "strings"

// substringBonus is added when the whole query appears verbatim in the text,
// so exact phrase recalls outrank incidental word overlap.
const substringBonus = 5

// LexicalScore ranks text against query without embeddings: one point per
// distinct query word present in the text, plus a bonus when the whole query
// is a substring. Zero means no overlap at all; callers drop zero-score rows.
// Both backends use it for the embedding-failure fallback path.
func LexicalScore(query, text string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	t := strings.ToLower(text)
	if q == "" || t == "" {
		return 0
	}

	textWords := make(map[string]bool)
	for _, w := range strings.Fields(t) {
		textWords[strings.Trim(w, ".,!?;:'\"()")] = true
	}

	var score float64
	seen := make(map[string]bool)
	for _, w := range strings.Fields(q) {
		w = strings.Trim(w, ".,!?;:'\"()")
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		if textWords[w] {
			score++
		}
	}

	if strings.Contains(t, q) {
		score += substringBonus
	}

	return score
}
