// Package memory wires retrieval into a live conversation: deciding when to
// retrieve, running the search with a deadline, formatting what came back,
// injecting it into the turn history, and indexing new messages off the
// response path.
package memory

import "strings"

// retrievalPatterns are lowercase substrings that signal the user is asking
// about something from a past conversation. Grouped by intent; matching any
// one of them triggers retrieval.
var retrievalPatterns = []string{
	// Recall of earlier sessions.
	"do you remember",
	"remember when",
	"remind me",
	"last time",
	"previously",
	"we discussed",
	"we talked about",
	"what did we",
	"what did i",
	"did i tell you",
	"did i mention",
	"mentioned",
	"earlier",
	"before",
	"have we",

	// First-person facts and preferences.
	"my favorite",
	"my favourite",
	"i prefer",
	"what is my",
	"what's my",
	"whats my",
	"where do i",
	"when is my",
	"who is my",

	// Third-person identity inquiries about people mentioned before.
	"who is ",
	"who was ",

	// References to shared documents or artifacts.
	"the document",
	"that document",
	"the file",
	"that article",
	"we reviewed",
	"resume",
	"uploaded",
}

// ShouldRetrieve reports whether text looks like a question about past
// conversations. Pure substring heuristics; a false positive costs one
// unnecessary retrieval, while a false negative loses context the answer
// needed, so the pattern list leans inclusive.
func ShouldRetrieve(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	for _, p := range retrievalPatterns {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}
