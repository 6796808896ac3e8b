package memory

import (
	"fmt"
	"strings"

	"github.com/scrypster/recall/pkg/types"
)

// Synthetic turn scripts. The directive/re-assertion pair brackets the
// retrieved facts so chat models treat them as conversation state rather
// than instructions to echo.
const (
	injectDirective = "Before you answer my next message, review the retrieved memories from our past conversations below."
	injectReassert  = "Use those memories when they are relevant to my next message. Do not mention the retrieval itself."
	injectAck       = "Understood. I have the retrieved memories and will use them where relevant."
)

// Inject splices retrieved memories into the turn history as exactly four
// synthetic turns (user directive, agent facts, user re-assertion, agent
// acknowledgement) placed immediately before the newest user turn. With no
// results, the history is returned unchanged. The input slice is not
// modified.
func Inject(history []types.Turn, results []types.RetrievalResult) []types.Turn {
	if len(results) == 0 || len(history) == 0 {
		return history
	}

	synthetic := []types.Turn{
		{Role: types.RoleUser, Text: injectDirective},
		{Role: types.RoleAgent, Text: "Here is what I recall from our previous conversations:\n\n" + FormatResults(results)},
		{Role: types.RoleUser, Text: injectReassert},
		{Role: types.RoleAgent, Text: injectAck},
	}

	// The trailing turn is the user message being answered; everything
	// synthetic goes right in front of it.
	at := len(history) - 1

	out := make([]types.Turn, 0, len(history)+len(synthetic))
	out = append(out, history[:at]...)
	out = append(out, synthetic...)
	out = append(out, history[at:]...)
	return out
}

// FormatResults renders retrieval results as one snippet per line, labelled
// with who said it, when, and in which conversation.
func FormatResults(results []types.RetrievalResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%s, %s]", roleLabel(r.Role), r.CreatedTime().UTC().Format("2006-01-02 15:04"))
		if r.ConversationTitle != "" {
			fmt.Fprintf(&b, " (%s)", r.ConversationTitle)
		}
		b.WriteByte(' ')
		b.WriteString(r.Text)
	}
	return b.String()
}

func roleLabel(r types.Role) string {
	if r == types.RoleAgent {
		return "assistant"
	}
	return "user"
}
