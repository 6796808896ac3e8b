package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

const (
	// DefaultK is how many results a retrieval returns when the caller
	// does not say.
	DefaultK = 5

	// defaultTimeout bounds the search path. Retrieval sits on the
	// response critical path, so a hung embedding call must not hang the
	// conversation turn.
	defaultTimeout = 8 * time.Second
)

// personalFactPatterns mark queries asking for a fact the user stated
// themselves. For those, what the user said outranks what the agent said
// about it, regardless of raw similarity.
var personalFactPatterns = []string{
	"my favorite",
	"my favourite",
	"what is my",
	"what's my",
	"whats my",
	"where do i",
	"who is my",
	"when is my",
}

// Retriever runs deadline-bounded searches against the index and shapes the
// hits for injection.
type Retriever struct {
	index   storage.VectorIndex
	timeout time.Duration
}

// NewRetriever creates a retriever. A non-positive timeout uses the default.
func NewRetriever(index storage.VectorIndex, timeout time.Duration) *Retriever {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Retriever{index: index, timeout: timeout}
}

// Retrieve searches ownerID's memories for query. k defaults to DefaultK
// when non-positive; the index caps it at its own ceiling. Validation errors
// from the index propagate; upstream embedding failures do not, because the
// index recovers with lexical scoring internally.
func (r *Retriever) Retrieve(ctx context.Context, ownerID, query string, k int) ([]types.RetrievalResult, error) {
	if k <= 0 {
		k = DefaultK
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	hits, err := r.index.Search(ctx, ownerID, query, k)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	results := make([]types.RetrievalResult, len(hits))
	for i, h := range hits {
		results[i] = types.RetrievalResult{
			Text:              h.Record.Text,
			Role:              h.Record.Role,
			Score:             h.Score,
			CreatedAt:         h.Record.CreatedAt,
			ConversationTitle: h.Record.ConversationTitle,
			Metadata:          h.Record.Metadata,
		}
	}

	if isPersonalFactQuery(query) {
		promoteUserStatements(results)
	}

	return results, nil
}

// isPersonalFactQuery reports whether query asks for something the user
// told us about themselves.
func isPersonalFactQuery(query string) bool {
	q := strings.ToLower(query)
	for _, p := range personalFactPatterns {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

// promoteUserStatements stably moves role=user results ahead of agent ones,
// preserving score order within each group. The user's own words are the
// authoritative source for personal facts.
func promoteUserStatements(results []types.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Role == types.RoleUser && results[j].Role != types.RoleUser
	})
}
