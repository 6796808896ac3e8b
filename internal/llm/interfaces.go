package llm

import (
	"context"

	"github.com/scrypster/recall/pkg/types"
)

// EmbeddingGenerator is the interface for generating vector embeddings.
// Returns float32 slice; callers widen to float64 for storage and caching.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}

// ChatGenerator is the interface for multi-turn chat completion. The turn
// history uses the internal role vocabulary (user/agent); implementations
// translate to their provider's wire roles.
type ChatGenerator interface {
	Chat(ctx context.Context, turns []types.Turn) (string, error)
	GetModel() string
}

// wireRole maps an internal role to the assistant-style role every supported
// provider API expects.
func wireRole(r types.Role) string {
	if r == types.RoleAgent {
		return "assistant"
	}
	return "user"
}
