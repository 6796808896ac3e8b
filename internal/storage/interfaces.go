// Package storage defines the vector index contract and the pieces shared by
// its backends (SQLite for local directories, Postgres/pgvector for servers).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

// ErrCorrupted indicates the on-disk index could not be opened or its schema
// could not be established. It is only returned from constructors; a process
// that sees it must refuse to serve rather than run on a broken index.
var ErrCorrupted = errors.New("index corrupted")

const (
	// MaxVectorCandidates caps how many of the owner's most recent rows are
	// scored per similarity search. Keeps search latency flat as an owner's
	// history grows; older rows simply age out of the candidate pool.
	MaxVectorCandidates = 10_000

	// MaxLexicalRows caps the candidate pool for the lexical fallback path.
	MaxLexicalRows = 1_000

	// FallbackTimeout bounds the lexical fallback query. The fallback often
	// runs precisely because the request deadline already expired on a slow
	// embedding call, so it gets its own fresh budget on a detached context.
	FallbackTimeout = 2 * time.Second
)

// Embedder turns text into an embedding vector. The embedding client
// satisfies this; tests substitute deterministic in-process embedders.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ScoredRecord is one search hit with its similarity or lexical score.
type ScoredRecord struct {
	Record types.MemoryRecord
	Score  float64
}

// Stats describes an index for diagnostics.
type Stats struct {
	// Records is the total number of stored records across all owners.
	Records int64

	// Location identifies where the index lives (directory path or DSN host).
	Location string
}

// VectorIndex stores embedded conversation exchanges and retrieves them by
// semantic similarity, strictly partitioned by owner.
//
// Add validates identifiers before any I/O, silently skips empty text, and
// embeds the record when no vector is supplied. Search validates owner and k
// before embedding the query; when the embedding provider fails it degrades
// to lexical scoring over the owner's recent rows instead of failing.
// Deletes are idempotent. All methods are safe for concurrent use.
type VectorIndex interface {
	Add(ctx context.Context, rec *types.MemoryRecord) error
	Search(ctx context.Context, ownerID, query string, k int) ([]ScoredRecord, error)
	DeleteByOwner(ctx context.Context, ownerID string) error
	DeleteByConversation(ctx context.Context, ownerID, conversationID string) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
