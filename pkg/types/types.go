// Package types defines the core data structures for the Recall memory system.
// These types represent embedded conversation exchanges, retrieval results,
// and the conversational turns exchanged with a downstream generative model.
package types

import "time"

// Role identifies which side of the conversation produced an utterance.
type Role string

const (
	// RoleUser marks an utterance written by the human user.
	RoleUser Role = "user"

	// RoleAgent marks an utterance produced by the generative model.
	RoleAgent Role = "agent"
)

// Valid reports whether the role is one of the two known values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent
}

// MemoryRecord is one embedded utterance stored in the vector index.
// Records are immutable once written; a re-index of the same
// (owner, conversation, message) triple replaces the previous record.
type MemoryRecord struct {
	// OwnerID is the opaque tenant identifier. It must pass strict
	// identifier validation before any query uses it.
	OwnerID string `json:"owner_id"`

	// ConversationID groups records into one logical exchange.
	// Same validation rule as OwnerID.
	ConversationID string `json:"conversation_id"`

	// MessageID is unique within (owner, conversation) and acts as the
	// idempotency key for re-indexing.
	MessageID string `json:"message_id"`

	// Role records which side of the conversation spoke.
	Role Role `json:"role"`

	// Text is the original utterance. Empty-text records are never stored.
	Text string `json:"text"`

	// Vector is the embedding of Text. Always full-length when present;
	// the dimensionality is fixed by the embedding model in use.
	Vector []float64 `json:"-"`

	// CreatedAt is a logical timestamp in epoch milliseconds, used for
	// display and recency tie-breaks in the lexical fallback.
	CreatedAt int64 `json:"created_at"`

	// ConversationTitle is a denormalized label shown in retrieved snippets.
	ConversationTitle string `json:"conversation_title,omitempty"`

	// Metadata is an opaque key/value map (attachment flags, model name,
	// etc.). Stored but never searched.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreatedTime returns CreatedAt as a time.Time.
func (r *MemoryRecord) CreatedTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// RetrievalResult is one ranked snippet returned by a retrieval. It is
// ephemeral: owned by the caller and discarded after one conversational turn.
type RetrievalResult struct {
	// Text is the stored utterance.
	Text string `json:"text"`

	// Role records who originally spoke the utterance.
	Role Role `json:"role"`

	// Score is the similarity (vector path) or lexical overlap score
	// (fallback path). Results are ordered by descending Score.
	Score float64 `json:"score"`

	// CreatedAt is the record's logical timestamp in epoch milliseconds.
	CreatedAt int64 `json:"created_at"`

	// ConversationTitle labels the conversation the snippet came from.
	ConversationTitle string `json:"conversation_title,omitempty"`

	// Metadata carries the record's opaque key/value map through to the
	// caller. Never part of ranking.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreatedTime returns CreatedAt as a time.Time.
func (r *RetrievalResult) CreatedTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// Turn is a single {role, text} entry in the history sent to the
// downstream generative model.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}
