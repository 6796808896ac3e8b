package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// Config holds service tuning. Zero fields use package defaults.
type Config struct {
	// RetrievalTimeout bounds the search path. Default: 8s.
	RetrievalTimeout time.Duration

	// IndexWorkers is the background indexing pool size. Default: 2.
	IndexWorkers int

	// QueueSize is the indexing queue capacity. Default: 256.
	QueueSize int
}

// Service is the caller-facing facade over the memory subsystem: it owns the
// retriever and the background indexer and exposes the operations a chat
// loop needs. Create with New, then Start before use and Shutdown when done.
type Service struct {
	index     storage.VectorIndex
	retriever *Retriever
	indexer   *indexer
}

// New creates a service on top of an open index.
func New(index storage.VectorIndex, cfg Config) *Service {
	return &Service{
		index:     index,
		retriever: NewRetriever(index, cfg.RetrievalTimeout),
		indexer:   newIndexer(index, cfg.IndexWorkers, cfg.QueueSize),
	}
}

// Start launches the background indexing workers.
func (s *Service) Start() {
	s.indexer.start()
}

// Shutdown drains pending indexing work until done or ctx expires. The
// service must not be used afterwards.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.indexer.shutdown(ctx)
}

// AddMessage records one conversation message for later retrieval. It
// returns immediately; embedding and indexing happen in the background and
// their failures are logged, never surfaced, so memory trouble cannot break
// the conversation flow. An empty messageID gets a generated one. The
// returned ID is the record's idempotency key. Metadata is stored with the
// record but never searched; nil is fine.
func (s *Service) AddMessage(ownerID, conversationID, messageID string, role types.Role, text, conversationTitle string, metadata map[string]string) string {
	if messageID == "" {
		messageID = uuid.NewString()
	}

	s.indexer.enqueue(types.MemoryRecord{
		OwnerID:           ownerID,
		ConversationID:    conversationID,
		MessageID:         messageID,
		Role:              role,
		Text:              text,
		ConversationTitle: conversationTitle,
		Metadata:          metadata,
		CreatedAt:         time.Now().UnixMilli(),
	})

	return messageID
}

// Retrieve searches ownerID's memories for query; k <= 0 means DefaultK.
func (s *Service) Retrieve(ctx context.Context, ownerID, query string, k int) ([]types.RetrievalResult, error) {
	return s.retriever.Retrieve(ctx, ownerID, query, k)
}

// ShouldRetrieve reports whether text warrants a retrieval.
func (s *Service) ShouldRetrieve(text string) bool {
	return ShouldRetrieve(text)
}

// Inject splices results into history ahead of the newest user turn.
func (s *Service) Inject(history []types.Turn, results []types.RetrievalResult) []types.Turn {
	return Inject(history, results)
}

// DeleteOwner removes all of ownerID's memories. Synchronous; validation
// errors propagate.
func (s *Service) DeleteOwner(ctx context.Context, ownerID string) error {
	if err := s.index.DeleteByOwner(ctx, ownerID); err != nil {
		return fmt.Errorf("delete owner: %w", err)
	}
	return nil
}

// DeleteConversation removes one conversation's memories for ownerID.
func (s *Service) DeleteConversation(ctx context.Context, ownerID, conversationID string) error {
	if err := s.index.DeleteByConversation(ctx, ownerID, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// Stats reports the underlying index's record count and location.
func (s *Service) Stats(ctx context.Context) (storage.Stats, error) {
	return s.index.Stats(ctx)
}
