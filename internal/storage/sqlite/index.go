// Package sqlite implements the vector index on a local SQLite database.
// Embeddings are stored as little-endian float64 BLOBs and ranked in Go with
// cosine similarity over a recency-capped candidate pool, which is exact and
// fast at per-owner conversation scale.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/recall/internal/sanitize"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// dbFileName is the index file inside the data directory.
const dbFileName = "recall.db"

// filterColumns is the allow-list handed to the sanitizer for every
// generated predicate.
var filterColumns = []string{"owner_id", "conversation_id"}

// Index implements storage.VectorIndex on a local SQLite file.
type Index struct {
	db       *sql.DB
	embedder storage.Embedder
	dir      string
}

// Open opens (or creates) the index under dir. A fresh index performs a
// one-time scaffold write that is deleted in the same transaction, so a
// broken data directory fails here instead of on the first live message.
// Open failures on an existing file wrap storage.ErrCorrupted; callers
// treat that as fatal.
func Open(dir string, embedder storage.Embedder) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create index directory: %w", err)
	}

	path := filepath.Join(dir, dbFileName)
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	db, err := openDB(path)
	if err != nil {
		if fresh {
			return nil, fmt.Errorf("sqlite: create index at %s: %w", path, err)
		}
		return nil, fmt.Errorf("sqlite: open index at %s: %w: %v", path, storage.ErrCorrupted, err)
	}

	idx := &Index{db: db, embedder: embedder, dir: dir}

	if fresh {
		if err := idx.scaffold(); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: scaffold new index: %w", err)
		}
		log.Printf("sqlite: created index at %s", path)
	}

	return idx, nil
}

// openDB opens the database file, configures WAL mode, and creates the schema.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// scaffold inserts one throwaway row and deletes it inside a transaction,
// proving the fresh file is writable. Nothing remains visible afterwards.
func (idx *Index) scaffold() error {
	const zeroID = "00000000-0000-0000-0000-000000000000"

	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO exchanges (owner_id, conversation_id, message_id, role, content, embedding, dimension, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0)`,
		zeroID, zeroID, zeroID, string(types.RoleUser), "scaffold", []byte{})
	if err != nil {
		return fmt.Errorf("scaffold insert: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM exchanges WHERE owner_id = ?`, zeroID); err != nil {
		return fmt.Errorf("scaffold delete: %w", err)
	}

	return tx.Commit()
}

// Add stores one exchange. Malformed identifiers fail validation before any
// I/O; empty text is skipped silently so blank or whitespace-only messages
// never abort a conversation turn. When rec.Vector is nil the text is
// embedded first. Re-adding the same (owner, conversation, message) triple
// replaces the stored row.
func (idx *Index) Add(ctx context.Context, rec *types.MemoryRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", sanitize.ErrValidation)
	}
	if !sanitize.ValidateIdentifier(rec.OwnerID) {
		return fmt.Errorf("%w: invalid owner id %q", sanitize.ErrValidation, rec.OwnerID)
	}
	if !sanitize.ValidateIdentifier(rec.ConversationID) {
		return fmt.Errorf("%w: invalid conversation id %q", sanitize.ErrValidation, rec.ConversationID)
	}
	if !sanitize.ValidateIdentifier(rec.MessageID) {
		return fmt.Errorf("%w: invalid message id %q", sanitize.ErrValidation, rec.MessageID)
	}
	if !rec.Role.Valid() {
		return fmt.Errorf("%w: invalid role %q", sanitize.ErrValidation, rec.Role)
	}

	text := strings.TrimSpace(rec.Text)
	if text == "" {
		log.Printf("sqlite: skipping empty message %s in conversation %s", rec.MessageID, rec.ConversationID)
		return nil
	}

	vec := rec.Vector
	if len(vec) == 0 {
		var err error
		vec, err = idx.embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("sqlite: embed message %s: %w", rec.MessageID, err)
		}
	}

	var metadata any
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	createdAt := rec.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}

	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO exchanges (owner_id, conversation_id, message_id, role, content, embedding, dimension, conversation_title, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, conversation_id, message_id) DO UPDATE SET
			role = excluded.role,
			content = excluded.content,
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			conversation_title = excluded.conversation_title,
			metadata = excluded.metadata,
			created_at = excluded.created_at`,
		rec.OwnerID, rec.ConversationID, rec.MessageID, string(rec.Role), text,
		storage.EncodeVector(vec), len(vec), rec.ConversationTitle, metadata, createdAt)
	if err != nil {
		return fmt.Errorf("sqlite: store exchange: %w", err)
	}

	return nil
}

// Search returns up to k of ownerID's records ranked by cosine similarity to
// query. Owner and k are validated before the query text is embedded, so a
// malformed owner never costs an embedding call. If embedding the query
// fails, the search degrades to lexical scoring over the owner's most recent
// rows rather than failing the turn.
func (idx *Index) Search(ctx context.Context, ownerID, query string, k int) ([]storage.ScoredRecord, error) {
	if !sanitize.ValidateIdentifier(ownerID) {
		return nil, fmt.Errorf("%w: invalid owner id %q", sanitize.ErrValidation, ownerID)
	}
	k, err := sanitize.ClampLimit(k, sanitize.MaxSearchResults)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", sanitize.ErrValidation)
	}

	queryVec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("WARNING: sqlite: query embedding failed, using lexical fallback: %v", err)
		// The embedding failure may be the request deadline expiring, so
		// the fallback runs detached from ctx with its own budget.
		fbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storage.FallbackTimeout)
		defer cancel()
		return idx.lexicalSearch(fbCtx, ownerID, query, k)
	}

	clause, args, err := sanitize.BuildPredicate(filterColumns, map[string]any{"owner_id": ownerID})
	if err != nil {
		return nil, err
	}
	args = append(args, storage.MaxVectorCandidates)

	rows, err := idx.db.QueryContext(ctx, `
		SELECT owner_id, conversation_id, message_id, role, content, embedding, dimension, conversation_title, metadata, created_at
		FROM exchanges
		WHERE `+clause+`
		ORDER BY created_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search query: %w", err)
	}
	defer rows.Close()

	var hits []storage.ScoredRecord
	for rows.Next() {
		rec, vec, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, storage.ScoredRecord{
			Record: rec,
			Score:  storage.Cosine(queryVec, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate search rows: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// lexicalSearch is the embedding-free recovery path: word-overlap scoring
// over the owner's most recent rows. Zero-score rows are dropped.
func (idx *Index) lexicalSearch(ctx context.Context, ownerID, query string, k int) ([]storage.ScoredRecord, error) {
	clause, args, err := sanitize.BuildPredicate(filterColumns, map[string]any{"owner_id": ownerID})
	if err != nil {
		return nil, err
	}
	args = append(args, storage.MaxLexicalRows)

	rows, err := idx.db.QueryContext(ctx, `
		SELECT owner_id, conversation_id, message_id, role, content, embedding, dimension, conversation_title, metadata, created_at
		FROM exchanges
		WHERE `+clause+`
		ORDER BY created_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: lexical fallback query: %w", err)
	}
	defer rows.Close()

	var hits []storage.ScoredRecord
	for rows.Next() {
		rec, _, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		score := storage.LexicalScore(query, rec.Text)
		if score <= 0 {
			continue
		}
		hits = append(hits, storage.ScoredRecord{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate fallback rows: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.CreatedAt > hits[j].Record.CreatedAt
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// DeleteByOwner removes every record belonging to ownerID. Deleting an owner
// with no records is a no-op, not an error.
func (idx *Index) DeleteByOwner(ctx context.Context, ownerID string) error {
	if !sanitize.ValidateIdentifier(ownerID) {
		return fmt.Errorf("%w: invalid owner id %q", sanitize.ErrValidation, ownerID)
	}

	clause, args, err := sanitize.BuildPredicate(filterColumns, map[string]any{"owner_id": ownerID})
	if err != nil {
		return err
	}

	if _, err := idx.db.ExecContext(ctx, `DELETE FROM exchanges WHERE `+clause, args...); err != nil {
		return fmt.Errorf("sqlite: delete by owner: %w", err)
	}
	return nil
}

// DeleteByConversation removes one conversation's records for ownerID.
// Idempotent like DeleteByOwner.
func (idx *Index) DeleteByConversation(ctx context.Context, ownerID, conversationID string) error {
	if !sanitize.ValidateIdentifier(ownerID) {
		return fmt.Errorf("%w: invalid owner id %q", sanitize.ErrValidation, ownerID)
	}
	if !sanitize.ValidateIdentifier(conversationID) {
		return fmt.Errorf("%w: invalid conversation id %q", sanitize.ErrValidation, conversationID)
	}

	clause, args, err := sanitize.BuildPredicate(filterColumns, map[string]any{
		"owner_id":        ownerID,
		"conversation_id": conversationID,
	})
	if err != nil {
		return err
	}

	if _, err := idx.db.ExecContext(ctx, `DELETE FROM exchanges WHERE `+clause, args...); err != nil {
		return fmt.Errorf("sqlite: delete by conversation: %w", err)
	}
	return nil
}

// Stats reports the total record count and the index directory.
func (idx *Index) Stats(ctx context.Context) (storage.Stats, error) {
	var count int64
	if err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchanges`).Scan(&count); err != nil {
		return storage.Stats{}, fmt.Errorf("sqlite: count records: %w", err)
	}
	return storage.Stats{Records: count, Location: idx.dir}, nil
}

// Close releases the database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// scanExchange reads one row into a record plus its decoded vector.
func scanExchange(rows *sql.Rows) (types.MemoryRecord, []float64, error) {
	var (
		rec       types.MemoryRecord
		role      string
		blob      []byte
		dimension int
		title     sql.NullString
		metadata  sql.NullString
	)
	if err := rows.Scan(&rec.OwnerID, &rec.ConversationID, &rec.MessageID, &role, &rec.Text,
		&blob, &dimension, &title, &metadata, &rec.CreatedAt); err != nil {
		return types.MemoryRecord{}, nil, fmt.Errorf("sqlite: scan exchange: %w", err)
	}

	rec.Role = types.Role(role)
	rec.ConversationTitle = title.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return types.MemoryRecord{}, nil, fmt.Errorf("sqlite: decode metadata: %w", err)
		}
	}

	vec, err := storage.DecodeVector(blob, dimension)
	if err != nil {
		return types.MemoryRecord{}, nil, fmt.Errorf("sqlite: decode embedding: %w", err)
	}
	rec.Vector = vec

	return rec, vec, nil
}

// Compile-time assertion that Index satisfies the full contract.
var _ storage.VectorIndex = (*Index)(nil)
