// Package postgres implements the vector index on PostgreSQL. When the
// pgvector extension is available the database ranks candidates with the
// cosine distance operator; without it the index degrades to BYTEA-stored
// embeddings ranked in Go, so a plain Postgres still works.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pgvector/pgvector-go"

	"github.com/scrypster/recall/internal/sanitize"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// DefaultDimension matches the common embedding model output size and sizes
// the pgvector column. All stored vectors must have this length when the
// extension is active.
const DefaultDimension = 768

// filterColumns is the allow-list handed to the sanitizer for every
// generated predicate.
var filterColumns = []string{"owner_id", "conversation_id"}

// Config holds Postgres index configuration.
type Config struct {
	// DSN is the connection string (URL or key=value form).
	DSN string

	// Dimension sizes the vector column. Default: 768.
	Dimension int
}

// Index implements storage.VectorIndex on PostgreSQL.
type Index struct {
	db        *sql.DB
	embedder  storage.Embedder
	hasVector bool
	dimension int
	location  string
}

// Open connects to Postgres, probes for the pgvector extension, and creates
// the schema. Connection or schema failures wrap storage.ErrCorrupted;
// callers treat that as fatal at startup.
func Open(cfg Config, embedder storage.Embedder) (*Index, error) {
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: connect: %w: %v", storage.ErrCorrupted, err)
	}

	idx := &Index{
		db:        db,
		embedder:  embedder,
		dimension: cfg.Dimension,
		location:  locationFromDSN(cfg.DSN),
	}

	// Graceful degradation: a server without the extension still serves,
	// it just ranks candidates in Go instead of in the database.
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("WARNING: postgres: pgvector unavailable, ranking in Go: %v", err)
	} else {
		idx.hasVector = true
	}

	if err := idx.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: create schema: %w: %v", storage.ErrCorrupted, err)
	}

	return idx, nil
}

func (idx *Index) createSchema() error {
	embeddingColumn := "BYTEA NOT NULL"
	if idx.hasVector {
		embeddingColumn = fmt.Sprintf("vector(%d)", idx.dimension)
	}

	_, err := idx.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS exchanges (
			owner_id           TEXT NOT NULL,
			conversation_id    TEXT NOT NULL,
			message_id         TEXT NOT NULL,
			role               TEXT NOT NULL,
			content            TEXT NOT NULL,
			embedding          %s,
			dimension          INTEGER NOT NULL,
			conversation_title TEXT NOT NULL DEFAULT '',
			metadata           JSONB,
			created_at         BIGINT NOT NULL,
			PRIMARY KEY (owner_id, conversation_id, message_id)
		)`, embeddingColumn))
	if err != nil {
		return err
	}

	_, err = idx.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_exchanges_owner_created
		ON exchanges (owner_id, created_at DESC)`)
	return err
}

// rebind rewrites the sanitizer's "?" placeholders to Postgres $n form.
func rebind(clause string) string {
	var b strings.Builder
	n := 0
	for _, r := range clause {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Add stores one exchange with the same validation, empty-text skip, and
// upsert semantics as the SQLite backend.
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
		log.Printf("postgres: skipping empty message %s in conversation %s", rec.MessageID, rec.ConversationID)
		return nil
	}

	vec := rec.Vector
	if len(vec) == 0 {
		var err error
		vec, err = idx.embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("postgres: embed message %s: %w", rec.MessageID, err)
		}
	}
	if idx.hasVector && len(vec) != idx.dimension {
		return fmt.Errorf("%w: vector has %d dimensions, column expects %d",
			sanitize.ErrValidation, len(vec), idx.dimension)
	}

	var metadata any
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	createdAt := rec.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}

	var embedding any
	if idx.hasVector {
		embedding = pgvector.NewVector(narrow(vec))
	} else {
		embedding = storage.EncodeVector(vec)
	}

	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO exchanges (owner_id, conversation_id, message_id, role, content, embedding, dimension, conversation_title, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (owner_id, conversation_id, message_id) DO UPDATE SET
			role = EXCLUDED.role,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			dimension = EXCLUDED.dimension,
			conversation_title = EXCLUDED.conversation_title,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at`,
		rec.OwnerID, rec.ConversationID, rec.MessageID, string(rec.Role), text,
		embedding, len(vec), rec.ConversationTitle, metadata, createdAt)
	if err != nil {
		return fmt.Errorf("postgres: store exchange: %w", err)
	}

	return nil
}

// Search mirrors the SQLite backend's contract: owner and k validated before
// the query is embedded, owner-filtered similarity ranking, lexical fallback
// when the embedding provider fails.
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
		log.Printf("WARNING: postgres: query embedding failed, using lexical fallback: %v", err)
		// The embedding failure may be the request deadline expiring, so
		// the fallback runs detached from ctx with its own budget.
		fbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storage.FallbackTimeout)
		defer cancel()
		return idx.lexicalSearch(fbCtx, ownerID, query, k)
	}

	if idx.hasVector {
		return idx.vectorSearch(ctx, ownerID, queryVec, k)
	}
	return idx.scanSearch(ctx, ownerID, queryVec, k)
}

// vectorSearch lets pgvector rank candidates with the cosine distance
// operator and converts distance to similarity.
func (idx *Index) vectorSearch(ctx context.Context, ownerID string, queryVec []float64, k int) ([]storage.ScoredRecord, error) {
	clause, args, err := sanitize.BuildPredicate(filterColumns, map[string]any{"owner_id": ownerID})
	if err != nil {
		return nil, err
	}
	qv := pgvector.NewVector(narrow(queryVec))
	args = append(args, qv, k)

	rows, err := idx.db.QueryContext(ctx, `
		SELECT owner_id, conversation_id, message_id, role, content, dimension, conversation_title, metadata, created_at,
		       1 - (embedding <=> $2) AS score
		FROM exchanges
		WHERE `+rebind(clause)+`
		ORDER BY embedding <=> $2
		LIMIT $3`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer rows.Close()

	var hits []storage.ScoredRecord
	for rows.Next() {
		var (
			rec      types.MemoryRecord
			role     string
			dim      int
			title    sql.NullString
			metadata sql.NullString
			score    float64
		)
		if err := rows.Scan(&rec.OwnerID, &rec.ConversationID, &rec.MessageID, &role, &rec.Text,
			&dim, &title, &metadata, &rec.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan search row: %w", err)
		}
		rec.Role = types.Role(role)
		rec.ConversationTitle = title.String
		if err := decodeMetadata(metadata, &rec); err != nil {
			return nil, err
		}
		hits = append(hits, storage.ScoredRecord{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate search rows: %w", err)
	}
	return hits, nil
}

// scanSearch is the extension-free path: fetch the owner's recent rows and
// rank them in Go, like the SQLite backend.
func (idx *Index) scanSearch(ctx context.Context, ownerID string, queryVec []float64, k int) ([]storage.ScoredRecord, error) {
	hits, err := idx.ownerRows(ctx, ownerID, storage.MaxVectorCandidates)
	if err != nil {
		return nil, err
	}

	for i := range hits {
		hits[i].Score = storage.Cosine(queryVec, hits[i].Record.Vector)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// lexicalSearch is the embedding-free recovery path shared by both storage
// modes; embeddings are not decoded for it.
func (idx *Index) lexicalSearch(ctx context.Context, ownerID, query string, k int) ([]storage.ScoredRecord, error) {
	rows, err := idx.ownerTextRows(ctx, ownerID, storage.MaxLexicalRows)
	if err != nil {
		return nil, err
	}

	var hits []storage.ScoredRecord
	for _, rec := range rows {
		score := storage.LexicalScore(query, rec.Text)
		if score <= 0 {
			continue
		}
		hits = append(hits, storage.ScoredRecord{Record: rec, Score: score})
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

// ownerRows fetches the owner's most recent rows including decoded vectors.
// Only valid in BYTEA mode.
func (idx *Index) ownerRows(ctx context.Context, ownerID string, limit int) ([]storage.ScoredRecord, error) {
	clause, args, err := sanitize.BuildPredicate(filterColumns, map[string]any{"owner_id": ownerID})
	if err != nil {
		return nil, err
	}
	args = append(args, limit)

	rows, err := idx.db.QueryContext(ctx, `
		SELECT owner_id, conversation_id, message_id, role, content, embedding, dimension, conversation_title, metadata, created_at
		FROM exchanges
		WHERE `+rebind(clause)+`
		ORDER BY created_at DESC
		LIMIT $2`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: candidate query: %w", err)
	}
	defer rows.Close()

	var out []storage.ScoredRecord
	for rows.Next() {
		var (
			rec      types.MemoryRecord
			role     string
			blob     []byte
			dim      int
			title    sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&rec.OwnerID, &rec.ConversationID, &rec.MessageID, &role, &rec.Text,
			&blob, &dim, &title, &metadata, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan candidate row: %w", err)
		}
		rec.Role = types.Role(role)
		rec.ConversationTitle = title.String
		if err := decodeMetadata(metadata, &rec); err != nil {
			return nil, err
		}
		vec, err := storage.DecodeVector(blob, dim)
		if err != nil {
			return nil, fmt.Errorf("postgres: decode embedding: %w", err)
		}
		rec.Vector = vec
		out = append(out, storage.ScoredRecord{Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate candidate rows: %w", err)
	}
	return out, nil
}

// ownerTextRows fetches the owner's most recent rows without embeddings.
func (idx *Index) ownerTextRows(ctx context.Context, ownerID string, limit int) ([]types.MemoryRecord, error) {
	clause, args, err := sanitize.BuildPredicate(filterColumns, map[string]any{"owner_id": ownerID})
	if err != nil {
		return nil, err
	}
	args = append(args, limit)

	rows, err := idx.db.QueryContext(ctx, `
		SELECT owner_id, conversation_id, message_id, role, content, conversation_title, metadata, created_at
		FROM exchanges
		WHERE `+rebind(clause)+`
		ORDER BY created_at DESC
		LIMIT $2`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: fallback query: %w", err)
	}
	defer rows.Close()

	var out []types.MemoryRecord
	for rows.Next() {
		var (
			rec      types.MemoryRecord
			role     string
			title    sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&rec.OwnerID, &rec.ConversationID, &rec.MessageID, &role, &rec.Text,
			&title, &metadata, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan fallback row: %w", err)
		}
		rec.Role = types.Role(role)
		rec.ConversationTitle = title.String
		if err := decodeMetadata(metadata, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate fallback rows: %w", err)
	}
	return out, nil
}

// DeleteByOwner removes every record belonging to ownerID. Idempotent.
func (idx *Index) DeleteByOwner(ctx context.Context, ownerID string) error {
	if !sanitize.ValidateIdentifier(ownerID) {
		return fmt.Errorf("%w: invalid owner id %q", sanitize.ErrValidation, ownerID)
	}

	clause, args, err := sanitize.BuildPredicate(filterColumns, map[string]any{"owner_id": ownerID})
	if err != nil {
		return err
	}

	if _, err := idx.db.ExecContext(ctx, `DELETE FROM exchanges WHERE `+rebind(clause), args...); err != nil {
		return fmt.Errorf("postgres: delete by owner: %w", err)
	}
	return nil
}

// DeleteByConversation removes one conversation's records for ownerID. Idempotent.
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

	if _, err := idx.db.ExecContext(ctx, `DELETE FROM exchanges WHERE `+rebind(clause), args...); err != nil {
		return fmt.Errorf("postgres: delete by conversation: %w", err)
	}
	return nil
}

// Stats reports the total record count and the server location.
func (idx *Index) Stats(ctx context.Context) (storage.Stats, error) {
	var count int64
	if err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchanges`).Scan(&count); err != nil {
		return storage.Stats{}, fmt.Errorf("postgres: count records: %w", err)
	}
	return storage.Stats{Records: count, Location: idx.location}, nil
}

// Close releases the connection pool.
func (idx *Index) Close() error {
	return idx.db.Close()
}

func decodeMetadata(metadata sql.NullString, rec *types.MemoryRecord) error {
	if !metadata.Valid || metadata.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
		return fmt.Errorf("postgres: decode metadata: %w", err)
	}
	return nil
}

// narrow converts a stored float64 vector to the float32 form pgvector uses.
func narrow(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}

// locationFromDSN extracts a loggable host from the DSN, leaving credentials
// out of stats output.
func locationFromDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Host != "" {
		return "postgres://" + u.Host
	}
	return "postgres"
}

// Compile-time assertion that Index satisfies the full contract.
var _ storage.VectorIndex = (*Index)(nil)
