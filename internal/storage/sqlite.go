package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidEmbedding is returned for empty or mis-sized vectors
	ErrInvalidEmbedding = errors.New("invalid embedding")
)

// maxBatchParams keeps IN (...) lists under SQLite's variable limit
const maxBatchParams = 500

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Document operations

func upsertDocument(ctx context.Context, q querier, doc *Document) error {
	if doc.ID == "" {
		return types.ErrMissingDocumentID
	}
	if err := types.ValidateMetadata(doc.Metadata); err != nil {
		return err
	}

	var extra sql.NullString
	if len(doc.Metadata.Extra) > 0 {
		raw, err := json.Marshal(doc.Metadata.Extra)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		extra = sql.NullString{String: string(raw), Valid: true}
	}

	if doc.IndexedAt.IsZero() {
		doc.IndexedAt = time.Now()
	}
	m := doc.Metadata
	query := `
		INSERT INTO documents (id, source_path, product, version, title, url, extra,
		                       content_hash, content_type, chunk_count, indexed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_path = excluded.source_path,
			product = excluded.product,
			version = excluded.version,
			title = excluded.title,
			url = excluded.url,
			extra = excluded.extra,
			content_hash = excluded.content_hash,
			content_type = excluded.content_type,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	if _, err := q.ExecContext(ctx, query,
		doc.ID, m.SourcePath, m.Product, m.Version, m.Title, m.URL, extra,
		doc.ContentHash[:], string(doc.ContentType), doc.ChunkCount, doc.IndexedAt, now, now); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	// Keep the denormalized FTS title in step with the document
	if _, err := q.ExecContext(ctx,
		`UPDATE chunks SET title = ?, updated_at = ? WHERE document_id = ? AND title <> ?`,
		m.Title, now, doc.ID, m.Title); err != nil {
		return fmt.Errorf("failed to update chunk titles: %w", err)
	}
	return nil
}

func getDocument(ctx context.Context, q querier, id string) (*Document, error) {
	query := `
		SELECT id, source_path, product, version, title, url, extra,
		       content_hash, content_type, chunk_count, indexed_at
		FROM documents
		WHERE id = ?
	`
	var doc Document
	var extra sql.NullString
	var hash []byte
	var contentType string
	var indexedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.Metadata.SourcePath, &doc.Metadata.Product, &doc.Metadata.Version,
		&doc.Metadata.Title, &doc.Metadata.URL, &extra,
		&hash, &contentType, &doc.ChunkCount, &indexedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	copy(doc.ContentHash[:], hash)
	doc.ContentType = types.ContentType(contentType)
	if indexedAt.Valid {
		doc.IndexedAt = indexedAt.Time
	}
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &doc.Metadata.Extra); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &doc, nil
}

func listDocumentIDs(ctx context.Context, q querier, product string) ([]string, error) {
	query := `SELECT id FROM documents`
	var args []interface{}
	if product != "" {
		query += ` WHERE product = ?`
		args = append(args, product)
	}
	query += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// deleteDocument removes the document; chunks and embeddings cascade
func deleteDocument(ctx context.Context, q querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}

// Chunk operations

func upsertChunk(ctx context.Context, q querier, chunk *types.Chunk) error {
	if chunk.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}
	if chunk.DocumentID == "" {
		return types.ErrMissingDocumentID
	}
	if chunk.Content == "" {
		return types.ErrEmptyContent
	}

	query := `
		INSERT INTO chunks (id, document_id, chunk_index, content, content_hash, token_count,
		                    char_count, has_code, section_title, section_level, title,
		                    content_type, quality_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chunk_index = excluded.chunk_index,
			content = excluded.content,
			content_hash = excluded.content_hash,
			token_count = excluded.token_count,
			char_count = excluded.char_count,
			has_code = excluded.has_code,
			section_title = excluded.section_title,
			section_level = excluded.section_level,
			title = excluded.title,
			content_type = excluded.content_type,
			quality_score = excluded.quality_score,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	_, err := q.ExecContext(ctx, query,
		chunk.ID, chunk.DocumentID, chunk.Index, chunk.Content, chunk.ContentHash[:],
		chunk.TokenCount, chunk.CharCount, chunk.HasCode, chunk.SectionTitle, chunk.SectionLevel,
		chunk.Metadata.Title, string(chunk.ContentType), chunk.QualityScore, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

func getChunks(ctx context.Context, q querier, ids []string) (map[string]*types.Chunk, error) {
	chunks := make(map[string]*types.Chunk, len(ids))
	for _, batch := range batches(ids) {
		query := `
			SELECT c.id, c.document_id, c.chunk_index, c.content, c.content_hash, c.token_count,
			       c.char_count, c.has_code, c.section_title, c.section_level, c.content_type,
			       c.quality_score, d.source_path, d.product, d.version, d.title, d.url
			FROM chunks c
			INNER JOIN documents d ON d.id = c.document_id
			WHERE c.id IN (` + placeholders(len(batch)) + `)
		`
		rows, err := q.QueryContext(ctx, query, stringArgs(batch)...)
		if err != nil {
			return nil, err
		}

		for rows.Next() {
			var c types.Chunk
			var hash []byte
			var contentType string
			err := rows.Scan(
				&c.ID, &c.DocumentID, &c.Index, &c.Content, &hash, &c.TokenCount,
				&c.CharCount, &c.HasCode, &c.SectionTitle, &c.SectionLevel, &contentType,
				&c.QualityScore, &c.Metadata.SourcePath, &c.Metadata.Product, &c.Metadata.Version,
				&c.Metadata.Title, &c.Metadata.URL,
			)
			if err != nil {
				_ = rows.Close()
				return nil, err
			}
			copy(c.ContentHash[:], hash)
			c.ContentType = types.ContentType(contentType)
			chunks[c.ID] = &c
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

func listChunkHashes(ctx context.Context, q querier, documentID string) (map[string][32]byte, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, content_hash FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	hashes := make(map[string][32]byte)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var h [32]byte
		copy(h[:], raw)
		hashes[id] = h
	}
	return hashes, rows.Err()
}

// deleteChunks deletes chunks in batches; embeddings cascade
func deleteChunks(ctx context.Context, q querier, ids []string) (int, error) {
	total := 0
	for _, batch := range batches(ids) {
		query := `DELETE FROM chunks WHERE id IN (` + placeholders(len(batch)) + `)`
		result, err := q.ExecContext(ctx, query, stringArgs(batch)...)
		if err != nil {
			return total, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}

// Embedding operations

func upsertEmbedding(ctx context.Context, q querier, embedding *Embedding) error {
	if len(embedding.Vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}
	if embedding.Dimension == 0 {
		embedding.Dimension = len(embedding.Vector)
	}
	if embedding.Dimension != len(embedding.Vector) {
		return fmt.Errorf("%w: dimension %d does not match vector length %d",
			ErrInvalidEmbedding, embedding.Dimension, len(embedding.Vector))
	}

	query := `
		INSERT INTO embeddings (chunk_id, vector, dimension, provider, embedding_model, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			embedding_model = excluded.embedding_model,
			indexed_at = excluded.indexed_at
	`
	now := time.Now()
	_, err := q.ExecContext(ctx, query,
		embedding.ChunkID, serializeVector(embedding.Vector), embedding.Dimension,
		embedding.Provider, embedding.Model, now)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}

	embedding.IndexedAt = now
	return nil
}

func getEmbeddings(ctx context.Context, q querier, chunkIDs []string) (map[string][]float32, error) {
	vectors := make(map[string][]float32, len(chunkIDs))
	for _, batch := range batches(chunkIDs) {
		query := `SELECT chunk_id, vector FROM embeddings WHERE chunk_id IN (` + placeholders(len(batch)) + `)`
		rows, err := q.QueryContext(ctx, query, stringArgs(batch)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			var blob []byte
			if err := rows.Scan(&id, &blob); err != nil {
				_ = rows.Close()
				return nil, err
			}
			vectors[id] = deserializeVector(blob)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

func recordIndexRun(ctx context.Context, q querier, run *IndexRun) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}
	result, err := q.ExecContext(ctx, `
		INSERT INTO index_runs (product, documents, chunks_indexed, chunks_skipped, chunks_deleted,
		                        embedding_model, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Product, run.Documents, run.ChunksIndexed, run.ChunksSkipped, run.ChunksDeleted,
		run.EmbeddingModel, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record index run: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		run.ID = id
	}
	return nil
}

// Status operations

// GetStats reports document, chunk and embedding counts. ConfiguredModel is
// left empty; it belongs to the caller's embedding configuration.
func (s *SQLiteStorage) GetStats(ctx context.Context) (*types.Stats, error) {
	stats := &types.Stats{ProductBreakdown: make(map[string]int)}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.DocumentCount},
		{"SELECT COUNT(*) FROM chunks", &stats.ChunkCount},
		{"SELECT COUNT(*) FROM embeddings", &stats.EmbeddingCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT product, COUNT(*) FROM documents GROUP BY product ORDER BY product`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var product string
		var n int
		if err := rows.Scan(&product, &n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.ProductBreakdown[product] = n
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT DISTINCT embedding_model FROM embeddings ORDER BY embedding_model`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var model string
		if err := rows.Scan(&model); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.IndexedModels = append(stats.IndexedModels, model)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last sql.NullTime
	err = s.db.QueryRowContext(ctx, `SELECT finished_at FROM index_runs ORDER BY id DESC LIMIT 1`).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if last.Valid {
		stats.LastIndexedAt = last.Time
	}

	return stats, nil
}

// SQLiteStorage methods

func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *Document) error {
	return upsertDocument(ctx, s.db, doc)
}

func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*Document, error) {
	return getDocument(ctx, s.db, id)
}

func (s *SQLiteStorage) ListDocumentIDs(ctx context.Context, product string) ([]string, error) {
	return listDocumentIDs(ctx, s.db, product)
}

func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	return deleteDocument(ctx, s.db, id)
}

func (s *SQLiteStorage) UpsertChunk(ctx context.Context, chunk *types.Chunk) error {
	return upsertChunk(ctx, s.db, chunk)
}

func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error) {
	return getChunks(ctx, s.db, ids)
}

func (s *SQLiteStorage) ListChunkHashes(ctx context.Context, documentID string) (map[string][32]byte, error) {
	return listChunkHashes(ctx, s.db, documentID)
}

func (s *SQLiteStorage) DeleteChunks(ctx context.Context, ids []string) (int, error) {
	return deleteChunks(ctx, s.db, ids)
}

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return upsertEmbedding(ctx, s.db, embedding)
}

func (s *SQLiteStorage) GetEmbeddings(ctx context.Context, chunkIDs []string) (map[string][]float32, error) {
	return getEmbeddings(ctx, s.db, chunkIDs)
}

func (s *SQLiteStorage) RecordIndexRun(ctx context.Context, run *IndexRun) error {
	return recordIndexRun(ctx, s.db, run)
}

func (s *SQLiteStorage) SearchVector(ctx context.Context, q VectorQuery) ([]VectorResult, error) {
	return searchVector(ctx, s.db, q)
}

func (s *SQLiteStorage) SearchText(ctx context.Context, q TextQuery) ([]TextResult, error) {
	return searchText(ctx, s.db, q)
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

var _ Tx = (*sqliteTx)(nil)

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) UpsertDocument(ctx context.Context, doc *Document) error {
	return upsertDocument(ctx, t.tx, doc)
}

func (t *sqliteTx) GetDocument(ctx context.Context, id string) (*Document, error) {
	return getDocument(ctx, t.tx, id)
}

func (t *sqliteTx) ListDocumentIDs(ctx context.Context, product string) ([]string, error) {
	return listDocumentIDs(ctx, t.tx, product)
}

func (t *sqliteTx) DeleteDocument(ctx context.Context, id string) error {
	return deleteDocument(ctx, t.tx, id)
}

func (t *sqliteTx) UpsertChunk(ctx context.Context, chunk *types.Chunk) error {
	return upsertChunk(ctx, t.tx, chunk)
}

func (t *sqliteTx) GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error) {
	return getChunks(ctx, t.tx, ids)
}

func (t *sqliteTx) ListChunkHashes(ctx context.Context, documentID string) (map[string][32]byte, error) {
	return listChunkHashes(ctx, t.tx, documentID)
}

func (t *sqliteTx) DeleteChunks(ctx context.Context, ids []string) (int, error) {
	return deleteChunks(ctx, t.tx, ids)
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return upsertEmbedding(ctx, t.tx, embedding)
}

func (t *sqliteTx) GetEmbeddings(ctx context.Context, chunkIDs []string) (map[string][]float32, error) {
	return getEmbeddings(ctx, t.tx, chunkIDs)
}

func (t *sqliteTx) RecordIndexRun(ctx context.Context, run *IndexRun) error {
	return recordIndexRun(ctx, t.tx, run)
}

func (t *sqliteTx) SearchVector(ctx context.Context, q VectorQuery) ([]VectorResult, error) {
	return searchVector(ctx, t.tx, q)
}

func (t *sqliteTx) SearchText(ctx context.Context, q TextQuery) ([]TextResult, error) {
	return searchText(ctx, t.tx, q)
}

// Helpers

func batches(ids []string) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += maxBatchParams {
		end := start + maxBatchParams
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
