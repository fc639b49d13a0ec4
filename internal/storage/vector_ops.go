package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/dshills/docsearch-mcp/internal/fusion"
)

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, q querier, vq VectorQuery) ([]VectorResult, error) {
	if len(vq.Vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidEmbedding)
	}
	limit := vq.Limit
	if vq.NumCandidates > 0 && (limit <= 0 || limit > vq.NumCandidates) {
		limit = vq.NumCandidates
	}
	if limit <= 0 {
		return []VectorResult{}, nil
	}

	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, q, vq, limit)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, q, vq, limit)
}

// searchVectorOptimized uses sqlite-vec extension for SQL-based vector similarity search
func searchVectorOptimized(ctx context.Context, q querier, vq VectorQuery, limit int) ([]VectorResult, error) {
	queryVectorBlob := serializeVector(vq.Vector)

	// vec_distance_cosine returns a distance; convert to similarity
	query := `
		SELECT
			c.id, c.document_id, e.vector,
			1.0 - vec_distance_cosine(e.vector, ?) as similarity
		FROM chunks c
		INNER JOIN embeddings e ON c.id = e.chunk_id
		INNER JOIN documents d ON d.id = c.document_id
		WHERE e.dimension = ?
	`
	args := []interface{}{queryVectorBlob, len(vq.Vector)}

	query, args = applyFilters(query, args, vq.Filters)

	if vq.Filters != nil && vq.Filters.MinRelevance > 0 {
		query += " AND (1.0 - vec_distance_cosine(e.vector, ?)) >= ?"
		args = append(args, queryVectorBlob, vq.Filters.MinRelevance)
	}

	query += " ORDER BY similarity DESC, c.seq LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var r VectorResult
		var blob []byte
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &blob, &r.SimilarityScore); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if vq.IncludeVectors {
			r.Vector = deserializeVector(blob)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchVectorFallback performs an exact scan with Go-side cosine similarity.
// This is used when sqlite-vec extension is not available (purego builds)
func searchVectorFallback(ctx context.Context, q querier, vq VectorQuery, limit int) ([]VectorResult, error) {
	query := `
		SELECT c.id, c.document_id, e.vector
		FROM chunks c
		INNER JOIN embeddings e ON c.id = e.chunk_id
		INNER JOIN documents d ON d.id = c.document_id
		WHERE e.dimension = ?
	`
	args := []interface{}{len(vq.Vector)}
	query, args = applyFilters(query, args, vq.Filters)
	query += " ORDER BY c.seq"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, vq)
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)

	if limit > len(candidates) {
		limit = len(candidates)
	}
	return candidates[:limit], nil
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, vq VectorQuery) ([]VectorResult, error) {
	candidates := make([]VectorResult, 0, 256)

	for rows.Next() {
		var r VectorResult
		var blob []byte
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &blob); err != nil {
			return nil, err
		}

		vector := deserializeVector(blob)
		if len(vector) != len(vq.Vector) {
			continue // Dimension mismatch, skip
		}

		r.SimilarityScore = fusion.Cosine(vq.Vector, vector)
		if vq.Filters != nil && vq.Filters.MinRelevance > 0 && r.SimilarityScore < vq.Filters.MinRelevance {
			continue
		}
		if vq.IncludeVectors {
			r.Vector = vector
		}
		candidates = append(candidates, r)
	}

	return candidates, rows.Err()
}

// sortCandidates sorts by score descending; ties keep scan order
func sortCandidates(candidates []VectorResult) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].SimilarityScore > candidates[j].SimilarityScore
	})
}

// searchText performs BM25 full-text search using FTS5
func searchText(ctx context.Context, q querier, tq TextQuery) ([]TextResult, error) {
	match, err := buildFTSQuery(tq.Query, tq.Fields, tq.Fuzzy)
	if err != nil {
		return nil, err
	}
	if tq.Limit <= 0 {
		return []TextResult{}, nil
	}

	sqlQuery := `
		SELECT c.id, c.document_id, bm25(chunks_fts) as score
		FROM chunks_fts
		INNER JOIN chunks c ON c.seq = chunks_fts.rowid
		INNER JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ?
	`
	args := []interface{}{match}
	sqlQuery, args = applyFilters(sqlQuery, args, tq.Filters)

	// BM25 is lower-is-better
	sqlQuery += " ORDER BY score, c.seq LIMIT ?"
	args = append(args, tq.Limit)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTextResults(rows, tq.Filters)
}

// collectTextResults processes text search results and normalizes scores
func collectTextResults(rows *sql.Rows, filters *SearchFilters) ([]TextResult, error) {
	results := make([]TextResult, 0)

	for rows.Next() {
		var r TextResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.BM25Score); err != nil {
			return nil, err
		}

		// BM25 scores are negative, typically in [-50, 0]
		r.BM25Score = 1.0 / (1.0 + math.Abs(r.BM25Score)/50.0)

		if filters != nil && filters.MinRelevance > 0 && r.BM25Score < filters.MinRelevance {
			continue
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// applyFilters adds metadata filters; the query must alias chunks as c and
// documents as d
func applyFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	in := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		query += " AND " + column + " IN (" + placeholders(len(values)) + ")"
		args = append(args, stringArgs(values)...)
	}

	in("d.product", filters.Products)
	in("d.version", filters.Versions)

	if len(filters.ContentTypes) > 0 {
		cts := make([]string, len(filters.ContentTypes))
		for i, ct := range filters.ContentTypes {
			cts[i] = string(ct)
		}
		in("c.content_type", cts)
	}

	if filters.SourcePattern != "" {
		query += " AND d.source_path GLOB ?"
		args = append(args, filters.SourcePattern)
	}

	return query, args
}

var validFields = map[string]bool{
	FieldContent:      true,
	FieldSectionTitle: true,
	FieldTitle:        true,
}

// buildFTSQuery turns free text into an FTS5 expression. Every term is
// quoted so user input can never form operators; terms are OR-ed and BM25
// ranks documents matching more of them higher. Fuzzy matching relaxes each
// term of three or more characters to a prefix query.
func buildFTSQuery(query string, fields []string, fuzzy bool) (string, error) {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '$'
	})
	if len(terms) == 0 {
		return "", fmt.Errorf("empty search query")
	}

	seen := make(map[string]bool, len(terms))
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(term)
		if seen[term] {
			continue
		}
		seen[term] = true
		quoted := `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
		if fuzzy && len([]rune(term)) >= 3 {
			quoted += "*"
		}
		parts = append(parts, quoted)
	}
	expr := strings.Join(parts, " OR ")

	if len(fields) == 0 {
		return expr, nil
	}
	for _, f := range fields {
		if !validFields[f] {
			return "", fmt.Errorf("unknown search field %q", f)
		}
	}
	return "{" + strings.Join(fields, " ") + "} : (" + expr + ")", nil
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}
