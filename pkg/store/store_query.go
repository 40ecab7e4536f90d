package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chunkvec/chunkvec/internal/encoding"
)

const chunkSelect = `
	SELECT id, doc_id, chunk_id, policy_type, clause_title, content, embedding
	FROM document_chunks
`

// Get returns the chunk with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("get", ErrStoreClosed)
	}

	row := s.db.QueryRowContext(ctx, chunkSelect+`WHERE id = ?`, id)
	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapError("get", fmt.Errorf("%w: id %d", ErrNotFound, id))
	}
	if err != nil {
		return nil, wrapError("get", err)
	}

	return chunk, nil
}

// FindByDoc returns every chunk of a document in insertion order. Zero
// matches is an empty slice, not an error.
func (s *Store) FindByDoc(ctx context.Context, docID string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("find_by_doc", ErrStoreClosed)
	}
	if docID == "" {
		return nil, wrapError("find_by_doc", fmt.Errorf("doc id cannot be empty"))
	}

	rows, err := s.db.QueryContext(ctx, chunkSelect+`WHERE doc_id = ? ORDER BY id`, docID)
	if err != nil {
		return nil, wrapError("find_by_doc", fmt.Errorf("failed to query chunks: %w", err))
	}
	defer s.closeRows(rows, "find_by_doc")

	chunks := []*Chunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, wrapError("find_by_doc", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("find_by_doc", err)
	}

	return chunks, nil
}

// FindPending returns up to limit chunks that still lack an embedding,
// oldest first. The backfill flow feeds these to an embedding producer.
func (s *Store) FindPending(ctx context.Context, limit int) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("find_pending", ErrStoreClosed)
	}
	if limit < 1 {
		return nil, wrapError("find_pending", fmt.Errorf("limit must be positive, got %d", limit))
	}

	rows, err := s.db.QueryContext(ctx,
		chunkSelect+`WHERE embedding IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, wrapError("find_pending", fmt.Errorf("failed to query pending chunks: %w", err))
	}
	defer s.closeRows(rows, "find_pending")

	chunks := []*Chunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, wrapError("find_pending", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("find_pending", err)
	}

	return chunks, nil
}

// CountPending returns the number of chunks without an embedding.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, wrapError("count_pending", ErrStoreClosed)
	}

	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_chunks WHERE embedding IS NULL`).Scan(&count)
	if err != nil {
		return 0, wrapError("count_pending", err)
	}
	return count, nil
}

// Stats reports store-level counters.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("stats", ErrStoreClosed)
	}

	stats := &Stats{
		Dimensions: s.config.Dimensions,
		Lists:      s.config.Lists,
		Generation: s.generation,
		IndexReady: s.ivf != nil,
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(embedding) FROM document_chunks
	`).Scan(&stats.Count, &stats.Embedded)
	if err != nil {
		return nil, wrapError("stats", err)
	}

	return stats, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var (
		chunk       Chunk
		policyType  sql.NullString
		clauseTitle sql.NullString
		vectorBytes []byte
	)

	err := row.Scan(&chunk.ID, &chunk.DocID, &chunk.ChunkID,
		&policyType, &clauseTitle, &chunk.Content, &vectorBytes)
	if err != nil {
		return nil, err
	}

	chunk.PolicyType = policyType.String
	chunk.ClauseTitle = clauseTitle.String

	if vectorBytes != nil {
		vector, err := encoding.DecodeVector(vectorBytes)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", chunk.ID, err)
		}
		chunk.Embedding = vector
	}

	return &chunk, nil
}

func (s *Store) closeRows(rows *sql.Rows, op string) {
	if err := rows.Close(); err != nil {
		s.logger.Warn("failed to close rows", "op", op, "error", err)
	}
}
