package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chunkvec/chunkvec/internal/encoding"
)

// Insert stores a new chunk and returns its server-assigned id. Content is
// required; a non-nil embedding must match the store's dimensionality. The
// write is durable before Insert returns.
func (s *Store) Insert(ctx context.Context, chunk *Chunk) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkWritable(); err != nil {
		return 0, wrapError("insert", err)
	}
	if err := s.validateChunk(chunk); err != nil {
		return 0, wrapError("insert", err)
	}

	embedding, err := encodeNullableVector(chunk.Embedding)
	if err != nil {
		return 0, wrapError("insert", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO document_chunks (doc_id, chunk_id, policy_type, clause_title, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
	`, chunk.DocID, chunk.ChunkID, nullableString(chunk.PolicyType), nullableString(chunk.ClauseTitle),
		chunk.Content, embedding)
	if err != nil {
		return 0, wrapError("insert", fmt.Errorf("failed to insert chunk: %w", err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapError("insert", fmt.Errorf("failed to read assigned id: %w", err))
	}
	chunk.ID = id

	return id, nil
}

// InsertBatch stores many chunks in one transaction. Either every chunk is
// inserted or none are; assigned ids are written back into the slice.
func (s *Store) InsertBatch(ctx context.Context, chunks []*Chunk) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkWritable(); err != nil {
		return wrapError("insert_batch", err)
	}
	for i, chunk := range chunks {
		if err := s.validateChunk(chunk); err != nil {
			return wrapError("insert_batch", fmt.Errorf("chunk %d: %w", i, err))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("insert_batch", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("failed to roll back batch insert", "error", rbErr)
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (doc_id, chunk_id, policy_type, clause_title, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return wrapError("insert_batch", fmt.Errorf("failed to prepare insert: %w", err))
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			s.logger.Warn("failed to close batch statement", "error", closeErr)
		}
	}()

	for i, chunk := range chunks {
		embedding, err := encodeNullableVector(chunk.Embedding)
		if err != nil {
			return wrapError("insert_batch", fmt.Errorf("chunk %d: %w", i, err))
		}

		res, err := stmt.ExecContext(ctx, chunk.DocID, chunk.ChunkID,
			nullableString(chunk.PolicyType), nullableString(chunk.ClauseTitle),
			chunk.Content, embedding)
		if err != nil {
			return wrapError("insert_batch", fmt.Errorf("chunk %d: %w", i, err))
		}
		if chunk.ID, err = res.LastInsertId(); err != nil {
			return wrapError("insert_batch", fmt.Errorf("chunk %d: failed to read assigned id: %w", i, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapError("insert_batch", fmt.Errorf("failed to commit: %w", err))
	}

	return nil
}

// UpdateEmbedding sets or replaces the embedding of an existing chunk.
func (s *Store) UpdateEmbedding(ctx context.Context, id int64, vector []float32) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkWritable(); err != nil {
		return wrapError("update_embedding", err)
	}
	if len(vector) != s.config.Dimensions {
		return wrapError("update_embedding", fmt.Errorf("%w: got %d, store configured for %d",
			ErrDimensionMismatch, len(vector), s.config.Dimensions))
	}

	data, err := encoding.EncodeVector(vector)
	if err != nil {
		return wrapError("update_embedding", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE document_chunks SET embedding = ? WHERE id = ?`, data, id)
	if err != nil {
		return wrapError("update_embedding", fmt.Errorf("failed to update embedding: %w", err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return wrapError("update_embedding", err)
	}
	if affected == 0 {
		return wrapError("update_embedding", fmt.Errorf("%w: id %d", ErrNotFound, id))
	}

	return nil
}

// NullEmbeddings clears every stored embedding and drops the similarity
// index, whose geometry no longer describes anything. It is the operator
// escape hatch before a migration that the reject policy would block.
func (s *Store) NullEmbeddings(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return 0, wrapError("null_embeddings", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE document_chunks SET embedding = NULL WHERE embedding IS NOT NULL`)
	if err != nil {
		return 0, wrapError("null_embeddings", fmt.Errorf("failed to clear embeddings: %w", err))
	}
	cleared, err := res.RowsAffected()
	if err != nil {
		return 0, wrapError("null_embeddings", err)
	}

	if err := s.dropIndexLocked(ctx); err != nil {
		return cleared, wrapError("null_embeddings", err)
	}

	s.logger.Info("cleared embeddings", "count", cleared)
	return cleared, nil
}

// validateChunk enforces the insert-time invariants. Callers hold the lock.
func (s *Store) validateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("chunk cannot be nil")
	}
	if chunk.Content == "" {
		return ErrEmptyContent
	}
	if chunk.Embedding != nil && len(chunk.Embedding) != s.config.Dimensions {
		return fmt.Errorf("%w: got %d, store configured for %d",
			ErrDimensionMismatch, len(chunk.Embedding), s.config.Dimensions)
	}
	return nil
}

// encodeNullableVector maps a nil vector to a NULL column value.
func encodeNullableVector(vector []float32) (any, error) {
	if vector == nil {
		return nil, nil
	}
	return encoding.EncodeVector(vector)
}

// nullableString maps an empty string to a NULL column value.
func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
