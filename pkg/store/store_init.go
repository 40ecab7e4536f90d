package store

import (
	"context"
	"fmt"
)

// createSchema establishes the chunk table, its supporting indexes, and the
// metadata tables. Every statement is create-if-absent, so running it on an
// already-initialized database is a no-op.
func (s *Store) createSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS document_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		policy_type TEXT,
		clause_title TEXT,
		content TEXT NOT NULL,
		embedding BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_document_chunks_doc_id ON document_chunks(doc_id);
	CREATE INDEX IF NOT EXISTS idx_document_chunks_policy_type ON document_chunks(policy_type);

	CREATE TABLE IF NOT EXISTS store_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		dimensions INTEGER NOT NULL,
		lists INTEGER NOT NULL,
		generation INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS index_snapshots (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	// CREATE TABLE IF NOT EXISTS silently keeps a pre-existing table of the
	// same name, so the column set has to be checked up front.
	if err := s.verifyChunkTable(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO store_meta (id, dimensions, lists, generation)
		VALUES (1, ?, ?, 0)
	`, s.config.Dimensions, s.config.Lists)
	if err != nil {
		return fmt.Errorf("failed to seed store metadata: %w", err)
	}

	return nil
}

// chunkColumns is the column contract of document_chunks: name -> declared type.
var chunkColumns = map[string]string{
	"id":           "INTEGER",
	"doc_id":       "TEXT",
	"chunk_id":     "TEXT",
	"policy_type":  "TEXT",
	"clause_title": "TEXT",
	"content":      "TEXT",
	"embedding":    "BLOB",
	"created_at":   "DATETIME",
}

// verifyChunkTable fails with ErrSchemaConflict when document_chunks exists
// with a column set other than the one this store manages. A missing table
// passes; createSchema is about to establish it.
func (s *Store) verifyChunkTable(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(document_chunks)`)
	if err != nil {
		return fmt.Errorf("failed to inspect document_chunks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close rows during schema verification", "error", closeErr)
		}
	}()

	seen := make(map[string]string)
	for rows.Next() {
		var (
			cid        int
			name       string
			typ        string
			notNull    int
			defaultVal any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return fmt.Errorf("failed to scan table info: %w", err)
		}
		seen[name] = typ
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read table info: %w", err)
	}

	if len(seen) == 0 {
		return nil // table absent
	}
	if len(seen) != len(chunkColumns) {
		return fmt.Errorf("%w: document_chunks has %d columns, expected %d",
			ErrSchemaConflict, len(seen), len(chunkColumns))
	}
	for name, typ := range chunkColumns {
		got, ok := seen[name]
		if !ok {
			return fmt.Errorf("%w: document_chunks is missing column %q", ErrSchemaConflict, name)
		}
		if got != typ {
			return fmt.Errorf("%w: column %q has type %s, expected %s", ErrSchemaConflict, name, got, typ)
		}
	}

	return nil
}

// loadMeta adopts the persisted dimensionality, list count, and generation.
// The metadata row wins over Open's configuration: an existing store keeps
// its dimensionality until Migrate changes it.
func (s *Store) loadMeta(ctx context.Context) error {
	var dims, lists int
	var generation int64
	err := s.db.QueryRowContext(ctx,
		`SELECT dimensions, lists, generation FROM store_meta WHERE id = 1`,
	).Scan(&dims, &lists, &generation)
	if err != nil {
		return fmt.Errorf("failed to load store metadata: %w", err)
	}

	if dims != s.config.Dimensions {
		s.logger.Info("adopting persisted dimensionality",
			"configured", s.config.Dimensions, "persisted", dims)
	}
	s.config.Dimensions = dims
	s.config.Lists = lists
	s.generation = generation

	return nil
}

// reassertFilterIndex re-creates the policy_type index if it is absent.
// Idempotent; the migration procedure calls it as its final step.
func (s *Store) reassertFilterIndex(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_policy_type ON document_chunks(policy_type)`)
	if err != nil {
		return fmt.Errorf("failed to assert policy_type index: %w", err)
	}
	return nil
}
