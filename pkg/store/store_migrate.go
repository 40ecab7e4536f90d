package store

import (
	"context"
	"fmt"

	"github.com/chunkvec/chunkvec/pkg/index"
)

// MigrateOption customizes a single migration run.
type MigrateOption func(*migrateConfig)

type migrateConfig struct {
	lists int // 0 keeps the store's current partition count
}

// MigrateLists reconfigures the index partition count as part of the
// migration; by default the rebuilt index keeps the previous count.
func MigrateLists(lists int) MigrateOption {
	return func(c *migrateConfig) { c.lists = lists }
}

// Migrate evolves the store to a new embedding dimensionality. The steps
// run in strict order: reject-policy check, drop the similarity index,
// change the recorded dimensionality, rebuild the index, re-assert the
// policy_type filter index. The sequence is not transactional; a failure
// partway leaves the store degraded but correct (searches report
// ErrIndexNotBuilt) and the procedure can simply be rerun.
//
// Writes racing the migration fail with ErrStoreBusy for its duration.
// Existing embeddings whose length disagrees with newDim abort the
// migration with ErrMigrationAborted before anything is mutated; null or
// recompute them first (see NullEmbeddings).
func (s *Store) Migrate(ctx context.Context, newDim int, opts ...MigrateOption) error {
	if newDim < 1 {
		return wrapError("migrate", fmt.Errorf("dimensionality must be positive, got %d", newDim))
	}

	var cfg migrateConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	// Enter maintenance mode so concurrent writers fail fast instead of
	// racing the dimensionality change.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wrapError("migrate", ErrStoreClosed)
	}
	if s.maintenance {
		s.mu.Unlock()
		return wrapError("migrate", ErrStoreBusy)
	}
	s.maintenance = true
	lists := cfg.lists
	if lists < 1 {
		lists = s.config.Lists
	}
	oldDim := s.config.Dimensions
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.maintenance = false
		s.mu.Unlock()
	}()

	// Reject policy: every stored embedding must already have the target
	// length, otherwise nothing is mutated. The encoded blob is a 4-byte
	// length prefix plus 4 bytes per component, so the check stays in SQL.
	var mismatched int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM document_chunks
		WHERE embedding IS NOT NULL AND length(embedding) != ?
	`, 4+4*newDim).Scan(&mismatched)
	if err != nil {
		return wrapError("migrate", fmt.Errorf("failed to audit embeddings: %w", err))
	}
	if mismatched > 0 {
		return wrapError("migrate", fmt.Errorf("%w: %d embeddings have a different length than %d",
			ErrMigrationAborted, mismatched, newDim))
	}

	// The generation advances only once the audit passes; an aborted
	// migration leaves the counter, in memory and in store_meta, untouched.
	s.mu.Lock()
	s.generation++
	generation := s.generation
	s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE store_meta SET generation = ? WHERE id = 1`, generation); err != nil {
		return wrapError("migrate", fmt.Errorf("failed to record generation: %w", err))
	}

	s.logger.Info("migration started",
		"from", oldDim, "to", newDim, "lists", lists, "generation", generation)

	// Step 1: drop the index. Its cluster geometry encodes the old column
	// shape and cannot survive the change.
	s.mu.Lock()
	if err := s.dropIndexLocked(ctx); err != nil {
		s.mu.Unlock()
		return wrapError("migrate", err)
	}
	s.mu.Unlock()

	// Step 2: change the recorded dimensionality.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE store_meta SET dimensions = ? WHERE id = 1`, newDim); err != nil {
		return wrapError("migrate", fmt.Errorf("failed to update dimensionality: %w", err))
	}
	s.mu.Lock()
	s.config.Dimensions = newDim
	s.mu.Unlock()

	// Step 3: rebuild the index from the surviving embeddings. An empty
	// store skips the build and stays in the ErrIndexNotBuilt state.
	s.mu.RLock()
	ids, vectors, err := s.loadEmbeddings(ctx)
	s.mu.RUnlock()
	if err != nil {
		return wrapError("migrate", err)
	}
	if len(ids) > 0 {
		ivf, err := index.Build(ctx, ids, vectors, lists)
		if err != nil {
			return wrapError("migrate", err)
		}
		s.mu.Lock()
		err = s.installIndexLocked(ctx, ivf, lists)
		s.mu.Unlock()
		if err != nil {
			return wrapError("migrate", err)
		}
	} else {
		s.mu.Lock()
		s.config.Lists = lists
		_, err = s.db.ExecContext(ctx, `UPDATE store_meta SET lists = ? WHERE id = 1`, lists)
		s.mu.Unlock()
		if err != nil {
			return wrapError("migrate", fmt.Errorf("failed to persist list count: %w", err))
		}
	}

	// Step 4: the filter index is unaffected by dimensionality, but the
	// procedure re-asserts it for idempotence.
	if err := s.reassertFilterIndex(ctx); err != nil {
		return wrapError("migrate", err)
	}

	s.logger.Info("migration finished",
		"dimensions", newDim, "indexed", len(ids), "generation", generation)
	return nil
}
