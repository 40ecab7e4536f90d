package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chunkvec/chunkvec/internal/encoding"
	"github.com/chunkvec/chunkvec/pkg/index"
)

const ivfSnapshotName = "ivf"

// overfetchFactor widens IVF queries on the filtered search path so enough
// survivors remain after the policy_type restriction.
const overfetchFactor = 4

// BuildIndex (re)constructs the similarity index over every chunk that
// currently has an embedding. lists controls the accuracy/speed trade-off.
// The previous index keeps serving queries until the new one is ready, so
// cancelling the build leaves the store queryable.
func (s *Store) BuildIndex(ctx context.Context, lists int) error {
	s.mu.RLock()
	if err := s.checkWritable(); err != nil {
		s.mu.RUnlock()
		return wrapError("build_index", err)
	}
	generation := s.generation
	ids, vectors, err := s.loadEmbeddings(ctx)
	s.mu.RUnlock()
	if err != nil {
		return wrapError("build_index", err)
	}

	if len(ids) == 0 {
		return wrapError("build_index", fmt.Errorf("%w: no embeddings to index", ErrIndexNotBuilt))
	}

	// k-means runs outside the store lock; reads and writes proceed while
	// the replacement index is under construction.
	started := time.Now()
	ivf, err := index.Build(ctx, ids, vectors, lists)
	if err != nil {
		return wrapError("build_index", err)
	}

	if err := s.installBuiltIndex(ctx, ivf, lists, generation); err != nil {
		return wrapError("build_index", err)
	}

	s.logger.Info("similarity index built",
		"vectors", len(ids), "lists", ivf.Lists, "took", time.Since(started))
	return nil
}

// installBuiltIndex swaps in an index that was built outside the lock. The
// swap is refused when the store generation moved during the build; the
// embeddings the index was built from no longer describe the store.
func (s *Store) installBuiltIndex(ctx context.Context, ivf *index.IVF, lists int, generation int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if s.generation != generation {
		return fmt.Errorf("%w: store migrated during index build", ErrStoreBusy)
	}
	return s.installIndexLocked(ctx, ivf, lists)
}

// Search returns the k chunk ids whose embeddings are nearest to query
// under L2 distance, nearest-first.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("search", ErrStoreClosed)
	}
	if len(query) != s.config.Dimensions {
		return nil, wrapError("search", fmt.Errorf("%w: query has %d, store configured for %d",
			ErrDimensionMismatch, len(query), s.config.Dimensions))
	}
	if s.ivf == nil {
		return nil, wrapError("search", ErrIndexNotBuilt)
	}

	found, err := s.ivf.Search(query, k)
	if err != nil {
		return nil, wrapError("search", err)
	}
	return toMatches(found), nil
}

// SearchByPolicy restricts candidates to one policy_type, then ranks them.
// Small candidate sets are ranked by exact distance; larger ones go through
// the approximate index with over-fetching.
func (s *Store) SearchByPolicy(ctx context.Context, policyType string, query []float32, k int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("search_by_policy", ErrStoreClosed)
	}
	if policyType == "" {
		return nil, wrapError("search_by_policy", fmt.Errorf("policy type cannot be empty"))
	}
	if len(query) != s.config.Dimensions {
		return nil, wrapError("search_by_policy", fmt.Errorf("%w: query has %d, store configured for %d",
			ErrDimensionMismatch, len(query), s.config.Dimensions))
	}
	if k < 1 {
		return nil, wrapError("search_by_policy", fmt.Errorf("k must be positive, got %d", k))
	}

	ids, vectors, err := s.loadPolicyEmbeddings(ctx, policyType)
	if err != nil {
		return nil, wrapError("search_by_policy", err)
	}
	if len(ids) == 0 {
		return []Match{}, nil
	}

	if len(ids) <= s.config.ExactFilterLimit {
		found, err := index.RankExact(query, ids, vectors, k)
		if err != nil {
			return nil, wrapError("search_by_policy", err)
		}
		return toMatches(found), nil
	}

	if s.ivf == nil {
		return nil, wrapError("search_by_policy", ErrIndexNotBuilt)
	}

	candidates := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		candidates[id] = struct{}{}
	}

	found, err := s.ivf.Search(query, k*overfetchFactor)
	if err != nil {
		return nil, wrapError("search_by_policy", err)
	}

	matches := make([]Match, 0, k)
	for _, m := range found {
		if _, ok := candidates[m.ID]; !ok {
			continue
		}
		matches = append(matches, Match{ID: m.ID, Distance: m.Distance})
		if len(matches) == k {
			return matches, nil
		}
	}

	// Over-fetching missed too many candidates; fall back to an exact scan
	// of the restricted set rather than returning a short result.
	exact, err := index.RankExact(query, ids, vectors, k)
	if err != nil {
		return nil, wrapError("search_by_policy", err)
	}
	return toMatches(exact), nil
}

// loadEmbeddings reads every (id, embedding) pair with a non-null embedding
// and verifies each against the configured dimensionality. Callers hold at
// least a read lock.
func (s *Store) loadEmbeddings(ctx context.Context) ([]int64, [][]float32, error) {
	return s.loadEmbeddingsWhere(ctx,
		`SELECT id, embedding FROM document_chunks WHERE embedding IS NOT NULL ORDER BY id`)
}

func (s *Store) loadPolicyEmbeddings(ctx context.Context, policyType string) ([]int64, [][]float32, error) {
	return s.loadEmbeddingsWhere(ctx,
		`SELECT id, embedding FROM document_chunks WHERE policy_type = ? AND embedding IS NOT NULL ORDER BY id`,
		policyType)
}

func (s *Store) loadEmbeddingsWhere(ctx context.Context, query string, args ...any) ([]int64, [][]float32, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer s.closeRows(rows, "load_embeddings")

	var ids []int64
	var vectors [][]float32
	for rows.Next() {
		var id int64
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		vector, err := encoding.DecodeVector(data)
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %d: %w", id, err)
		}
		if err := encoding.ValidateVector(vector, s.config.Dimensions); err != nil {
			return nil, nil, fmt.Errorf("chunk %d: %w", id, err)
		}
		ids = append(ids, id)
		vectors = append(vectors, vector)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return ids, vectors, nil
}

// installIndexLocked swaps in a freshly built index and persists its
// snapshot plus the list count. The index dimensionality must match the
// store's. Callers hold the write lock.
func (s *Store) installIndexLocked(ctx context.Context, ivf *index.IVF, lists int) error {
	if ivf.Dimension != s.config.Dimensions {
		return fmt.Errorf("%w: index has %d, store configured for %d",
			ErrDimensionMismatch, ivf.Dimension, s.config.Dimensions)
	}

	snapshot, err := ivf.Snapshot()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO index_snapshots (name, data, created_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`, ivfSnapshotName, snapshot); err != nil {
		return fmt.Errorf("failed to persist index snapshot: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE store_meta SET lists = ? WHERE id = 1`, lists); err != nil {
		return fmt.Errorf("failed to persist list count: %w", err)
	}

	s.ivf = ivf
	s.config.Lists = lists
	return nil
}

// loadIndexSnapshot restores the persisted index, discarding a snapshot
// whose dimensionality no longer matches the store. Callers hold the
// write lock.
func (s *Store) loadIndexSnapshot(ctx context.Context) error {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM index_snapshots WHERE name = ?`, ivfSnapshotName).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	ivf, err := index.Restore(data)
	if err != nil {
		return err
	}
	if ivf.Dimension != s.config.Dimensions {
		s.logger.Warn("discarding index snapshot with stale dimensionality",
			"snapshot", ivf.Dimension, "store", s.config.Dimensions)
		return s.dropIndexLocked(ctx)
	}

	s.ivf = ivf
	s.logger.Info("similarity index loaded from snapshot", "vectors", ivf.Size(), "lists", ivf.Lists)
	return nil
}

// dropIndexLocked discards the in-memory index and its persisted snapshot.
// Callers hold the write lock.
func (s *Store) dropIndexLocked(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM index_snapshots WHERE name = ?`, ivfSnapshotName); err != nil {
		return fmt.Errorf("failed to drop index snapshot: %w", err)
	}
	s.ivf = nil
	return nil
}

func toMatches(found []index.Match) []Match {
	matches := make([]Match, len(found))
	for i, m := range found {
		matches[i] = Match{ID: m.ID, Distance: m.Distance}
	}
	return matches
}
