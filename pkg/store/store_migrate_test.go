package store

import (
	"context"
	"errors"
	"testing"
)

func TestMigrateRejectsMismatchedEmbeddings(t *testing.T) {
	s := newTestStore(t, WithDimensions(8))
	ctx := context.Background()

	id, err := s.Insert(ctx, &Chunk{
		DocID:     "d",
		ChunkID:   "c",
		Content:   "clause",
		Embedding: makeVector(8, 1),
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	// An 8-dimensional embedding blocks the move to 4 dimensions.
	if err := s.Migrate(ctx, 4); !errors.Is(err, ErrMigrationAborted) {
		t.Fatalf("Migrate() error = %v, want ErrMigrationAborted", err)
	}
	if got := s.Dimensions(); got != 8 {
		t.Errorf("Dimensions() = %d after aborted migration, want 8", got)
	}
	if s.InMaintenance() {
		t.Error("store stuck in maintenance mode after aborted migration")
	}

	// Clearing the stale embedding unblocks the migration.
	cleared, err := s.NullEmbeddings(ctx)
	if err != nil {
		t.Fatalf("NullEmbeddings() error = %v", err)
	}
	if cleared != 1 {
		t.Errorf("NullEmbeddings() = %d, want 1", cleared)
	}

	if err := s.Migrate(ctx, 4); err != nil {
		t.Fatalf("Migrate() after clearing error = %v", err)
	}
	if got := s.Dimensions(); got != 4 {
		t.Errorf("Dimensions() = %d, want 4", got)
	}

	// The store now accepts 4-dimensional embeddings only.
	if err := s.UpdateEmbedding(ctx, id, makeVector(4, 2)); err != nil {
		t.Errorf("UpdateEmbedding() at new dimensionality error = %v", err)
	}
	if err := s.UpdateEmbedding(ctx, id, makeVector(8, 2)); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("UpdateEmbedding() at old dimensionality error = %v, want ErrDimensionMismatch", err)
	}
}

func TestMigrateAbortLeavesGenerationUntouched(t *testing.T) {
	s := newTestStore(t, WithDimensions(8))
	ctx := context.Background()

	if _, err := s.Insert(ctx, &Chunk{
		DocID:     "d",
		ChunkID:   "c",
		Content:   "clause",
		Embedding: makeVector(8, 1),
	}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	before := s.Generation()

	if err := s.Migrate(ctx, 4); !errors.Is(err, ErrMigrationAborted) {
		t.Fatalf("Migrate() error = %v, want ErrMigrationAborted", err)
	}
	if got := s.Generation(); got != before {
		t.Errorf("Generation() = %d after aborted migration, want %d", got, before)
	}

	// The counter in store_meta is untouched too.
	path := s.config.Path
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() {
		if err := reopened.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := reopened.Generation(); got != before {
		t.Errorf("Generation() = %d after reopen, want %d", got, before)
	}
	if got := reopened.Dimensions(); got != 8 {
		t.Errorf("Dimensions() = %d after reopen, want 8", got)
	}
}

func TestMigrateRebuildsIndex(t *testing.T) {
	s := newTestStore(t, WithDimensions(8))
	ctx := context.Background()

	seedChunks(t, s, 50, 8)
	if err := s.BuildIndex(ctx, 5); err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}

	// Same-dimensionality migration: the reject check passes and the index
	// comes back queryable.
	if err := s.Migrate(ctx, 8, MigrateLists(7)); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !s.IndexReady() {
		t.Fatal("IndexReady() = false after migration")
	}

	matches, err := s.Search(ctx, makeVector(8, 3), 5)
	if err != nil {
		t.Fatalf("Search() after migration error = %v", err)
	}
	if len(matches) != 5 {
		t.Errorf("Search() returned %d matches, want 5", len(matches))
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Lists != 7 {
		t.Errorf("Stats().Lists = %d, want 7", stats.Lists)
	}
}

func TestMigrateIdempotentAtTarget(t *testing.T) {
	s := newTestStore(t, WithDimensions(8))
	ctx := context.Background()

	seedChunks(t, s, 20, 8)
	if err := s.BuildIndex(ctx, 4); err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}

	if err := s.Migrate(ctx, 8); err != nil {
		t.Fatalf("first Migrate() error = %v", err)
	}
	firstGen := s.Generation()

	if err := s.Migrate(ctx, 8); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	if got := s.Dimensions(); got != 8 {
		t.Errorf("Dimensions() = %d, want 8", got)
	}
	if !s.IndexReady() {
		t.Error("IndexReady() = false after repeated migration")
	}
	if got := s.Generation(); got != firstGen+1 {
		t.Errorf("Generation() = %d, want %d", got, firstGen+1)
	}
}

func TestMigrateEmptyStore(t *testing.T) {
	s := newTestStore(t, WithDimensions(3072))
	ctx := context.Background()

	if err := s.Migrate(ctx, 768); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if got := s.Dimensions(); got != 768 {
		t.Errorf("Dimensions() = %d, want 768", got)
	}

	// No embeddings means no index: degraded but correct.
	if s.IndexReady() {
		t.Error("IndexReady() = true with no embeddings")
	}
	if _, err := s.Search(ctx, makeVector(768, 1), 3); !errors.Is(err, ErrIndexNotBuilt) {
		t.Errorf("Search() error = %v, want ErrIndexNotBuilt", err)
	}
}

func TestMigrateGenerationPersists(t *testing.T) {
	s := newTestStore(t, WithDimensions(8))
	ctx := context.Background()

	if err := s.Migrate(ctx, 4); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	want := s.Generation()
	path := s.config.Path

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() {
		if err := reopened.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := reopened.Generation(); got != want {
		t.Errorf("Generation() = %d after reopen, want %d", got, want)
	}
	if got := reopened.Dimensions(); got != 4 {
		t.Errorf("Dimensions() = %d after reopen, want 4", got)
	}
}

func TestMigrateInvalidDimensions(t *testing.T) {
	s := newTestStore(t, WithDimensions(8))

	if err := s.Migrate(context.Background(), 0); err == nil {
		t.Error("Migrate(0) expected error")
	}
}
