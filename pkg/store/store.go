// Package store persists document chunks with their vector embeddings in
// SQLite and serves approximate nearest-neighbor queries over them. It owns
// the document_chunks table, the inverted-file similarity index built over
// the embedding column, the policy_type filter index, and the procedure
// that migrates the store to a new embedding dimensionality.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/chunkvec/chunkvec/pkg/index"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store is a SQLite-backed chunk store. All methods are safe for
// concurrent use; SQLite serializes the writers underneath.
type Store struct {
	db     *sql.DB
	config Config
	logger Logger

	mu          sync.RWMutex
	closed      bool
	maintenance bool       // writes fail with ErrStoreBusy while set
	generation  int64      // bumped by every migration
	ivf         *index.IVF // nil until the first successful build
}

// Open creates a store handle for the given database path. No I/O happens
// until Init.
func Open(path string, opts ...Option) (*Store, error) {
	config := DefaultConfig()
	config.Path = path
	for _, opt := range opts {
		opt(&config)
	}

	if config.Path == "" {
		return nil, wrapError("open", fmt.Errorf("database path cannot be empty"))
	}
	if config.Dimensions < 1 {
		return nil, wrapError("open", fmt.Errorf("dimensionality must be positive, got %d", config.Dimensions))
	}
	if config.Lists < 1 {
		return nil, wrapError("open", fmt.Errorf("list count must be positive, got %d", config.Lists))
	}
	if config.Logger == nil {
		config.Logger = NopLogger()
	}

	return &Store{config: config, logger: config.Logger}, nil
}

// Init opens the database, establishes the schema if absent, and loads the
// persisted similarity index. It is idempotent and safe to call on every
// startup; an existing incompatible document_chunks table fails with
// ErrSchemaConflict.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("init", ErrStoreClosed)
	}

	if s.db == nil {
		// _journal_mode=WAL: better concurrency
		// _busy_timeout=5000: wait up to 5s for a lock instead of failing
		dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", s.config.Path)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return wrapError("init", fmt.Errorf("failed to open database: %w", err))
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(2 * time.Hour)
		s.db = db
	}

	if err := s.createSchema(ctx); err != nil {
		return wrapError("init", err)
	}

	if err := s.loadMeta(ctx); err != nil {
		return wrapError("init", err)
	}

	if err := s.loadIndexSnapshot(ctx); err != nil {
		// A missing or stale snapshot is not fatal; searches report
		// ErrIndexNotBuilt until the next BuildIndex.
		s.logger.Warn("failed to load index snapshot", "error", err)
	}

	return nil
}

// Dimensions returns the store's configured embedding dimensionality.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Dimensions
}

// Generation returns the migration generation counter.
func (s *Store) Generation() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// IndexReady reports whether the similarity index is queryable.
func (s *Store) IndexReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ivf != nil
}

// InMaintenance reports whether the store currently rejects writes.
func (s *Store) InMaintenance() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maintenance
}

// checkWritable returns the error that should abort a write, if any.
// Callers must hold at least a read lock.
func (s *Store) checkWritable() error {
	if s.closed {
		return ErrStoreClosed
	}
	if s.maintenance {
		return ErrStoreBusy
	}
	return nil
}
