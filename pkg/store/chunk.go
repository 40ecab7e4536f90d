package store

// Chunk is one stored fragment of a source document. Content is always
// present; the embedding, policy type, and clause title may be absent.
type Chunk struct {
	ID          int64     `json:"id"`
	DocID       string    `json:"docId"`
	ChunkID     string    `json:"chunkId"`
	PolicyType  string    `json:"policyType,omitempty"`
	ClauseTitle string    `json:"clauseTitle,omitempty"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// Match pairs a chunk id with its L2 distance from a query vector,
// nearest-first when returned from a search.
type Match struct {
	ID       int64   `json:"id"`
	Distance float32 `json:"distance"`
}

// Stats provides statistics about the store
type Stats struct {
	Count      int64 `json:"count"`      // total chunks
	Embedded   int64 `json:"embedded"`   // chunks with a non-null embedding
	Dimensions int   `json:"dimensions"` // configured dimensionality
	Lists      int   `json:"lists"`      // index partition count
	Generation int64 `json:"generation"` // bumped by every migration
	IndexReady bool  `json:"indexReady"`
}

// Config represents configuration options for the chunk store
type Config struct {
	Path       string // database file path
	Dimensions int    // embedding dimensionality for a freshly created store
	Lists      int    // IVF partition count
	// ExactFilterLimit is the candidate-set size at or below which a
	// policy-filtered search ranks by exact distance instead of probing
	// the approximate index.
	ExactFilterLimit int
	Logger           Logger
}

// Defaults: the 3072-dimensional layout of the initial schema and the
// ivfflat partition count the index was created with.
const (
	DefaultDimensions       = 3072
	DefaultLists            = 100
	DefaultExactFilterLimit = 256
)

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Dimensions:       DefaultDimensions,
		Lists:            DefaultLists,
		ExactFilterLimit: DefaultExactFilterLimit,
		Logger:           NopLogger(),
	}
}

// Option customizes a store configuration
type Option func(*Config)

// WithDimensions sets the dimensionality used when creating a new store.
// An existing store keeps the dimensionality recorded in its metadata;
// changing it requires Migrate.
func WithDimensions(dim int) Option {
	return func(c *Config) { c.Dimensions = dim }
}

// WithLists sets the IVF partition count used by index builds
func WithLists(lists int) Option {
	return func(c *Config) { c.Lists = lists }
}

// WithExactFilterLimit sets the exact-ranking threshold for filtered search
func WithExactFilterLimit(limit int) Option {
	return func(c *Config) { c.ExactFilterLimit = limit }
}

// WithLogger sets the logger used by the store
func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}
