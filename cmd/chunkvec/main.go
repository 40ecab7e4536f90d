// Command chunkvec manages a SQLite-backed chunk embedding store: schema
// setup, chunk ingestion, embedding backfill, similarity search, and
// dimensionality migration.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chunkvec/chunkvec/pkg/embedder"
	"github.com/chunkvec/chunkvec/pkg/store"
)

var (
	dbPath     string
	dimensions int
	lists      int
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "chunkvec",
	Short: "Chunk embedding store with approximate similarity search",
	Long: `chunkvec stores document chunks with vector embeddings in SQLite,
serves approximate nearest-neighbor queries over them, and migrates the
store between embedding dimensionalities.`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the chunk store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		fmt.Printf("Chunk store initialized at %s with %d dimensions\n", dbPath, s.Dimensions())
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Insert a single chunk",
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, _ := cmd.Flags().GetString("doc-id")
		chunkID, _ := cmd.Flags().GetString("chunk-id")
		policyType, _ := cmd.Flags().GetString("policy-type")
		clauseTitle, _ := cmd.Flags().GetString("clause-title")
		content, _ := cmd.Flags().GetString("content")
		vectorStr, _ := cmd.Flags().GetString("vector")

		if chunkID == "" {
			chunkID = uuid.NewString()
		}

		var vector []float32
		if vectorStr != "" {
			var err error
			if vector, err = parseVector(vectorStr); err != nil {
				return err
			}
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		id, err := s.Insert(context.Background(), &store.Chunk{
			DocID:       docID,
			ChunkID:     chunkID,
			PolicyType:  policyType,
			ClauseTitle: clauseTitle,
			Content:     content,
			Embedding:   vector,
		})
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}

		fmt.Printf("Chunk %d added (doc %s, chunk %s)\n", id, docID, chunkID)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch a chunk by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		chunk, err := s.Get(context.Background(), id)
		if err != nil {
			return fmt.Errorf("failed to get chunk: %w", err)
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return printJSON(chunk)
		}

		fmt.Printf("ID: %d\n", chunk.ID)
		fmt.Printf("Doc: %s\n", chunk.DocID)
		fmt.Printf("Chunk: %s\n", chunk.ChunkID)
		if chunk.PolicyType != "" {
			fmt.Printf("Policy type: %s\n", chunk.PolicyType)
		}
		if chunk.ClauseTitle != "" {
			fmt.Printf("Clause title: %s\n", chunk.ClauseTitle)
		}
		fmt.Printf("Content: %s\n", chunk.Content)
		if chunk.Embedding == nil {
			fmt.Println("Embedding: (pending)")
		} else {
			fmt.Printf("Embedding: %d dimensions\n", len(chunk.Embedding))
		}
		return nil
	},
}

var docCmd = &cobra.Command{
	Use:   "doc <doc-id>",
	Short: "List the chunks of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		chunks, err := s.FindByDoc(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list chunks: %w", err)
		}

		for _, chunk := range chunks {
			embedded := "pending"
			if chunk.Embedding != nil {
				embedded = fmt.Sprintf("%dd", len(chunk.Embedding))
			}
			fmt.Printf("%d\t%s\t%s\t%s\n", chunk.ID, chunk.ChunkID, embedded, truncate(chunk.Content, 60))
		}
		fmt.Printf("%d chunks\n", len(chunks))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find the chunks nearest to a query vector",
	RunE: func(cmd *cobra.Command, args []string) error {
		vectorStr, _ := cmd.Flags().GetString("vector")
		policyType, _ := cmd.Flags().GetString("policy-type")
		k, _ := cmd.Flags().GetInt("top")

		if vectorStr == "" {
			return fmt.Errorf("--vector is required")
		}
		query, err := parseVector(vectorStr)
		if err != nil {
			return err
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		ctx := context.Background()
		var matches []store.Match
		if policyType != "" {
			matches, err = s.SearchByPolicy(ctx, policyType, query, k)
		} else {
			matches, err = s.Search(ctx, query, k)
		}
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		for i, m := range matches {
			chunk, err := s.Get(ctx, m.ID)
			if err != nil {
				return fmt.Errorf("failed to load match %d: %w", m.ID, err)
			}
			fmt.Printf("%d. id=%d distance=%.4f doc=%s %s\n",
				i+1, m.ID, m.Distance, chunk.DocID, truncate(chunk.Content, 60))
		}
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the similarity index",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		if err := s.BuildIndex(context.Background(), lists); err != nil {
			return fmt.Errorf("failed to build index: %w", err)
		}

		fmt.Printf("Similarity index built with %d lists\n", lists)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate <dimensions>",
	Short: "Migrate the store to a new embedding dimensionality",
	Long: `Migrate drops the similarity index, changes the store's embedding
dimensionality, rebuilds the index, and re-asserts the policy_type filter
index. Existing embeddings whose length disagrees with the target abort the
migration; clear them first with clear-embeddings or recompute them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		newDim, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid dimensionality %q: %w", args[0], err)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		var opts []store.MigrateOption
		if cmd.Flags().Changed("lists") {
			opts = append(opts, store.MigrateLists(lists))
		}

		if err := s.Migrate(context.Background(), newDim, opts...); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		fmt.Printf("Store migrated to %d dimensions (generation %d)\n", newDim, s.Generation())
		return nil
	},
}

var clearEmbeddingsCmd = &cobra.Command{
	Use:   "clear-embeddings",
	Short: "Null every stored embedding ahead of a dimensionality change",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		cleared, err := s.NullEmbeddings(context.Background())
		if err != nil {
			return fmt.Errorf("failed to clear embeddings: %w", err)
		}

		fmt.Printf("Cleared %d embeddings; run backfill to recompute them\n", cleared)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <jsonl-file>",
	Short: "Load chunks from a JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batchSize, _ := cmd.Flags().GetInt("batch")

		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer file.Close()

		s, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		ctx := context.Background()
		var batch []*store.Chunk
		var total int

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := s.InsertBatch(ctx, batch); err != nil {
				return fmt.Errorf("failed to insert batch: %w", err)
			}
			total += len(batch)
			batch = batch[:0]
			return nil
		}

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}

			var record struct {
				DocID       string `json:"doc_id"`
				ChunkID     string `json:"chunk_id"`
				PolicyType  string `json:"policy_type"`
				ClauseTitle string `json:"clause_title"`
				Content     string `json:"content"`
			}
			if err := json.Unmarshal([]byte(text), &record); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			if record.ChunkID == "" {
				record.ChunkID = uuid.NewString()
			}

			batch = append(batch, &store.Chunk{
				DocID:       record.DocID,
				ChunkID:     record.ChunkID,
				PolicyType:  record.PolicyType,
				ClauseTitle: record.ClauseTitle,
				Content:     record.Content,
			})
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		if err := flush(); err != nil {
			return err
		}

		fmt.Printf("Ingested %d chunks from %s\n", total, args[0])
		return nil
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Compute embeddings for pending chunks and rebuild the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		batchSize, _ := cmd.Flags().GetInt("batch")
		skipIndex, _ := cmd.Flags().GetBool("skip-index")

		s, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		emb, err := embedder.NewOpenAI(os.Getenv("OPENAI_API_KEY"), model, s.Dimensions())
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}

		ctx := context.Background()
		var done int64
		for {
			pending, err := s.FindPending(ctx, batchSize)
			if err != nil {
				return fmt.Errorf("failed to list pending chunks: %w", err)
			}
			if len(pending) == 0 {
				break
			}

			texts := make([]string, len(pending))
			for i, chunk := range pending {
				texts[i] = chunk.Content
			}

			vectors, err := emb.EmbedBatch(ctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed batch: %w", err)
			}

			for i, chunk := range pending {
				if err := s.UpdateEmbedding(ctx, chunk.ID, vectors[i]); err != nil {
					return fmt.Errorf("failed to store embedding for chunk %d: %w", chunk.ID, err)
				}
				done++
			}
			fmt.Printf("Embedded %d chunks\n", done)
		}

		if done == 0 {
			fmt.Println("No pending chunks")
			return nil
		}
		if skipIndex {
			return nil
		}

		if err := s.BuildIndex(ctx, lists); err != nil {
			return fmt.Errorf("failed to rebuild index: %w", err)
		}
		fmt.Printf("Backfilled %d embeddings and rebuilt the index\n", done)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		stats, err := s.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}
		return printJSON(stats)
	},
}

func openStore() (*store.Store, error) {
	opts := []store.Option{
		store.WithDimensions(dimensions),
		store.WithLists(lists),
	}
	if verbose {
		opts = append(opts, store.WithLogger(store.NewStdLogger(store.LevelDebug)))
	}

	s, err := store.Open(dbPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := s.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return s, nil
}

func closeStore(s *store.Store) {
	if err := s.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to close store: %v\n", err)
	}
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vector := make([]float32, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", part, err)
		}
		vector = append(vector, float32(val))
	}
	return vector, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func main() {
	// Environment files are optional; the original deployment keeps
	// DATABASE settings and OPENAI_API_KEY in .env.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "chunks.db", "database file path")
	rootCmd.PersistentFlags().IntVar(&dimensions, "dims", store.DefaultDimensions, "embedding dimensionality for a new store")
	rootCmd.PersistentFlags().IntVar(&lists, "lists", store.DefaultLists, "index partition count")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	addCmd.Flags().String("doc-id", "", "source document id")
	addCmd.Flags().String("chunk-id", "", "chunk id within the document (generated when empty)")
	addCmd.Flags().String("policy-type", "", "policy type label")
	addCmd.Flags().String("clause-title", "", "clause title")
	addCmd.Flags().String("content", "", "chunk text")
	addCmd.Flags().String("vector", "", "comma-separated embedding values")

	getCmd.Flags().Bool("json", false, "print the chunk as JSON")

	searchCmd.Flags().String("vector", "", "comma-separated query vector")
	searchCmd.Flags().String("policy-type", "", "restrict candidates to one policy type")
	searchCmd.Flags().IntP("top", "k", 5, "number of results")

	ingestCmd.Flags().Int("batch", 256, "chunks per insert transaction")

	backfillCmd.Flags().String("model", "", "embedding model name")
	backfillCmd.Flags().Int("batch", 64, "chunks per embedding request")
	backfillCmd.Flags().Bool("skip-index", false, "skip the index rebuild after backfilling")

	rootCmd.AddCommand(initCmd, addCmd, getCmd, docCmd, searchCmd, indexCmd,
		migrateCmd, clearEmbeddingsCmd, ingestCmd, backfillCmd, statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
