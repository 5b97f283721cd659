package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// MemoryConfig holds configuration for the in-process store.
type MemoryConfig struct {
	// Collection is the collection name.
	// Default: "triaged_default"
	Collection string

	// VectorSize is the expected embedding dimension.
	// Must match the embedding provider's output dimension.
	// Default: 384 (bge-small-en-v1.5)
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *MemoryConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "triaged_default"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *MemoryConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// MemoryStore implements Store on an ephemeral chromem-go index.
//
// chromem-go is an embeddable pure-Go vector database. The store holds
// everything in process memory with no cross-restart persistence; it
// satisfies the exact same contract as QdrantStore so tests and
// single-process runs never need an external service.
type MemoryStore struct {
	db      *chromem.DB
	config  MemoryConfig
	logger  *zap.Logger
	metrics *Metrics

	mu         sync.Mutex
	collection *chromem.Collection
}

// NewMemoryStore creates a new in-process store.
func NewMemoryStore(config MemoryConfig, logger *zap.Logger) (*MemoryStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &MemoryStore{
		db:      chromem.NewDB(),
		config:  config,
		logger:  logger,
		metrics: NewMetrics(logger),
	}, nil
}

// precomputedEmbeddingFunc rejects text embedding requests. All vectors
// reach the store precomputed; chromem must never embed on our behalf
// (passing nil would install its default OpenAI embedder).
func precomputedEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("vectors are precomputed; text embedding not supported")
}

// EnsureCollection idempotently creates the configured collection.
func (s *MemoryStore) EnsureCollection(ctx context.Context) error {
	_, err := s.ensure()
	return err
}

// ensure lazily creates the collection. Guarded by mu so concurrent
// first-use callers agree on one collection handle.
func (s *MemoryStore) ensure() (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collection != nil {
		return s.collection, nil
	}
	collection, err := s.db.GetOrCreateCollection(s.config.Collection, nil, precomputedEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	s.collection = collection

	s.logger.Debug("memory collection ready",
		zap.String("collection", s.config.Collection),
		zap.Int("vector_size", s.config.VectorSize),
	)
	return collection, nil
}

// Upsert stores chunks, replacing existing entries by ID.
func (s *MemoryStore) Upsert(ctx context.Context, chunks []Chunk) (int, error) {
	start := time.Now()
	var opErr error
	defer func() {
		s.metrics.RecordUpsert(ctx, "memory", len(chunks), time.Since(start), opErr)
	}()

	if len(chunks) == 0 {
		return 0, nil
	}
	collection, err := s.ensure()
	if err != nil {
		opErr = err
		return 0, err
	}

	// Validate the whole batch before writing anything.
	for i := range chunks {
		if err := chunks[i].Validate(s.config.VectorSize); err != nil {
			opErr = err
			return 0, err
		}
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Text,
			Metadata:  encodePayload(&chunk),
			Embedding: chunk.Vector,
		}
	}

	// chromem keys documents by ID, so re-adding replaces in place.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		opErr = err
		return 0, fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug("upserted chunks",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(chunks)),
	)
	return len(chunks), nil
}

// Search performs filtered nearest-neighbor search.
//
// chromem's metadata filters support equality only, so membership
// filtering happens here after an exact search over the collection;
// the collection is process-local and small by construction.
func (s *MemoryStore) Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]SimilarityResult, error) {
	start := time.Now()
	var opErr error
	defer func() {
		s.metrics.RecordSearch(ctx, "memory", time.Since(start), opErr)
	}()

	if limit <= 0 {
		opErr = fmt.Errorf("limit must be positive, got %d", limit)
		return nil, opErr
	}
	if len(vector) != s.config.VectorSize {
		opErr = fmt.Errorf("%w: query vector of length %d, collection expects %d",
			ErrSchemaMismatch, len(vector), s.config.VectorSize)
		return nil, opErr
	}
	collection, err := s.ensure()
	if err != nil {
		opErr = err
		return nil, err
	}

	count := collection.Count()
	if count == 0 {
		return []SimilarityResult{}, nil
	}

	// Fetch everything, filter client-side, then truncate. Keeps the
	// membership filter and ordering deterministic.
	hits, err := collection.QueryEmbedding(ctx, vector, count, nil, nil)
	if err != nil {
		opErr = err
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	results := make([]SimilarityResult, 0, len(hits))
	for _, hit := range hits {
		chunk := decodePayload(hit.ID, hit.Content, hit.Metadata)
		chunk.Vector = hit.Embedding
		if !filter.Matches(chunk.ContentType) {
			continue
		}
		results = append(results, SimilarityResult{Chunk: chunk, Score: hit.Similarity})
	}

	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Get retrieves a chunk by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Chunk, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	collection, err := s.ensure()
	if err != nil {
		return nil, err
	}

	doc, err := collection.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	chunk := decodePayload(doc.ID, doc.Content, doc.Metadata)
	chunk.Vector = doc.Embedding
	return &chunk, nil
}

// Close releases the store. The index is process-local, so nothing
// needs flushing.
func (s *MemoryStore) Close() error {
	s.logger.Debug("memory store closed")
	return nil
}

// encodePayload flattens a chunk's payload into chromem's string map.
func encodePayload(c *Chunk) map[string]string {
	md := map[string]string{
		"content_type": string(c.ContentType),
		"source_path":  c.SourcePath,
		"language":     c.Language,
		"mtime":        c.Metadata.MTime.UTC().Format(time.RFC3339Nano),
		"size":         strconv.FormatInt(c.Metadata.Size, 10),
		"complexity":   strconv.Itoa(c.Metadata.Complexity),
	}
	if c.TaskPayload != "" {
		md["task"] = c.TaskPayload
	}
	if c.TaskID != "" {
		md["task_id"] = c.TaskID
	}
	return md
}

// decodePayload rebuilds a chunk from the flat string map.
func decodePayload(id, text string, md map[string]string) Chunk {
	mtime, _ := time.Parse(time.RFC3339Nano, md["mtime"])
	size, _ := strconv.ParseInt(md["size"], 10, 64)
	complexity, _ := strconv.Atoi(md["complexity"])

	return Chunk{
		ID:          id,
		ContentType: ContentType(md["content_type"]),
		Text:        text,
		SourcePath:  md["source_path"],
		Language:    md["language"],
		Metadata: Metadata{
			MTime:      mtime,
			Size:       size,
			Complexity: complexity,
		},
		TaskPayload: md["task"],
		TaskID:      md["task_id"],
	}
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
