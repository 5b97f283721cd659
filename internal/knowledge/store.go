package knowledge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for knowledge store operations.
var (
	// ErrNotFound is returned when a chunk does not exist. Expected,
	// not a failure signal.
	ErrNotFound = errors.New("chunk not found")

	// ErrUnavailable indicates the backing store could not be reached.
	// Transient; callers retry with backoff or proceed best-effort.
	ErrUnavailable = errors.New("knowledge store unavailable")

	// ErrSchemaMismatch indicates vector dimensionality drift between
	// the embedding model and the collection. Fatal, never coerced.
	ErrSchemaMismatch = errors.New("vector dimensionality mismatch")

	// ErrInvalidChunk indicates a chunk failed payload validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against naming rules.
// Rejects uppercase, special characters, path traversal and spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Store is the interface for chunk storage and similarity search.
//
// Implementations are chosen at construction time; consistency across
// concurrent writers is delegated to the backend, which applies
// last-write-wins semantics per chunk ID.
type Store interface {
	// EnsureCollection idempotently creates the configured collection
	// with cosine distance. Safe to call on every startup.
	EnsureCollection(ctx context.Context) error

	// Upsert stores chunks, replacing any existing chunk with the same
	// ID. At-least-once and idempotent. A chunk whose vector length
	// differs from the configured dimensionality fails the whole call
	// with ErrSchemaMismatch before anything is written.
	Upsert(ctx context.Context, chunks []Chunk) (int, error)

	// Search returns up to limit chunks nearest to vector, restricted
	// by filter, ordered by score descending with ties broken by
	// ascending chunk ID.
	Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]SimilarityResult, error)

	// Get retrieves a chunk by ID, including its stored vector.
	// Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Chunk, error)

	// Close releases backend resources.
	Close() error
}
