package knowledge

import (
	"fmt"
	"sort"
	"time"
)

// ContentType tags the payload variant a chunk carries.
type ContentType string

const (
	// ContentTypeCode is a source code fragment.
	ContentTypeCode ContentType = "code"
	// ContentTypeDoc is a documentation section.
	ContentTypeDoc ContentType = "doc"
	// ContentTypeTestResult is a recorded test failure.
	ContentTypeTestResult ContentType = "test_result"
	// ContentTypeTask is a tracked engineering task document.
	ContentTypeTask ContentType = "task"
	// ContentTypePattern is a recurring failure pattern.
	ContentTypePattern ContentType = "pattern"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeCode, ContentTypeDoc, ContentTypeTestResult, ContentTypeTask, ContentTypePattern:
		return true
	}
	return false
}

// Metadata holds per-chunk file metadata.
type Metadata struct {
	// MTime is the source modification time (or occurrence time for
	// test results).
	MTime time.Time `json:"mtime"`

	// Size is the source file size in bytes.
	Size int64 `json:"size"`

	// Complexity is a cheap structural complexity estimate.
	Complexity int `json:"complexity"`
}

// Chunk is the atomic indexed unit.
//
// The envelope fields are fixed for every content type; TaskPayload and
// TaskID are the per-type payload extensions, validated against
// ContentType at the storage boundary rather than scattered through
// business logic.
type Chunk struct {
	// ID uniquely identifies the chunk. Analyzer chunks use a
	// deterministic UUID derived from source path and chunk index so
	// re-analysis replaces in place.
	ID string

	// ContentType selects the payload variant.
	ContentType ContentType

	// Text is the embedded text, bounded by the configured chunk size.
	Text string

	// SourcePath is the originating file, if any.
	SourcePath string

	// Language is the source language for code chunks.
	Language string

	// Metadata carries file metadata.
	Metadata Metadata

	// TaskPayload is the JSON task document. Required for task chunks,
	// forbidden elsewhere.
	TaskPayload string

	// TaskID is a weak reference to a related task. Only test_result
	// chunks may carry it; a dangling reference leaves the chunk valid.
	TaskID string

	// Vector is the embedding. Its length must equal the store's
	// configured dimensionality.
	Vector []float32
}

// Validate checks the chunk envelope and its tagged payload against the
// configured embedding dimensionality.
func (c *Chunk) Validate(dim int) error {
	if c.ID == "" {
		return fmt.Errorf("%w: chunk id required", ErrInvalidChunk)
	}
	if !c.ContentType.Valid() {
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidChunk, c.ContentType)
	}
	if len(c.Vector) != dim {
		return fmt.Errorf("%w: chunk %s has vector of length %d, collection expects %d",
			ErrSchemaMismatch, c.ID, len(c.Vector), dim)
	}
	switch c.ContentType {
	case ContentTypeTask:
		if c.TaskPayload == "" {
			return fmt.Errorf("%w: task chunk %s missing task payload", ErrInvalidChunk, c.ID)
		}
	case ContentTypeTestResult:
		// TaskID is optional on test results.
	default:
		if c.TaskPayload != "" {
			return fmt.Errorf("%w: %s chunk %s carries a task payload", ErrInvalidChunk, c.ContentType, c.ID)
		}
		if c.TaskID != "" {
			return fmt.Errorf("%w: %s chunk %s carries a task reference", ErrInvalidChunk, c.ContentType, c.ID)
		}
	}
	return nil
}

// SimilarityResult pairs a chunk with its cosine similarity to a query
// vector. Scores are in [-1, 1], higher is more similar.
type SimilarityResult struct {
	Chunk Chunk
	Score float32
}

// Filter restricts search results by payload membership. Only equality
// and membership filters are supported; engine-specific query syntax
// never leaks through this type.
type Filter struct {
	// ContentTypes limits results to the given types. Empty means all.
	ContentTypes []ContentType
}

// Matches reports whether a content type passes the filter.
func (f Filter) Matches(t ContentType) bool {
	if len(f.ContentTypes) == 0 {
		return true
	}
	for _, ct := range f.ContentTypes {
		if ct == t {
			return true
		}
	}
	return false
}

// sortResults orders results by score descending, breaking ties by
// ascending chunk ID. Applied adapter-side so callers never depend on
// engine ordering quirks.
func sortResults(results []SimilarityResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
}
