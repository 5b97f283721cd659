package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// qdrantStoreForValidation builds a store without a connection. Only
// paths that fail before the first client call may be exercised.
func qdrantStoreForValidation(t *testing.T) *QdrantStore {
	t.Helper()

	cfg := QdrantConfig{Collection: "qdrant_test", VectorSize: 4}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	return &QdrantStore{
		config:  cfg,
		logger:  zap.NewNop(),
		metrics: NewMetrics(zap.NewNop()),
	}
}

func TestQdrantStore_UpsertRejectsNonUUIDID(t *testing.T) {
	s := qdrantStoreForValidation(t)

	count, err := s.Upsert(context.Background(), []Chunk{{
		ID:          "chunk-1",
		ContentType: ContentTypeCode,
		Text:        "func main() {}",
		Vector:      make([]float32, 4),
	}})
	assert.Zero(t, count)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidChunk)
	assert.Contains(t, err.Error(), "chunk-1")
}

func TestQdrantStore_UpsertRejectsWrongDimensionFirst(t *testing.T) {
	s := qdrantStoreForValidation(t)

	_, err := s.Upsert(context.Background(), []Chunk{{
		ID:          "chunk-1",
		ContentType: ContentTypeCode,
		Text:        "func main() {}",
		Vector:      make([]float32, 3),
	}})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestQdrantStore_GetNonUUIDIDIsNotFound(t *testing.T) {
	s := qdrantStoreForValidation(t)

	_, err := s.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}
