package knowledge_test

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/triaged/internal/knowledge"
)

const testVectorSize = 32

// testEmbedding builds a deterministic normalized bag-of-words vector,
// so identical texts have cosine similarity 1.0 and overlapping texts
// score between 0 and 1.
func testEmbedding(text string) []float32 {
	vec := make([]float32, testVectorSize)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%testVectorSize]++
	}

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v * v)
	}
	if sumSq == 0 {
		vec[0] = 1
		return vec
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func newTestStore(t *testing.T) *knowledge.MemoryStore {
	t.Helper()

	store, err := knowledge.NewMemoryStore(knowledge.MemoryConfig{
		Collection: "test_collection",
		VectorSize: testVectorSize,
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(context.Background()))

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func codeChunk(id, text string) knowledge.Chunk {
	return knowledge.Chunk{
		ID:          id,
		ContentType: knowledge.ContentTypeCode,
		Text:        text,
		SourcePath:  "src/main.go",
		Language:    "go",
		Metadata: knowledge.Metadata{
			MTime: time.Now().UTC(),
			Size:  int64(len(text)),
		},
		Vector: testEmbedding(text),
	}
}

func TestMemoryStore_UpsertIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunk := codeChunk("chunk-1", "func main() {}")

	count, err := store.Upsert(ctx, []knowledge.Chunk{chunk})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Same id, same content: still exactly one entity.
	count, err = store.Upsert(ctx, []knowledge.Chunk{chunk})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := store.Search(ctx, testEmbedding("func main() {}"), knowledge.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk-1", results[0].Chunk.ID)

	// Same id, changed content: updated in place.
	updated := codeChunk("chunk-1", "func main() { run() }")
	_, err = store.Upsert(ctx, []knowledge.Chunk{updated})
	require.NoError(t, err)

	got, err := store.Get(ctx, "chunk-1")
	require.NoError(t, err)
	assert.Equal(t, "func main() { run() }", got.Text)
}

func TestMemoryStore_SchemaMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunk := codeChunk("chunk-1", "func main() {}")
	chunk.Vector = make([]float32, testVectorSize+1)

	_, err := store.Upsert(ctx, []knowledge.Chunk{chunk})
	require.ErrorIs(t, err, knowledge.ErrSchemaMismatch)

	_, err = store.Search(ctx, make([]float32, 3), knowledge.Filter{}, 10)
	require.ErrorIs(t, err, knowledge.ErrSchemaMismatch)
}

func TestMemoryStore_BatchValidatedBeforeWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	good := codeChunk("good", "func a() {}")
	bad := codeChunk("bad", "func b() {}")
	bad.Vector = nil

	_, err := store.Upsert(ctx, []knowledge.Chunk{good, bad})
	require.ErrorIs(t, err, knowledge.ErrSchemaMismatch)

	// Nothing from the failed batch was stored.
	_, err = store.Get(ctx, "good")
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestMemoryStore_SearchOrderingAndTieBreak(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// b and a share identical text so they tie on score; c differs.
	chunks := []knowledge.Chunk{
		codeChunk("id-b", "token validation failed"),
		codeChunk("id-a", "token validation failed"),
		codeChunk("id-c", "database connection pool"),
	}
	_, err := store.Upsert(ctx, chunks)
	require.NoError(t, err)

	results, err := store.Search(ctx, testEmbedding("token validation failed"), knowledge.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Exact matches first, tie broken by ascending id.
	assert.Equal(t, "id-a", results[0].Chunk.ID)
	assert.Equal(t, "id-b", results[1].Chunk.ID)
	assert.Equal(t, "id-c", results[2].Chunk.ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.001)
	assert.GreaterOrEqual(t, results[1].Score, results[2].Score)
}

func TestMemoryStore_SearchContentTypeFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	code := codeChunk("code-1", "token validation failed")
	doc := knowledge.Chunk{
		ID:          "doc-1",
		ContentType: knowledge.ContentTypeDoc,
		Text:        "token validation failed",
		SourcePath:  "docs/auth.md",
		Vector:      testEmbedding("token validation failed"),
	}
	testResult := knowledge.Chunk{
		ID:          "tr-1",
		ContentType: knowledge.ContentTypeTestResult,
		Text:        "token validation failed",
		Vector:      testEmbedding("token validation failed"),
	}

	_, err := store.Upsert(ctx, []knowledge.Chunk{code, doc, testResult})
	require.NoError(t, err)

	results, err := store.Search(ctx, testEmbedding("token validation failed"), knowledge.Filter{
		ContentTypes: []knowledge.ContentType{knowledge.ContentTypeTestResult, knowledge.ContentTypeTask},
	}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "tr-1", results[0].Chunk.ID)
}

func TestMemoryStore_SearchLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := store.Upsert(ctx, []knowledge.Chunk{codeChunk(id, "shared text "+id)})
		require.NoError(t, err)
	}

	results, err := store.Search(ctx, testEmbedding("shared text"), knowledge.Filter{}, 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestMemoryStore_SearchEmptyCollection(t *testing.T) {
	store := newTestStore(t)

	results, err := store.Search(context.Background(), testEmbedding("anything"), knowledge.Filter{}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestMemoryStore_ConcurrentFirstUse(t *testing.T) {
	// No prior EnsureCollection: all writers race to create the
	// collection on first use and must agree on one handle.
	store, err := knowledge.NewMemoryStore(knowledge.MemoryConfig{
		Collection: "concurrent_test",
		VectorSize: testVectorSize,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	var eg errgroup.Group
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("chunk-%d", i)
		eg.Go(func() error {
			_, err := store.Upsert(ctx, []knowledge.Chunk{codeChunk(id, "shared body "+id)})
			return err
		})
	}
	require.NoError(t, eg.Wait())

	for i := 0; i < 8; i++ {
		got, err := store.Get(ctx, fmt.Sprintf("chunk-%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("chunk-%d", i), got.ID)
	}
}

func TestMemoryStore_PayloadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mtime := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	chunk := knowledge.Chunk{
		ID:          "tr-7",
		ContentType: knowledge.ContentTypeTestResult,
		Text:        "test_auth token invalid",
		TaskID:      "task-42",
		Metadata: knowledge.Metadata{
			MTime: mtime,
			Size:  23,
		},
		Vector: testEmbedding("test_auth token invalid"),
	}

	_, err := store.Upsert(ctx, []knowledge.Chunk{chunk})
	require.NoError(t, err)

	got, err := store.Get(ctx, "tr-7")
	require.NoError(t, err)
	assert.Equal(t, knowledge.ContentTypeTestResult, got.ContentType)
	assert.Equal(t, "test_auth token invalid", got.Text)
	assert.Equal(t, "task-42", got.TaskID)
	assert.True(t, mtime.Equal(got.Metadata.MTime))
	assert.Equal(t, int64(23), got.Metadata.Size)
	assert.Len(t, got.Vector, testVectorSize)
}
