package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/config"
	"github.com/fyrsmithlabs/triaged/internal/embeddings"
	"github.com/fyrsmithlabs/triaged/internal/knowledge"
)

const testDim = 8

// stubProvider returns fixed-size vectors without a real model.
type stubProvider struct{}

func (stubProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, testDim)
		vec[0] = 1
		vectors[i] = vec
	}
	return vectors, nil
}

func (stubProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	vec := make([]float32, testDim)
	vec[0] = 1
	return vec, nil
}

func (stubProvider) Dimension() int { return testDim }
func (stubProvider) Close() error   { return nil }

// failingProvider rejects every request.
type failingProvider struct{ stubProvider }

func (failingProvider) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: down", embeddings.ErrUnavailable)
}

func testConfig(root string) config.AnalysisConfig {
	return config.AnalysisConfig{
		RootDir:        root,
		IgnoreDirs:     []string{".git", "node_modules"},
		FileExtensions: map[string]string{".go": "go", ".md": "markdown"},
		ChunkSize:      200,
		MaxFileSize:    100,
		BatchSize:      10,
		Parallelism:    2,
	}
}

func newTestAnalyzer(t *testing.T, root string, provider embeddings.Provider) (*Analyzer, *knowledge.MemoryStore) {
	t.Helper()

	store, err := knowledge.NewMemoryStore(knowledge.MemoryConfig{
		Collection: "analyzer_test",
		VectorSize: testDim,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gateway := embeddings.NewGateway(provider, embeddings.GatewayConfig{
		BatchSize:     4,
		MaxConcurrent: 2,
	}, zap.NewNop())

	return New(testConfig(root), gateway, store, zap.NewNop()), store
}

// writeTree creates one small code file, one small doc file, and one
// oversized code file.
func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"),
		[]byte("package main\n\nfunc main() {\n\trun()\n}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"),
		[]byte("# Service\n\nRuns the thing.\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.go"),
		[]byte("package main\n\n// "+strings.Repeat("x", 200)+"\n"), 0644))

	return root
}

func TestAnalyzeAndStore_ThreeFileTree(t *testing.T) {
	root := writeTree(t)
	a, store := newTestAnalyzer(t, root, stubProvider{})

	summary, err := a.AnalyzeAndStore(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.FilesAnalyzed)
	assert.Equal(t, 1, summary.Skipped)
	assert.GreaterOrEqual(t, summary.ChunksStored, 2)
	assert.Empty(t, summary.Errors)

	// Chunk ids are deterministic, so stored chunks are addressable.
	code, err := store.Get(context.Background(), chunkID("main.go", 0))
	require.NoError(t, err)
	assert.Equal(t, knowledge.ContentTypeCode, code.ContentType)
	assert.Equal(t, "go", code.Language)
	assert.Equal(t, "main.go", code.SourcePath)
	assert.NotZero(t, code.Metadata.Size)

	doc, err := store.Get(context.Background(), chunkID("README.md", 0))
	require.NoError(t, err)
	assert.Equal(t, knowledge.ContentTypeDoc, doc.ContentType)

	// The oversized file was never stored.
	_, err = store.Get(context.Background(), chunkID("big.go", 0))
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestAnalyzeAndStore_Idempotent(t *testing.T) {
	root := writeTree(t)
	a, _ := newTestAnalyzer(t, root, stubProvider{})

	first, err := a.AnalyzeAndStore(context.Background(), root)
	require.NoError(t, err)

	second, err := a.AnalyzeAndStore(context.Background(), root)
	require.NoError(t, err)

	// Re-analysis replaces chunks in place, never appends duplicates.
	assert.Equal(t, first.ChunksStored, second.ChunksStored)
}

func TestAnalyzeAndStore_MissingRoot(t *testing.T) {
	a, _ := newTestAnalyzer(t, "", stubProvider{})

	// Fatal misconfiguration, distinguishable from transient failures.
	_, err := a.AnalyzeAndStore(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.NotErrorIs(t, err, knowledge.ErrUnavailable)

	_, err = a.Structure(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestAnalyzeAndStore_RootIsFile(t *testing.T) {
	root := writeTree(t)
	a, _ := newTestAnalyzer(t, root, stubProvider{})

	_, err := a.AnalyzeAndStore(context.Background(), filepath.Join(root, "main.go"))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestAnalyzeAndStore_EmbeddingOutage(t *testing.T) {
	root := writeTree(t)
	a, _ := newTestAnalyzer(t, root, failingProvider{})

	// The walk succeeds; embedding failures land in the summary.
	summary, err := a.AnalyzeAndStore(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FilesAnalyzed)
	assert.Zero(t, summary.ChunksStored)
	assert.NotEmpty(t, summary.Errors)
}

func TestAnalyzeAndStore_RespectsGitignore(t *testing.T) {
	root := writeTree(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("main.go\n"), 0644))

	a, store := newTestAnalyzer(t, root, stubProvider{})
	summary, err := a.AnalyzeAndStore(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FilesAnalyzed) // README.md only
	_, err = store.Get(context.Background(), chunkID("main.go", 0))
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestStructure(t *testing.T) {
	root := writeTree(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "pkg"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "util.go"),
		[]byte("package pkg\n"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "node_modules"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep.go"),
		[]byte("package dep\n"), 0644))

	a, _ := newTestAnalyzer(t, root, stubProvider{})

	tree, err := a.Structure(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "dir", tree.Type)

	byName := map[string]*Node{}
	for _, child := range tree.Children {
		byName[child.Name] = child
	}

	// Directories sort before files.
	require.NotEmpty(t, tree.Children)
	assert.Equal(t, "pkg", tree.Children[0].Name)

	assert.NotContains(t, byName, "node_modules")

	require.Contains(t, byName, "big.go")
	assert.True(t, byName["big.go"].Skipped, "oversized file should be marked skipped")

	require.Contains(t, byName, "main.go")
	assert.Equal(t, "go", byName["main.go"].Language)
	assert.False(t, byName["main.go"].Skipped)

	require.Contains(t, byName, "pkg")
	require.Len(t, byName["pkg"].Children, 1)
	assert.Equal(t, "pkg/util.go", byName["pkg"].Children[0].Path)
}
