// Package analyzer walks a source tree, chunks files, and stores
// embedded chunks in the knowledge store.
package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/triaged/internal/config"
	"github.com/fyrsmithlabs/triaged/internal/embeddings"
	"github.com/fyrsmithlabs/triaged/internal/ignore"
	"github.com/fyrsmithlabs/triaged/internal/knowledge"
)

// ErrConfiguration indicates an unusable analysis setup, such as a
// missing or non-directory root. Fatal, never retried; distinct from
// the transient store and embedding failures callers may skip.
var ErrConfiguration = errors.New("invalid analysis configuration")

// binarySniffLen is how many leading bytes are checked for NUL when
// deciding whether a file is binary.
const binarySniffLen = 8000

// Node is one entry in a structure listing.
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Type     string  `json:"type"` // "dir" or "file"
	Language string  `json:"language,omitempty"`
	Size     int64   `json:"size,omitempty"`
	Skipped  bool    `json:"skipped,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Summary reports the outcome of one analysis run. Errors holds
// per-file and per-batch failures that did not abort the run.
type Summary struct {
	FilesAnalyzed int           `json:"files_analyzed"`
	ChunksStored  int           `json:"chunks_stored"`
	Skipped       int           `json:"skipped"`
	Errors        []string      `json:"errors,omitempty"`
	Branch        string        `json:"branch,omitempty"`
	Commit        string        `json:"commit,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Analyzer indexes source trees into the knowledge store.
type Analyzer struct {
	cfg     config.AnalysisConfig
	gateway *embeddings.Gateway
	store   knowledge.Store
	chunker *Chunker
	logger  *zap.Logger
}

// New creates an Analyzer.
func New(cfg config.AnalysisConfig, gateway *embeddings.Gateway, store knowledge.Store, logger *zap.Logger) *Analyzer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 1024 * 1024
	}
	return &Analyzer{
		cfg:     cfg,
		gateway: gateway,
		store:   store,
		chunker: NewChunker(cfg.ChunkSize),
		logger:  logger,
	}
}

// fileChunk is a chunk awaiting embedding.
type fileChunk struct {
	chunk knowledge.Chunk
	text  string
}

// Structure walks root and returns its tree without reading file
// contents or touching the store.
func (a *Analyzer) Structure(ctx context.Context, root string) (*Node, error) {
	root, matcher, err := a.prepare(root)
	if err != nil {
		return nil, err
	}

	rootNode := &Node{Name: filepath.Base(root), Path: ".", Type: "dir"}
	nodes := map[string]*Node{".": rootNode}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if a.skipDir(d.Name()) || matcher.Match(rel) {
				return filepath.SkipDir
			}
			node := &Node{Name: d.Name(), Path: filepath.ToSlash(rel), Type: "dir"}
			nodes[rel] = node
			a.attach(nodes, rel, node)
			return nil
		}

		if matcher.Match(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		lang, known := a.cfg.FileExtensions[filepath.Ext(d.Name())]
		node := &Node{
			Name:     d.Name(),
			Path:     filepath.ToSlash(rel),
			Type:     "file",
			Language: lang,
			Size:     info.Size(),
			Skipped:  !known || info.Size() > a.cfg.MaxFileSize,
		}
		a.attach(nodes, rel, node)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortTree(rootNode)
	return rootNode, nil
}

// AnalyzeAndStore walks root, chunks every analyzable file, embeds the
// chunks, and upserts them. Unreadable files and failed batches are
// recorded in Summary.Errors; the run keeps going.
func (a *Analyzer) AnalyzeAndStore(ctx context.Context, root string) (*Summary, error) {
	start := time.Now()

	root, matcher, err := a.prepare(root)
	if err != nil {
		return nil, err
	}

	if err := a.store.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensuring collection: %w", err)
	}

	summary := &Summary{}
	summary.Branch, summary.Commit = gitInfo(root)

	var pending []fileChunk

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if a.skipDir(d.Name()) || matcher.Match(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if matcher.Match(rel) {
			summary.Skipped++
			return nil
		}

		chunks, skipped, err := a.analyzeFile(path, filepath.ToSlash(rel))
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", rel, err))
			return nil
		}
		if skipped {
			summary.Skipped++
			return nil
		}

		summary.FilesAnalyzed++
		pending = append(pending, chunks...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.cfg.Parallelism)

	for batchStart := 0; batchStart < len(pending); batchStart += a.cfg.BatchSize {
		batchEnd := batchStart + a.cfg.BatchSize
		if batchEnd > len(pending) {
			batchEnd = len(pending)
		}
		batch := pending[batchStart:batchEnd]

		eg.Go(func() error {
			a.storeBatch(egCtx, batch, summary, &mu)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	summary.Duration = time.Since(start)
	a.logger.Info("analysis complete",
		zap.String("root", root),
		zap.Int("files", summary.FilesAnalyzed),
		zap.Int("chunks", summary.ChunksStored),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", len(summary.Errors)),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// storeBatch embeds and upserts one batch. Sub-batch embedding
// failures surface through EmbedBatches and are recorded; chunks whose
// embedding succeeded are still stored. mu guards summary, which is
// shared across concurrent batches.
func (a *Analyzer) storeBatch(ctx context.Context, batch []fileChunk, summary *Summary, mu *sync.Mutex) {
	texts := make([]string, len(batch))
	for i, fc := range batch {
		texts[i] = fc.text
	}

	err := a.gateway.EmbedBatches(ctx, texts, func(ctx context.Context, start int, vectors [][]float32) error {
		chunks := make([]knowledge.Chunk, len(vectors))
		for i, vec := range vectors {
			c := batch[start+i].chunk
			c.Vector = vec
			chunks[i] = c
		}
		n, err := a.store.Upsert(ctx, chunks)

		mu.Lock()
		defer mu.Unlock()
		summary.ChunksStored += n
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("upsert [%s]: %v", chunks[0].SourcePath, err))
		}
		return nil
	})
	if err != nil {
		mu.Lock()
		summary.Errors = append(summary.Errors, fmt.Sprintf("embed: %v", err))
		mu.Unlock()
	}
}

// analyzeFile reads and chunks one file. skipped is true for files
// that are oversized, binary, or of an unlisted extension.
func (a *Analyzer) analyzeFile(path, rel string) ([]fileChunk, bool, error) {
	lang, ok := a.cfg.FileExtensions[filepath.Ext(path)]
	if !ok {
		return nil, true, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	if info.Size() > a.cfg.MaxFileSize {
		return nil, true, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	if isBinary(content) {
		return nil, true, nil
	}

	contentType := knowledge.ContentTypeCode
	if lang == "markdown" {
		contentType = knowledge.ContentTypeDoc
	}

	parts := a.chunker.Split(string(content), lang)
	chunks := make([]fileChunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, fileChunk{
			chunk: knowledge.Chunk{
				ID:          chunkID(rel, i),
				ContentType: contentType,
				Text:        part,
				SourcePath:  rel,
				Language:    lang,
				Metadata: knowledge.Metadata{
					MTime:      info.ModTime().UTC(),
					Size:       info.Size(),
					Complexity: Complexity(part, lang),
				},
			},
			text: part,
		})
	}
	return chunks, false, nil
}

// prepare resolves root and builds the ignore matcher.
func (a *Analyzer) prepare(root string) (string, *ignore.Matcher, error) {
	if root == "" {
		root = a.cfg.RootDir
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", nil, fmt.Errorf("%w: resolving root %q: %v", ErrConfiguration, root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", nil, fmt.Errorf("%w: analysis root %s: %v", ErrConfiguration, abs, err)
	}
	if !info.IsDir() {
		return "", nil, fmt.Errorf("%w: analysis root %s is not a directory", ErrConfiguration, abs)
	}

	matcher, err := ignore.MatcherForRoot(abs, nil)
	if err != nil {
		return "", nil, fmt.Errorf("%w: parsing ignore files: %v", ErrConfiguration, err)
	}
	return abs, matcher, nil
}

func (a *Analyzer) skipDir(name string) bool {
	for _, d := range a.cfg.IgnoreDirs {
		if name == d {
			return true
		}
	}
	return false
}

// attach links node under its parent directory, falling back to the
// root when the parent was not recorded.
func (a *Analyzer) attach(nodes map[string]*Node, rel string, node *Node) {
	parent := filepath.Dir(rel)
	p, ok := nodes[parent]
	if !ok {
		p = nodes["."]
	}
	p.Children = append(p.Children, node)
}

// chunkID derives a stable UUID from the file path and chunk index so
// re-analysis overwrites rather than duplicates.
func chunkID(rel string, index int) string {
	name := "triaged://chunk/" + rel + "#" + strconv.Itoa(index)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func isBinary(content []byte) bool {
	n := len(content)
	if n > binarySniffLen {
		n = binarySniffLen
	}
	return bytes.IndexByte(content[:n], 0) != -1
}

func sortTree(n *Node) {
	sort.Slice(n.Children, func(i, j int) bool {
		if n.Children[i].Type != n.Children[j].Type {
			return n.Children[i].Type == "dir"
		}
		return n.Children[i].Name < n.Children[j].Name
	})
	for _, c := range n.Children {
		sortTree(c)
	}
}
