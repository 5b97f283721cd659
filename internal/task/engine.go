package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/embeddings"
	"github.com/fyrsmithlabs/triaged/internal/knowledge"
)

// criticalKeywords bump priority when present in the failure text.
var criticalKeywords = []string{"security", "crash", "data loss", "critical", "panic"}

// maxOccurrenceBoost caps how far repeat occurrences alone can raise
// priority above the base tier.
const maxOccurrenceBoost = 3

// EngineConfig tunes triage behavior.
type EngineConfig struct {
	// SimilarityThreshold is the minimum score for a result to count
	// as a prior occurrence when weighting priority.
	SimilarityThreshold float64

	// DuplicateThreshold is the minimum score above which a failure is
	// treated as a recurrence of an existing active task.
	DuplicateThreshold float64

	// SearchLimit is the number of similar chunks retrieved per failure.
	SearchLimit int

	// MaxSuggestions caps fix suggestions per triage result.
	MaxSuggestions int
}

// ApplyDefaults fills in zero-valued fields.
func (c *EngineConfig) ApplyDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.70
	}
	if c.DuplicateThreshold == 0 {
		c.DuplicateThreshold = 0.92
	}
	if c.SearchLimit == 0 {
		c.SearchLimit = 5
	}
	if c.MaxSuggestions == 0 {
		c.MaxSuggestions = 3
	}
}

// Engine turns test failures into tasks. Retrieval is advisory: a
// failed similarity search degrades to context-free task creation
// instead of failing the call.
type Engine struct {
	cfg     EngineConfig
	gateway *embeddings.Gateway
	store   knowledge.Store
	repo    *Repository
	logger  *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig, gateway *embeddings.Gateway, store knowledge.Store, repo *Repository, logger *zap.Logger) *Engine {
	cfg.ApplyDefaults()
	return &Engine{
		cfg:     cfg,
		gateway: gateway,
		store:   store,
		repo:    repo,
		logger:  logger,
	}
}

// HandleTestFailure triages one failure: search for prior context,
// short-circuit to an existing active task when the failure is a
// recurrence, otherwise create a new task. The failure itself is
// recorded as a test_result chunk either way.
func (e *Engine) HandleTestFailure(ctx context.Context, failure TestFailure) (*TriageResult, error) {
	if failure.Name == "" {
		return nil, fmt.Errorf("%w: failure name required", ErrInvalidTask)
	}
	if failure.Timestamp.IsZero() {
		failure.Timestamp = time.Now().UTC()
	}

	query := failure.QueryText()
	vector, err := e.gateway.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding failure query: %w", err)
	}

	results, err := e.store.Search(ctx, vector, knowledge.Filter{
		ContentTypes: []knowledge.ContentType{knowledge.ContentTypeTestResult, knowledge.ContentTypeTask},
	}, e.cfg.SearchLimit)
	if err != nil {
		// Retrieval is advisory. Without it there is no deduplication
		// or enrichment for this call, but task creation proceeds.
		e.logger.Warn("similarity search failed, triaging without context", zap.Error(err))
		results = nil
	}

	suggestions := e.suggestions(results)
	relatedDocs := e.relatedDocs(ctx, vector)

	if existing := e.findRecurrence(ctx, results); existing != nil {
		e.recordFailure(ctx, failure, query, vector, existing.ID)
		e.logger.Info("test failure matched existing task",
			zap.String("failure", failure.Name),
			zap.String("task_id", existing.ID))
		return &TriageResult{
			SimilarIssues: results,
			Suggestions:   suggestions,
			TaskID:        existing.ID,
			Deduplicated:  true,
			RelatedDocs:   relatedDocs,
		}, nil
	}

	now := time.Now().UTC()
	t := &Task{
		ID:              uuid.New().String(),
		Title:           "Fix: " + failure.Name,
		Description:     describe(failure, results),
		Status:          StatusOpen,
		Priority:        e.priority(failure, results),
		RelatedChunkIDs: chunkIDs(results),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.repo.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	e.recordFailure(ctx, failure, query, vector, t.ID)

	e.logger.Info("task created from test failure",
		zap.String("failure", failure.Name),
		zap.String("task_id", t.ID),
		zap.Int("priority", t.Priority),
		zap.Int("similar", len(results)))

	return &TriageResult{
		SimilarIssues: results,
		Suggestions:   suggestions,
		TaskID:        t.ID,
		RelatedDocs:   relatedDocs,
	}, nil
}

// findRecurrence looks for an active task this failure duplicates.
// Results are score-ordered, so scanning stops at the first result
// below the threshold. A matching test_result chunk counts through its
// task reference: an identical failure text scores 1.0 against its own
// prior record even when the task's title+description vector does not
// clear the threshold.
func (e *Engine) findRecurrence(ctx context.Context, results []knowledge.SimilarityResult) *Task {
	for _, res := range results {
		if float64(res.Score) < e.cfg.DuplicateThreshold {
			break
		}

		var t *Task
		switch res.Chunk.ContentType {
		case knowledge.ContentTypeTask:
			decoded, err := taskFromChunk(&res.Chunk)
			if err != nil {
				e.logger.Warn("skipping undecodable task chunk", zap.String("id", res.Chunk.ID), zap.Error(err))
				continue
			}
			t = decoded

		case knowledge.ContentTypeTestResult:
			if res.Chunk.TaskID == "" {
				continue
			}
			decoded, err := e.repo.GetTask(ctx, res.Chunk.TaskID)
			if err != nil {
				continue
			}
			t = decoded

		default:
			continue
		}

		if t.Status != StatusResolved {
			return t
		}
	}
	return nil
}

// recordFailure persists the failure as a test_result chunk pointing
// at its task. Best-effort: the task is already persisted, so a failed
// record only weakens future deduplication.
func (e *Engine) recordFailure(ctx context.Context, failure TestFailure, query string, vector []float32, taskID string) {
	chunk := knowledge.Chunk{
		ID:          uuid.New().String(),
		ContentType: knowledge.ContentTypeTestResult,
		Text:        query,
		TaskID:      taskID,
		Metadata: knowledge.Metadata{
			MTime: failure.Timestamp,
			Size:  int64(len(query)),
		},
		Vector: vector,
	}
	if _, err := e.store.Upsert(ctx, []knowledge.Chunk{chunk}); err != nil {
		e.logger.Warn("failed to record test failure",
			zap.String("failure", failure.Name),
			zap.Error(err))
	}
}

// suggestions derives fix hints from resolved similar tasks.
func (e *Engine) suggestions(results []knowledge.SimilarityResult) []string {
	var out []string
	for _, res := range results {
		if len(out) >= e.cfg.MaxSuggestions {
			break
		}
		if res.Chunk.ContentType != knowledge.ContentTypeTask {
			continue
		}
		t, err := taskFromChunk(&res.Chunk)
		if err != nil || t.Solution == "" {
			continue
		}
		out = append(out, fmt.Sprintf("Previously resolved (%s): %s", t.Title, t.Solution))
	}
	if len(out) == 0 {
		out = append(out, "No similar resolved issues found. Review recent changes to the failing code path.")
	}
	return out
}

// relatedDocs runs an advisory doc-filtered search for pointers worth
// reading alongside the task.
func (e *Engine) relatedDocs(ctx context.Context, vector []float32) []string {
	results, err := e.store.Search(ctx, vector, knowledge.Filter{
		ContentTypes: []knowledge.ContentType{knowledge.ContentTypeDoc},
	}, e.cfg.MaxSuggestions)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var docs []string
	for _, res := range results {
		if float64(res.Score) < e.cfg.SimilarityThreshold || res.Chunk.SourcePath == "" {
			continue
		}
		if seen[res.Chunk.SourcePath] {
			continue
		}
		seen[res.Chunk.SourcePath] = true
		docs = append(docs, res.Chunk.SourcePath)
	}
	return docs
}

// priority weights a new task by recurrence and severity. Base tier 1,
// plus one per prior similar occurrence up to maxOccurrenceBoost, plus
// two when the failure text mentions a critical keyword, clamped to 5.
func (e *Engine) priority(failure TestFailure, results []knowledge.SimilarityResult) int {
	p := 1

	occurrences := 0
	for _, res := range results {
		if float64(res.Score) >= e.cfg.SimilarityThreshold {
			occurrences++
		}
	}
	if occurrences > maxOccurrenceBoost {
		occurrences = maxOccurrenceBoost
	}
	p += occurrences

	text := strings.ToLower(failure.Name + " " + failure.ErrorMessage)
	for _, kw := range criticalKeywords {
		if strings.Contains(text, kw) {
			p += 2
			break
		}
	}

	if p > 5 {
		p = 5
	}
	return p
}

// describe builds the task description from the failure and its
// retrieved context.
func describe(failure TestFailure, results []knowledge.SimilarityResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Test %s failed at %s.\n\nError:\n%s\n",
		failure.Name, failure.Timestamp.Format(time.RFC3339), failure.ErrorMessage)

	if len(failure.Context) > 0 {
		b.WriteString("\nContext:\n")
		for _, k := range sortedKeys(failure.Context) {
			fmt.Fprintf(&b, "  %s: %s\n", k, failure.Context[k])
		}
	}

	if len(results) > 0 {
		fmt.Fprintf(&b, "\nPrior similar records: %d (best score %.2f).\n", len(results), results[0].Score)
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func chunkIDs(results []knowledge.SimilarityResult) []string {
	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.Chunk.ID)
	}
	return ids
}
