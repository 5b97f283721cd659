// Package task converts test failures into tracked, lifecycle-managed
// tasks backed by the knowledge store.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/triaged/internal/knowledge"
)

var (
	// ErrTaskNotFound indicates no task exists with the given id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskResolved indicates an update against a resolved task.
	// Resolved is terminal; recurrences create a new task instead.
	ErrTaskResolved = errors.New("task is resolved")

	// ErrInvalidTask indicates a task that fails validation.
	ErrInvalidTask = errors.New("invalid task")
)

// Status is the task lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

// Task is a tracked unit of engineering work derived from a test
// failure.
type Task struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Status          Status    `json:"status"`
	Priority        int       `json:"priority"`
	RelatedChunkIDs []string  `json:"related_chunk_ids,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Solution        string    `json:"solution,omitempty"`
}

// Validate checks task fields.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTask)
	}
	if t.Title == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidTask)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, t.Status)
	}
	if t.Priority < 1 || t.Priority > 5 {
		return fmt.Errorf("%w: priority %d out of range [1, 5]", ErrInvalidTask, t.Priority)
	}
	return nil
}

// EmbedText is the text the task's vector derives from. The solution
// is included once set so resolved tasks surface for matching failures.
func (t *Task) EmbedText() string {
	text := t.Title + "\n\n" + t.Description
	if t.Solution != "" {
		text += "\n\nSolution: " + t.Solution
	}
	return text
}

// toChunk encodes the task as a task-typed chunk. The caller fills in
// the vector.
func (t *Task) toChunk() (knowledge.Chunk, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return knowledge.Chunk{}, fmt.Errorf("encoding task: %w", err)
	}
	return knowledge.Chunk{
		ID:          t.ID,
		ContentType: knowledge.ContentTypeTask,
		Text:        t.EmbedText(),
		TaskPayload: string(payload),
		Metadata: knowledge.Metadata{
			MTime: t.UpdatedAt,
		},
	}, nil
}

// taskFromChunk decodes a task-typed chunk.
func taskFromChunk(c *knowledge.Chunk) (*Task, error) {
	if c.ContentType != knowledge.ContentTypeTask {
		return nil, fmt.Errorf("%w: chunk %s is %s, not a task", ErrTaskNotFound, c.ID, c.ContentType)
	}
	var t Task
	if err := json.Unmarshal([]byte(c.TaskPayload), &t); err != nil {
		return nil, fmt.Errorf("decoding task %s: %w", c.ID, err)
	}
	return &t, nil
}

// TestFailure is the ephemeral triage input. It is never persisted in
// raw form; the engine converts it to a test_result chunk.
type TestFailure struct {
	Name         string            `json:"name"`
	ErrorMessage string            `json:"error_message"`
	Context      map[string]string `json:"context,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// QueryText is the text embedded for similarity search.
func (f TestFailure) QueryText() string {
	return f.Name + " " + f.ErrorMessage
}

// TriageResult is the outcome of handling one test failure.
type TriageResult struct {
	// SimilarIssues are the retrieved prior chunks, best first.
	SimilarIssues []knowledge.SimilarityResult `json:"similar_issues"`

	// Suggestions are fix hints derived from resolved similar tasks.
	Suggestions []string `json:"suggestions"`

	// TaskID is the created or matched task.
	TaskID string `json:"task_id"`

	// Deduplicated is true when TaskID refers to a pre-existing open
	// task instead of a newly created one.
	Deduplicated bool `json:"deduplicated"`

	// RelatedDocs are source paths of similar documentation chunks.
	RelatedDocs []string `json:"related_docs,omitempty"`
}
