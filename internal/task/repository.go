package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/embeddings"
	"github.com/fyrsmithlabs/triaged/internal/knowledge"
)

// Repository is a CRUD view of tasks layered on the knowledge store.
// Tasks live as task-typed chunks; every write re-embeds the task text
// so vector search stays consistent with the persisted fields.
type Repository struct {
	store   knowledge.Store
	gateway *embeddings.Gateway
	logger  *zap.Logger
}

// NewRepository creates a Repository.
func NewRepository(store knowledge.Store, gateway *embeddings.Gateway, logger *zap.Logger) *Repository {
	return &Repository{
		store:   store,
		gateway: gateway,
		logger:  logger,
	}
}

// GetTask fetches a task by id.
func (r *Repository) GetTask(ctx context.Context, id string) (*Task, error) {
	chunk, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, err
	}
	return taskFromChunk(chunk)
}

// SaveTask validates, embeds, and upserts the task.
func (r *Repository) SaveTask(ctx context.Context, t *Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	chunk, err := t.toChunk()
	if err != nil {
		return err
	}

	vector, err := r.gateway.EmbedOne(ctx, chunk.Text)
	if err != nil {
		return fmt.Errorf("embedding task %s: %w", t.ID, err)
	}
	chunk.Vector = vector

	if _, err := r.store.Upsert(ctx, []knowledge.Chunk{chunk}); err != nil {
		return fmt.Errorf("storing task %s: %w", t.ID, err)
	}

	r.logger.Debug("task saved",
		zap.String("task_id", t.ID),
		zap.String("status", string(t.Status)))
	return nil
}

// UpdateRequest carries the fields an update may change. Nil fields
// are left untouched.
type UpdateRequest struct {
	Description *string
	Solution    *string
	Status      *Status
}

// UpdateTask merges the supplied fields into the stored task, bumps
// updated_at, and re-embeds.
//
// Lifecycle rules: a non-empty solution resolves the task; an update
// without a solution or explicit status moves an open task to
// in_progress. Resolved tasks reject further updates.
func (r *Repository) UpdateTask(ctx context.Context, id string, req UpdateRequest) (*Task, error) {
	t, err := r.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if t.Status == StatusResolved {
		return nil, fmt.Errorf("%w: %s", ErrTaskResolved, id)
	}

	if req.Description != nil {
		t.Description = *req.Description
	}

	switch {
	case req.Solution != nil && *req.Solution != "":
		t.Solution = *req.Solution
		t.Status = StatusResolved
	case req.Status != nil:
		if !req.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTask, *req.Status)
		}
		t.Status = *req.Status
	case t.Status == StatusOpen:
		// First touch without a solution means someone is working on it.
		t.Status = StatusInProgress
	}

	t.UpdatedAt = time.Now().UTC()

	if err := r.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
