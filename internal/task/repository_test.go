package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/triaged/internal/knowledge"
	"github.com/fyrsmithlabs/triaged/internal/task"
)

func seedTask(t *testing.T, f *fixture) *task.Task {
	t.Helper()

	now := time.Now().UTC()
	created := &task.Task{
		ID:          uuid.New().String(),
		Title:       "Fix: test_payments",
		Description: "charge declined in sandbox",
		Status:      task.StatusOpen,
		Priority:    2,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, f.repo.SaveTask(context.Background(), created))
	return created
}

func TestRepository_GetTask(t *testing.T) {
	f := newFixture(t, nil)
	created := seedTask(t, f)

	got, err := f.repo.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.Title, got.Title)
	assert.Equal(t, task.StatusOpen, got.Status)
	assert.Equal(t, 2, got.Priority)
}

func TestRepository_GetTaskNotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.repo.GetTask(context.Background(), "no-such-task")
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestRepository_GetTaskRejectsNonTaskChunk(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.store.Upsert(ctx, []knowledge.Chunk{{
		ID:          "code-1",
		ContentType: knowledge.ContentTypeCode,
		Text:        "func main() {}",
		Vector:      bowEmbed("func main() {}"),
	}})
	require.NoError(t, err)

	_, err = f.repo.GetTask(ctx, "code-1")
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestRepository_UpdateResolves(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	created := seedTask(t, f)

	before, err := f.store.Get(ctx, created.ID)
	require.NoError(t, err)

	solution := "fixed"
	updated, err := f.repo.UpdateTask(ctx, created.ID, task.UpdateRequest{Solution: &solution})
	require.NoError(t, err)

	assert.Equal(t, task.StatusResolved, updated.Status)
	assert.Equal(t, "fixed", updated.Solution)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt) || updated.UpdatedAt.Equal(created.UpdatedAt))

	got, err := f.repo.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusResolved, got.Status)
	assert.Equal(t, "fixed", got.Solution)

	// The stored vector tracks the updated text.
	after, err := f.store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, bowEmbed(updated.EmbedText()), after.Vector)
	assert.NotEqual(t, before.Vector, after.Vector)
}

func TestRepository_UpdateWithoutSolutionMovesToInProgress(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	created := seedTask(t, f)

	desc := "charge declined in sandbox; reproduced locally"
	updated, err := f.repo.UpdateTask(ctx, created.ID, task.UpdateRequest{Description: &desc})
	require.NoError(t, err)

	assert.Equal(t, task.StatusInProgress, updated.Status)
	assert.Equal(t, desc, updated.Description)

	// A later update keeps in_progress rather than regressing.
	desc2 := "root cause: stale API key"
	updated, err = f.repo.UpdateTask(ctx, created.ID, task.UpdateRequest{Description: &desc2})
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, updated.Status)
}

func TestRepository_UpdateExplicitStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	created := seedTask(t, f)

	status := task.StatusInProgress
	updated, err := f.repo.UpdateTask(ctx, created.ID, task.UpdateRequest{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, updated.Status)

	bogus := task.Status("abandoned")
	_, err = f.repo.UpdateTask(ctx, created.ID, task.UpdateRequest{Status: &bogus})
	assert.ErrorIs(t, err, task.ErrInvalidTask)
}

func TestRepository_ResolvedIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	created := seedTask(t, f)

	solution := "fixed"
	_, err := f.repo.UpdateTask(ctx, created.ID, task.UpdateRequest{Solution: &solution})
	require.NoError(t, err)

	desc := "still broken?"
	_, err = f.repo.UpdateTask(ctx, created.ID, task.UpdateRequest{Description: &desc})
	assert.ErrorIs(t, err, task.ErrTaskResolved)
}

func TestRepository_SaveTaskValidates(t *testing.T) {
	f := newFixture(t, nil)

	err := f.repo.SaveTask(context.Background(), &task.Task{
		ID:     uuid.New().String(),
		Status: task.StatusOpen,
	})
	assert.ErrorIs(t, err, task.ErrInvalidTask)
}

func TestTask_EmbedText(t *testing.T) {
	tk := &task.Task{Title: "Fix: test_x", Description: "desc"}
	assert.Equal(t, "Fix: test_x\n\ndesc", tk.EmbedText())

	tk.Solution = "patch applied"
	assert.Contains(t, tk.EmbedText(), "Solution: patch applied")
}
