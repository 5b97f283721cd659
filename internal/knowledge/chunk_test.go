package knowledge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/triaged/internal/knowledge"
)

func validVector() []float32 {
	return make([]float32, testVectorSize)
}

func TestChunk_Validate(t *testing.T) {
	tests := []struct {
		name    string
		chunk   knowledge.Chunk
		wantErr error
	}{
		{
			name: "valid code chunk",
			chunk: knowledge.Chunk{
				ID:          "c1",
				ContentType: knowledge.ContentTypeCode,
				Text:        "func main() {}",
				Vector:      validVector(),
			},
		},
		{
			name: "missing id",
			chunk: knowledge.Chunk{
				ContentType: knowledge.ContentTypeCode,
				Vector:      validVector(),
			},
			wantErr: knowledge.ErrInvalidChunk,
		},
		{
			name: "unknown content type",
			chunk: knowledge.Chunk{
				ID:          "c1",
				ContentType: "blob",
				Vector:      validVector(),
			},
			wantErr: knowledge.ErrInvalidChunk,
		},
		{
			name: "wrong vector length",
			chunk: knowledge.Chunk{
				ID:          "c1",
				ContentType: knowledge.ContentTypeCode,
				Vector:      make([]float32, testVectorSize-1),
			},
			wantErr: knowledge.ErrSchemaMismatch,
		},
		{
			name: "task chunk requires payload",
			chunk: knowledge.Chunk{
				ID:          "t1",
				ContentType: knowledge.ContentTypeTask,
				Vector:      validVector(),
			},
			wantErr: knowledge.ErrInvalidChunk,
		},
		{
			name: "task chunk with payload",
			chunk: knowledge.Chunk{
				ID:          "t1",
				ContentType: knowledge.ContentTypeTask,
				TaskPayload: `{"id":"t1"}`,
				Vector:      validVector(),
			},
		},
		{
			name: "test_result may reference a task",
			chunk: knowledge.Chunk{
				ID:          "tr1",
				ContentType: knowledge.ContentTypeTestResult,
				TaskID:      "t1",
				Vector:      validVector(),
			},
		},
		{
			name: "code chunk must not carry task payload",
			chunk: knowledge.Chunk{
				ID:          "c1",
				ContentType: knowledge.ContentTypeCode,
				TaskPayload: `{}`,
				Vector:      validVector(),
			},
			wantErr: knowledge.ErrInvalidChunk,
		},
		{
			name: "doc chunk must not reference a task",
			chunk: knowledge.Chunk{
				ID:          "d1",
				ContentType: knowledge.ContentTypeDoc,
				TaskID:      "t1",
				Vector:      validVector(),
			},
			wantErr: knowledge.ErrInvalidChunk,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.chunk.Validate(testVectorSize)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilter_Matches(t *testing.T) {
	empty := knowledge.Filter{}
	assert.True(t, empty.Matches(knowledge.ContentTypeCode))
	assert.True(t, empty.Matches(knowledge.ContentTypeTask))

	filtered := knowledge.Filter{ContentTypes: []knowledge.ContentType{
		knowledge.ContentTypeTestResult,
		knowledge.ContentTypeTask,
	}}
	assert.True(t, filtered.Matches(knowledge.ContentTypeTask))
	assert.True(t, filtered.Matches(knowledge.ContentTypeTestResult))
	assert.False(t, filtered.Matches(knowledge.ContentTypeCode))
	assert.False(t, filtered.Matches(knowledge.ContentTypeDoc))
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, knowledge.ValidateCollectionName("triaged_default"))
	assert.NoError(t, knowledge.ValidateCollectionName("abc_123"))

	assert.Error(t, knowledge.ValidateCollectionName(""))
	assert.Error(t, knowledge.ValidateCollectionName("Has-Caps"))
	assert.Error(t, knowledge.ValidateCollectionName("white space"))
}
