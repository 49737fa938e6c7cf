package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/immigration-rag/backend/internal/storage/models"
)

func TestFilter_Validate(t *testing.T) {
	tests := []struct {
		name    string
		filter  *Filter
		wantErr error
	}{
		{"nil", nil, nil},
		{"string eq", NewFilter().Where("chunk_type", OpEq, "list"), nil},
		{"list any", NewFilter().Where("countries", OpAnyOf, []string{"Canada"}), nil},
		{"range", NewFilter().Where("chunk_index", OpGte, 2), nil},
		{"unknown field", NewFilter().Where("embedding", OpEq, "x"), ErrUnknownField},
		{"wrong type", NewFilter().Where("is_current", OpEq, "yes"), ErrInvalidFilter},
		{"range on string", NewFilter().Where("document_id", OpLte, 3), ErrInvalidFilter},
		{"not in on list", NewFilter().Where("fees", OpNotIn, []string{"$85"}), ErrInvalidFilter},
		{"unknown op", NewFilter().Where("document_id", Op("like"), "a%"), ErrInvalidFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestFilter_Matches(t *testing.T) {
	r := &models.EnrichedRecord{
		DocumentID:     "doc-1",
		ChunkType:      models.ChunkTable,
		ChunkIndex:     3,
		FormNumbers:    []string{"I-485"},
		IsCurrent:      true,
		FreshnessScore: 0.7,
	}

	assert.True(t, (*Filter)(nil).Matches(r))
	assert.True(t, NewFilter().Where("form_numbers", OpEq, "i-485").Matches(r))
	assert.False(t, NewFilter().Where("form_numbers", OpAnyOf, []string{"I-130"}).Matches(r))
	assert.True(t, NewFilter().Where("chunk_type", OpAnyOf, []string{"list", "table"}).Matches(r))
	assert.False(t, NewFilter().Where("chunk_index", OpNotIn, []int{3}).Matches(r))
	assert.True(t, NewFilter().Where("freshness_score", OpLte, 0.7).Where("is_current", OpEq, true).Matches(r))
	assert.False(t, NewFilter().Where("document_id", OpEq, "doc-1").Where("chunk_index", OpLte, 2).Matches(r))
}
