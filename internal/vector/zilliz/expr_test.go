package zilliz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immigration-rag/backend/internal/vector"
)

func TestExpr(t *testing.T) {
	tests := []struct {
		name   string
		filter *vector.Filter
		want   string
	}{
		{"nil", nil, ""},
		{"empty", vector.NewFilter(), ""},
		{
			"column equality",
			vector.NewFilter().Where("document_id", vector.OpEq, "doc-1"),
			`document_id == "doc-1"`,
		},
		{
			"list membership",
			vector.NewFilter().Where("form_numbers", vector.OpAnyOf, []string{"I-130", "I-485"}),
			`json_contains_any(payload["form_numbers"], ["I-130", "I-485"])`,
		},
		{
			"single list value",
			vector.NewFilter().Where("visa_types", vector.OpEq, "H-1B"),
			`json_contains(payload["visa_types"], "H-1B")`,
		},
		{
			"stale chunk indexes",
			vector.NewFilter().
				Where("document_id", vector.OpEq, "doc-1").
				Where("chunk_index", vector.OpNotIn, []int{0, 1, 2}),
			`document_id == "doc-1" && chunk_index not in [0, 1, 2]`,
		},
		{
			"currency and freshness",
			vector.NewFilter().
				Where("is_current", vector.OpEq, true).
				Where("freshness_score", vector.OpGte, 0.5),
			`is_current == true && freshness_score >= 0.5`,
		},
		{
			"payload scalar",
			vector.NewFilter().Where("section_title", vector.OpEq, `Fees "2024"`),
			`payload["section_title"] == "Fees \"2024\""`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expr(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpr_RejectsUnknownField(t *testing.T) {
	_, err := Expr(vector.NewFilter().Where("embedding", vector.OpEq, "x"))
	assert.ErrorIs(t, err, vector.ErrUnknownField)
}
