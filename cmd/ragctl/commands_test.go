package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilterFlags(t *testing.T) {
	got, err := parseFilterFlags([]string{
		"form_numbers=I-130, I-485",
		"is_current=true",
		"min_freshness=0.25",
		"chunk_type=table",
	})
	require.NoError(t, err)

	assert.Equal(t, []any{"I-130", "I-485"}, got["form_numbers"])
	assert.Equal(t, true, got["is_current"])
	assert.Equal(t, 0.25, got["min_freshness"])
	assert.Equal(t, "table", got["chunk_type"])
}

func TestParseFilterFlags_Errors(t *testing.T) {
	_, err := parseFilterFlags([]string{"form_numbers"})
	assert.Error(t, err)

	_, err = parseFilterFlags([]string{"is_current=maybe"})
	assert.Error(t, err)

	_, err = parseFilterFlags([]string{"min_freshness=high"})
	assert.Error(t, err)

	got, err := parseFilterFlags(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\t c", 10))
	assert.Equal(t, "abc...", preview("abcdef", 3))
}
