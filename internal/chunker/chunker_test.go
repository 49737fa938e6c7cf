package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/internal/vocab"
)

const greenCardGuide = `# Green Card Application

Applicants must file Form I-130 before Form I-485.

## Required Documents

- Passport
- Birth certificate
- Form I-864

## Fees

| Form | Fee |
|------|-----|
| I-130 | $535 |
`

func squash(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func joined(chunks []models.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Content)
	}
	return b.String()
}

func TestChunk_EmptyInput(t *testing.T) {
	c := New(vocab.Default(), Config{})
	assert.Nil(t, c.Chunk("Title", ""))
	assert.Nil(t, c.Chunk("Title", "  \n\t \n"))
}

func TestChunk_StructuredDocument(t *testing.T) {
	c := New(vocab.Default(), Config{})
	chunks := c.Chunk("Guide", greenCardGuide)

	require.Len(t, chunks, 3)

	assert.Equal(t, models.ChunkHeadingSection, chunks[0].ChunkType)
	assert.Equal(t, "Green Card Application", chunks[0].SectionTitle)
	assert.Empty(t, chunks[0].SubsectionTitle)
	assert.Equal(t, []string{"I-130", "I-485"}, chunks[0].Entities.Forms)
	assert.Contains(t, chunks[0].Entities.PermitTypes, "Green Card")

	assert.Equal(t, models.ChunkList, chunks[1].ChunkType)
	assert.Equal(t, "Green Card Application", chunks[1].SectionTitle)
	assert.Equal(t, "Required Documents", chunks[1].SubsectionTitle)
	assert.Contains(t, chunks[1].Entities.Requirements, "passport")
	assert.Contains(t, chunks[1].Entities.Forms, "I-864")

	assert.Equal(t, models.ChunkTable, chunks[2].ChunkType)
	assert.Equal(t, "Fees", chunks[2].SubsectionTitle)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.GreaterOrEqual(t, ch.ConfidenceScore, 0.9, "chunk %d", i)
		assert.LessOrEqual(t, ch.ConfidenceScore, 1.0)
		assert.True(t, ch.ChunkType.Valid())
	}
	assert.Equal(t, squash(greenCardGuide), squash(joined(chunks)))
}

func TestChunk_HeuristicHeadingLowersConfidence(t *testing.T) {
	text := "Intro paragraph about the program.\n\nELIGIBILITY\nYou must be a lawful permanent resident."
	c := New(vocab.Default(), Config{})
	chunks := c.Chunk("Naturalization", text)

	require.Len(t, chunks, 2)
	assert.Equal(t, "Naturalization", chunks[0].SectionTitle)
	assert.Equal(t, models.ChunkNarrative, chunks[0].ChunkType)
	assert.Equal(t, "ELIGIBILITY", chunks[1].SectionTitle)
	assert.Equal(t, models.ChunkHeadingSection, chunks[1].ChunkType)
	assert.Less(t, chunks[1].ConfidenceScore, 0.5)
}

func TestChunk_OversizedParagraphSplitsOnSentences(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "Sentence number %d describes one more filing step. ", i)
	}
	text := strings.TrimSpace(b.String())

	c := New(vocab.Default(), Config{TargetWords: 20})
	chunks := c.Chunk("Steps", text)

	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.True(t, strings.HasSuffix(ch.Content, "."), "chunk %d should end on a sentence", i)
		if i > 0 {
			assert.Less(t, ch.ConfidenceScore, 0.5)
		}
	}
	assert.Equal(t, squash(text), squash(joined(chunks)))
}

func TestChunk_UnpunctuatedTextStillSplits(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("word ", 95))
	c := New(vocab.Default(), Config{TargetWords: 30})
	chunks := c.Chunk("Scraped", text)

	require.Len(t, chunks, 4)
	assert.Equal(t, squash(text), squash(joined(chunks)))
}

func TestChunk_CoverageOnMessyInput(t *testing.T) {
	text := "Overview\r\nThe H-1B program lets employers hire workers.\r\n\r\n" +
		"1) File Form I-129\r\n   with the petition fee\r\n2) Wait for approval\r\n\r\n" +
		"Name\tFee\tForm\r\nPetition\t$460\tI-129\r\n\r\nStep 3: Interview\r\nAttend the consular interview."

	c := New(vocab.Default(), Config{TargetWords: 15})
	chunks := c.Chunk("H-1B", text)

	require.NotEmpty(t, chunks)
	assert.Equal(t, squash(text), squash(joined(chunks)))
	for _, ch := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(ch.Content))
		assert.True(t, ch.ChunkType.Valid())
	}
}

func TestChunk_Deterministic(t *testing.T) {
	c := New(vocab.Default(), Config{TargetWords: 12})
	first := c.Chunk("Guide", greenCardGuide)
	second := c.Chunk("Guide", greenCardGuide)
	assert.Equal(t, first, second)
}

func TestChunk_ConsecutiveHeadingsMerge(t *testing.T) {
	text := "# Part A\n## Overview\nForm I-765 requests work authorization."
	c := New(vocab.Default(), Config{})
	chunks := c.Chunk("Doc", text)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Part A", chunks[0].SectionTitle)
	assert.Equal(t, "Overview", chunks[0].SubsectionTitle)
	assert.Equal(t, models.ChunkHeadingSection, chunks[0].ChunkType)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		kinds []blockKind
		want  models.ChunkType
	}{
		{"heading only", []blockKind{blockHeading}, models.ChunkHeadingSection},
		{"heading and text", []blockKind{blockHeading, blockParagraph}, models.ChunkHeadingSection},
		{"text", []blockKind{blockParagraph}, models.ChunkNarrative},
		{"list under heading", []blockKind{blockHeading, blockList}, models.ChunkList},
		{"table", []blockKind{blockTable}, models.ChunkTable},
		{"text and list", []blockKind{blockParagraph, blockList}, models.ChunkMixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kinds := map[blockKind]bool{}
			for _, k := range tt.kinds {
				kinds[k] = true
			}
			assert.Equal(t, tt.want, classify(kinds))
		})
	}
}
