package textseg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(src string, spans []Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text(src)
	}
	return out
}

func TestSentences(t *testing.T) {
	src := "File Form I-130 first. Then wait for approval! Is biometrics next?"
	spans := Sentences(src)

	assert.Equal(t, []string{
		"File Form I-130 first.",
		"Then wait for approval!",
		"Is biometrics next?",
	}, texts(src, spans))
}

func TestSentences_Empty(t *testing.T) {
	assert.Nil(t, Sentences(""))
	assert.Nil(t, Sentences(" \n\t"))
}

func TestSentences_CoverAllText(t *testing.T) {
	src := "  Leading space. Several sentences follow here.\n\nA new paragraph starts. It ends.  "
	spans := Sentences(src)
	require.NotEmpty(t, spans)

	var joined strings.Builder
	prev := 0
	for _, s := range spans {
		assert.GreaterOrEqual(t, s.Start, prev)
		assert.Equal(t, strings.TrimSpace(s.Text(src)), s.Text(src))
		joined.WriteString(s.Text(src))
		prev = s.End
	}
	assert.Equal(t, strings.Join(strings.Fields(src), ""), strings.Join(strings.Fields(joined.String()), ""))
}

func TestFallbackSentences(t *testing.T) {
	src := "Pay the fee. then attach it. Next comes the interview.\n\nnew paragraph here"
	spans := fallbackSentences(src)

	assert.Equal(t, []string{
		"Pay the fee. then attach it.",
		"Next comes the interview.",
		"new paragraph here",
	}, texts(src, spans))
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount("  "))
	assert.Equal(t, 4, WordCount("one two\tthree\nfour"))
}
