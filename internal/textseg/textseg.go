// Package textseg finds sentence boundaries as byte offsets into the
// original text, so callers can slice without losing or rewriting content.
package textseg

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

// Span is a half-open byte range [Start, End) of the source text.
type Span struct {
	Start int
	End   int
}

func (s Span) Text(src string) string {
	return src[s.Start:s.End]
}

// Sentences splits text into sentence spans covering every non-space byte.
// The prose segmenter is used when its output can be located verbatim in
// the source; otherwise a punctuation-based splitter takes over.
func Sentences(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if spans, ok := proseSentences(text); ok {
		return spans
	}
	return fallbackSentences(text)
}

func proseSentences(text string) (spans []Span, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			spans, ok = nil, false
		}
	}()

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(true),
	)
	if err != nil {
		return nil, false
	}

	sentences := doc.Sentences()
	if len(sentences) == 0 {
		return nil, false
	}

	cursor := 0
	starts := make([]int, 0, len(sentences))
	for _, s := range sentences {
		needle := strings.TrimSpace(s.Text)
		if needle == "" {
			continue
		}
		idx := strings.Index(text[cursor:], needle)
		if idx < 0 {
			return nil, false
		}
		starts = append(starts, cursor+idx)
		cursor += idx + len(needle)
	}
	return spansFromStarts(text, starts), true
}

var sentenceEnd = regexp.MustCompile(`[.!?]["')\]]*\s+|\n\s*\n`)

func fallbackSentences(text string) []Span {
	starts := []int{firstNonSpace(text, 0)}
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		next := loc[1]
		if next >= len(text) {
			break
		}
		r := rune(text[next])
		paragraph := strings.Count(text[loc[0]:loc[1]], "\n") >= 2
		if !paragraph && !(unicode.IsUpper(r) || unicode.IsDigit(r) || r == '"' || r == '(') {
			continue
		}
		starts = append(starts, next)
	}
	return spansFromStarts(text, starts)
}

// spansFromStarts turns sentence start offsets into contiguous spans. The
// first span begins at the first non-space byte and each span runs to the
// next start, trailing whitespace trimmed.
func spansFromStarts(text string, starts []int) []Span {
	if len(starts) == 0 {
		return nil
	}
	starts[0] = firstNonSpace(text, 0)

	spans := make([]Span, 0, len(starts))
	for i, start := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if start >= end {
			continue
		}
		trimmed := strings.TrimRightFunc(text[start:end], unicode.IsSpace)
		if trimmed == "" {
			continue
		}
		spans = append(spans, Span{Start: start, End: start + len(trimmed)})
	}
	return spans
}

func firstNonSpace(text string, from int) int {
	for i, r := range text[from:] {
		if !unicode.IsSpace(r) {
			return from + i
		}
	}
	return len(text)
}

// WordCount counts whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
