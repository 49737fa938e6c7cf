// Package chunker splits regulatory documents into retrieval units along
// their headings, lists, tables and paragraphs.
package chunker

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/internal/textseg"
	"github.com/immigration-rag/backend/internal/vocab"
	"github.com/immigration-rag/backend/pkg/logger"
)

// Boundary certainty assigned to the start of a chunk. A chunk's confidence
// is the lower of its start and end boundary.
const (
	boundaryDocument  = 1.0
	boundaryExplicit  = 0.95
	boundaryBlock     = 0.9
	boundaryItem      = 0.85
	boundaryHeuristic = 0.45
	boundaryParagraph = 0.45
	boundarySentence  = 0.4
	boundaryWords     = 0.3
)

const defaultTargetWords = 500

type Config struct {
	TargetWords int
}

type Chunker struct {
	vocab       *vocab.Vocabulary
	targetWords int
}

func New(v *vocab.Vocabulary, cfg Config) *Chunker {
	if v == nil {
		v = vocab.Default()
	}
	if cfg.TargetWords <= 0 {
		cfg.TargetWords = defaultTargetWords
	}
	return &Chunker{vocab: v, targetWords: cfg.TargetWords}
}

type blockKind int

const (
	blockHeading blockKind = iota
	blockParagraph
	blockList
	blockTable
)

type block struct {
	kind       blockKind
	start, end int
	words      int
	// items are the list items or table rows of the block.
	items []textseg.Span
}

type section struct {
	title, subtitle string
	boundary        float64
	hasBody         bool
	blocks          []block
}

type piece struct {
	start, end      int
	kinds           map[blockKind]bool
	title, subtitle string
	boundary        float64
}

// Chunk splits text into ordered chunks whose contents, in order, cover
// every non-whitespace character of text. title names the section of any
// content that precedes the first heading.
func (c *Chunker) Chunk(title, text string) (chunks []models.Chunk) {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Structural chunking failed, falling back to sentence packing",
				zap.String("title", title), zap.Any("panic", r))
			chunks = c.fallback(title, text)
		}
	}()

	pieces := c.structural(title, text)
	if len(pieces) == 0 {
		pieces = c.sentencePieces(title, text)
	}
	return c.build(text, pieces)
}

func (c *Chunker) fallback(title, text string) (chunks []models.Chunk) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Sentence chunking failed, returning whole document",
				zap.String("title", title), zap.Any("panic", r))
			chunks = []models.Chunk{{
				Content:         strings.TrimSpace(text),
				ChunkType:       models.ChunkNarrative,
				SectionTitle:    title,
				ConfidenceScore: boundaryWords,
			}}
		}
	}()
	return c.build(text, c.sentencePieces(title, text))
}

func (c *Chunker) structural(docTitle, text string) []piece {
	lines := splitLines(text)
	classifyLines(text, lines)
	sections := groupSections(docTitle, text, lines)

	var pieces []piece
	for _, s := range sections {
		pieces = append(pieces, c.pack(text, s)...)
	}
	return pieces
}

func groupSections(docTitle, text string, lines []line) []section {
	sections := []section{{title: docTitle, boundary: boundaryDocument}}
	cur := &sections[0]
	title, subtitle := docTitle, ""
	var open *block

	closeBlock := func() {
		if open != nil {
			cur.blocks = append(cur.blocks, *open)
			open = nil
		}
	}
	extend := func(b *block, ln line) {
		b.end = ln.end
		b.words += textseg.WordCount(text[ln.start:ln.end])
	}

	for _, ln := range lines {
		switch ln.kind {
		case lineBlank:
			closeBlock()

		case lineHeading:
			closeBlock()
			if ln.level <= 1 {
				title, subtitle = ln.title, ""
			} else {
				subtitle = ln.title
			}

			boundary := boundaryHeuristic
			if ln.explicit {
				boundary = boundaryExplicit
			}
			// Consecutive headings with nothing between them open one section.
			if cur.hasBody {
				sections = append(sections, section{boundary: boundary})
				cur = &sections[len(sections)-1]
			}
			cur.title, cur.subtitle = title, subtitle
			cur.blocks = append(cur.blocks, block{
				kind:  blockHeading,
				start: ln.start,
				end:   ln.end,
				words: textseg.WordCount(text[ln.start:ln.end]),
			})

		case lineRule:
			if n := len(cur.blocks); n > 0 && cur.blocks[n-1].kind == blockHeading {
				cur.blocks[n-1].end = ln.end
				continue
			}
			closeBlock()
			cur.hasBody = true
			open = &block{kind: blockParagraph, start: ln.start, end: ln.end}

		case lineList, lineTable:
			kind := blockList
			if ln.kind == lineTable {
				kind = blockTable
			}
			cur.hasBody = true
			if open == nil || open.kind != kind {
				closeBlock()
				open = &block{kind: kind, start: ln.start, end: ln.start}
			}
			extend(open, ln)
			open.items = append(open.items, textseg.Span{Start: ln.start, End: ln.end})

		case lineText:
			cur.hasBody = true
			if open != nil && open.kind == blockList && ln.indent > 0 {
				extend(open, ln)
				open.items[len(open.items)-1].End = ln.end
				continue
			}
			if open == nil || open.kind != blockParagraph {
				closeBlock()
				open = &block{kind: blockParagraph, start: ln.start, end: ln.start}
			}
			extend(open, ln)
		}
	}
	closeBlock()
	return sections
}

// pack groups the blocks of a section into pieces of roughly targetWords,
// splitting oversized blocks along their items or sentences.
func (c *Chunker) pack(text string, s section) []piece {
	var pieces []piece
	var cur *piece
	words := 0

	flush := func() {
		if cur != nil {
			pieces = append(pieces, *cur)
			cur = nil
			words = 0
		}
	}
	add := func(kind blockKind, start, end, w int, boundary float64) {
		if cur != nil && words > 0 && words+w > c.targetWords && !headingOnly(cur) {
			flush()
		}
		if cur == nil {
			if len(pieces) == 0 {
				boundary = s.boundary
			}
			cur = &piece{
				start:    start,
				kinds:    map[blockKind]bool{},
				title:    s.title,
				subtitle: s.subtitle,
				boundary: boundary,
			}
		}
		cur.end = end
		cur.kinds[kind] = true
		words += w
	}

	for _, b := range s.blocks {
		boundary := boundaryParagraph
		if b.kind == blockList || b.kind == blockTable {
			boundary = boundaryBlock
		}
		if b.words <= c.targetWords || b.kind == blockHeading {
			add(b.kind, b.start, b.end, b.words, boundary)
			continue
		}

		for i, p := range c.splitBlock(text, b) {
			bnd := boundary
			if i > 0 {
				bnd = p.boundary
				flush()
			}
			add(b.kind, p.start, p.end, p.words, bnd)
		}
	}
	flush()
	return pieces
}

func headingOnly(p *piece) bool {
	return len(p.kinds) == 1 && p.kinds[blockHeading]
}

type part struct {
	start, end int
	words      int
	boundary   float64
}

// splitBlock breaks a block larger than the target into target-sized parts.
func (c *Chunker) splitBlock(text string, b block) []part {
	units := b.items
	boundary := boundaryItem
	if b.kind == blockParagraph {
		boundary = boundarySentence
		units = nil
		for _, s := range textseg.Sentences(text[b.start:b.end]) {
			units = append(units, textseg.Span{Start: b.start + s.Start, End: b.start + s.End})
		}
	}
	if len(units) == 0 {
		units = []textseg.Span{{Start: b.start, End: b.end}}
	}

	var parts []part
	var cur *part
	for _, u := range units {
		w := textseg.WordCount(text[u.Start:u.End])
		if w > c.targetWords {
			if cur != nil {
				parts = append(parts, *cur)
				cur = nil
			}
			parts = append(parts, c.wordWindows(text, u, boundary)...)
			continue
		}
		if cur != nil && cur.words+w > c.targetWords {
			parts = append(parts, *cur)
			cur = nil
		}
		if cur == nil {
			cur = &part{start: u.Start, boundary: boundary}
		}
		cur.end = u.End
		cur.words += w
	}
	if cur != nil {
		parts = append(parts, *cur)
	}
	return parts
}

// wordWindows cuts a single unit with no usable internal boundary into
// windows of targetWords words.
func (c *Chunker) wordWindows(text string, u textseg.Span, boundary float64) []part {
	var parts []part
	src := text[u.Start:u.End]
	start, count := -1, 0
	inWord := false
	for i, r := range src {
		space := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if !space && !inWord {
			if count == c.targetWords {
				end := u.Start + len(strings.TrimRight(src[:i], " \t\r\n"))
				parts = append(parts, part{start: u.Start + start, end: end, words: count, boundary: boundaryWords})
				start, count = -1, 0
			}
			if start < 0 {
				start = i
			}
			count++
		}
		inWord = !space
	}
	if start >= 0 {
		parts = append(parts, part{start: u.Start + start, end: u.End, words: count, boundary: boundaryWords})
	}
	if len(parts) > 0 {
		parts[0].boundary = boundary
	}
	return parts
}

// sentencePieces packs the sentences of text into pieces with no regard for
// document structure.
func (c *Chunker) sentencePieces(title, text string) []piece {
	b := block{kind: blockParagraph, start: 0, end: len(text), words: c.targetWords + 1}
	var pieces []piece
	for i, p := range c.splitBlock(text, b) {
		boundary := p.boundary
		if i == 0 {
			boundary = boundaryDocument
		}
		pieces = append(pieces, piece{
			start:    p.start,
			end:      p.end,
			kinds:    map[blockKind]bool{blockParagraph: true},
			title:    title,
			boundary: boundary,
		})
	}
	return pieces
}

func (c *Chunker) build(text string, pieces []piece) []models.Chunk {
	chunks := make([]models.Chunk, 0, len(pieces))
	for i, p := range pieces {
		content := strings.TrimSpace(text[p.start:p.end])
		if content == "" {
			continue
		}
		end := boundaryDocument
		if i+1 < len(pieces) {
			end = pieces[i+1].boundary
		}
		confidence := p.boundary
		if end < confidence {
			confidence = end
		}
		chunks = append(chunks, models.Chunk{
			Content:         content,
			ChunkType:       classify(p.kinds),
			SectionTitle:    p.title,
			SubsectionTitle: p.subtitle,
			Index:           len(chunks),
			ConfidenceScore: confidence,
			Entities:        c.scan(content),
		})
	}
	return chunks
}

func classify(kinds map[blockKind]bool) models.ChunkType {
	heading := kinds[blockHeading]
	var body []blockKind
	for _, k := range []blockKind{blockParagraph, blockList, blockTable} {
		if kinds[k] {
			body = append(body, k)
		}
	}

	switch len(body) {
	case 0:
		return models.ChunkHeadingSection
	case 1:
		switch body[0] {
		case blockList:
			return models.ChunkList
		case blockTable:
			return models.ChunkTable
		}
		if heading {
			return models.ChunkHeadingSection
		}
		return models.ChunkNarrative
	}
	if heading {
		return models.ChunkHeadingSection
	}
	return models.ChunkMixed
}

// scan tags a chunk with its entities. A failure leaves the chunk untagged
// rather than losing it.
func (c *Chunker) scan(content string) (set models.EntitySet) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Entity scan failed for chunk", zap.String("error", fmt.Sprint(r)))
			set = models.EntitySet{}
		}
	}()
	return c.vocab.Scan(content)
}
