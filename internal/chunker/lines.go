package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

type lineKind int

const (
	lineBlank lineKind = iota
	lineText
	lineHeading
	lineList
	lineTable
	lineRule
)

type line struct {
	start, end int
	kind       lineKind
	level      int
	explicit   bool
	title      string
	indent     int
}

var (
	markdownHeading = regexp.MustCompile(`^\s{0,3}(#{1,6})\s+(.+?)\s*#*\s*$`)
	labeledHeading  = regexp.MustCompile(`(?i)^\s*(section|part|article|chapter|appendix|step)\s+([0-9]+|[IVXLC]+|[A-Z])\b[.:)\-]?\s*(.*)$`)
	numberedHeading = regexp.MustCompile(`^\s*(\d+(?:\.\d+)+)\.?\s+(\S.{0,80})$`)
	listItem        = regexp.MustCompile(`^\s*(?:[-*•▪◦‣+]|\d{1,3}[.)]|[a-zA-Z][.)]|\(\w{1,3}\))\s+\S`)
	tableSeparator  = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(?:\|\s*:?-{3,}:?\s*)+\|?\s*$`)
	setextUnderline = regexp.MustCompile(`^\s*(=+|-{3,})\s*$`)
)

// splitLines returns the lines of text with byte offsets; end excludes the
// newline.
func splitLines(text string) []line {
	var lines []line
	start := 0
	for start <= len(text) {
		idx := strings.IndexByte(text[start:], '\n')
		end := len(text)
		if idx >= 0 {
			end = start + idx
		}
		lines = append(lines, line{start: start, end: end})
		if idx < 0 {
			break
		}
		start = end + 1
	}
	return lines
}

func classifyLines(text string, lines []line) {
	for i := range lines {
		raw := text[lines[i].start:lines[i].end]
		lines[i].indent = len(raw) - len(strings.TrimLeft(raw, " \t"))
		lines[i].kind = basicKind(raw, &lines[i])
	}

	for i := range lines {
		if lines[i].kind != lineText {
			continue
		}
		raw := strings.TrimSpace(text[lines[i].start:lines[i].end])

		if i+1 < len(lines) {
			next := text[lines[i+1].start:lines[i+1].end]
			if m := setextUnderline.FindStringSubmatch(next); m != nil && isShortLine(raw) {
				lines[i].kind = lineHeading
				lines[i].explicit = true
				lines[i].title = raw
				lines[i].level = 1
				if strings.HasPrefix(m[1], "-") {
					lines[i].level = 2
				}
				lines[i+1].kind = lineRule
				continue
			}
		}

		prevBlank := i == 0 || lines[i-1].kind == lineBlank
		nextBody := i+1 < len(lines) && lines[i+1].kind != lineBlank
		if prevBlank && looksLikeHeading(raw, nextBody) {
			lines[i].kind = lineHeading
			lines[i].title = strings.TrimSuffix(raw, ":")
			lines[i].level = 2
			if isAllCaps(raw) {
				lines[i].level = 1
			}
		}
	}
}

func basicKind(raw string, ln *line) lineKind {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return lineBlank
	}
	if m := markdownHeading.FindStringSubmatch(raw); m != nil {
		ln.explicit = true
		ln.level = len(m[1])
		ln.title = strings.TrimSpace(m[2])
		return lineHeading
	}
	if m := labeledHeading.FindStringSubmatch(trimmed); m != nil && isShortLine(trimmed) && !endsSentence(trimmed) {
		ln.explicit = true
		ln.level = 1
		if strings.EqualFold(m[1], "step") {
			ln.level = 2
		}
		ln.title = trimmed
		return lineHeading
	}
	if m := numberedHeading.FindStringSubmatch(trimmed); m != nil && isShortLine(trimmed) && !endsSentence(trimmed) {
		ln.explicit = true
		ln.level = strings.Count(m[1], ".") + 1
		ln.title = trimmed
		return lineHeading
	}
	if looksLikeTableRow(trimmed) {
		return lineTable
	}
	if listItem.MatchString(raw) {
		return lineList
	}
	return lineText
}

func looksLikeTableRow(s string) bool {
	if tableSeparator.MatchString(s) {
		return true
	}
	if strings.Count(s, "|") >= 2 {
		return true
	}
	return strings.Count(s, "\t") >= 2
}

func isShortLine(s string) bool {
	return len(s) <= 100 && len(strings.Fields(s)) <= 12
}

func endsSentence(s string) bool {
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', ',', ';', '!', '?':
		return true
	}
	return false
}

// looksLikeHeading applies the formatting heuristics for headings without an
// explicit marker: a short line, no sentence punctuation, and either all
// capitals, a trailing colon, or title case.
func looksLikeHeading(s string, nextBody bool) bool {
	if !isShortLine(s) || endsSentence(s) || len(strings.Fields(s)) > 10 {
		return false
	}
	if strings.HasSuffix(s, ":") {
		return nextBody
	}
	if !nextBody {
		return false
	}
	return isAllCaps(s) || isTitleCase(s)
}

func isAllCaps(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return letters >= 3
}

func isTitleCase(s string) bool {
	words := strings.Fields(s)
	if len(words) < 2 {
		return false
	}
	significant, capitalized := 0, 0
	for _, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len([]rune(w)) < 4 {
			continue
		}
		significant++
		if unicode.IsUpper([]rune(w)[0]) {
			capitalized++
		}
	}
	return significant > 0 && capitalized*10 >= significant*8
}
