package ingestion

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	htmlMarker = regexp.MustCompile(`(?i)<(?:!doctype\s+html|html|body|div|p|h[1-6]|ul|ol|table|section|article)[\s>]`)
	inlineWS   = regexp.MustCompile(`[ \t\r\n\f]+`)
)

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, tr, pre, blockquote, dt, dd"

// LooksLikeHTML reports whether content is markup rather than plain text.
func LooksLikeHTML(content string) bool {
	return htmlMarker.MatchString(content)
}

// CleanHTML turns an HTML page into plain text that keeps the structure the
// chunker relies on: headings become markdown headings, list items become
// "- " lines, table rows become pipe-separated lines and paragraphs are
// separated by blank lines. The page title is returned alongside.
func CleanHTML(html string) (title, text string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", ""
	}

	doc.Find("script, style, noscript, nav, footer, header, aside, form, iframe").Remove()

	title = squash(doc.Find("title").First().Text())
	if title == "" {
		title = squash(doc.Find("h1").First().Text())
	}

	var b strings.Builder
	inTable := false

	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// nested blocks are rendered by their outermost block
		if s.ParentsFiltered("li, tr, p, pre, blockquote, dd").Length() > 0 {
			return
		}

		tag := goquery.NodeName(s)
		if tag != "tr" && inTable {
			b.WriteString("\n")
			inTable = false
		}

		switch tag {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			if line := squash(s.Text()); line != "" {
				level := int(tag[1] - '0')
				b.WriteString("\n" + strings.Repeat("#", level) + " " + line + "\n\n")
			}
		case "li":
			if line := squash(s.Text()); line != "" {
				b.WriteString("- " + line + "\n")
			}
		case "tr":
			cells := s.Find("th, td").Map(func(_ int, c *goquery.Selection) string {
				return squash(c.Text())
			})
			if len(cells) == 0 {
				return
			}
			if !inTable {
				b.WriteString("\n")
				inTable = true
			}
			b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		case "pre":
			if block := strings.TrimSpace(s.Text()); block != "" {
				b.WriteString("\n" + block + "\n\n")
			}
		default:
			if line := squash(s.Text()); line != "" {
				b.WriteString("\n" + line + "\n\n")
			}
		}
	})

	text = strings.TrimSpace(collapseBlankLines(b.String()))
	if text == "" {
		text = squash(doc.Find("body").Text())
	}
	return title, text
}

func squash(s string) string {
	return strings.TrimSpace(inlineWS.ReplaceAllString(s, " "))
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
