// Package relations infers typed edges between forms and permit types from
// connective language and answers dependency, flow and validation queries
// over the resulting graph.
package relations

import (
	"regexp"
	"strings"

	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/internal/textseg"
	"github.com/immigration-rag/backend/internal/vocab"
)

const (
	maxConnectiveGap = 120
	contextLimit     = 200
)

// connective maps the text between two adjacent mentions to an edge. When
// reverse is set the later mention is the source.
type connective struct {
	re         *regexp.Regexp
	kind       models.RelationshipType
	reverse    bool
	confidence float64
}

func rule(pattern string, kind models.RelationshipType, reverse bool, confidence float64) connective {
	return connective{re: regexp.MustCompile(`(?i)` + pattern), kind: kind, reverse: reverse, confidence: confidence}
}

// Ordered from most to least specific; the first match wins.
var connectives = []connective{
	rule(`\b(?:cannot|can\s*not|may\s+not|must\s+not)\s+be\s+(?:combined|filed|held|used)\s+(?:together\s+)?with\b`, models.RelConflictsWith, false, 0.9),
	rule(`\b(?:incompatible|conflicts?)\s+with\b|\bmutually\s+exclusive\s+with\b`, models.RelConflictsWith, false, 0.9),
	rule(`\bnot\s+eligible\s+(?:for|to\s+\w+)\b.*\bwhile\s+(?:holding|in)\b`, models.RelConflictsWith, false, 0.75),

	rule(`\b(?:must|shall)\s+be\s+\w+(?:\s+\w+)?\s+before\b|\brequired\s+before\b|\bmust\s+precede\b`, models.RelRequires, true, 0.9),
	rule(`\b(?:is|are)\s+(?:a\s+)?(?:required|prerequisite|mandatory)\s+(?:for|to)\b|\bprerequisite\s+(?:for|to)\b`, models.RelRequires, true, 0.85),
	rule(`\bprior\s+to\b`, models.RelRequires, true, 0.75),
	rule(`\bmust\s+first\b|\brequires?\b|\bdepends?\s+on\b|\bcontingent\s+(?:up)?on\b|\bmust\s+(?:be\s+)?accompan(?:y|ied\s+by)\b`, models.RelRequires, false, 0.85),
	rule(`\bneeds?\b|\bbased\s+on\b`, models.RelRequires, false, 0.7),
	rule(`\bbefore\b`, models.RelRequires, true, 0.6),

	rule(`\binstead\s+of\b|\bas\s+an\s+alternative\s+to\b|\bin\s+(?:lieu|place)\s+of\b|\brather\s+than\b`, models.RelAlternativeTo, false, 0.8),

	rule(`\bleads?\s+to\b|\bfollowed\s+by\b|\bresults?\s+in\b|\b(?:upgrade|convert|transition|adjust|change)\s+(?:status\s+)?(?:to|into)\b|\bafter\s+which\b|\bpath(?:way)?\s+to\b`, models.RelLeadsTo, false, 0.8),
	rule(`\bthen\b|\bnext\b`, models.RelLeadsTo, false, 0.6),

	rule(`^\s*,?\s*(?:either\s+)?or\s*$|^\s*/\s*$`, models.RelAlternativeTo, false, 0.5),
}

var (
	afterPrefix      = regexp.MustCompile(`(?i)\b(?:after|once|following|upon)\s+(?:(?:the|your|an?|filing|approval\s+of|approving|receiving|obtaining|getting|being\s+granted)\s+)*(?:Form\s+)?$`)
	exclusiveSuffix  = regexp.MustCompile(`(?i)^\s*(?:are|is)\s+mutually\s+exclusive\b`)
	pairJoiner       = regexp.MustCompile(`(?i)^\s*(?:,\s*)?(?:and|or)\s*(?:Form\s+)?$`)
	listContinuation = regexp.MustCompile(`(?i)^\s*(?:,\s*(?:and\s+|or\s+)?|and\s+|or\s+)(?:Form\s+)?$`)
	alternativeLead  = regexp.MustCompile(`(?i)^\W*alternatively\b`)
	spaces           = regexp.MustCompile(`\s+`)
)

type Extractor struct {
	vocab *vocab.Vocabulary
}

func NewExtractor(v *vocab.Vocabulary) *Extractor {
	if v == nil {
		v = vocab.Default()
	}
	return &Extractor{vocab: v}
}

// Extract infers relationships between the given forms and permit types
// from text. When both lists are empty every form and permit type the
// vocabulary recognizes takes part.
func (e *Extractor) Extract(text string, forms, permits []string) []models.Relationship {
	known := map[string]bool{}
	for _, v := range append(append([]string(nil), forms...), permits...) {
		known[strings.ToUpper(v)] = true
	}

	g := NewGraph(nil)
	var prevLast *vocab.Mention

	for _, span := range textseg.Sentences(text) {
		sentence := span.Text(text)
		mentions := e.nodeMentions(sentence, known)
		if len(mentions) == 0 {
			prevLast = nil
			continue
		}

		ctx := snippet(sentence)
		countries := e.vocab.Scan(sentence).Countries
		add := func(source, target string, kind models.RelationshipType, confidence float64) {
			if strings.EqualFold(source, target) {
				return
			}
			g.Add(models.Relationship{
				Source:     source,
				Target:     target,
				Type:       kind,
				Confidence: confidence,
				Context:    ctx,
				Countries:  countries,
			})
		}

		if prevLast != nil && alternativeLead.MatchString(sentence) {
			add(mentions[0].Value, prevLast.Value, models.RelAlternativeTo, 0.7)
		}

		for i := 0; i+1 < len(mentions); i++ {
			a, b := mentions[i], mentions[i+1]
			between := sentence[a.End:b.Start]
			if len(between) > maxConnectiveGap {
				continue
			}

			c, ok := match(sentence, a, b, between)
			if !ok {
				continue
			}
			emit := func(x, y vocab.Mention) {
				if c.reverse {
					add(y.Value, x.Value, c.kind, c.confidence)
				} else {
					add(x.Value, y.Value, c.kind, c.confidence)
				}
			}
			emit(a, b)

			// "A requires B, C and D" relates A to every listed entity.
			for j := i + 1; j+1 < len(mentions); j++ {
				if !listContinuation.MatchString(sentence[mentions[j].End:mentions[j+1].Start]) {
					break
				}
				emit(a, mentions[j+1])
			}
		}
		last := mentions[len(mentions)-1]
		prevLast = &last
	}
	return g.Relationships()
}

func match(sentence string, a, b vocab.Mention, between string) (connective, bool) {
	if pairJoiner.MatchString(between) && exclusiveSuffix.MatchString(sentence[b.End:]) {
		return connective{kind: models.RelConflictsWith, confidence: 0.9}, true
	}
	for _, c := range connectives {
		if c.re.MatchString(between) {
			return c, true
		}
	}
	if afterPrefix.MatchString(sentence[:a.Start]) {
		return connective{kind: models.RelLeadsTo, confidence: 0.7}, true
	}
	return connective{}, false
}

func (e *Extractor) nodeMentions(sentence string, known map[string]bool) []vocab.Mention {
	var out []vocab.Mention
	for _, m := range e.vocab.Mentions(sentence) {
		if m.Kind != models.KindForm && m.Kind != models.KindPermitType {
			continue
		}
		if len(known) > 0 && !known[strings.ToUpper(m.Value)] {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Start < m.End && m.Start < out[n-1].End {
			continue
		}
		out = append(out, m)
	}
	return out
}

func snippet(sentence string) string {
	s := strings.TrimSpace(spaces.ReplaceAllString(sentence, " "))
	if r := []rune(s); len(r) > contextLimit {
		return string(r[:contextLimit])
	}
	return s
}
