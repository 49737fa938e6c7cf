// Package vocab recognizes immigration-domain entities in free text: form
// identifiers, permit and visa types, requirement phrases, fee mentions and
// country names.
package vocab

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/immigration-rag/backend/internal/storage/models"
)

// Term is one vocabulary entry. When Canonical is empty the matched text is
// normalized with the kind's default rule.
type Term struct {
	Pattern       string `yaml:"pattern"`
	Canonical     string `yaml:"canonical"`
	CaseSensitive bool   `yaml:"case_sensitive"`
}

type compiled struct {
	kind      models.EntityKind
	re        *regexp.Regexp
	canonical string
}

// Mention is a located entity match.
type Mention struct {
	Kind  models.EntityKind
	Value string
	Start int
	End   int
}

type Vocabulary struct {
	terms []compiled
}

var kindOrder = []models.EntityKind{
	models.KindForm,
	models.KindPermitType,
	models.KindRequirement,
	models.KindFee,
	models.KindCountry,
}

// New compiles the given tables. Patterns are case-insensitive unless the
// term is marked case-sensitive. A pattern with a capture group reports the
// first group as the matched span.
func New(tables map[models.EntityKind][]Term) (*Vocabulary, error) {
	v := &Vocabulary{}
	for _, kind := range kindOrder {
		if err := v.add(kind, tables[kind]); err != nil {
			return nil, err
		}
	}
	for kind := range tables {
		if !knownKind(kind) {
			return nil, fmt.Errorf("unknown entity kind %q", kind)
		}
	}
	return v, nil
}

// Default returns the built-in vocabulary.
func Default() *Vocabulary {
	v, err := New(defaultTables())
	if err != nil {
		panic(fmt.Sprintf("vocab: default tables: %v", err))
	}
	return v
}

// Extend returns a copy of v with extra terms appended.
func (v *Vocabulary) Extend(tables map[models.EntityKind][]Term) (*Vocabulary, error) {
	out := &Vocabulary{terms: append([]compiled(nil), v.terms...)}
	for _, kind := range kindOrder {
		if err := out.add(kind, tables[kind]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (v *Vocabulary) add(kind models.EntityKind, terms []Term) error {
	for _, t := range terms {
		pattern := t.Pattern
		if !t.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("compile %s pattern %q: %w", kind, t.Pattern, err)
		}
		v.terms = append(v.terms, compiled{kind: kind, re: re, canonical: t.Canonical})
	}
	return nil
}

// Mentions returns every entity occurrence in text ordered by position.
// Overlapping matches of the same kind keep the longest span.
func (v *Vocabulary) Mentions(text string) []Mention {
	if text == "" {
		return nil
	}

	var all []Mention
	for _, t := range v.terms {
		for _, loc := range t.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			if len(loc) >= 4 && loc[2] >= 0 {
				start, end = loc[2], loc[3]
			}
			value := t.canonical
			if value == "" {
				value = normalize(t.kind, text[start:end])
			}
			if value == "" {
				continue
			}
			all = append(all, Mention{Kind: t.kind, Value: value, Start: start, End: end})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].End-all[i].Start > all[j].End-all[j].Start
	})

	out := all[:0]
	lastEnd := map[models.EntityKind]int{}
	for _, m := range all {
		if end, ok := lastEnd[m.Kind]; ok && m.Start < end {
			continue
		}
		lastEnd[m.Kind] = m.End
		out = append(out, m)
	}
	return out
}

// Scan collects the distinct entities of text in first-appearance order.
func (v *Vocabulary) Scan(text string) models.EntitySet {
	var set models.EntitySet
	seen := map[string]bool{}
	for _, m := range v.Mentions(text) {
		key := string(m.Kind) + "|" + strings.ToUpper(m.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		switch m.Kind {
		case models.KindForm:
			set.Forms = append(set.Forms, m.Value)
		case models.KindPermitType:
			set.PermitTypes = append(set.PermitTypes, m.Value)
		case models.KindRequirement:
			set.Requirements = append(set.Requirements, m.Value)
		case models.KindFee:
			set.Fees = append(set.Fees, m.Value)
		case models.KindCountry:
			set.Countries = append(set.Countries, m.Value)
		}
	}
	return set
}

// Classify reports the kind and canonical value of a single entity. A match
// covering the whole value wins; otherwise the first entity inside the value
// is used. ok is false when the vocabulary finds nothing.
func (v *Vocabulary) Classify(entity string) (kind models.EntityKind, canonical string, ok bool) {
	entity = strings.TrimSpace(entity)
	mentions := v.Mentions(entity)
	if len(mentions) == 0 {
		return "", entity, false
	}
	for _, m := range mentions {
		if (m.Start == 0 && m.End == len(entity)) || strings.EqualFold(m.Value, entity) {
			return m.Kind, m.Value, true
		}
	}
	return mentions[0].Kind, mentions[0].Value, true
}

func knownKind(kind models.EntityKind) bool {
	for _, k := range kindOrder {
		if k == kind {
			return true
		}
	}
	return false
}

var spaceRun = regexp.MustCompile(`\s+`)

func normalize(kind models.EntityKind, raw string) string {
	raw = strings.TrimSpace(spaceRun.ReplaceAllString(raw, " "))
	switch kind {
	case models.KindForm:
		return strings.ToUpper(raw)
	case models.KindPermitType:
		return strings.ToUpper(raw)
	case models.KindRequirement:
		return strings.ToLower(raw)
	case models.KindFee:
		raw = strings.ReplaceAll(raw, "$ ", "$")
		return strings.ToUpper(raw)
	default:
		return raw
	}
}
