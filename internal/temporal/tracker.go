// Package temporal extracts date-bearing statements from documents and
// scores how fresh a document is.
package temporal

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/pkg/logger"
)

const (
	confidenceTyped       = 0.9
	confidenceTypedMonth  = 0.75
	confidenceUntyped     = 0.5
	confidenceUntypedPart = 0.4
	confidenceUnparsed    = 0.3
	confidenceUnparsedRaw = 0.2

	contextRadius = 60
	contextLimit  = 100
)

type cue struct {
	kind models.TemporalType
	re   *regexp.Regexp
}

var cues = []cue{
	{models.TemporalEffective, cueRegexp(`effective(?:\s+(?:on|from|as\s+of))?|takes?\s+effect(?:\s+on)?|in\s+effect\s+(?:from|since|as\s+of)|begin(?:s|ning)?(?:\s+on)?|start(?:s|ing)?(?:\s+on)?`)},
	{models.TemporalExpiration, cueRegexp(`expir(?:es|ed|ing|ation\s+date(?:\s+is)?:?)(?:\s+on)?|expire(?:\s+on)?|valid\s+(?:until|through|thru)|no\s+longer\s+valid\s+(?:after|from)|ends?\s+on|sunsets?\s+on|until|deadline(?:\s+is)?:?`)},
	{models.TemporalAsOf, cueRegexp(`(?:current\s+)?as\s+of|(?:last\s+)?(?:updated|reviewed|modified|revised)(?:\s+on)?:?|published(?:\s+on)?:?`)},
}

func cueRegexp(alternatives string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + alternatives + `)\s+(` + datePattern + `)\b`)
}

// unparsedCue catches a temporal cue whose tail is date-like but not a date
// the parser understands, e.g. "effective February 30, 2024".
var unparsedCue = regexp.MustCompile(`(?i)\b(effective|expires?|valid\s+until|as\s+of)\s+((?:on\s+)?[^.;\n]{1,40})`)

var dateLike = regexp.MustCompile(`(?i)\d|\b(?:January|February|March|April|June|July|August|September|October|November|December)\b|\bimmediately\b|\bupon\b|\bfurther\s+notice\b`)

type Config struct {
	HorizonDays  int
	UndatedScore float64
	Estimates    map[string]Estimate
}

type Tracker struct {
	horizon      time.Duration
	undatedScore float64
	estimates    map[string]Estimate
	now          func() time.Time
}

func NewTracker(cfg Config) *Tracker {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 365
	}
	if cfg.UndatedScore < 0 || cfg.UndatedScore > 1 {
		cfg.UndatedScore = 0.5
	}

	estimates := DefaultEstimates()
	for k, v := range cfg.Estimates {
		estimates[strings.ToUpper(k)] = v
	}

	return &Tracker{
		horizon:      time.Duration(cfg.HorizonDays) * 24 * time.Hour,
		undatedScore: cfg.UndatedScore,
		estimates:    estimates,
		now:          time.Now,
	}
}

// WithClock returns a copy of t that reads the time from now.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	cp := *t
	cp.now = now
	return &cp
}

func (t *Tracker) Now() time.Time {
	return t.now()
}

type span struct{ start, end int }

// Extract returns the temporal facts mentioned in title and text, in order
// of appearance.
func (t *Tracker) Extract(text, title string) []models.TemporalFact {
	now := t.now()
	var facts []models.TemporalFact
	seen := map[string]bool{}

	for _, src := range []string{title, text} {
		for _, f := range t.extractFrom(src, now) {
			key := string(f.Type) + "|" + strings.ToLower(f.Text)
			if seen[key] {
				continue
			}
			seen[key] = true
			facts = append(facts, f)
		}
	}
	return facts
}

type located struct {
	pos  int
	fact models.TemporalFact
}

func (t *Tracker) extractFrom(text string, now time.Time) []models.TemporalFact {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var found []located
	var claimed []span

	for _, c := range cues {
		for _, loc := range c.re.FindAllStringSubmatchIndex(text, -1) {
			dateSpan := span{loc[2], loc[3]}
			if overlaps(claimed, dateSpan) {
				continue
			}
			claimed = append(claimed, dateSpan)

			raw := text[dateSpan.start:dateSpan.end]
			fact := models.TemporalFact{
				Type:    c.kind,
				Text:    strings.TrimSpace(text[loc[0]:loc[1]]),
				Context: snippet(text, loc[0], loc[1]),
			}
			if d, partial, ok := parseDate(raw, now); ok {
				fact.Date = &d
				fact.Partial = partial
				fact.Confidence = confidenceTyped
				if partial {
					fact.Confidence = confidenceTypedMonth
				}
			} else {
				fact.Confidence = confidenceUnparsed
				logger.Debug("Unparseable date mention", zap.String("text", fact.Text))
			}
			found = append(found, located{pos: loc[0], fact: fact})
		}
	}

	for _, loc := range dateRe.FindAllStringIndex(text, -1) {
		s := span{loc[0], loc[1]}
		if overlaps(claimed, s) || strings.EqualFold(text[s.start:s.end], "today") {
			continue
		}
		claimed = append(claimed, s)

		raw := text[s.start:s.end]
		fact := models.TemporalFact{
			Type:    models.TemporalUnspecified,
			Text:    strings.TrimSpace(raw),
			Context: snippet(text, s.start, s.end),
		}
		if d, partial, ok := parseDate(raw, now); ok {
			fact.Date = &d
			fact.Partial = partial
			fact.Confidence = confidenceUntyped
			if partial {
				fact.Confidence = confidenceUntypedPart
			}
		} else {
			fact.Confidence = confidenceUnparsedRaw
		}
		found = append(found, located{pos: s.start, fact: fact})
	}

	for _, loc := range unparsedCue.FindAllStringSubmatchIndex(text, -1) {
		tail := span{loc[4], loc[5]}
		if overlaps(claimed, tail) || !dateLike.MatchString(text[tail.start:tail.end]) {
			continue
		}
		claimed = append(claimed, tail)
		found = append(found, located{pos: loc[0], fact: models.TemporalFact{
			Type:       cueType(text[loc[2]:loc[3]]),
			Text:       strings.TrimSpace(text[loc[0]:loc[1]]),
			Confidence: confidenceUnparsed,
			Context:    snippet(text, loc[0], loc[1]),
		}})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	facts := make([]models.TemporalFact, len(found))
	for i, l := range found {
		facts[i] = l.fact
	}
	return facts
}

func cueType(word string) models.TemporalType {
	w := strings.ToLower(word)
	switch {
	case strings.HasPrefix(w, "effective"):
		return models.TemporalEffective
	case strings.HasPrefix(w, "expire"), strings.HasPrefix(w, "valid"):
		return models.TemporalExpiration
	case strings.HasPrefix(w, "as"):
		return models.TemporalAsOf
	}
	return models.TemporalUnspecified
}

// Summarize aggregates facts as seen at the given instant.
func (t *Tracker) Summarize(facts []models.TemporalFact, now time.Time) models.TemporalSummary {
	today := truncateDay(now)
	summary := models.TemporalSummary{IsCurrent: true, FreshnessScore: t.undatedScore}

	var latest *time.Time
	effective := map[string]bool{}
	expiration := map[string]bool{}

	for i := range facts {
		f := facts[i]
		if f.Date == nil {
			continue
		}
		d := truncateDay(*f.Date)

		switch f.Type {
		case models.TemporalExpiration:
			if d.Before(today) {
				summary.IsCurrent = false
			}
			if summary.ExpirationDate == nil || d.Before(*summary.ExpirationDate) {
				summary.ExpirationDate = &d
			}
			expiration[d.Format("2006-01-02")] = true
			continue
		case models.TemporalEffective:
			if summary.EffectiveDate == nil || d.Before(*summary.EffectiveDate) {
				summary.EffectiveDate = &d
			}
			effective[d.Format("2006-01-02")] = true
		}

		if latest == nil || d.After(*latest) {
			latest = &d
		}
	}

	if latest != nil {
		summary.FreshnessScore = t.freshness(*latest, today)
	}
	summary.EffectiveDates = sortedKeys(effective)
	summary.ExpirationDates = sortedKeys(expiration)
	return summary
}

// freshness decays linearly from 1.0 on the mention day to 0.0 at the
// horizon. Mentions in the future count as same-day.
func (t *Tracker) freshness(mention, today time.Time) float64 {
	age := today.Sub(mention)
	if age <= 0 {
		return 1.0
	}
	score := 1.0 - float64(age)/float64(t.horizon)
	if score < 0 {
		return 0
	}
	return score
}

func overlaps(claimed []span, s span) bool {
	for _, c := range claimed {
		if s.start < c.end && c.start < s.end {
			return true
		}
	}
	return false
}

func snippet(text string, start, end int) string {
	from := start - contextRadius
	if from < 0 {
		from = 0
	}
	to := end + contextRadius
	if to > len(text) {
		to = len(text)
	}
	for from > 0 && !isRuneStart(text[from]) {
		from--
	}
	for to < len(text) && !isRuneStart(text[to]) {
		to++
	}

	ctx := strings.Join(strings.Fields(text[from:to]), " ")
	if len(ctx) > contextLimit {
		cut := contextLimit
		for cut > 0 && !isRuneStart(ctx[cut]) {
			cut--
		}
		ctx = ctx[:cut] + "..."
	}
	return ctx
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
