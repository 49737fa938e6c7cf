package temporal

import (
	"regexp"
	"strings"
	"time"
)

const months = `(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\.?`

// datePattern matches the date shapes the tracker understands. Order of the
// alternatives matters: longer forms first.
const datePattern = `(?:` +
	`\d{4}-\d{1,2}-\d{1,2}` +
	`|\d{1,2}/\d{1,2}/\d{4}` +
	`|` + months + `\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
	`|\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?` + months + `,?\s+\d{4}` +
	`|` + months + `,?\s+\d{4}` +
	`|\d{4}-\d{1,2}` +
	`|today` +
	`)`

var (
	dateRe     = regexp.MustCompile(`(?i)\b` + datePattern + `\b`)
	ordinalRe  = regexp.MustCompile(`(?i)(\d)(?:st|nd|rd|th)\b`)
	spacesRe   = regexp.MustCompile(`\s+`)
	ofRe       = regexp.MustCompile(`(?i)\bof\b`)
	monthAbbrs = strings.NewReplacer(
		"Sept ", "Sep ",
	)
)

var fullLayouts = []string{
	"2006-1-2",
	"1/2/2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
}

var partialLayouts = []string{
	"January 2006",
	"Jan 2006",
	"2006-1",
}

// parseDate resolves a matched date mention. partial is true for
// month-and-year mentions, which resolve to the first of the month.
func parseDate(raw string, now time.Time) (date time.Time, partial bool, ok bool) {
	s := strings.TrimSpace(raw)
	if strings.EqualFold(s, "today") {
		return truncateDay(now), false, true
	}

	s = ordinalRe.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, ",", " ")
	s = strings.ReplaceAll(s, ".", " ")
	s = ofRe.ReplaceAllString(s, " ")
	s = spacesRe.ReplaceAllString(strings.TrimSpace(s), " ")
	s = titleMonth(s)
	s = monthAbbrs.Replace(s + " ")
	s = strings.TrimSpace(s)

	for _, layout := range fullLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, false, true
		}
	}
	for _, layout := range partialLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true, true
		}
	}
	return time.Time{}, false, false
}

// titleMonth fixes capitalization so month names satisfy time.Parse.
func titleMonth(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		if w == "" || w[0] < 'A' || (w[0] > 'Z' && w[0] < 'a') || w[0] > 'z' {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// truncateDay returns midnight UTC of t's UTC calendar day.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
