package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immigration-rag/backend/internal/storage/models"
)

var fixedNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func newTestTracker() *Tracker {
	return NewTracker(Config{HorizonDays: 365, UndatedScore: 0.5}).WithClock(func() time.Time { return fixedNow })
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExtract_EffectiveToday(t *testing.T) {
	tr := newTestTracker()
	facts := tr.Extract("This policy is effective today.", "")

	require.Len(t, facts, 1)
	assert.Equal(t, models.TemporalEffective, facts[0].Type)
	require.NotNil(t, facts[0].Date)
	assert.Equal(t, date(2024, time.June, 15), *facts[0].Date)

	s := tr.Summarize(facts, fixedNow)
	assert.True(t, s.IsCurrent)
	assert.InDelta(t, 1.0, s.FreshnessScore, 1e-9)
	assert.Equal(t, []string{"2024-06-15"}, s.EffectiveDates)
}

func TestExtract_TodayWithNonUTCClock(t *testing.T) {
	// 22:00 in UTC-5 is already the 16th in UTC.
	local := time.Date(2024, time.June, 15, 22, 0, 0, 0, time.FixedZone("UTC-5", -5*60*60))
	tr := NewTracker(Config{HorizonDays: 365, UndatedScore: 0.5}).WithClock(func() time.Time { return local })

	facts := tr.Extract("This rule is effective today.", "")
	require.Len(t, facts, 1)
	require.NotNil(t, facts[0].Date)

	s := tr.Summarize(facts, local)
	assert.InDelta(t, 1.0, s.FreshnessScore, 1e-9)

	expires := []models.TemporalFact{{Type: models.TemporalExpiration, Date: facts[0].Date, Confidence: 0.9}}
	assert.True(t, tr.Summarize(expires, local).IsCurrent)
}

func TestSummarize_HorizonDecay(t *testing.T) {
	tr := newTestTracker()
	facts := tr.Extract("Effective today.", "")
	require.Len(t, facts, 1)

	assert.InDelta(t, 0.8, tr.Summarize(facts, fixedNow.AddDate(0, 0, 73)).FreshnessScore, 1e-9)
	assert.InDelta(t, 0.0, tr.Summarize(facts, fixedNow.AddDate(0, 0, 365)).FreshnessScore, 1e-9)
	assert.InDelta(t, 0.0, tr.Summarize(facts, fixedNow.AddDate(2, 0, 0)).FreshnessScore, 1e-9)
}

func TestSummarize_NewerDateIsFresher(t *testing.T) {
	tr := newTestTracker()
	older := tr.Summarize(tr.Extract("Effective January 1, 2024.", ""), fixedNow)
	newer := tr.Summarize(tr.Extract("Effective May 1, 2024.", ""), fixedNow)
	assert.Greater(t, newer.FreshnessScore, older.FreshnessScore)

	both := tr.Summarize(tr.Extract("Effective January 1, 2024. Updated May 1, 2024.", ""), fixedNow)
	assert.InDelta(t, newer.FreshnessScore, both.FreshnessScore, 1e-9)
}

func TestSummarize_FutureDateCountsAsToday(t *testing.T) {
	tr := newTestTracker()
	s := tr.Summarize(tr.Extract("The new fee takes effect on March 3, 2025.", ""), fixedNow)
	assert.InDelta(t, 1.0, s.FreshnessScore, 1e-9)
}

func TestSummarize_Undated(t *testing.T) {
	tr := newTestTracker()
	facts := tr.Extract("Submit the petition with supporting evidence.", "")
	assert.Empty(t, facts)

	s := tr.Summarize(facts, fixedNow)
	assert.True(t, s.IsCurrent)
	assert.InDelta(t, 0.5, s.FreshnessScore, 1e-9)
	assert.Nil(t, s.EffectiveDate)
	assert.Nil(t, s.ExpirationDate)
}

func TestSummarize_PastExpirationIsNotCurrent(t *testing.T) {
	tr := newTestTracker()
	facts := tr.Extract("This guidance is valid until January 1, 2020.", "")

	require.Len(t, facts, 1)
	assert.Equal(t, models.TemporalExpiration, facts[0].Type)

	s := tr.Summarize(facts, fixedNow)
	assert.False(t, s.IsCurrent)
	require.NotNil(t, s.ExpirationDate)
	assert.Equal(t, date(2020, time.January, 1), *s.ExpirationDate)
	assert.Equal(t, []string{"2020-01-01"}, s.ExpirationDates)
	// Expiration dates do not make a document look recent.
	assert.InDelta(t, 0.5, s.FreshnessScore, 1e-9)
}

func TestSummarize_FutureExpirationIsCurrent(t *testing.T) {
	tr := newTestTracker()
	s := tr.Summarize(tr.Extract("Effective May 1, 2024 and expires on December 31, 2025.", ""), fixedNow)
	assert.True(t, s.IsCurrent)
	require.NotNil(t, s.EffectiveDate)
	assert.Equal(t, date(2024, time.May, 1), *s.EffectiveDate)
}

func TestExtract_UnparseableDateIsKept(t *testing.T) {
	tr := newTestTracker()
	facts := tr.Extract("The rule is effective February 30, 2024.", "")

	require.Len(t, facts, 1)
	assert.Equal(t, models.TemporalEffective, facts[0].Type)
	assert.Nil(t, facts[0].Date)
	assert.Contains(t, facts[0].Text, "February 30, 2024")
	assert.Less(t, facts[0].Confidence, 0.5)
}

func TestExtract_MonthYearIsPartial(t *testing.T) {
	tr := newTestTracker()
	facts := tr.Extract("Page last updated March 2024.", "")

	require.Len(t, facts, 1)
	assert.Equal(t, models.TemporalAsOf, facts[0].Type)
	assert.True(t, facts[0].Partial)
	require.NotNil(t, facts[0].Date)
	assert.Equal(t, date(2024, time.March, 1), *facts[0].Date)
}

func TestExtract_UntypedDate(t *testing.T) {
	tr := newTestTracker()
	facts := tr.Extract("Interviews resumed on 2023-05-01 at most consulates.", "")

	require.Len(t, facts, 1)
	assert.Equal(t, models.TemporalUnspecified, facts[0].Type)
	assert.Equal(t, "2023-05-01", facts[0].Text)
	assert.InDelta(t, 0.5, facts[0].Confidence, 1e-9)
	assert.Contains(t, facts[0].Context, "Interviews resumed")
}

func TestExtract_TitleAndTextDeduplicated(t *testing.T) {
	tr := newTestTracker()
	facts := tr.Extract("Fees effective January 1, 2024 apply to all forms.", "Fee schedule effective January 1, 2024")

	require.Len(t, facts, 1)
	assert.Equal(t, models.TemporalEffective, facts[0].Type)
}

func TestExtract_ModalMayIsNotADate(t *testing.T) {
	tr := newTestTracker()
	facts := tr.Extract("The applicant may be effective immediately upon approval as of their start.", "")
	for _, f := range facts {
		assert.NotContains(t, f.Text, "may")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Time
		partial bool
	}{
		{"2024-03-15", date(2024, time.March, 15), false},
		{"03/04/2024", date(2024, time.March, 4), false},
		{"March 4, 2024", date(2024, time.March, 4), false},
		{"Sept. 5, 2024", date(2024, time.September, 5), false},
		{"4th of July 2024", date(2024, time.July, 4), false},
		{"JANUARY 2025", date(2025, time.January, 1), true},
		{"2024-7", date(2024, time.July, 1), true},
		{"today", date(2024, time.June, 15), false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, partial, ok := parseDate(tt.raw, fixedNow)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.partial, partial)
		})
	}

	_, _, ok := parseDate("13/45/2024", fixedNow)
	assert.False(t, ok)
}

func TestProcessingEstimate(t *testing.T) {
	tr := NewTracker(Config{Estimates: map[string]Estimate{"i-9999": {MinDays: 10, MaxDays: 45}}})

	e, ok := tr.ProcessingEstimate("i-485")
	require.True(t, ok)
	assert.Equal(t, 240, e.MinDays)
	assert.Equal(t, "8-24 months", e.Description())

	custom, ok := tr.ProcessingEstimate("I-9999")
	require.True(t, ok)
	assert.Equal(t, "10-45 days", custom.Description())

	_, ok = tr.ProcessingEstimate("unknown")
	assert.False(t, ok)
}
