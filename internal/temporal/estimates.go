package temporal

import (
	"fmt"
	"strings"
)

// Estimate is a processing-time range in days.
type Estimate struct {
	MinDays int `json:"min_days" mapstructure:"minDays"`
	MaxDays int `json:"max_days" mapstructure:"maxDays"`
}

func (e Estimate) Description() string {
	if e.MaxDays < 60 {
		return fmt.Sprintf("%d-%d days", e.MinDays, e.MaxDays)
	}
	return fmt.Sprintf("%d-%d months", e.MinDays/30, e.MaxDays/30)
}

// DefaultEstimates are typical published processing ranges, keyed by the
// upper-cased canonical entity.
func DefaultEstimates() map[string]Estimate {
	return map[string]Estimate{
		"I-130":          {MinDays: 150, MaxDays: 450},
		"I-129":          {MinDays: 30, MaxDays: 180},
		"I-129F":         {MinDays: 180, MaxDays: 450},
		"I-131":          {MinDays: 90, MaxDays: 300},
		"I-140":          {MinDays: 120, MaxDays: 360},
		"I-485":          {MinDays: 240, MaxDays: 720},
		"I-751":          {MinDays: 360, MaxDays: 720},
		"I-765":          {MinDays: 60, MaxDays: 210},
		"I-90":           {MinDays: 150, MaxDays: 420},
		"N-400":          {MinDays: 180, MaxDays: 420},
		"DS-160":         {MinDays: 7, MaxDays: 90},
		"DS-260":         {MinDays: 60, MaxDays: 365},
		"H-1B":           {MinDays: 90, MaxDays: 240},
		"F-1":            {MinDays: 14, MaxDays: 90},
		"K-1":            {MinDays: 270, MaxDays: 540},
		"STUDENT VISA":   {MinDays: 14, MaxDays: 90},
		"GREEN CARD":     {MinDays: 240, MaxDays: 900},
		"NATURALIZATION": {MinDays: 180, MaxDays: 420},
		"EXPRESS ENTRY":  {MinDays: 120, MaxDays: 240},
	}
}

// ProcessingEstimate looks up the typical processing range for entity.
func (t *Tracker) ProcessingEstimate(entity string) (Estimate, bool) {
	e, ok := t.estimates[strings.ToUpper(strings.TrimSpace(entity))]
	return e, ok
}
