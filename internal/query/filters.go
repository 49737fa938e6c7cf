package query

import (
	"fmt"
	"strings"

	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/internal/vector"
	"github.com/immigration-rag/backend/internal/vocab"
)

// Filters narrows a search. Entity lists match when a record mentions any
// of the values.
type Filters struct {
	FormNumbers  []string `json:"form_numbers,omitempty"`
	VisaTypes    []string `json:"visa_types,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	Countries    []string `json:"countries,omitempty"`
	ChunkType    string   `json:"chunk_type,omitempty"`
	DocumentID   string   `json:"document_id,omitempty"`
	CurrentOnly  bool     `json:"current_only,omitempty"`
	MinFreshness *float64 `json:"min_freshness,omitempty"`
}

func (f Filters) Empty() bool {
	return len(f.FormNumbers) == 0 && len(f.VisaTypes) == 0 && len(f.Requirements) == 0 &&
		len(f.Countries) == 0 && f.ChunkType == "" && f.DocumentID == "" && !f.CurrentOnly && f.MinFreshness == nil
}

// ParseFilters reads the untyped filter map accepted from callers. Unknown
// keys and values of the wrong type are rejected with ErrInvalidArgument.
func ParseFilters(raw map[string]any) (Filters, error) {
	var f Filters
	for key, value := range raw {
		var err error
		switch key {
		case "form_numbers":
			f.FormNumbers, err = stringList(key, value)
		case "visa_types":
			f.VisaTypes, err = stringList(key, value)
		case "requirements":
			f.Requirements, err = stringList(key, value)
		case "countries":
			f.Countries, err = stringList(key, value)
		case "chunk_type":
			f.ChunkType, err = stringValue(key, value)
			if err == nil && !models.ChunkType(f.ChunkType).Valid() {
				err = fmt.Errorf("%w: unknown chunk_type %q", ErrInvalidArgument, f.ChunkType)
			}
		case "document_id":
			f.DocumentID, err = stringValue(key, value)
		case "is_current", "current_only":
			b, ok := value.(bool)
			if !ok {
				err = fmt.Errorf("%w: %s must be a boolean", ErrInvalidArgument, key)
			}
			f.CurrentOnly = f.CurrentOnly || b
		case "min_freshness":
			n, ok := number(value)
			if !ok || n < 0 || n > 1 {
				err = fmt.Errorf("%w: min_freshness must be a number in [0,1]", ErrInvalidArgument)
			}
			f.MinFreshness = &n
		default:
			err = fmt.Errorf("%w: unknown filter %q", ErrInvalidArgument, key)
		}
		if err != nil {
			return Filters{}, err
		}
	}
	return f, nil
}

// canonical rewrites entity values to the vocabulary's canonical spelling so
// they match stored payloads exactly.
func (f Filters) canonical(v *vocab.Vocabulary) Filters {
	fix := func(values []string) []string {
		out := make([]string, 0, len(values))
		for _, s := range values {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, c, ok := v.Classify(s); ok {
				s = c
			}
			out = append(out, s)
		}
		return out
	}
	f.FormNumbers = fix(f.FormNumbers)
	f.VisaTypes = fix(f.VisaTypes)
	f.Requirements = fix(f.Requirements)
	f.Countries = fix(f.Countries)
	return f
}

// storeFilter builds the predicate pushed down to the vector store. Stored
// currency and freshness can only have decayed since indexing, so pushing
// them down returns a superset that is narrowed after rescoring.
func (f Filters) storeFilter() *vector.Filter {
	vf := vector.NewFilter()
	if len(f.FormNumbers) > 0 {
		vf.Where("form_numbers", vector.OpAnyOf, f.FormNumbers)
	}
	if len(f.VisaTypes) > 0 {
		vf.Where("visa_types", vector.OpAnyOf, f.VisaTypes)
	}
	if len(f.Requirements) > 0 {
		vf.Where("requirements", vector.OpAnyOf, f.Requirements)
	}
	if len(f.Countries) > 0 {
		vf.Where("countries", vector.OpAnyOf, f.Countries)
	}
	if f.ChunkType != "" {
		vf.Where("chunk_type", vector.OpEq, f.ChunkType)
	}
	if f.DocumentID != "" {
		vf.Where("document_id", vector.OpEq, f.DocumentID)
	}
	if f.CurrentOnly {
		vf.Where("is_current", vector.OpEq, true)
	}
	if f.MinFreshness != nil {
		vf.Where("freshness_score", vector.OpGte, *f.MinFreshness)
	}
	if vf.Empty() {
		return nil
	}
	return vf
}

// accept applies the time-dependent predicates to a rescored record.
func (f Filters) accept(r *models.EnrichedRecord) bool {
	if f.CurrentOnly && !r.IsCurrent {
		return false
	}
	if f.MinFreshness != nil && r.FreshnessScore < *f.MinFreshness {
		return false
	}
	return true
}

func stringList(key string, value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must contain strings", ErrInvalidArgument, key)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s must be a string or list of strings", ErrInvalidArgument, key)
}

func stringValue(key string, value any) (string, error) {
	s, ok := value.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidArgument, key)
	}
	return strings.TrimSpace(s), nil
}

func number(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
