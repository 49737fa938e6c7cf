package vector

import (
	"fmt"
	"strings"

	"github.com/immigration-rag/backend/internal/storage/models"
)

type Op string

const (
	OpEq    Op = "eq"
	OpAnyOf Op = "any_of"
	OpNotIn Op = "not_in"
	OpGte   Op = "gte"
	OpLte   Op = "lte"
)

type FieldKind int

const (
	KindString FieldKind = iota
	KindStringList
	KindBool
	KindInt
	KindFloat
)

// Fields lists the payload fields a filter may reference.
var Fields = map[string]FieldKind{
	"id":               KindString,
	"document_id":      KindString,
	"source_url":       KindString,
	"chunk_type":       KindString,
	"section_title":    KindString,
	"chunk_index":      KindInt,
	"confidence_score": KindFloat,
	"is_current":       KindBool,
	"freshness_score":  KindFloat,
	"form_numbers":     KindStringList,
	"visa_types":       KindStringList,
	"requirements":     KindStringList,
	"fees":             KindStringList,
	"countries":        KindStringList,
}

// Condition is one predicate on a payload field. Value is a string, bool,
// int, float64, []string or []int depending on the field and operator.
// On list fields OpEq and OpAnyOf test membership, ignoring case.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. A nil filter matches everything.
type Filter struct {
	Conditions []Condition
}

func NewFilter() *Filter {
	return &Filter{}
}

func (f *Filter) Where(field string, op Op, value any) *Filter {
	f.Conditions = append(f.Conditions, Condition{Field: field, Op: op, Value: value})
	return f
}

func (f *Filter) Empty() bool {
	return f == nil || len(f.Conditions) == 0
}

// Validate checks every condition against the field table.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	for _, c := range f.Conditions {
		kind, ok := Fields[c.Field]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, c.Field)
		}
		if err := validateCondition(kind, c); err != nil {
			return err
		}
	}
	return nil
}

func validateCondition(kind FieldKind, c Condition) error {
	bad := func() error {
		return fmt.Errorf("%w: %s %s %v", ErrInvalidFilter, c.Field, c.Op, c.Value)
	}

	switch c.Op {
	case OpEq:
		switch kind {
		case KindString, KindStringList:
			if _, ok := c.Value.(string); !ok {
				return bad()
			}
		case KindBool:
			if _, ok := c.Value.(bool); !ok {
				return bad()
			}
		case KindInt:
			if _, ok := c.Value.(int); !ok {
				return bad()
			}
		case KindFloat:
			if _, ok := toFloat(c.Value); !ok {
				return bad()
			}
		}
	case OpAnyOf, OpNotIn:
		switch kind {
		case KindString, KindStringList:
			if _, ok := c.Value.([]string); !ok {
				return bad()
			}
		case KindInt:
			if _, ok := c.Value.([]int); !ok {
				return bad()
			}
		default:
			return bad()
		}
		if c.Op == OpNotIn && kind == KindStringList {
			return bad()
		}
	case OpGte, OpLte:
		if kind != KindInt && kind != KindFloat {
			return bad()
		}
		if _, ok := toFloat(c.Value); !ok {
			return bad()
		}
	default:
		return bad()
	}
	return nil
}

// Matches evaluates f against a payload. The filter must be valid.
func (f *Filter) Matches(r *models.EnrichedRecord) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Conditions {
		if !c.matches(r) {
			return false
		}
	}
	return true
}

func (c Condition) matches(r *models.EnrichedRecord) bool {
	switch v := fieldValue(r, c.Field).(type) {
	case string:
		switch c.Op {
		case OpEq:
			return v == c.Value.(string)
		case OpAnyOf:
			return containsString(c.Value.([]string), v, false)
		case OpNotIn:
			return !containsString(c.Value.([]string), v, false)
		}
	case []string:
		switch c.Op {
		case OpEq:
			return containsString(v, c.Value.(string), true)
		case OpAnyOf:
			for _, want := range c.Value.([]string) {
				if containsString(v, want, true) {
					return true
				}
			}
			return false
		}
	case bool:
		return c.Op == OpEq && v == c.Value.(bool)
	case int:
		switch c.Op {
		case OpEq:
			return v == c.Value.(int)
		case OpAnyOf, OpNotIn:
			found := false
			for _, x := range c.Value.([]int) {
				if x == v {
					found = true
					break
				}
			}
			return found == (c.Op == OpAnyOf)
		default:
			return compare(float64(v), c)
		}
	case float64:
		if c.Op == OpEq {
			want, _ := toFloat(c.Value)
			return v == want
		}
		return compare(v, c)
	}
	return false
}

func compare(v float64, c Condition) bool {
	bound, _ := toFloat(c.Value)
	if c.Op == OpGte {
		return v >= bound
	}
	return v <= bound
}

func fieldValue(r *models.EnrichedRecord, field string) any {
	switch field {
	case "id":
		return r.ID
	case "document_id":
		return r.DocumentID
	case "source_url":
		return r.SourceURL
	case "chunk_type":
		return string(r.ChunkType)
	case "section_title":
		return r.SectionTitle
	case "chunk_index":
		return r.ChunkIndex
	case "confidence_score":
		return r.ConfidenceScore
	case "is_current":
		return r.IsCurrent
	case "freshness_score":
		return r.FreshnessScore
	case "form_numbers":
		return r.FormNumbers
	case "visa_types":
		return r.VisaTypes
	case "requirements":
		return r.Requirements
	case "fees":
		return r.Fees
	case "countries":
		return r.Countries
	}
	return nil
}

func containsString(list []string, want string, fold bool) bool {
	for _, s := range list {
		if s == want || (fold && strings.EqualFold(s, want)) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
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
