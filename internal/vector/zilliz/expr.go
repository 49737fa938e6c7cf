package zilliz

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/immigration-rag/backend/internal/vector"
)

// columns are stored outside the JSON payload and can be addressed
// directly in boolean expressions.
var columns = map[string]bool{
	fieldID:           true,
	"document_id":     true,
	"chunk_type":      true,
	"chunk_index":     true,
	"is_current":      true,
	"freshness_score": true,
}

// Expr renders a filter as a Milvus boolean expression. List fields live in
// the payload and match exactly, so callers should pass canonical values.
func Expr(f *vector.Filter) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	if f.Empty() {
		return "", nil
	}

	parts := make([]string, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		kind := vector.Fields[c.Field]
		ref := c.Field
		if !columns[c.Field] {
			ref = fmt.Sprintf("%s[%q]", fieldPayload, c.Field)
		}

		var part string
		switch {
		case kind == vector.KindStringList && c.Op == vector.OpEq:
			part = fmt.Sprintf("json_contains(%s, %s)", ref, strconv.Quote(c.Value.(string)))
		case kind == vector.KindStringList && c.Op == vector.OpAnyOf:
			part = fmt.Sprintf("json_contains_any(%s, %s)", ref, stringList(c.Value.([]string)))
		case c.Op == vector.OpEq:
			part = fmt.Sprintf("%s == %s", ref, literal(c.Value))
		case c.Op == vector.OpAnyOf:
			part = fmt.Sprintf("%s in %s", ref, listLiteral(c.Value))
		case c.Op == vector.OpNotIn:
			part = fmt.Sprintf("%s not in %s", ref, listLiteral(c.Value))
		case c.Op == vector.OpGte:
			part = fmt.Sprintf("%s >= %s", ref, literal(c.Value))
		case c.Op == vector.OpLte:
			part = fmt.Sprintf("%s <= %s", ref, literal(c.Value))
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " && "), nil
}

func literal(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func listLiteral(v any) string {
	switch x := v.(type) {
	case []string:
		return stringList(x)
	case []int:
		items := make([]string, len(x))
		for i, n := range x {
			items[i] = strconv.Itoa(n)
		}
		return "[" + strings.Join(items, ", ") + "]"
	}
	return "[]"
}

func stringList(values []string) string {
	items := make([]string, len(values))
	for i, s := range values {
		items[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(items, ", ") + "]"
}
