package services

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	domain "github.com/shopforge/engine/internal/domain"
)

// LookupPath resolves a dot-separated path inside a JSON-like payload. Numeric segments index
// into lists.
func LookupPath(payload map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" || payload == nil {
		return nil, false
	}
	var current any = payload
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// EvaluateConditions folds the condition chain left to right. Each condition after the first
// joins the running result with its own logical operator; there is no precedence grouping.
// An empty chain passes.
func EvaluateConditions(conditions []domain.AutomationCondition, payload map[string]any) bool {
	if len(conditions) == 0 {
		return true
	}
	result := EvaluateCondition(conditions[0], payload)
	for _, cond := range conditions[1:] {
		next := EvaluateCondition(cond, payload)
		if cond.LogicalOperator == domain.LogicalOr {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result
}

// EvaluateCondition applies one condition. A missing field fails closed for every operator,
// including the negated ones.
func EvaluateCondition(cond domain.AutomationCondition, payload map[string]any) bool {
	actual, ok := LookupPath(payload, cond.Field)
	if !ok {
		return false
	}
	switch cond.Operator {
	case domain.ConditionEquals:
		return valuesEqual(actual, cond.Value)
	case domain.ConditionNotEquals:
		return !valuesEqual(actual, cond.Value)
	case domain.ConditionGreaterThan:
		a, okA := toFloat(actual)
		b, okB := toFloat(cond.Value)
		return okA && okB && a > b
	case domain.ConditionLessThan:
		a, okA := toFloat(actual)
		b, okB := toFloat(cond.Value)
		return okA && okB && a < b
	case domain.ConditionContains:
		return containsValue(actual, cond.Value)
	case domain.ConditionNotContains:
		return !containsValue(actual, cond.Value)
	case domain.ConditionIn:
		return inList(actual, cond.Value)
	case domain.ConditionNotIn:
		list, ok := asList(cond.Value)
		return ok && !inList(actual, list)
	}
	return false
}

// MatchesFilters reports whether every trigger filter equals the payload value at its path.
func MatchesFilters(filters map[string]any, payload map[string]any) bool {
	for path, want := range filters {
		actual, ok := LookupPath(payload, path)
		if !ok || !valuesEqual(actual, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares strings exactly and numbers numerically; a numeric string equals the
// number it spells.
func valuesEqual(a, b any) bool {
	sa, aString := a.(string)
	sb, bString := b.(string)
	if aString && bString {
		return sa == sb
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if aString || bString {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// containsValue is substring containment for strings and element membership for lists.
func containsValue(actual, want any) bool {
	switch v := actual.(type) {
	case string:
		s, ok := want.(string)
		if !ok {
			s = fmt.Sprint(want)
		}
		return strings.Contains(v, s)
	case []any:
		for _, item := range v {
			if valuesEqual(item, want) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range v {
			if valuesEqual(item, want) {
				return true
			}
		}
	}
	return false
}

func inList(actual, list any) bool {
	items, ok := asList(list)
	if !ok {
		return false
	}
	for _, item := range items {
		if valuesEqual(actual, item) {
			return true
		}
	}
	return false
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
