package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Evaluation is fail-closed: a condition over a missing field, an
// unparseable number, or an unknown operator is false, never an error.
// Malformed rule data must not break the evaluation path.

func ConditionMatches(cond Condition, record FactRecord) bool {
	fieldValue, ok := record[cond.Field]
	if !ok || fieldValue == nil {
		return false
	}

	switch cond.Operator {
	case OpEquals:
		return valuesEqual(fieldValue, cond.Value)
	case OpNotEquals:
		return !valuesEqual(fieldValue, cond.Value)
	case OpContains:
		return containsFold(fieldValue, cond.Value)
	case OpNotContains:
		return !containsFold(fieldValue, cond.Value)
	case OpGreaterThan:
		f, t, ok := bothNumbers(fieldValue, cond.Value)
		return ok && f > t
	case OpLessThan:
		f, t, ok := bothNumbers(fieldValue, cond.Value)
		return ok && f < t
	case OpIn:
		return memberOf(fieldValue, cond.Value)
	case OpNotIn:
		return !memberOf(fieldValue, cond.Value)
	default:
		return false
	}
}

// GroupMatches applies the group's logical operator across its
// conditions. An empty group never matches, so a half-authored rule
// cannot silently match everything.
func GroupMatches(group ConditionGroup, record FactRecord) bool {
	if len(group.Conditions) == 0 {
		return false
	}

	if group.Operator == LogicalOr {
		for _, cond := range group.Conditions {
			if ConditionMatches(cond, record) {
				return true
			}
		}
		return false
	}

	// AND is the default for any other operator value.
	for _, cond := range group.Conditions {
		if !ConditionMatches(cond, record) {
			return false
		}
	}
	return true
}

// RuleMatches requires every group to be satisfied. Groups are always
// conjunctive with each other; OR only exists inside a group.
func RuleMatches(rule *Rule, record FactRecord) bool {
	if len(rule.ConditionGroups) == 0 {
		return false
	}
	for _, group := range rule.ConditionGroups {
		if !GroupMatches(group, record) {
			return false
		}
	}
	return true
}

// valuesEqual compares numerically when both sides parse as numbers,
// otherwise by exact text representation.
func valuesEqual(a, b interface{}) bool {
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if aok && bok {
		return af == bf
	}
	return textOf(a) == textOf(b)
}

func containsFold(field, value interface{}) bool {
	haystack := strings.ToLower(textOf(field))
	needle := strings.ToLower(textOf(value))
	if needle == "" {
		return false
	}
	return strings.Contains(haystack, needle)
}

func bothNumbers(field, value interface{}) (float64, float64, bool) {
	f, ok := toNumber(field)
	if !ok {
		return 0, 0, false
	}
	t, ok := toNumber(value)
	if !ok {
		return 0, 0, false
	}
	return f, t, true
}

func memberOf(field, value interface{}) bool {
	switch list := value.(type) {
	case []interface{}:
		for _, item := range list {
			if valuesEqual(field, item) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range list {
			if valuesEqual(field, item) {
				return true
			}
		}
		return false
	default:
		// A scalar value behaves as a one-element list.
		return valuesEqual(field, value)
	}
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func textOf(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
