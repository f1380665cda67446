package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditionMatches(t *testing.T) {
	tests := []struct {
		name   string
		cond   Condition
		record FactRecord
		want   bool
	}{
		{
			name:   "equals on text",
			cond:   Condition{Field: "description", Operator: OpEquals, Value: "leak"},
			record: FactRecord{"description": "leak"},
			want:   true,
		},
		{
			name:   "equals compares numerically when both sides parse",
			cond:   Condition{Field: "age_days", Operator: OpEquals, Value: "5"},
			record: FactRecord{"age_days": 5.0},
			want:   true,
		},
		{
			name:   "equals mismatch",
			cond:   Condition{Field: "priority", Operator: OpEquals, Value: "high"},
			record: FactRecord{"priority": "low"},
			want:   false,
		},
		{
			name:   "not_equals",
			cond:   Condition{Field: "priority", Operator: OpNotEquals, Value: "high"},
			record: FactRecord{"priority": "low"},
			want:   true,
		},
		{
			name:   "contains is case-insensitive",
			cond:   Condition{Field: "description", Operator: OpContains, Value: "LEAK"},
			record: FactRecord{"description": "Water leak in unit 4"},
			want:   true,
		},
		{
			name:   "contains miss",
			cond:   Condition{Field: "description", Operator: OpContains, Value: "fire"},
			record: FactRecord{"description": "Water leak in unit 4"},
			want:   false,
		},
		{
			name:   "not_contains",
			cond:   Condition{Field: "description", Operator: OpNotContains, Value: "fire"},
			record: FactRecord{"description": "Water leak"},
			want:   true,
		},
		{
			name:   "greater_than",
			cond:   Condition{Field: "estimated_cost", Operator: OpGreaterThan, Value: 1000},
			record: FactRecord{"estimated_cost": 1500.0},
			want:   true,
		},
		{
			name:   "greater_than equal is not greater",
			cond:   Condition{Field: "estimated_cost", Operator: OpGreaterThan, Value: 1000},
			record: FactRecord{"estimated_cost": 1000.0},
			want:   false,
		},
		{
			name:   "less_than",
			cond:   Condition{Field: "age_days", Operator: OpLessThan, Value: 7},
			record: FactRecord{"age_days": 3.0},
			want:   true,
		},
		{
			name:   "less_than with numeric string in record",
			cond:   Condition{Field: "age_days", Operator: OpLessThan, Value: 7},
			record: FactRecord{"age_days": "3"},
			want:   true,
		},
		{
			name:   "in",
			cond:   Condition{Field: "priority", Operator: OpIn, Value: []interface{}{"emergency", "high"}},
			record: FactRecord{"priority": "high"},
			want:   true,
		},
		{
			name:   "in miss",
			cond:   Condition{Field: "priority", Operator: OpIn, Value: []interface{}{"emergency", "high"}},
			record: FactRecord{"priority": "low"},
			want:   false,
		},
		{
			name:   "not_in",
			cond:   Condition{Field: "source", Operator: OpNotIn, Value: []string{"phone", "voice"}},
			record: FactRecord{"source": "email"},
			want:   true,
		},
		{
			name:   "missing field fails closed",
			cond:   Condition{Field: "priority", Operator: OpEquals, Value: "high"},
			record: FactRecord{},
			want:   false,
		},
		{
			name:   "nil field value fails closed",
			cond:   Condition{Field: "priority", Operator: OpEquals, Value: "high"},
			record: FactRecord{"priority": nil},
			want:   false,
		},
		{
			name:   "unparseable number fails closed",
			cond:   Condition{Field: "estimated_cost", Operator: OpGreaterThan, Value: 1000},
			record: FactRecord{"estimated_cost": "lots"},
			want:   false,
		},
		{
			name:   "unknown operator fails closed",
			cond:   Condition{Field: "priority", Operator: Operator("matches"), Value: "high"},
			record: FactRecord{"priority": "high"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConditionMatches(tt.cond, tt.record))
		})
	}
}

func TestGroupMatches(t *testing.T) {
	record := FactRecord{"priority": "high", "source": "phone"}

	tests := []struct {
		name  string
		group ConditionGroup
		want  bool
	}{
		{
			name: "AND requires all conditions",
			group: ConditionGroup{Operator: LogicalAnd, Conditions: []Condition{
				{Field: "priority", Operator: OpEquals, Value: "high"},
				{Field: "source", Operator: OpEquals, Value: "phone"},
			}},
			want: true,
		},
		{
			name: "AND fails on one miss",
			group: ConditionGroup{Operator: LogicalAnd, Conditions: []Condition{
				{Field: "priority", Operator: OpEquals, Value: "high"},
				{Field: "source", Operator: OpEquals, Value: "email"},
			}},
			want: false,
		},
		{
			name: "OR passes on one hit",
			group: ConditionGroup{Operator: LogicalOr, Conditions: []Condition{
				{Field: "priority", Operator: OpEquals, Value: "low"},
				{Field: "source", Operator: OpEquals, Value: "phone"},
			}},
			want: true,
		},
		{
			name: "OR fails when all miss",
			group: ConditionGroup{Operator: LogicalOr, Conditions: []Condition{
				{Field: "priority", Operator: OpEquals, Value: "low"},
				{Field: "source", Operator: OpEquals, Value: "email"},
			}},
			want: false,
		},
		{
			name:  "empty group never matches",
			group: ConditionGroup{Operator: LogicalAnd, Conditions: []Condition{}},
			want:  false,
		},
		{
			name:  "empty OR group never matches",
			group: ConditionGroup{Operator: LogicalOr, Conditions: []Condition{}},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GroupMatches(tt.group, record))
		})
	}
}

func TestRuleMatches(t *testing.T) {
	record := FactRecord{"priority": "emergency", "source": "phone", "age_days": 10.0}

	t.Run("groups combine conjunctively", func(t *testing.T) {
		rule := &Rule{
			ConditionGroups: []ConditionGroup{
				{Operator: LogicalOr, Conditions: []Condition{
					{Field: "priority", Operator: OpEquals, Value: "emergency"},
					{Field: "priority", Operator: OpEquals, Value: "high"},
				}},
				{Operator: LogicalAnd, Conditions: []Condition{
					{Field: "age_days", Operator: OpGreaterThan, Value: 5},
				}},
			},
		}
		assert.True(t, RuleMatches(rule, record))
	})

	t.Run("one failing group fails the rule", func(t *testing.T) {
		rule := &Rule{
			ConditionGroups: []ConditionGroup{
				{Operator: LogicalAnd, Conditions: []Condition{
					{Field: "priority", Operator: OpEquals, Value: "emergency"},
				}},
				{Operator: LogicalAnd, Conditions: []Condition{
					{Field: "source", Operator: OpEquals, Value: "email"},
				}},
			},
		}
		assert.False(t, RuleMatches(rule, record))
	})

	t.Run("rule with no groups never matches", func(t *testing.T) {
		assert.False(t, RuleMatches(&Rule{}, record))
	})

	t.Run("rule with one empty group never matches", func(t *testing.T) {
		rule := &Rule{
			ConditionGroups: []ConditionGroup{
				{Operator: LogicalAnd, Conditions: []Condition{
					{Field: "priority", Operator: OpEquals, Value: "emergency"},
				}},
				{Operator: LogicalAnd},
			},
		}
		assert.False(t, RuleMatches(rule, record))
	})
}
