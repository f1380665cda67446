package integration

import (
	"time"

	"verdict/internal/logger"
	"verdict/internal/rules"
)

const timestampDelay = 10 * time.Millisecond

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestRule(name string, priority int, active bool) *rules.Rule {
	return &rules.Rule{
		Name:     name,
		Type:     rules.RuleTypePriority,
		Priority: priority,
		IsActive: active,
		ConditionGroups: []rules.ConditionGroup{
			{Operator: rules.LogicalAnd, Conditions: []rules.Condition{
				{Field: "priority", Operator: rules.OpEquals, Value: "emergency"},
			}},
		},
		Actions: []rules.Action{
			{Type: rules.ActionSetPriority, Value: "emergency"},
		},
	}
}
