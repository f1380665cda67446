package rules

import "time"

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

type RuleType string

const (
	RuleTypePriority     RuleType = "priority"
	RuleTypeAssignment   RuleType = "assignment"
	RuleTypeCapacity     RuleType = "capacity"
	RuleTypeNotification RuleType = "notification"
	RuleTypeFinancial    RuleType = "financial"
)

type ActionType string

const (
	ActionSetPriority ActionType = "set_priority"
	ActionAssignTo    ActionType = "assign_to"
	ActionNotify      ActionType = "notify"
	ActionEscalate    ActionType = "escalate"
	ActionClassify    ActionType = "classify"
	ActionTag         ActionType = "tag"
)

type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
)

type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

type ConditionGroup struct {
	Operator   LogicalOperator `json:"operator"`
	Conditions []Condition     `json:"conditions"`
}

type Action struct {
	Type   ActionType        `json:"type"`
	Value  string            `json:"value"`
	Params map[string]string `json:"params,omitempty"`
}

// FactRecord is the untyped record evaluated against rules. Values come
// straight from JSON, so numbers arrive as float64 and enum values as
// strings.
type FactRecord map[string]interface{}

type Rule struct {
	ID              string           `json:"id" db:"id"`
	Name            string           `json:"name" db:"name"`
	Description     string           `json:"description" db:"description"`
	Type            RuleType         `json:"type" db:"type"`
	Priority        int              `json:"priority" db:"priority"`
	IsActive        bool             `json:"is_active" db:"is_active"`
	ConditionGroups []ConditionGroup `json:"condition_groups" db:"condition_groups"`
	Actions         []Action         `json:"actions" db:"actions"`
	Version         int              `json:"version" db:"version"`
	FireCount       int64            `json:"fire_count" db:"fire_count"`
	OverrideCount   int64            `json:"override_count" db:"override_count"`
	IsABTest        bool             `json:"is_ab_test" db:"is_ab_test"`
	ABVariant       Variant          `json:"ab_variant,omitempty" db:"ab_variant"`
	ABTrafficSplit  float64          `json:"ab_traffic_split,omitempty" db:"ab_traffic_split"`
	CreatedBy       string           `json:"created_by" db:"created_by"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

// OverrideRate is the share of fires that were manually overridden,
// the main health signal on the rule read model.
func (r *Rule) OverrideRate() float64 {
	if r.FireCount == 0 {
		return 0
	}
	return float64(r.OverrideCount) / float64(r.FireCount)
}

// RuleVersion is one entry in the append-only definition history. Only
// condition or action changes produce entries; toggles and metadata
// edits do not.
type RuleVersion struct {
	ID              string           `json:"id" db:"id"`
	RuleID          string           `json:"rule_id" db:"rule_id"`
	Version         int              `json:"version" db:"version"`
	Changes         string           `json:"changes" db:"changes"`
	ConditionGroups []ConditionGroup `json:"condition_groups" db:"condition_groups"`
	Actions         []Action         `json:"actions" db:"actions"`
	CreatedBy       string           `json:"created_by" db:"created_by"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
}

type CreateRuleRequest struct {
	Name            string           `json:"name" binding:"required"`
	Description     string           `json:"description"`
	Type            RuleType         `json:"type" binding:"required"`
	Priority        int              `json:"priority"`
	IsActive        *bool            `json:"is_active"`
	ConditionGroups []ConditionGroup `json:"condition_groups" binding:"required"`
	Actions         []Action         `json:"actions" binding:"required"`
	IsABTest        bool             `json:"is_ab_test"`
	ABVariant       Variant          `json:"ab_variant"`
	ABTrafficSplit  float64          `json:"ab_traffic_split"`
}

type UpdateRuleRequest struct {
	ExpectedVersion int               `json:"expected_version" binding:"required"`
	Name            *string           `json:"name"`
	Description     *string           `json:"description"`
	Type            *RuleType         `json:"type"`
	Priority        *int              `json:"priority"`
	IsActive        *bool             `json:"is_active"`
	ConditionGroups *[]ConditionGroup `json:"condition_groups"`
	Actions         *[]Action         `json:"actions"`
	Changes         string            `json:"changes"`
}

type RollbackRequest struct {
	TargetVersion int `json:"target_version" binding:"required"`
}

type TestRuleRequest struct {
	Rule   Rule       `json:"rule" binding:"required"`
	Record FactRecord `json:"record" binding:"required"`
}

type TestResult struct {
	Matches bool     `json:"matches"`
	Actions []Action `json:"actions"`
}

type EvaluateRequest struct {
	Record    FactRecord `json:"record" binding:"required"`
	SubjectID string     `json:"subject_id"`
}

// Decision is the outcome of evaluating one record: the matched rules in
// catalogue order and their actions, concatenated in the same order.
type Decision struct {
	MatchedRuleIDs []string `json:"matched_rule_ids"`
	Actions        []Action `json:"actions"`
}

func cloneGroups(groups []ConditionGroup) []ConditionGroup {
	if groups == nil {
		return nil
	}
	out := make([]ConditionGroup, len(groups))
	for i, g := range groups {
		conditions := make([]Condition, len(g.Conditions))
		copy(conditions, g.Conditions)
		out[i] = ConditionGroup{Operator: g.Operator, Conditions: conditions}
	}
	return out
}

func cloneActions(actions []Action) []Action {
	if actions == nil {
		return nil
	}
	out := make([]Action, len(actions))
	for i, a := range actions {
		params := make(map[string]string, len(a.Params))
		for k, v := range a.Params {
			params[k] = v
		}
		if a.Params == nil {
			params = nil
		}
		out[i] = Action{Type: a.Type, Value: a.Value, Params: params}
	}
	return out
}

func cloneRule(r *Rule) *Rule {
	clone := *r
	clone.ConditionGroups = cloneGroups(r.ConditionGroups)
	clone.Actions = cloneActions(r.Actions)
	return &clone
}
