package rules

import (
	"fmt"
	"strings"

	"verdict/internal/catalog"
	"verdict/internal/constants"
)

var validRuleTypes = map[RuleType]bool{
	RuleTypePriority:     true,
	RuleTypeAssignment:   true,
	RuleTypeCapacity:     true,
	RuleTypeNotification: true,
	RuleTypeFinancial:    true,
}

// operatorLegality maps each operator to the field types it may be
// authored against. Evaluation is untyped; this is the authoring gate.
var operatorLegality = map[Operator]map[catalog.FieldType]bool{
	OpEquals:      {catalog.FieldTypeEnum: true, catalog.FieldTypeText: true, catalog.FieldTypeNumber: true},
	OpNotEquals:   {catalog.FieldTypeEnum: true, catalog.FieldTypeText: true, catalog.FieldTypeNumber: true},
	OpContains:    {catalog.FieldTypeText: true},
	OpNotContains: {catalog.FieldTypeText: true},
	OpGreaterThan: {catalog.FieldTypeNumber: true},
	OpLessThan:    {catalog.FieldTypeNumber: true},
	OpIn:          {catalog.FieldTypeEnum: true},
	OpNotIn:       {catalog.FieldTypeEnum: true},
}

// actionParamKeys is the full parameter schema per action type. Unknown
// keys are rejected so typos do not silently become dead configuration.
var actionParamKeys = map[ActionType]map[string]bool{
	ActionSetPriority: {},
	ActionAssignTo:    {"team": true},
	ActionNotify:      {"channel": true, "message": true},
	ActionEscalate:    {"reason": true},
	ActionClassify:    {},
	ActionTag:         {},
}

func ValidateCreateRule(cat *catalog.Catalog, req CreateRuleRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !validRuleTypes[req.Type] {
		return fmt.Errorf("invalid rule type: %s. Allowed: priority, assignment, capacity, notification, financial", req.Type)
	}
	if req.Priority != 0 && (req.Priority < constants.MinRulePriority || req.Priority > constants.MaxRulePriority) {
		return fmt.Errorf("priority must be between %d and %d", constants.MinRulePriority, constants.MaxRulePriority)
	}
	if len(req.ConditionGroups) == 0 {
		return fmt.Errorf("at least one condition group is required")
	}

	for i, group := range req.ConditionGroups {
		if err := validateGroup(cat, group); err != nil {
			return fmt.Errorf("condition group [%d]: %w", i, err)
		}
	}

	if len(req.Actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}
	for i, action := range req.Actions {
		if err := validateAction(cat, action); err != nil {
			return fmt.Errorf("action [%d]: %w", i, err)
		}
	}

	if err := validateABFields(req.IsABTest, req.ABVariant, req.ABTrafficSplit); err != nil {
		return err
	}

	return nil
}

func ValidateUpdateRule(cat *catalog.Catalog, req UpdateRuleRequest) error {
	if req.ExpectedVersion < 1 {
		return fmt.Errorf("expected_version is required")
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if req.Type != nil && !validRuleTypes[*req.Type] {
		return fmt.Errorf("invalid rule type: %s", *req.Type)
	}
	if req.Priority != nil && (*req.Priority < constants.MinRulePriority || *req.Priority > constants.MaxRulePriority) {
		return fmt.Errorf("priority must be between %d and %d", constants.MinRulePriority, constants.MaxRulePriority)
	}

	if req.ConditionGroups != nil {
		if len(*req.ConditionGroups) == 0 {
			return fmt.Errorf("at least one condition group is required")
		}
		for i, group := range *req.ConditionGroups {
			if err := validateGroup(cat, group); err != nil {
				return fmt.Errorf("condition group [%d]: %w", i, err)
			}
		}
	}

	if req.Actions != nil {
		if len(*req.Actions) == 0 {
			return fmt.Errorf("at least one action is required")
		}
		for i, action := range *req.Actions {
			if err := validateAction(cat, action); err != nil {
				return fmt.Errorf("action [%d]: %w", i, err)
			}
		}
	}

	// Definition changes produce a history entry; it needs a description.
	if (req.ConditionGroups != nil || req.Actions != nil) && strings.TrimSpace(req.Changes) == "" {
		return fmt.Errorf("changes description is required when conditions or actions change")
	}

	return nil
}

func validateGroup(cat *catalog.Catalog, group ConditionGroup) error {
	if group.Operator != LogicalAnd && group.Operator != LogicalOr {
		return fmt.Errorf("invalid logical operator: %s. Allowed: AND, OR", group.Operator)
	}

	// An empty group is legal but never matches; rejecting it here would
	// break round-tripping of half-authored rules from the UI.
	for i, cond := range group.Conditions {
		if err := validateCondition(cat, cond); err != nil {
			return fmt.Errorf("condition [%d]: %w", i, err)
		}
	}
	return nil
}

func validateCondition(cat *catalog.Catalog, cond Condition) error {
	field, ok := cat.Field(cond.Field)
	if !ok {
		return fmt.Errorf("unknown field: %s", cond.Field)
	}

	legal, known := operatorLegality[cond.Operator]
	if !known {
		return fmt.Errorf("unknown operator: %s", cond.Operator)
	}
	if !legal[field.Type] {
		return fmt.Errorf("operator %s is not allowed on %s field %s", cond.Operator, field.Type, cond.Field)
	}

	switch cond.Operator {
	case OpIn, OpNotIn:
		list, ok := asStringList(cond.Value)
		if !ok || len(list) == 0 {
			return fmt.Errorf("operator %s requires a non-empty list value", cond.Operator)
		}
		for _, item := range list {
			if !field.HasOption(item) {
				return fmt.Errorf("value %q is not a legal option for field %s", item, cond.Field)
			}
		}
	case OpGreaterThan, OpLessThan:
		if _, ok := toNumber(cond.Value); !ok {
			return fmt.Errorf("operator %s requires a numeric value", cond.Operator)
		}
	default:
		if field.Type == catalog.FieldTypeEnum {
			s, ok := cond.Value.(string)
			if !ok || !field.HasOption(s) {
				return fmt.Errorf("value %v is not a legal option for field %s", cond.Value, cond.Field)
			}
		}
		if textOf(cond.Value) == "" {
			return fmt.Errorf("value is required")
		}
	}

	return nil
}

func validateAction(cat *catalog.Catalog, action Action) error {
	allowedParams, known := actionParamKeys[action.Type]
	if !known {
		return fmt.Errorf("unknown action type: %s", action.Type)
	}
	if strings.TrimSpace(action.Value) == "" {
		return fmt.Errorf("action value is required")
	}

	for key := range action.Params {
		if !allowedParams[key] {
			return fmt.Errorf("unknown param %q for action %s", key, action.Type)
		}
	}

	switch action.Type {
	case ActionSetPriority:
		if field, ok := cat.Field("priority"); ok && !field.HasOption(action.Value) {
			return fmt.Errorf("invalid priority value: %s", action.Value)
		}
	case ActionClassify:
		if field, ok := cat.Field("category"); ok && !field.HasOption(action.Value) {
			return fmt.Errorf("invalid category value: %s", action.Value)
		}
	}

	return nil
}

func validateABFields(isABTest bool, variant Variant, trafficSplit float64) error {
	if !isABTest {
		return nil
	}
	if variant != VariantA && variant != VariantB {
		return fmt.Errorf("ab_variant must be A or B")
	}
	if trafficSplit < 0 || trafficSplit > 1 {
		return fmt.Errorf("ab_traffic_split must be between 0 and 1")
	}
	return nil
}

func asStringList(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
