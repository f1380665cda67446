package rules

import "context"

type ListFilter struct {
	Type   RuleType
	Active *bool
}

// RulePatch is a partial update. Nil fields are left untouched. Only
// patches that touch the definition (condition groups or actions) bump
// the version and append a history entry.
type RulePatch struct {
	Name            *string
	Description     *string
	Type            *RuleType
	Priority        *int
	IsActive        *bool
	ConditionGroups *[]ConditionGroup
	Actions         *[]Action
	Changes         string
	ChangedBy       string
}

func (p RulePatch) TouchesDefinition() bool {
	return p.ConditionGroups != nil || p.Actions != nil
}

// Store persists rules and their append-only version history. Update and
// Toggle enforce optimistic concurrency; counter increments are atomic
// and bypass the version check entirely.
type Store interface {
	Create(ctx context.Context, rule *Rule) error
	Get(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context, filter ListFilter) ([]Rule, error)
	ListActive(ctx context.Context) ([]Rule, error)
	Update(ctx context.Context, id string, expectedVersion int, patch RulePatch) (*Rule, error)
	Toggle(ctx context.Context, id string) (*Rule, error)
	Delete(ctx context.Context, id string) error

	GetVersion(ctx context.Context, ruleID string, version int) (*RuleVersion, error)
	GetVersionHistory(ctx context.Context, ruleID string) ([]RuleVersion, error)

	IncrementFireCounts(ctx context.Context, counts map[string]int64) error
	IncrementOverrideCount(ctx context.Context, ruleID string) error
}
