package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "verdict/pkg/errors"
)

func newTestRule() *Rule {
	return &Rule{
		Name:     "emergency-priority",
		Type:     RuleTypePriority,
		Priority: 80,
		IsActive: true,
		ConditionGroups: []ConditionGroup{
			{Operator: LogicalAnd, Conditions: []Condition{
				{Field: "priority", Operator: OpEquals, Value: "emergency"},
			}},
		},
		Actions: []Action{
			{Type: ActionSetPriority, Value: "emergency"},
		},
	}
}

func TestMemoryStoreCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rule := newTestRule()
	require.NoError(t, store.Create(ctx, rule))

	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, 1, rule.Version)

	history, err := store.GetVersionHistory(ctx, rule.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, "initial version", history[0].Changes)
}

func TestMemoryStoreCreate_DuplicateID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rule := newTestRule()
	require.NoError(t, store.Create(ctx, rule))

	dup := newTestRule()
	dup.ID = rule.ID
	err := store.Create(ctx, dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("definition change bumps the version", func(t *testing.T) {
		store := NewMemoryStore()
		rule := newTestRule()
		require.NoError(t, store.Create(ctx, rule))

		newActions := []Action{{Type: ActionEscalate, Value: "manager", Params: map[string]string{"reason": "cost"}}}
		updated, err := store.Update(ctx, rule.ID, 1, RulePatch{
			Actions: &newActions,
			Changes: "escalate instead",
		})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)

		history, err := store.GetVersionHistory(ctx, rule.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, 2, history[0].Version)
		assert.Equal(t, "escalate instead", history[0].Changes)
	})

	t.Run("metadata change does not bump the version", func(t *testing.T) {
		store := NewMemoryStore()
		rule := newTestRule()
		require.NoError(t, store.Create(ctx, rule))

		name := "renamed"
		priority := 10
		updated, err := store.Update(ctx, rule.ID, 1, RulePatch{Name: &name, Priority: &priority})
		require.NoError(t, err)
		assert.Equal(t, 1, updated.Version)
		assert.Equal(t, "renamed", updated.Name)

		history, err := store.GetVersionHistory(ctx, rule.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		store := NewMemoryStore()
		rule := newTestRule()
		require.NoError(t, store.Create(ctx, rule))

		groups := []ConditionGroup{{Operator: LogicalOr, Conditions: []Condition{
			{Field: "priority", Operator: OpIn, Value: []string{"emergency", "high"}},
		}}}
		_, err := store.Update(ctx, rule.ID, 1, RulePatch{ConditionGroups: &groups, Changes: "widen"})
		require.NoError(t, err)

		_, err = store.Update(ctx, rule.ID, 1, RulePatch{ConditionGroups: &groups, Changes: "late writer"})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsVersionConflict(err))

		// The losing write must not have touched the history.
		history, err := store.GetVersionHistory(ctx, rule.ID)
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})

	t.Run("unknown rule", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Update(ctx, "missing", 1, RulePatch{})
		assert.True(t, pkgerrors.IsNotFound(err))
	})
}

func TestMemoryStoreToggle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rule := newTestRule()
	require.NoError(t, store.Create(ctx, rule))

	toggled, err := store.Toggle(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)
	assert.Equal(t, 1, toggled.Version, "toggling must not bump the version")

	toggled, err = store.Toggle(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, toggled.IsActive)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rule := newTestRule()
	require.NoError(t, store.Create(ctx, rule))

	require.NoError(t, store.Delete(ctx, rule.ID))

	_, err := store.Get(ctx, rule.ID)
	assert.True(t, pkgerrors.IsNotFound(err))

	// History survives the delete.
	history, err := store.GetVersionHistory(ctx, rule.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	assert.True(t, pkgerrors.IsNotFound(store.Delete(ctx, rule.ID)))
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	low := newTestRule()
	low.Name = "low"
	low.Priority = 10
	require.NoError(t, store.Create(ctx, low))

	high := newTestRule()
	high.Name = "high"
	high.Priority = 90
	require.NoError(t, store.Create(ctx, high))

	inactive := newTestRule()
	inactive.Name = "inactive"
	inactive.Priority = 95
	inactive.IsActive = false
	require.NoError(t, store.Create(ctx, inactive))

	assignment := newTestRule()
	assignment.Name = "assignment"
	assignment.Type = RuleTypeAssignment
	assignment.Priority = 50
	require.NoError(t, store.Create(ctx, assignment))

	all, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "inactive", all[0].Name)
	assert.Equal(t, "high", all[1].Name)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "high", active[0].Name)
	assert.Equal(t, "assignment", active[1].Name)
	assert.Equal(t, "low", active[2].Name)

	byType, err := store.List(ctx, ListFilter{Type: RuleTypeAssignment})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "assignment", byType[0].Name)
}

func TestMemoryStoreCounters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rule := newTestRule()
	require.NoError(t, store.Create(ctx, rule))

	require.NoError(t, store.IncrementFireCounts(ctx, map[string]int64{
		rule.ID:   3,
		"deleted": 5, // silently dropped
	}))
	require.NoError(t, store.IncrementOverrideCount(ctx, rule.ID))

	got, err := store.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.FireCount)
	assert.Equal(t, int64(1), got.OverrideCount)
	assert.InDelta(t, 1.0/3.0, got.OverrideRate(), 1e-9)

	assert.True(t, pkgerrors.IsNotFound(store.IncrementOverrideCount(ctx, "missing")))
}

func TestMemoryStoreGetVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rule := newTestRule()
	require.NoError(t, store.Create(ctx, rule))

	v1, err := store.GetVersion(ctx, rule.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, rule.Actions, v1.Actions)

	_, err = store.GetVersion(ctx, rule.ID, 9)
	assert.True(t, pkgerrors.IsNotFound(err))
}
