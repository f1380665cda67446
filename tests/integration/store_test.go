package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdict/internal/rules"
	pkgerrors "verdict/pkg/errors"
)

func TestPostgresStore_CreateAndGet(t *testing.T) {
	infra := SetupTestInfra(t)
	store := rules.NewPostgresStore(infra.PostgresDB)
	ctx := context.Background()

	rule := createTestRule("emergency-priority", 80, true)
	require.NoError(t, store.Create(ctx, rule))
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, 1, rule.Version)

	got, err := store.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.Name, got.Name)
	assert.Equal(t, rule.ConditionGroups, got.ConditionGroups)
	assert.Equal(t, rule.Actions, got.Actions)
	assert.True(t, got.IsActive)

	history, err := store.GetVersionHistory(ctx, rule.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "initial version", history[0].Changes)
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	infra := SetupTestInfra(t)
	store := rules.NewPostgresStore(infra.PostgresDB)

	_, err := store.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestPostgresStore_Create_DuplicateName(t *testing.T) {
	infra := SetupTestInfra(t)
	store := rules.NewPostgresStore(infra.PostgresDB)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, createTestRule("duplicate", 50, true)))

	err := store.Create(ctx, createTestRule("duplicate", 60, true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestPostgresStore_List(t *testing.T) {
	infra := SetupTestInfra(t)
	store := rules.NewPostgresStore(infra.PostgresDB)
	ctx := context.Background()

	for _, r := range []*rules.Rule{
		createTestRule("low", 10, true),
		createTestRule("high", 90, true),
		createTestRule("disabled", 95, false),
	} {
		require.NoError(t, store.Create(ctx, r))
		time.Sleep(timestampDelay)
	}

	all, err := store.List(ctx, rules.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "disabled", all[0].Name) // priority 95
	assert.Equal(t, "high", all[1].Name)
	assert.Equal(t, "low", all[2].Name)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "high", active[0].Name)
}

func TestPostgresStore_Update_VersionBump(t *testing.T) {
	infra := SetupTestInfra(t)
	store := rules.NewPostgresStore(infra.PostgresDB)
	ctx := context.Background()

	rule := createTestRule("versioned", 50, true)
	require.NoError(t, store.Create(ctx, rule))

	newActions := []rules.Action{{Type: rules.ActionEscalate, Value: "manager", Params: map[string]string{"reason": "cost"}}}
	updated, err := store.Update(ctx, rule.ID, 1, rules.RulePatch{
		Actions:   &newActions,
		Changes:   "escalate instead",
		ChangedBy: "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, newActions, updated.Actions)

	history, err := store.GetVersionHistory(ctx, rule.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	assert.Equal(t, "escalate instead", history[0].Changes)
	assert.Equal(t, "tester", history[0].CreatedBy)
}

func TestPostgresStore_Update_MetadataOnly(t *testing.T) {
	infra := SetupTestInfra(t)
	store := rules.NewPostgresStore(infra.PostgresDB)
	ctx := context.Background()

	rule := createTestRule("metadata", 50, true)
	require.NoError(t, store.Create(ctx, rule))

	name := "renamed"
	updated, err := store.Update(ctx, rule.ID, 1, rules.RulePatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Version, "metadata edits must not bump the version")
	assert.Equal(t, "renamed", updated.Name)

	history, err := store.GetVersionHistory(ctx, rule.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPostgresStore_Update_VersionConflict(t *testing.T) {
	infra := SetupTestInfra(t)
	store := rules.NewPostgresStore(infra.PostgresDB)
	ctx := context.Background()

	rule := createTestRule("contested", 50, true)
	require.NoError(t, store.Create(ctx, rule))

	groups := []rules.ConditionGroup{{Operator: rules.LogicalOr, Conditions: []rules.Condition{
		{Field: "priority", Operator: rules.OpIn, Value: []string{"emergency", "high"}},
	}}}

	_, err := store.Update(ctx, rule.ID, 1, rules.RulePatch{ConditionGroups: &groups, Changes: "widen"})
	require.NoError(t, err)

	_, err = store.Update(ctx, rule.ID, 1, rules.RulePatch{ConditionGroups: &groups, Changes: "stale"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsVersionConflict(err))

	history, err := store.GetVersionHistory(ctx, rule.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "losing writer must not append history")
}

func TestPostgresStore_Toggle(t *testing.T) {
	infra := SetupTestInfra(t)
	store := rules.NewPostgresStore(infra.PostgresDB)
	ctx := context.Background()

	rule := createTestRule("toggled", 50, true)
	require.NoError(t, store.Create(ctx, rule))

	toggled, err := store.Toggle(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)
	assert.Equal(t, 1, toggled.Version)

	_, err = store.Toggle(ctx, "00000000-0000-0000-0000-000000000000")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestPostgresStore_Delete(t *testing.T) {
	infra := SetupTestInfra(t)
	store := rules.NewPostgresStore(infra.PostgresDB)
	ctx := context.Background()

	rule := createTestRule("doomed", 50, true)
	require.NoError(t, store.Create(ctx, rule))
	require.NoError(t, store.Delete(ctx, rule.ID))

	_, err := store.Get(ctx, rule.ID)
	assert.True(t, pkgerrors.IsNotFound(err))

	// History survives deletion.
	history, err := store.GetVersionHistory(ctx, rule.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPostgresStore_GetVersion(t *testing.T) {
	infra := SetupTestInfra(t)
	store := rules.NewPostgresStore(infra.PostgresDB)
	ctx := context.Background()

	rule := createTestRule("versioned", 50, true)
	require.NoError(t, store.Create(ctx, rule))

	v1, err := store.GetVersion(ctx, rule.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, rule.Actions, v1.Actions)
	assert.Equal(t, rule.ConditionGroups, v1.ConditionGroups)

	_, err = store.GetVersion(ctx, rule.ID, 9)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestPostgresStore_Counters(t *testing.T) {
	infra := SetupTestInfra(t)
	store := rules.NewPostgresStore(infra.PostgresDB)
	ctx := context.Background()

	rule := createTestRule("counted", 50, true)
	require.NoError(t, store.Create(ctx, rule))

	require.NoError(t, store.IncrementFireCounts(ctx, map[string]int64{rule.ID: 4}))
	require.NoError(t, store.IncrementOverrideCount(ctx, rule.ID))

	got, err := store.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.FireCount)
	assert.Equal(t, int64(1), got.OverrideCount)
	assert.InDelta(t, 0.25, got.OverrideRate(), 1e-9)
}

func TestPostgresAuditLog(t *testing.T) {
	infra := SetupTestInfra(t)
	audit := rules.NewPostgresAuditLog(infra.PostgresDB)
	ctx := context.Background()

	require.NoError(t, audit.Record(ctx, rules.AuditEntry{
		RuleID:    "rule-1",
		Action:    "create",
		NewValue:  map[string]interface{}{"name": "first"},
		ChangedBy: "tester",
	}))
	time.Sleep(timestampDelay)
	require.NoError(t, audit.Record(ctx, rules.AuditEntry{
		RuleID:       "rule-1",
		Action:       "update",
		ChangedBy:    "tester",
		ChangeReason: "tuning",
	}))
	require.NoError(t, audit.Record(ctx, rules.AuditEntry{
		RuleID:    "rule-2",
		Action:    "create",
		ChangedBy: "tester",
	}))

	entries, err := audit.List(ctx, "rule-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "update", entries[0].Action) // newest first
	assert.Equal(t, "tuning", entries[0].ChangeReason)

	all, err := audit.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
