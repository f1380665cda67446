package rules

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdict/internal/broker"
	"verdict/internal/catalog"
	"verdict/internal/logger"
	pkgerrors "verdict/pkg/errors"
	"verdict/pkg/logging"
)

type capturingProducer struct {
	mu     sync.Mutex
	events []broker.RuleEvent
}

func (p *capturingProducer) Publish(ctx context.Context, topic string, event broker.RuleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingProducer) Close() error { return nil }

func (p *capturingProducer) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Action
	}
	return out
}

func newTestService(t *testing.T) (Service, *MemoryStore, *MemoryAuditLog, *capturingProducer) {
	t.Helper()

	store := NewMemoryStore()
	audit := NewMemoryAuditLog()
	producer := &capturingProducer{}
	engine := NewEngine(NewStoreProvider(store),
		WithFireSink(NewStoreFireSink(store, logger.NopLogger())),
	)

	svc := NewService(store, catalog.Default(), engine,
		WithAudit(audit),
		WithEvents(NewEventPublisher(producer, "rule_events", logger.NopLogger())),
	)
	return svc, store, audit, producer
}

func TestServiceCreateRule(t *testing.T) {
	ctx := logging.WithActor(context.Background(), "ops@example.com")
	svc, _, audit, producer := newTestService(t)

	rule, err := svc.CreateRule(ctx, CreateRuleRequest{
		Name: "emergency-priority",
		Type: RuleTypePriority,
		ConditionGroups: []ConditionGroup{
			{Operator: LogicalAnd, Conditions: []Condition{
				{Field: "priority", Operator: OpEquals, Value: "emergency"},
			}},
		},
		Actions: []Action{{Type: ActionSetPriority, Value: "emergency"}},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, 1, rule.Version)
	assert.True(t, rule.IsActive, "rules default to active")
	assert.Equal(t, 50, rule.Priority, "priority defaults when omitted")
	assert.Equal(t, "ops@example.com", rule.CreatedBy)

	entries, err := audit.List(ctx, rule.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "create", entries[0].Action)
	assert.Equal(t, "ops@example.com", entries[0].ChangedBy)

	assert.Equal(t, []string{EventRuleCreated}, producer.actions())
}

func TestServiceCreateRuleValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _, producer := newTestService(t)

	_, err := svc.CreateRule(ctx, CreateRuleRequest{Name: "bad", Type: "nope"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Empty(t, producer.actions(), "no event for a rejected create")
}

func TestServiceUpdateRule(t *testing.T) {
	ctx := context.Background()
	svc, _, audit, producer := newTestService(t)

	rule := mustCreateRule(t, svc)

	newActions := []Action{{Type: ActionNotify, Value: "ops", Params: map[string]string{"channel": "pager"}}}
	updated, err := svc.UpdateRule(ctx, rule.ID, UpdateRuleRequest{
		ExpectedVersion: 1,
		Actions:         &newActions,
		Changes:         "page instead of reprioritizing",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	// Losing writer with the stale version gets a conflict.
	_, err = svc.UpdateRule(ctx, rule.ID, UpdateRuleRequest{
		ExpectedVersion: 1,
		Actions:         &newActions,
		Changes:         "stale",
	})
	assert.True(t, pkgerrors.IsVersionConflict(err))

	entries, err := audit.List(ctx, rule.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2) // create + update
	assert.Equal(t, "update", entries[0].Action)
	assert.Equal(t, "page instead of reprioritizing", entries[0].ChangeReason)

	assert.Equal(t, []string{EventRuleCreated, EventRuleUpdated}, producer.actions())
}

func TestServiceToggleRule(t *testing.T) {
	ctx := context.Background()
	svc, _, _, producer := newTestService(t)

	rule := mustCreateRule(t, svc)

	toggled, err := svc.ToggleRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)
	assert.Equal(t, 1, toggled.Version)

	history, err := svc.GetVersionHistory(ctx, rule.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "toggle writes no history entry")

	assert.Equal(t, []string{EventRuleCreated, EventRuleToggled}, producer.actions())
}

func TestServiceRollbackRule(t *testing.T) {
	ctx := context.Background()
	svc, _, _, producer := newTestService(t)

	rule := mustCreateRule(t, svc)
	originalActions := rule.Actions

	newActions := []Action{{Type: ActionEscalate, Value: "manager", Params: map[string]string{"reason": "cost"}}}
	updated, err := svc.UpdateRule(ctx, rule.ID, UpdateRuleRequest{
		ExpectedVersion: 1,
		Actions:         &newActions,
		Changes:         "escalate",
	})
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)

	rolledBack, err := svc.RollbackRule(ctx, rule.ID, 1)
	require.NoError(t, err)

	// Rollback is append-only: v1's definition comes forward as v3.
	assert.Equal(t, 3, rolledBack.Version)
	assert.Equal(t, originalActions, rolledBack.Actions)

	history, err := svc.GetVersionHistory(ctx, rule.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "Rollback to version 1", history[0].Changes)

	assert.Equal(t, []string{EventRuleCreated, EventRuleUpdated, EventRuleRolledBack}, producer.actions())
}

func TestServiceRollbackRuleErrors(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	rule := mustCreateRule(t, svc)

	_, err := svc.RollbackRule(ctx, rule.ID, 0)
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = svc.RollbackRule(ctx, rule.ID, 1)
	assert.True(t, pkgerrors.IsValidation(err), "cannot roll back to the current version")

	_, err = svc.RollbackRule(ctx, rule.ID, 7)
	assert.True(t, pkgerrors.IsNotFound(err))

	_, err = svc.RollbackRule(ctx, "missing", 1)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestServiceDeleteRule(t *testing.T) {
	ctx := context.Background()
	svc, _, audit, producer := newTestService(t)

	rule := mustCreateRule(t, svc)
	require.NoError(t, svc.DeleteRule(ctx, rule.ID))

	_, err := svc.GetRule(ctx, rule.ID)
	assert.True(t, pkgerrors.IsNotFound(err))

	entries, err := audit.List(ctx, rule.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "delete", entries[0].Action)

	assert.Equal(t, []string{EventRuleCreated, EventRuleDeleted}, producer.actions())
}

func TestServiceReportOverride(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService(t)

	rule := mustCreateRule(t, svc)
	require.NoError(t, svc.ReportOverride(ctx, rule.ID))
	require.NoError(t, svc.ReportOverride(ctx, rule.ID))

	got, err := store.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.OverrideCount)

	assert.True(t, pkgerrors.IsNotFound(svc.ReportOverride(ctx, "missing")))
}

func TestServiceEvaluateAndTest(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	rule := mustCreateRule(t, svc)

	decision, err := svc.Evaluate(ctx, EvaluateRequest{
		Record: FactRecord{"priority": "emergency"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{rule.ID}, decision.MatchedRuleIDs)

	result, err := svc.TestRule(ctx, TestRuleRequest{
		Rule:   *rule,
		Record: FactRecord{"priority": "low"},
	})
	require.NoError(t, err)
	assert.False(t, result.Matches)
}

func TestServiceFields(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	fields := svc.Fields(context.Background())
	assert.NotEmpty(t, fields)
}

func mustCreateRule(t *testing.T, svc Service) *Rule {
	t.Helper()

	rule, err := svc.CreateRule(context.Background(), CreateRuleRequest{
		Name:     "emergency-priority",
		Type:     RuleTypePriority,
		Priority: 80,
		ConditionGroups: []ConditionGroup{
			{Operator: LogicalAnd, Conditions: []Condition{
				{Field: "priority", Operator: OpEquals, Value: "emergency"},
			}},
		},
		Actions: []Action{{Type: ActionSetPriority, Value: "emergency"}},
	})
	require.NoError(t, err)
	return rule
}
