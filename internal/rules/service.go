package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"verdict/internal/catalog"
	"verdict/internal/constants"
	"verdict/internal/logger"
	pkgerrors "verdict/pkg/errors"
	"verdict/pkg/logging"
	"verdict/pkg/metrics"
)

// Service is the authoring and evaluation surface exposed to handlers.
type Service interface {
	CreateRule(ctx context.Context, req CreateRuleRequest) (*Rule, error)
	GetRule(ctx context.Context, id string) (*Rule, error)
	ListRules(ctx context.Context, filter ListFilter) ([]Rule, error)
	UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*Rule, error)
	ToggleRule(ctx context.Context, id string) (*Rule, error)
	RollbackRule(ctx context.Context, id string, targetVersion int) (*Rule, error)
	DeleteRule(ctx context.Context, id string) error

	GetVersionHistory(ctx context.Context, ruleID string) ([]RuleVersion, error)
	GetAuditLogs(ctx context.Context, ruleID string, limit int) ([]AuditEntry, error)

	TestRule(ctx context.Context, req TestRuleRequest) (TestResult, error)
	Evaluate(ctx context.Context, req EvaluateRequest) (*Decision, error)
	ReportOverride(ctx context.Context, ruleID string) error

	Fields(ctx context.Context) []catalog.Field
}

type service struct {
	store   Store
	catalog *catalog.Catalog
	engine  *Engine
	audit   AuditLog
	events  *EventPublisher
	logger  logger.Logger
}

type ServiceOption func(*service)

func WithAudit(audit AuditLog) ServiceOption {
	return func(s *service) {
		s.audit = audit
	}
}

func WithEvents(events *EventPublisher) ServiceOption {
	return func(s *service) {
		s.events = events
	}
}

func WithServiceLogger(log logger.Logger) ServiceOption {
	return func(s *service) {
		s.logger = log
	}
}

func NewService(store Store, cat *catalog.Catalog, engine *Engine, opts ...ServiceOption) Service {
	s := &service{
		store:   store,
		catalog: cat,
		engine:  engine,
		logger:  logger.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *service) CreateRule(ctx context.Context, req CreateRuleRequest) (*Rule, error) {
	if err := ValidateCreateRule(s.catalog, req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	rule := &Rule{
		Name:            req.Name,
		Description:     req.Description,
		Type:            req.Type,
		Priority:        req.Priority,
		IsActive:        getActiveValue(req.IsActive),
		ConditionGroups: cloneGroups(req.ConditionGroups),
		Actions:         cloneActions(req.Actions),
		IsABTest:        req.IsABTest,
		ABVariant:       req.ABVariant,
		ABTrafficSplit:  req.ABTrafficSplit,
		CreatedBy:       getActor(ctx),
	}
	if rule.Priority == 0 {
		rule.Priority = constants.DefaultRulePriority
	}

	if err := s.store.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, rule.ID, "create", nil, rule, "")
	s.publishEvent(ctx, EventRuleCreated, rule)

	s.logger.InfowCtx(ctx, "Rule created",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
	)
	return rule, nil
}

func (s *service) GetRule(ctx context.Context, id string) (*Rule, error) {
	return s.store.Get(ctx, id)
}

func (s *service) ListRules(ctx context.Context, filter ListFilter) ([]Rule, error) {
	return s.store.List(ctx, filter)
}

func (s *service) UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*Rule, error) {
	if err := ValidateUpdateRule(s.catalog, req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	before, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	patch := RulePatch{
		Name:            req.Name,
		Description:     req.Description,
		Type:            req.Type,
		Priority:        req.Priority,
		IsActive:        req.IsActive,
		ConditionGroups: req.ConditionGroups,
		Actions:         req.Actions,
		Changes:         req.Changes,
		ChangedBy:       getActor(ctx),
	}

	rule, err := s.store.Update(ctx, id, req.ExpectedVersion, patch)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, rule.ID, "update", before, rule, req.Changes)
	s.publishEvent(ctx, EventRuleUpdated, rule)

	return rule, nil
}

// ToggleRule flips the active flag. Toggling is not a definition change,
// so the version stays put and no history entry is written.
func (s *service) ToggleRule(ctx context.Context, id string) (*Rule, error) {
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rule, err := s.store.Toggle(ctx, id)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, rule.ID, "toggle", before, rule, "")
	s.publishEvent(ctx, EventRuleToggled, rule)

	s.logger.InfowCtx(ctx, "Rule toggled",
		"rule_id", rule.ID,
		"is_active", rule.IsActive,
	)
	return rule, nil
}

// RollbackRule copies an old definition forward as a brand-new version.
// History stays append-only: rolling back from v5 to v2 produces v6 with
// v2's conditions and actions.
func (s *service) RollbackRule(ctx context.Context, id string, targetVersion int) (*Rule, error) {
	if targetVersion < 1 {
		return nil, pkgerrors.Validation("target_version must be at least 1")
	}

	before, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if targetVersion == before.Version {
		return nil, pkgerrors.Validation("rule is already at version %d", targetVersion)
	}

	target, err := s.store.GetVersion(ctx, id, targetVersion)
	if err != nil {
		return nil, err
	}

	patch := RulePatch{
		ConditionGroups: &target.ConditionGroups,
		Actions:         &target.Actions,
		Changes:         fmt.Sprintf("Rollback to version %d", targetVersion),
		ChangedBy:       getActor(ctx),
	}

	rule, err := s.store.Update(ctx, id, before.Version, patch)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, rule.ID, "rollback", before, rule, patch.Changes)
	s.publishEvent(ctx, EventRuleRolledBack, rule)

	s.logger.InfowCtx(ctx, "Rule rolled back",
		"rule_id", rule.ID,
		"target_version", targetVersion,
		"new_version", rule.Version,
	)
	return rule, nil
}

func (s *service) DeleteRule(ctx context.Context, id string) error {
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.recordAudit(ctx, id, "delete", before, nil, "")
	s.publishEvent(ctx, EventRuleDeleted, before)

	s.logger.InfowCtx(ctx, "Rule deleted",
		"rule_id", id,
	)
	return nil
}

func (s *service) GetVersionHistory(ctx context.Context, ruleID string) ([]RuleVersion, error) {
	if _, err := s.store.Get(ctx, ruleID); err != nil {
		return nil, err
	}
	return s.store.GetVersionHistory(ctx, ruleID)
}

func (s *service) GetAuditLogs(ctx context.Context, ruleID string, limit int) ([]AuditEntry, error) {
	if s.audit == nil {
		return nil, pkgerrors.ErrInternal.WithDetail("message", "audit logging not enabled")
	}
	return s.audit.List(ctx, ruleID, limit)
}

func (s *service) TestRule(ctx context.Context, req TestRuleRequest) (TestResult, error) {
	return s.engine.Test(ctx, &req.Rule, req.Record), nil
}

func (s *service) Evaluate(ctx context.Context, req EvaluateRequest) (*Decision, error) {
	return s.engine.Evaluate(ctx, req.Record, req.SubjectID)
}

// ReportOverride records that a human reversed this rule's outcome. The
// counter feeds the override rate on the rule read model.
func (s *service) ReportOverride(ctx context.Context, ruleID string) error {
	if err := s.store.IncrementOverrideCount(ctx, ruleID); err != nil {
		return err
	}
	metrics.IncRuleOverride(ruleID)
	return nil
}

func (s *service) Fields(ctx context.Context) []catalog.Field {
	return s.catalog.Fields()
}

func (s *service) recordAudit(ctx context.Context, ruleID, action string, before, after *Rule, reason string) {
	if s.audit == nil {
		return
	}

	entry := AuditEntry{
		RuleID:       ruleID,
		Action:       action,
		OldValue:     ruleToMap(before),
		NewValue:     ruleToMap(after),
		ChangedBy:    getActor(ctx),
		ChangeReason: reason,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to record audit entry",
			"rule_id", ruleID,
			"action", action,
			"error", err,
		)
	}
}

func (s *service) publishEvent(ctx context.Context, action string, rule *Rule) {
	if s.events != nil {
		s.events.Publish(ctx, action, rule, getActor(ctx))
	}
}

func ruleToMap(rule *Rule) map[string]interface{} {
	if rule == nil {
		return nil
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func getActiveValue(reqActive *bool) bool {
	if reqActive == nil {
		return true
	}
	return *reqActive
}

func getActor(ctx context.Context) string {
	if actor := logging.GetActor(ctx); actor != "" {
		return actor
	}
	return "system"
}
