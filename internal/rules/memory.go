package rules

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"verdict/pkg/errors"
)

// MemoryStore is the full Store contract over process memory. It backs
// unit tests and single-node deployments without PostgreSQL; the mutex
// serializes mutations so the version check and the write are one step.
type MemoryStore struct {
	mu       sync.RWMutex
	rules    map[string]*Rule
	versions map[string][]RuleVersion
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:    make(map[string]*Rule),
		versions: make(map[string][]RuleVersion),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if _, exists := s.rules[rule.ID]; exists {
		return errors.ErrVersionConflict.
			WithMessage("rule already exists").
			WithDetail("rule_id", rule.ID)
	}

	now := s.now()
	rule.Version = 1
	rule.CreatedAt = now
	rule.UpdatedAt = now

	s.rules[rule.ID] = cloneRule(rule)
	s.versions[rule.ID] = []RuleVersion{{
		ID:              uuid.NewString(),
		RuleID:          rule.ID,
		Version:         1,
		Changes:         "initial version",
		ConditionGroups: cloneGroups(rule.ConditionGroups),
		Actions:         cloneActions(rule.Actions),
		CreatedBy:       rule.CreatedBy,
		CreatedAt:       now,
	}}

	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, errors.ErrNotFound.WithDetail("rule_id", id)
	}
	return cloneRule(rule), nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		if filter.Type != "" && rule.Type != filter.Type {
			continue
		}
		if filter.Active != nil && rule.IsActive != *filter.Active {
			continue
		}
		out = append(out, *cloneRule(rule))
	}

	sortRules(out)
	return out, nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]Rule, error) {
	active := true
	return s.List(ctx, ListFilter{Active: &active})
}

func (s *MemoryStore) Update(ctx context.Context, id string, expectedVersion int, patch RulePatch) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, errors.ErrNotFound.WithDetail("rule_id", id)
	}
	if rule.Version != expectedVersion {
		return nil, errors.VersionConflict(expectedVersion, rule.Version)
	}

	applyPatch(rule, patch)
	now := s.now()
	rule.UpdatedAt = now

	if patch.TouchesDefinition() {
		rule.Version++
		s.versions[id] = append(s.versions[id], RuleVersion{
			ID:              uuid.NewString(),
			RuleID:          id,
			Version:         rule.Version,
			Changes:         patch.Changes,
			ConditionGroups: cloneGroups(rule.ConditionGroups),
			Actions:         cloneActions(rule.Actions),
			CreatedBy:       patch.ChangedBy,
			CreatedAt:       now,
		})
	}

	return cloneRule(rule), nil
}

func (s *MemoryStore) Toggle(ctx context.Context, id string) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, errors.ErrNotFound.WithDetail("rule_id", id)
	}

	// Toggling availability is not a definition change: no version bump.
	rule.IsActive = !rule.IsActive
	rule.UpdatedAt = s.now()

	return cloneRule(rule), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return errors.ErrNotFound.WithDetail("rule_id", id)
	}

	// Version history is retained for audit even after deletion.
	delete(s.rules, id)
	return nil
}

func (s *MemoryStore) GetVersion(ctx context.Context, ruleID string, version int) (*RuleVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.versions[ruleID] {
		if v.Version == version {
			out := v
			out.ConditionGroups = cloneGroups(v.ConditionGroups)
			out.Actions = cloneActions(v.Actions)
			return &out, nil
		}
	}
	return nil, errors.ErrNotFound.
		WithDetail("rule_id", ruleID).
		WithDetail("version", version)
}

func (s *MemoryStore) GetVersionHistory(ctx context.Context, ruleID string) ([]RuleVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.versions[ruleID]
	if !ok {
		return nil, errors.ErrNotFound.WithDetail("rule_id", ruleID)
	}

	out := make([]RuleVersion, len(history))
	copy(out, history)
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (s *MemoryStore) IncrementFireCounts(ctx context.Context, counts map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, delta := range counts {
		// Deleted rules may still have buffered counts; drop them.
		if rule, ok := s.rules[id]; ok {
			rule.FireCount += delta
		}
	}
	return nil
}

func (s *MemoryStore) IncrementOverrideCount(ctx context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[ruleID]
	if !ok {
		return errors.ErrNotFound.WithDetail("rule_id", ruleID)
	}
	rule.OverrideCount++
	return nil
}

func applyPatch(rule *Rule, patch RulePatch) {
	if patch.Name != nil {
		rule.Name = *patch.Name
	}
	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if patch.Type != nil {
		rule.Type = *patch.Type
	}
	if patch.Priority != nil {
		rule.Priority = *patch.Priority
	}
	if patch.IsActive != nil {
		rule.IsActive = *patch.IsActive
	}
	if patch.ConditionGroups != nil {
		rule.ConditionGroups = cloneGroups(*patch.ConditionGroups)
	}
	if patch.Actions != nil {
		rule.Actions = cloneActions(*patch.Actions)
	}
}

// sortRules orders the catalogue: priority descending, then oldest
// first so evaluation order is stable across reloads.
func sortRules(list []Rule) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
