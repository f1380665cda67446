package rules

import (
	"context"
	"time"

	"verdict/internal/logger"
	"verdict/pkg/metrics"
	"verdict/pkg/tracing"
)

// Engine is the evaluation façade. Evaluate runs a record through the
// active rule set in catalogue order and collects the actions of every
// matching rule; Test runs a candidate rule with no side effects at all.
type Engine struct {
	provider ActiveRuleProvider
	fires    FireSink
	logger   logger.Logger
}

type EngineOption func(*Engine)

func WithFireSink(sink FireSink) EngineOption {
	return func(e *Engine) {
		e.fires = sink
	}
}

func WithEngineLogger(log logger.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = log
	}
}

func NewEngine(provider ActiveRuleProvider, opts ...EngineOption) *Engine {
	e := &Engine{
		provider: provider,
		logger:   logger.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Evaluate(ctx context.Context, record FactRecord, subjectID string) (*Decision, error) {
	ctx, span := tracing.GetTracer("rule-engine").Start(ctx, "engine.evaluate")
	defer span.End()

	start := time.Now()

	activeRules, err := e.provider.ActiveRules(ctx)
	if err != nil {
		metrics.ObserveEvaluationDuration(time.Since(start), "error")
		return nil, err
	}

	decision := &Decision{
		MatchedRuleIDs: make([]string, 0),
		Actions:        make([]Action, 0),
	}

	for i := range activeRules {
		rule := &activeRules[i]

		if rule.IsABTest {
			assigned := BucketVariant(SubjectKey(subjectID, record), rule.ABTrafficSplit)
			metrics.IncVariantAssignment(string(assigned))
			if assigned != rule.ABVariant {
				continue
			}
		}

		if !RuleMatches(rule, record) {
			continue
		}

		decision.MatchedRuleIDs = append(decision.MatchedRuleIDs, rule.ID)
		decision.Actions = append(decision.Actions, cloneActions(rule.Actions)...)
		metrics.IncRuleMatch(rule.ID, string(rule.Type))

		if e.fires != nil {
			e.fires.RecordFire(ctx, rule.ID)
		}

		e.logger.DebugwCtx(ctx, "Rule matched",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
		)
	}

	metrics.ObserveEvaluationDuration(time.Since(start), "success")
	return decision, nil
}

// Test evaluates a candidate rule against a sample record. It ignores
// the active flag and A/B gating and touches no counters, so authors
// can probe any definition safely before saving it.
func (e *Engine) Test(ctx context.Context, rule *Rule, record FactRecord) TestResult {
	if !RuleMatches(rule, record) {
		return TestResult{Matches: false, Actions: []Action{}}
	}
	return TestResult{Matches: true, Actions: cloneActions(rule.Actions)}
}
