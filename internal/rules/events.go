package rules

import (
	"context"
	"time"

	"github.com/google/uuid"

	"verdict/internal/broker"
	"verdict/internal/logger"
	"verdict/pkg/retry"
)

const (
	EventRuleCreated    = "created"
	EventRuleUpdated    = "updated"
	EventRuleToggled    = "toggled"
	EventRuleRolledBack = "rolled_back"
	EventRuleDeleted    = "deleted"
)

// EventPublisher announces rule mutations on the rule-events topic.
// Publishing is best effort from the caller's point of view: the service
// never fails a mutation because an event could not be delivered.
type EventPublisher struct {
	producer broker.Producer
	topic    string
	policy   retry.Policy
	logger   logger.Logger
}

func NewEventPublisher(producer broker.Producer, topic string, log logger.Logger) *EventPublisher {
	return &EventPublisher{
		producer: producer,
		topic:    topic,
		policy:   retry.DefaultPolicy(),
		logger:   log,
	}
}

func (p *EventPublisher) Publish(ctx context.Context, action string, rule *Rule, changedBy string) {
	if p == nil || p.producer == nil || p.topic == "" {
		return
	}

	event := broker.RuleEvent{
		ID:        uuid.New().String(),
		Action:    action,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Version:   rule.Version,
		ChangedBy: changedBy,
		Timestamp: time.Now(),
	}

	err := retry.Retry(ctx, p.policy, func() error {
		return p.producer.Publish(ctx, p.topic, event)
	})
	if err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to publish rule event",
			"action", action,
			"rule_id", rule.ID,
			"error", err,
		)
	}
}
