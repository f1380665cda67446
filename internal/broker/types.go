package broker

import (
	"context"
	"time"
)

// RuleEvent announces a rule mutation on the rule-events topic so
// evaluation nodes and downstream consumers can react without polling.
type RuleEvent struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	RuleID    string    `json:"rule_id"`
	RuleName  string    `json:"rule_name,omitempty"`
	Version   int       `json:"version,omitempty"`
	ChangedBy string    `json:"changed_by,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Producer interface {
	Publish(ctx context.Context, topic string, event RuleEvent) error
	Close() error
}
