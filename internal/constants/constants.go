package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultRuleEventTopic = "rule_events"
)

const (
	FireCounterKey = "verdict:rule_fires"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DefaultRulePriority = 50
	MinRulePriority     = 1
	MaxRulePriority     = 100
)
