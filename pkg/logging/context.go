package logging

import (
	"context"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	RuleIDKey    contextKey = "rule_id"
	ActorKey     contextKey = "actor"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithRuleID(ctx context.Context, ruleID string) context.Context {
	return context.WithValue(ctx, RuleIDKey, ruleID)
}

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

func GetRuleID(ctx context.Context) string {
	return stringValue(ctx, RuleIDKey)
}

func GetActor(ctx context.Context) string {
	return stringValue(ctx, ActorKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetLogFields collects the request-scoped fields for structured log lines.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 6)

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, string(RequestIDKey), requestID)
	}

	if ruleID := GetRuleID(ctx); ruleID != "" {
		fields = append(fields, string(RuleIDKey), ruleID)
	}

	if actor := GetActor(ctx); actor != "" {
		fields = append(fields, string(ActorKey), actor)
	}

	return fields
}
