package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"verdict/internal/constants"
)

type AuditEntry struct {
	ID           string      `json:"id"`
	RuleID       string      `json:"rule_id"`
	Action       string      `json:"action"`
	OldValue     interface{} `json:"old_value,omitempty"`
	NewValue     interface{} `json:"new_value,omitempty"`
	ChangedBy    string      `json:"changed_by"`
	ChangeReason string      `json:"change_reason,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// AuditLog records every rule mutation. It is optional wiring: a nil
// audit log on the service simply skips recording.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, ruleID string, limit int) ([]AuditEntry, error)
}

type PostgresAuditLog struct {
	db *sql.DB
}

func NewPostgresAuditLog(db *sql.DB) *PostgresAuditLog {
	return &PostgresAuditLog{db: db}
}

func (a *PostgresAuditLog) Record(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	oldValueJSON, _ := json.Marshal(entry.OldValue)
	newValueJSON, _ := json.Marshal(entry.NewValue)

	query := `
		INSERT INTO rule_audit_logs (id, rule_id, action, old_value, new_value, changed_by, change_reason, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := a.db.ExecContext(ctx, query,
		entry.ID, entry.RuleID, entry.Action,
		oldValueJSON, newValueJSON,
		entry.ChangedBy, entry.ChangeReason, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	return nil
}

// List returns audit entries newest first, for one rule when ruleID is
// set or across all rules when it is empty.
func (a *PostgresAuditLog) List(ctx context.Context, ruleID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}

	query := `
		SELECT id, rule_id, action, old_value, new_value, changed_by, change_reason, timestamp
		FROM rule_audit_logs
	`
	args := []interface{}{}
	if ruleID != "" {
		query += ` WHERE rule_id = $1`
		args = append(args, ruleID)
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY timestamp DESC LIMIT $%d`, len(args))

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var oldValue, newValue []byte
		if err := rows.Scan(
			&entry.ID, &entry.RuleID, &entry.Action,
			&oldValue, &newValue,
			&entry.ChangedBy, &entry.ChangeReason, &entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		_ = json.Unmarshal(oldValue, &entry.OldValue)
		_ = json.Unmarshal(newValue, &entry.NewValue)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// MemoryAuditLog backs tests and postgres-less deployments.
type MemoryAuditLog struct {
	mu      sync.RWMutex
	entries []AuditEntry
}

func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

func (a *MemoryAuditLog) Record(ctx context.Context, entry AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	a.entries = append(a.entries, entry)
	return nil
}

func (a *MemoryAuditLog) List(ctx context.Context, ruleID string, limit int) ([]AuditEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}

	out := make([]AuditEntry, 0, limit)
	for i := len(a.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if ruleID != "" && a.entries[i].RuleID != ruleID {
			continue
		}
		out = append(out, a.entries[i])
	}
	return out, nil
}
