package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "verdict/pkg/errors"
	"verdict/pkg/metrics"
)

// PostgresStore implements Store over the rules and rule_versions
// tables. Optimistic concurrency is a guarded UPDATE: the version check
// and the write are a single statement, so two racing updates with the
// same expected version can never both win.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ruleColumns = `id, name, description, type, priority, is_active,
	condition_groups, actions, version, fire_count, override_count,
	is_ab_test, ab_variant, ab_traffic_split, created_by, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.Version = 1
	rule.CreatedAt = now
	rule.UpdatedAt = now

	groups, actions, err := marshalDefinition(rule.ConditionGroups, rule.Actions)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = tx.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.Type, rule.Priority, rule.IsActive,
		groups, actions, rule.Version, rule.FireCount, rule.OverrideCount,
		rule.IsABTest, string(rule.ABVariant), rule.ABTrafficSplit,
		rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrVersionConflict.WithCause(err).
				WithMessage(fmt.Sprintf("rule with name '%s' already exists", rule.Name))
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}

	if err := insertVersion(ctx, tx, rule.ID, 1, "initial version", rule.CreatedBy, groups, actions, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule creation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = $1`
	return scanRule(s.db.QueryRowContext(ctx, query, id), id)
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]Rule, error) {
	start := time.Now()

	query := `SELECT ` + ruleColumns + ` FROM rules WHERE 1=1`
	args := []interface{}{}

	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		query += fmt.Sprintf(" AND is_active = $%d", len(args))
	}
	query += ` ORDER BY priority DESC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.IncDatabaseQuery("list_rules", "error")
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		rule, err := scanRuleRow(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}

	metrics.IncDatabaseQuery("list_rules", "success")
	metrics.ObserveDatabaseQueryDuration("list_rules", time.Since(start))
	return rules, rows.Err()
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]Rule, error) {
	active := true
	return s.List(ctx, ListFilter{Active: &active})
}

func (s *PostgresStore) Update(ctx context.Context, id string, expectedVersion int, patch RulePatch) (*Rule, error) {
	start := time.Now()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, pkgerrors.VersionConflict(expectedVersion, current.Version)
	}

	applyPatch(current, patch)
	now := time.Now()
	current.UpdatedAt = now

	newVersion := expectedVersion
	if patch.TouchesDefinition() {
		newVersion = expectedVersion + 1
	}
	current.Version = newVersion

	groups, actions, err := marshalDefinition(current.ConditionGroups, current.Actions)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE rules
		SET name = $1, description = $2, type = $3, priority = $4, is_active = $5,
		    condition_groups = $6, actions = $7, version = $8, updated_at = $9
		WHERE id = $10 AND version = $11
	`

	res, err := tx.ExecContext(ctx, query,
		current.Name, current.Description, current.Type, current.Priority, current.IsActive,
		groups, actions, newVersion, now, id, expectedVersion,
	)
	if err != nil {
		metrics.IncDatabaseQuery("update_rule", "error")
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Either the rule is gone or someone else won the race.
		fresh, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		metrics.IncDatabaseQuery("update_rule", "conflict")
		return nil, pkgerrors.VersionConflict(expectedVersion, fresh.Version)
	}

	if patch.TouchesDefinition() {
		if err := insertVersion(ctx, tx, id, newVersion, patch.Changes, patch.ChangedBy, groups, actions, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rule update: %w", err)
	}

	metrics.IncDatabaseQuery("update_rule", "success")
	metrics.ObserveDatabaseQueryDuration("update_rule", time.Since(start))
	return current, nil
}

func (s *PostgresStore) Toggle(ctx context.Context, id string) (*Rule, error) {
	query := `
		UPDATE rules
		SET is_active = NOT is_active, updated_at = $1
		WHERE id = $2
	`

	res, err := s.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle rule: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, pkgerrors.ErrNotFound.WithDetail("rule_id", id)
	}

	return s.Get(ctx, id)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return pkgerrors.ErrNotFound.WithDetail("rule_id", id)
	}
	return nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, ruleID string, version int) (*RuleVersion, error) {
	query := `
		SELECT id, rule_id, version, changes, condition_groups, actions, created_by, created_at
		FROM rule_versions
		WHERE rule_id = $1 AND version = $2
	`

	row := s.db.QueryRowContext(ctx, query, ruleID, version)

	var v RuleVersion
	var groups, actions []byte
	err := row.Scan(&v.ID, &v.RuleID, &v.Version, &v.Changes, &groups, &actions, &v.CreatedBy, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.
			WithDetail("rule_id", ruleID).
			WithDetail("version", version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule version: %w", err)
	}

	if err := unmarshalDefinition(groups, actions, &v.ConditionGroups, &v.Actions); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) GetVersionHistory(ctx context.Context, ruleID string) ([]RuleVersion, error) {
	query := `
		SELECT id, rule_id, version, changes, condition_groups, actions, created_by, created_at
		FROM rule_versions
		WHERE rule_id = $1
		ORDER BY version DESC
	`

	rows, err := s.db.QueryContext(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get version history: %w", err)
	}
	defer rows.Close()

	var history []RuleVersion
	for rows.Next() {
		var v RuleVersion
		var groups, actions []byte
		if err := rows.Scan(&v.ID, &v.RuleID, &v.Version, &v.Changes, &groups, &actions, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule version: %w", err)
		}
		if err := unmarshalDefinition(groups, actions, &v.ConditionGroups, &v.Actions); err != nil {
			return nil, err
		}
		history = append(history, v)
	}

	if len(history) == 0 {
		return nil, pkgerrors.ErrNotFound.WithDetail("rule_id", ruleID)
	}
	return history, rows.Err()
}

func (s *PostgresStore) IncrementFireCounts(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for id, delta := range counts {
		if _, err := tx.ExecContext(ctx,
			`UPDATE rules SET fire_count = fire_count + $1 WHERE id = $2`,
			delta, id,
		); err != nil {
			return fmt.Errorf("failed to increment fire count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fire counts: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementOverrideCount(ctx context.Context, ruleID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET override_count = override_count + 1 WHERE id = $1`,
		ruleID,
	)
	if err != nil {
		return fmt.Errorf("failed to increment override count: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return pkgerrors.ErrNotFound.WithDetail("rule_id", ruleID)
	}
	return nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, ruleID string, version int, changes, createdBy string, groups, actions []byte, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rule_versions (id, rule_id, version, changes, condition_groups, actions, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New().String(), ruleID, version, changes, groups, actions, createdBy, at)
	if err != nil {
		return fmt.Errorf("failed to record rule version: %w", err)
	}
	return nil
}

func marshalDefinition(groups []ConditionGroup, actions []Action) ([]byte, []byte, error) {
	groupsJSON, err := json.Marshal(groups)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal condition groups: %w", err)
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	return groupsJSON, actionsJSON, nil
}

func unmarshalDefinition(groups, actions []byte, outGroups *[]ConditionGroup, outActions *[]Action) error {
	if err := json.Unmarshal(groups, outGroups); err != nil {
		return fmt.Errorf("failed to unmarshal condition groups: %w", err)
	}
	if err := json.Unmarshal(actions, outActions); err != nil {
		return fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner, id string) (*Rule, error) {
	rule, err := scanRuleRow(row)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return nil, pkgerrors.ErrNotFound.WithDetail("rule_id", id)
		}
		return nil, err
	}
	return rule, nil
}

func scanRuleRow(row rowScanner) (*Rule, error) {
	var rule Rule
	var groups, actions []byte
	var variant string

	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Type, &rule.Priority, &rule.IsActive,
		&groups, &actions, &rule.Version, &rule.FireCount, &rule.OverrideCount,
		&rule.IsABTest, &variant, &rule.ABTrafficSplit,
		&rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	rule.ABVariant = Variant(variant)
	if err := unmarshalDefinition(groups, actions, &rule.ConditionGroups, &rule.Actions); err != nil {
		return nil, err
	}
	return &rule, nil
}
