package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	alerts "hazardwatch/internal/alerts/domain"
	hazards "hazardwatch/internal/hazards/domain"
)

// RuleRepository is a Postgres repository for alert rules. Conditions,
// actions, and geographic scope are stored as JSONB.
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, name, description, hazard_type, conditions, actions, severity,
	time_window_minutes, cooldown_minutes, is_active, geographic_scope, created_at, updated_at`

// Create inserts a rule after validation.
func (r *RuleRepository) Create(ctx context.Context, rule *alerts.Rule) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if rule == nil {
		return errors.New("rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = rule.CreatedAt
	}
	conditions, actions, scope, err := encodeRuleJSON(rule)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO alert_rules (
	id, name, description, hazard_type, conditions, actions, severity,
	time_window_minutes, cooldown_minutes, is_active, geographic_scope, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12, $13
)`, rule.ID, rule.Name, rule.Description, string(rule.HazardType), conditions, actions,
		string(rule.Severity), rule.TimeWindowMinutes, rule.CooldownMinutes, rule.IsActive,
		scope, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("rule repo: create: %w", err)
	}
	return nil
}

// Update replaces a rule's definition after validation.
func (r *RuleRepository) Update(ctx context.Context, rule *alerts.Rule) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if rule == nil {
		return errors.New("rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()
	conditions, actions, scope, err := encodeRuleJSON(rule)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE alert_rules
SET name = $2, description = $3, hazard_type = $4, conditions = $5, actions = $6,
	severity = $7, time_window_minutes = $8, cooldown_minutes = $9, is_active = $10,
	geographic_scope = $11, updated_at = $12
WHERE id = $1`, rule.ID, rule.Name, rule.Description, string(rule.HazardType), conditions,
		actions, string(rule.Severity), rule.TimeWindowMinutes, rule.CooldownMinutes,
		rule.IsActive, scope, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("rule repo: update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rule repo: update: %w", err)
	}
	if affected == 0 {
		return alerts.ErrNotFound
	}
	return nil
}

// Delete removes a rule.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if id == "" {
		return errors.New("rule repo: empty id")
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("rule repo: delete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rule repo: delete: %w", err)
	}
	if affected == 0 {
		return alerts.ErrNotFound
	}
	return nil
}

// GetByID loads a rule by id.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*alerts.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	if id == "" {
		return nil, errors.New("rule repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %s
FROM alert_rules
WHERE id = $1
LIMIT 1`, ruleColumns), id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// List returns all rules ordered by creation time.
func (r *RuleRepository) List(ctx context.Context) ([]alerts.Rule, error) {
	return r.list(ctx, false)
}

// ListActive returns rules with is_active = TRUE. Rules that fail validation
// on load (for example a stored rule with zero conditions) are skipped.
func (r *RuleRepository) ListActive(ctx context.Context) ([]alerts.Rule, error) {
	return r.list(ctx, true)
}

func (r *RuleRepository) list(ctx context.Context, activeOnly bool) ([]alerts.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM alert_rules`, ruleColumns)
	if activeOnly {
		query += "\nWHERE is_active = TRUE"
	}
	query += "\nORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rule repo: list: %w", err)
	}
	defer rows.Close()

	var result []alerts.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		if activeOnly && rule.Validate() != nil {
			continue
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rule repo: list: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*alerts.Rule, error) {
	var rule alerts.Rule
	var hazardType, severity string
	var conditions, actions []byte
	var scope []byte
	var description sql.NullString
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&description,
		&hazardType,
		&conditions,
		&actions,
		&severity,
		&rule.TimeWindowMinutes,
		&rule.CooldownMinutes,
		&rule.IsActive,
		&scope,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("rule repo: scan: %w", err)
	}
	rule.Description = description.String
	rule.HazardType = hazards.HazardType(hazardType)
	rule.Severity = hazards.Severity(severity)
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("rule repo: decode conditions: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &rule.Actions); err != nil {
			return nil, fmt.Errorf("rule repo: decode actions: %w", err)
		}
	}
	if len(scope) > 0 {
		var box hazards.GeoScope
		if err := json.Unmarshal(scope, &box); err != nil {
			return nil, fmt.Errorf("rule repo: decode scope: %w", err)
		}
		rule.Scope = &box
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

func encodeRuleJSON(rule *alerts.Rule) (conditions, actions, scope []byte, err error) {
	conditions, err = json.Marshal(rule.Conditions)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("rule repo: encode conditions: %w", err)
	}
	actions, err = json.Marshal(rule.Actions)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("rule repo: encode actions: %w", err)
	}
	if rule.Scope != nil {
		scope, err = json.Marshal(rule.Scope)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("rule repo: encode scope: %w", err)
		}
	}
	return conditions, actions, scope, nil
}
