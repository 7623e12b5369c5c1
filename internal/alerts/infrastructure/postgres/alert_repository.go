package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	alerts "hazardwatch/internal/alerts/domain"
	hazards "hazardwatch/internal/hazards/domain"
)

// AlertRepository is a Postgres repository for persisted alerts.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `id, rule_id, title, message, alert_type, severity, target_roles,
	target_scope, created_by, created_at, sent_at, acknowledged, acknowledged_at, acknowledged_by`

// Create inserts an alert record.
func (r *AlertRepository) Create(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.ID == "" {
		return errors.New("alert repo: empty id")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	var scope []byte
	if alert.TargetScope != nil {
		encoded, err := json.Marshal(alert.TargetScope)
		if err != nil {
			return fmt.Errorf("alert repo: encode scope: %w", err)
		}
		scope = encoded
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, rule_id, title, message, alert_type, severity, target_roles,
	target_scope, created_by, created_at, acknowledged
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, FALSE
)`, alert.ID, nullString(alert.RuleID), alert.Title, alert.Message, string(alert.AlertType),
		string(alert.Severity), strings.Join(alert.TargetRoles, ","), scope,
		alert.CreatedBy, alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("alert repo: create: %w", err)
	}
	return nil
}

// MarkSent sets sent_at once; a second call is rejected so the sent timestamp
// never moves.
func (r *AlertRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if id == "" {
		return errors.New("alert repo: empty id")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET sent_at = $2
WHERE id = $1 AND sent_at IS NULL`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("alert repo: mark sent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("alert repo: mark sent: %w", err)
	}
	if affected == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return alerts.ErrNotFound
		}
		return alerts.ErrAlreadySent
	}
	return nil
}

// MarkAcknowledged records an acknowledgement.
func (r *AlertRepository) MarkAcknowledged(ctx context.Context, id, by string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if id == "" {
		return errors.New("alert repo: empty id")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET acknowledged = TRUE, acknowledged_at = $2, acknowledged_by = $3
WHERE id = $1`, id, at.UTC(), by)
	if err != nil {
		return fmt.Errorf("alert repo: acknowledge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("alert repo: acknowledge: %w", err)
	}
	if affected == 0 {
		return alerts.ErrNotFound
	}
	return nil
}

// GetByID loads an alert by id.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %s
FROM alerts
WHERE id = $1
LIMIT 1`, alertColumns), id)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return alert, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	From      time.Time
	To        time.Time
	AlertType hazards.HazardType
	Severity  hazards.Severity
}

// List returns alerts in [from, to), newest first.
func (r *AlertRepository) List(ctx context.Context, filter ListFilter) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if filter.From.IsZero() || filter.To.IsZero() {
		return nil, errors.New("alert repo: time range required")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM alerts
WHERE created_at >= $1 AND created_at < $2`, alertColumns)
	args := []any{filter.From.UTC(), filter.To.UTC()}
	if filter.AlertType != "" {
		query += fmt.Sprintf("\n\tAND alert_type = $%d", len(args)+1)
		args = append(args, string(filter.AlertType))
	}
	if filter.Severity != "" {
		query += fmt.Sprintf("\n\tAND severity = $%d", len(args)+1)
		args = append(args, string(filter.Severity))
	}
	query += "\nORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("alert repo: list: %w", err)
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("alert repo: list: %w", err)
	}
	return result, nil
}

func scanAlert(row rowScanner) (*alerts.Alert, error) {
	var alert alerts.Alert
	var ruleID, roles, ackedBy sql.NullString
	var alertType, severity string
	var scope []byte
	var sentAt, ackedAt sql.NullTime
	if err := row.Scan(
		&alert.ID,
		&ruleID,
		&alert.Title,
		&alert.Message,
		&alertType,
		&severity,
		&roles,
		&scope,
		&alert.CreatedBy,
		&alert.CreatedAt,
		&sentAt,
		&alert.Acknowledged,
		&ackedAt,
		&ackedBy,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("alert repo: scan: %w", err)
	}
	alert.RuleID = ruleID.String
	alert.AlertType = hazards.HazardType(alertType)
	alert.Severity = hazards.Severity(severity)
	if roles.Valid && roles.String != "" {
		alert.TargetRoles = strings.Split(roles.String, ",")
	}
	if len(scope) > 0 {
		var box hazards.GeoScope
		if err := json.Unmarshal(scope, &box); err != nil {
			return nil, fmt.Errorf("alert repo: decode scope: %w", err)
		}
		alert.TargetScope = &box
	}
	alert.CreatedAt = alert.CreatedAt.UTC()
	if sentAt.Valid {
		alert.SentAt = sentAt.Time.UTC()
	}
	if ackedAt.Valid {
		alert.AcknowledgedAt = ackedAt.Time.UTC()
	}
	alert.AcknowledgedBy = ackedBy.String
	return &alert, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
