package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CooldownRepository persists last-fired timestamps per cooldown key so
// restarts do not reset suppression windows.
type CooldownRepository struct {
	db *sql.DB
}

// NewCooldownRepository constructs a repository.
func NewCooldownRepository(db *sql.DB) *CooldownRepository {
	return &CooldownRepository{db: db}
}

// Get returns the last firing time for a key, ok=false when never fired.
func (r *CooldownRepository) Get(ctx context.Context, key string) (time.Time, bool, error) {
	if r == nil || r.db == nil {
		return time.Time{}, false, errors.New("cooldown repo: nil db")
	}
	if key == "" {
		return time.Time{}, false, errors.New("cooldown repo: empty key")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT last_triggered_at
FROM alert_rule_cooldowns
WHERE rule_key = $1`, key)
	var at time.Time
	if err := row.Scan(&at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("cooldown repo: get: %w", err)
	}
	return at.UTC(), true, nil
}

// Record upserts the last firing time for a key.
func (r *CooldownRepository) Record(ctx context.Context, key string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("cooldown repo: nil db")
	}
	if key == "" {
		return errors.New("cooldown repo: empty key")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_rule_cooldowns (rule_key, last_triggered_at)
VALUES ($1, $2)
ON CONFLICT (rule_key)
DO UPDATE SET last_triggered_at = EXCLUDED.last_triggered_at`, key, at.UTC())
	if err != nil {
		return fmt.Errorf("cooldown repo: record: %w", err)
	}
	return nil
}
