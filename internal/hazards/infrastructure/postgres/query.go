package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	hazards "hazardwatch/internal/hazards/domain"
)

const (
	defaultReportsTable = "hazard_reports"
	defaultSocialTable  = "social_posts"
	defaultFeedTable    = "official_feed_entries"
)

// HazardDataQuery is the read-only data access layer for condition evaluation.
// Every method scopes to [since, now] windows; geographic scope is an optional
// bounding box pushed into the query.
type HazardDataQuery struct {
	db           *sql.DB
	reportsTable string
	socialTable  string
	feedTable    string
}

// QueryOption configures the query layer.
type QueryOption func(*HazardDataQuery)

// WithReportsTable overrides the hazard reports table name.
func WithReportsTable(table string) QueryOption {
	return func(q *HazardDataQuery) {
		if q != nil && table != "" {
			q.reportsTable = table
		}
	}
}

// NewHazardDataQuery constructs the query layer with default table names.
func NewHazardDataQuery(db *sql.DB, opts ...QueryOption) *HazardDataQuery {
	query := &HazardDataQuery{
		db:           db,
		reportsTable: defaultReportsTable,
		socialTable:  defaultSocialTable,
		feedTable:    defaultFeedTable,
	}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// CountReports counts reports of the hazard type created since the cutoff.
func (q *HazardDataQuery) CountReports(ctx context.Context, hazardType hazards.HazardType, since time.Time, scope *hazards.GeoScope) (int, error) {
	if q == nil || q.db == nil {
		return 0, errors.New("hazard query: nil db")
	}
	query := fmt.Sprintf(`
SELECT COUNT(*)
FROM %s
WHERE created_at >= $1`, q.reportsTable)
	args := []any{since.UTC()}
	query, args = appendHazardFilter(query, args, hazardType)
	query, args = appendScopeFilter(query, args, scope)

	var count int
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("hazard query: count reports: %w", err)
	}
	return count, nil
}

// CountSevereReports counts reports of severity high or critical in window.
func (q *HazardDataQuery) CountSevereReports(ctx context.Context, hazardType hazards.HazardType, since time.Time, scope *hazards.GeoScope) (int, error) {
	if q == nil || q.db == nil {
		return 0, errors.New("hazard query: nil db")
	}
	query := fmt.Sprintf(`
SELECT COUNT(*)
FROM %s
WHERE created_at >= $1
	AND severity IN ('high', 'critical')`, q.reportsTable)
	args := []any{since.UTC()}
	query, args = appendHazardFilter(query, args, hazardType)
	query, args = appendScopeFilter(query, args, scope)

	var count int
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("hazard query: count severe reports: %w", err)
	}
	return count, nil
}

// AverageConfidence returns the mean confidence score of in-window reports,
// zero when no reports match.
func (q *HazardDataQuery) AverageConfidence(ctx context.Context, hazardType hazards.HazardType, since time.Time, scope *hazards.GeoScope) (float64, error) {
	if q == nil || q.db == nil {
		return 0, errors.New("hazard query: nil db")
	}
	query := fmt.Sprintf(`
SELECT COALESCE(AVG(confidence_score), 0)
FROM %s
WHERE created_at >= $1`, q.reportsTable)
	args := []any{since.UTC()}
	query, args = appendHazardFilter(query, args, hazardType)
	query, args = appendScopeFilter(query, args, scope)

	var avg float64
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("hazard query: average confidence: %w", err)
	}
	return avg, nil
}

// RecentReportTimes returns up to limit report timestamps, newest first.
func (q *HazardDataQuery) RecentReportTimes(ctx context.Context, hazardType hazards.HazardType, limit int) ([]time.Time, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("hazard query: nil db")
	}
	if limit <= 0 {
		return nil, errors.New("hazard query: limit must be positive")
	}
	query := fmt.Sprintf(`
SELECT created_at
FROM %s
WHERE TRUE`, q.reportsTable)
	args := []any{}
	query, args = appendHazardFilter(query, args, hazardType)
	query = fmt.Sprintf("%s\nORDER BY created_at DESC\nLIMIT $%d", query, len(args)+1)
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hazard query: recent report times: %w", err)
	}
	defer rows.Close()

	var result []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("hazard query: recent report times: %w", err)
		}
		result = append(result, at.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hazard query: recent report times: %w", err)
	}
	return result, nil
}

// CountReportsNear counts in-window reports within radiusKm of a point using
// PostGIS geography distance.
func (q *HazardDataQuery) CountReportsNear(ctx context.Context, hazardType hazards.HazardType, lat, lon, radiusKm float64, since time.Time) (int, error) {
	if q == nil || q.db == nil {
		return 0, errors.New("hazard query: nil db")
	}
	query := fmt.Sprintf(`
SELECT COUNT(*)
FROM %s
WHERE created_at >= $1
	AND ST_DWithin(
		ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)::geography,
		ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography,
		$4)`, q.reportsTable)
	args := []any{since.UTC(), lon, lat, radiusKm * 1000}
	query, args = appendHazardFilter(query, args, hazardType)

	var count int
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("hazard query: count reports near: %w", err)
	}
	return count, nil
}

// CountSocialPosts counts in-window social posts above the relevance floor.
func (q *HazardDataQuery) CountSocialPosts(ctx context.Context, hazardType hazards.HazardType, since time.Time, minRelevance float64) (int, error) {
	if q == nil || q.db == nil {
		return 0, errors.New("hazard query: nil db")
	}
	query := fmt.Sprintf(`
SELECT COUNT(*)
FROM %s
WHERE created_at >= $1
	AND relevance_score > $2`, q.socialTable)
	args := []any{since.UTC(), minRelevance}
	query, args = appendHazardFilter(query, args, hazardType)

	var count int
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("hazard query: count social posts: %w", err)
	}
	return count, nil
}

// HasFreshFeedEntry reports whether a feed entry from source (and feed type,
// when given) became valid since the cutoff.
func (q *HazardDataQuery) HasFreshFeedEntry(ctx context.Context, source, feedType string, since time.Time) (bool, error) {
	if q == nil || q.db == nil {
		return false, errors.New("hazard query: nil db")
	}
	if source == "" {
		return false, errors.New("hazard query: source required")
	}
	query := fmt.Sprintf(`
SELECT EXISTS (
	SELECT 1 FROM %s
	WHERE source = $1 AND valid_from >= $2`, q.feedTable)
	args := []any{source, since.UTC()}
	if feedType != "" {
		query += fmt.Sprintf(" AND feed_type = $%d", len(args)+1)
		args = append(args, feedType)
	}
	query += "\n)"

	var exists bool
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("hazard query: feed freshness: %w", err)
	}
	return exists, nil
}

// MarkReportsVerified flags unverified in-window reports as verified. This is
// the one write the engine performs against source data, backing the
// auto-verify action.
func (q *HazardDataQuery) MarkReportsVerified(ctx context.Context, hazardType hazards.HazardType, since time.Time) (int64, error) {
	if q == nil || q.db == nil {
		return 0, errors.New("hazard query: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET verified = TRUE
WHERE created_at >= $1
	AND verified = FALSE`, q.reportsTable)
	args := []any{since.UTC()}
	query, args = appendHazardFilter(query, args, hazardType)

	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("hazard query: mark verified: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("hazard query: mark verified: %w", err)
	}
	return affected, nil
}

func appendHazardFilter(query string, args []any, hazardType hazards.HazardType) (string, []any) {
	if hazardType == "" || hazardType == hazards.HazardAny {
		return query, args
	}
	query = fmt.Sprintf("%s\n\tAND hazard_type = $%d", query, len(args)+1)
	args = append(args, string(hazardType))
	return query, args
}

func appendScopeFilter(query string, args []any, scope *hazards.GeoScope) (string, []any) {
	if scope == nil {
		return query, args
	}
	n := len(args)
	query = fmt.Sprintf("%s\n\tAND latitude BETWEEN $%d AND $%d\n\tAND longitude BETWEEN $%d AND $%d",
		query, n+1, n+2, n+3, n+4)
	args = append(args, scope.MinLat, scope.MaxLat, scope.MinLon, scope.MaxLon)
	return query, args
}
