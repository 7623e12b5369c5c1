package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	alerts "hazardwatch/internal/alerts/domain"
	hazards "hazardwatch/internal/hazards/domain"
)

// DataAccess is the read-side contract condition evaluation runs against.
// Implementations must treat every call as a point-in-time snapshot query;
// evaluators add no state of their own, so re-evaluating against an unchanged
// store yields the same result.
type DataAccess interface {
	CountReports(ctx context.Context, hazardType hazards.HazardType, since time.Time, scope *hazards.GeoScope) (int, error)
	CountSevereReports(ctx context.Context, hazardType hazards.HazardType, since time.Time, scope *hazards.GeoScope) (int, error)
	AverageConfidence(ctx context.Context, hazardType hazards.HazardType, since time.Time, scope *hazards.GeoScope) (float64, error)
	RecentReportTimes(ctx context.Context, hazardType hazards.HazardType, limit int) ([]time.Time, error)
	CountReportsNear(ctx context.Context, hazardType hazards.HazardType, lat, lon, radiusKm float64, since time.Time) (int, error)
	CountSocialPosts(ctx context.Context, hazardType hazards.HazardType, since time.Time, minRelevance float64) (int, error)
	HasFreshFeedEntry(ctx context.Context, source, feedType string, since time.Time) (bool, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Evaluator answers "is this condition true right now" against the data layer.
type Evaluator struct {
	data DataAccess
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(data DataAccess) (*Evaluator, error) {
	if data == nil {
		return nil, errors.New("evaluator: nil data access")
	}
	return &Evaluator{data: data}, nil
}

// Evaluate resolves one condition at the given instant. The observed value
// (count, severe count, span minutes, ...) is returned for trigger context
// regardless of the boolean outcome. Errors mean the underlying data could
// not be consulted; callers fail the condition closed.
func (e *Evaluator) Evaluate(ctx context.Context, rule alerts.Rule, condition alerts.Condition, now time.Time) (bool, float64, error) {
	if e == nil || e.data == nil {
		return false, 0, errors.New("evaluator: nil data access")
	}
	since := now.Add(-condition.Window(rule.TimeWindowMinutes))

	switch condition.Kind {
	case alerts.ConditionReportCount:
		count, err := e.data.CountReports(ctx, rule.HazardType, since, rule.Scope)
		if err != nil {
			return false, 0, err
		}
		return condition.Operator.Compare(float64(count), condition.Value), float64(count), nil

	case alerts.ConditionSeverityThreshold:
		count, err := e.data.CountSevereReports(ctx, rule.HazardType, since, rule.Scope)
		if err != nil {
			return false, 0, err
		}
		return condition.Operator.Compare(float64(count), condition.Value), float64(count), nil

	case alerts.ConditionTimeWindowBurst:
		return e.evaluateBurst(ctx, rule, condition)

	case alerts.ConditionLocationProximity:
		count, err := e.data.CountReportsNear(ctx, rule.HazardType, condition.Lat, condition.Lon, condition.RadiusKm, since)
		if err != nil {
			return false, 0, err
		}
		if condition.Operator == alerts.OperatorWithinRadius {
			// within_radius reads as "at least this many reports inside the
			// radius"; value 0 means any report qualifies.
			threshold := condition.Value
			if threshold < 1 {
				threshold = 1
			}
			return float64(count) >= threshold, float64(count), nil
		}
		return condition.Operator.Compare(float64(count), condition.Value), float64(count), nil

	case alerts.ConditionSocialActivity:
		count, err := e.data.CountSocialPosts(ctx, rule.HazardType, since, condition.MinRelevance)
		if err != nil {
			return false, 0, err
		}
		return condition.Operator.Compare(float64(count), condition.Value), float64(count), nil

	case alerts.ConditionOfficialDataPresence:
		cutoff := now.Add(-time.Duration(condition.FreshnessWindowMinutes) * time.Minute)
		fresh, err := e.data.HasFreshFeedEntry(ctx, condition.Source, condition.FeedType, cutoff)
		if err != nil {
			return false, 0, err
		}
		if fresh {
			return true, 1, nil
		}
		return false, 0, nil

	default:
		return false, 0, fmt.Errorf("evaluator: unknown condition kind %q", condition.Kind)
	}
}

// evaluateBurst is true iff the N most recent reports all arrived within the
// configured window: the span between the newest and the Nth-newest is at
// most window_minutes. Fewer than N reports can never be a burst.
func (e *Evaluator) evaluateBurst(ctx context.Context, rule alerts.Rule, condition alerts.Condition) (bool, float64, error) {
	times, err := e.data.RecentReportTimes(ctx, rule.HazardType, condition.Count)
	if err != nil {
		return false, 0, err
	}
	if len(times) < condition.Count {
		return false, float64(len(times)), nil
	}
	newest := times[0]
	oldest := times[len(times)-1]
	span := newest.Sub(oldest)
	spanMinutes := span.Minutes()
	window := time.Duration(condition.WindowMinutes) * time.Minute
	return span <= window, spanMinutes, nil
}

// AverageConfidence exposes the mean confidence of in-window reports for
// message composition after a rule fires.
func (e *Evaluator) AverageConfidence(ctx context.Context, rule alerts.Rule, now time.Time) (float64, error) {
	if e == nil || e.data == nil {
		return 0, errors.New("evaluator: nil data access")
	}
	window := time.Duration(rule.TimeWindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Hour
	}
	return e.data.AverageConfidence(ctx, rule.HazardType, now.Add(-window), rule.Scope)
}
