package application

import (
	"context"
	"errors"
	"testing"
	"time"

	alerts "hazardwatch/internal/alerts/domain"
	hazards "hazardwatch/internal/hazards/domain"
)

type fakeData struct {
	reportCount  int
	severeCount  int
	confidence   float64
	recentTimes  []time.Time
	nearCount    int
	socialCount  int
	feedFresh    bool
	err          error
	lastSince    time.Time
	lastMinRel   float64
	lastRadiusKm float64
	lastScope    *hazards.GeoScope
}

func (f *fakeData) CountReports(_ context.Context, _ hazards.HazardType, since time.Time, _ *hazards.GeoScope) (int, error) {
	f.lastSince = since
	return f.reportCount, f.err
}

func (f *fakeData) CountSevereReports(_ context.Context, _ hazards.HazardType, since time.Time, _ *hazards.GeoScope) (int, error) {
	f.lastSince = since
	return f.severeCount, f.err
}

func (f *fakeData) AverageConfidence(_ context.Context, _ hazards.HazardType, _ time.Time, scope *hazards.GeoScope) (float64, error) {
	f.lastScope = scope
	return f.confidence, f.err
}

func (f *fakeData) RecentReportTimes(_ context.Context, _ hazards.HazardType, _ int) ([]time.Time, error) {
	return f.recentTimes, f.err
}

func (f *fakeData) CountReportsNear(_ context.Context, _ hazards.HazardType, _, _, radiusKm float64, _ time.Time) (int, error) {
	f.lastRadiusKm = radiusKm
	return f.nearCount, f.err
}

func (f *fakeData) CountSocialPosts(_ context.Context, _ hazards.HazardType, _ time.Time, minRelevance float64) (int, error) {
	f.lastMinRel = minRelevance
	return f.socialCount, f.err
}

func (f *fakeData) HasFreshFeedEntry(_ context.Context, _, _ string, _ time.Time) (bool, error) {
	return f.feedFresh, f.err
}

var evalNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func evalRule() alerts.Rule {
	return alerts.Rule{
		ID:                "rule-1",
		Name:              "Flood Watch",
		HazardType:        hazards.HazardFlood,
		Severity:          hazards.SeverityHigh,
		TimeWindowMinutes: 60,
	}
}

func TestEvaluateReportCountBoundary(t *testing.T) {
	data := &fakeData{reportCount: 5}
	evaluator, err := NewEvaluator(data)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	condition := alerts.Condition{Kind: alerts.ConditionReportCount, Operator: alerts.OperatorGreaterThan, Value: 5}

	ok, observed, err := evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ok {
		t.Fatal("count equal to threshold must not trigger greater_than")
	}
	if observed != 5 {
		t.Fatalf("expected observed 5, got %v", observed)
	}

	data.reportCount = 6
	ok, _, err = evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ok {
		t.Fatal("6 > 5 expected to trigger")
	}
}

func TestEvaluateSeverityThresholdBoundary(t *testing.T) {
	data := &fakeData{severeCount: 5}
	evaluator, _ := NewEvaluator(data)
	condition := alerts.Condition{Kind: alerts.ConditionSeverityThreshold, Operator: alerts.OperatorGreaterThan, Value: 5}

	ok, _, err := evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ok {
		t.Fatal("exactly 5 severe reports must not satisfy greater_than 5")
	}

	data.severeCount = 6
	ok, _, err = evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ok {
		t.Fatal("6 severe reports expected to trigger")
	}
}

func TestEvaluateUsesConditionWindow(t *testing.T) {
	data := &fakeData{reportCount: 1}
	evaluator, _ := NewEvaluator(data)
	condition := alerts.Condition{Kind: alerts.ConditionReportCount, Operator: alerts.OperatorGreaterThan, Value: 0, TimeWindowMinutes: 15}

	if _, _, err := evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if want := evalNow.Add(-15 * time.Minute); !data.lastSince.Equal(want) {
		t.Fatalf("expected since %s, got %s", want, data.lastSince)
	}

	condition.TimeWindowMinutes = 0
	if _, _, err := evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if want := evalNow.Add(-60 * time.Minute); !data.lastSince.Equal(want) {
		t.Fatalf("expected rule window fallback %s, got %s", want, data.lastSince)
	}
}

func TestEvaluateUnknownKind(t *testing.T) {
	evaluator, _ := NewEvaluator(&fakeData{})
	condition := alerts.Condition{Kind: "sensor_threshold"}
	if _, _, err := evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow); err == nil {
		t.Fatal("expected error for unknown condition kind")
	}
}

func TestEvaluateDataErrorPropagates(t *testing.T) {
	evaluator, _ := NewEvaluator(&fakeData{err: errors.New("db down")})
	condition := alerts.Condition{Kind: alerts.ConditionReportCount, Operator: alerts.OperatorGreaterThan, Value: 1}
	if _, _, err := evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow); err == nil {
		t.Fatal("expected error when data access fails")
	}
}

func TestEvaluateBurst(t *testing.T) {
	newest := evalNow.Add(-time.Minute)
	data := &fakeData{recentTimes: []time.Time{
		newest,
		newest.Add(-3 * time.Minute),
		newest.Add(-8 * time.Minute),
	}}
	evaluator, _ := NewEvaluator(data)
	condition := alerts.Condition{Kind: alerts.ConditionTimeWindowBurst, Count: 3, WindowMinutes: 10}

	ok, span, err := evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ok {
		t.Fatal("three reports within 10 minutes expected to trigger")
	}
	if span != 8 {
		t.Fatalf("expected span 8 minutes, got %v", span)
	}

	condition.WindowMinutes = 5
	ok, _, err = evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ok {
		t.Fatal("span of 8 minutes must not satisfy a 5 minute window")
	}
}

func TestEvaluateBurstTooFewReports(t *testing.T) {
	data := &fakeData{recentTimes: []time.Time{evalNow}}
	evaluator, _ := NewEvaluator(data)
	condition := alerts.Condition{Kind: alerts.ConditionTimeWindowBurst, Count: 3, WindowMinutes: 10}

	ok, observed, err := evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ok {
		t.Fatal("fewer reports than count can never be a burst")
	}
	if observed != 1 {
		t.Fatalf("expected observed count 1, got %v", observed)
	}
}

func TestEvaluateWithinRadius(t *testing.T) {
	data := &fakeData{nearCount: 2}
	evaluator, _ := NewEvaluator(data)
	condition := alerts.Condition{
		Kind:     alerts.ConditionLocationProximity,
		Operator: alerts.OperatorWithinRadius,
		Lat:      27.7, Lon: 85.3, RadiusKm: 50,
	}

	ok, _, err := evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ok {
		t.Fatal("reports inside radius expected to trigger")
	}
	if data.lastRadiusKm != 50 {
		t.Fatalf("expected radius 50, got %v", data.lastRadiusKm)
	}

	data.nearCount = 0
	ok, _, _ = evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if ok {
		t.Fatal("no reports inside radius must not trigger")
	}
}

func TestEvaluateSocialActivity(t *testing.T) {
	data := &fakeData{socialCount: 21}
	evaluator, _ := NewEvaluator(data)
	condition := alerts.Condition{
		Kind:         alerts.ConditionSocialActivity,
		Operator:     alerts.OperatorGreaterThan,
		Value:        20,
		MinRelevance: 0.7,
	}
	ok, _, err := evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ok {
		t.Fatal("21 posts above relevance expected to trigger")
	}
	if data.lastMinRel != 0.7 {
		t.Fatalf("expected min relevance passed through, got %v", data.lastMinRel)
	}
}

func TestEvaluateOfficialDataPresence(t *testing.T) {
	data := &fakeData{feedFresh: true}
	evaluator, _ := NewEvaluator(data)
	condition := alerts.Condition{
		Kind:                   alerts.ConditionOfficialDataPresence,
		Source:                 "usgs",
		FeedType:               "earthquake",
		FreshnessWindowMinutes: 30,
	}
	ok, observed, err := evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ok || observed != 1 {
		t.Fatalf("fresh feed entry expected to trigger with observed 1, got %v %v", ok, observed)
	}

	data.feedFresh = false
	ok, observed, _ = evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if ok || observed != 0 {
		t.Fatalf("stale feed must not trigger, got %v %v", ok, observed)
	}
}

func TestAverageConfidenceAppliesRuleScope(t *testing.T) {
	data := &fakeData{confidence: 0.8}
	evaluator, _ := NewEvaluator(data)
	rule := evalRule()
	rule.Scope = &hazards.GeoScope{MinLat: 26, MaxLat: 29, MinLon: 84, MaxLon: 87}

	avg, err := evaluator.AverageConfidence(context.Background(), rule, evalNow)
	if err != nil {
		t.Fatalf("average confidence: %v", err)
	}
	if avg != 0.8 {
		t.Fatalf("unexpected average %v", avg)
	}
	if data.lastScope == nil || data.lastScope.MinLat != 26 {
		t.Fatalf("expected rule scope passed through, got %+v", data.lastScope)
	}
}

func TestEvaluateIsStateless(t *testing.T) {
	data := &fakeData{reportCount: 7}
	evaluator, _ := NewEvaluator(data)
	condition := alerts.Condition{Kind: alerts.ConditionReportCount, Operator: alerts.OperatorGreaterThan, Value: 5}

	first, _, err := evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	second, _, err := evaluator.Evaluate(context.Background(), evalRule(), condition, evalNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if first != second {
		t.Fatal("re-evaluation against unchanged data must yield the same result")
	}
}
