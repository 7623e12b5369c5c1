package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	alerts "hazardwatch/internal/alerts/domain"
	hazards "hazardwatch/internal/hazards/domain"
)

type stubRuleSource struct {
	mu    sync.Mutex
	rules []alerts.Rule
	err   error
}

func (s *stubRuleSource) ListActive(_ context.Context) ([]alerts.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]alerts.Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	alerts   []alerts.Alert
	err      error
	failOnce bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, alert *alerts.Alert, _ alerts.Rule) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		err := d.err
		if d.failOnce {
			d.err = nil
		}
		return err
	}
	d.alerts = append(d.alerts, *alert)
	return nil
}

func (d *recordingDispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.alerts)
}

func (d *recordingDispatcher) Latest() alerts.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alerts[len(d.alerts)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestEngine(t *testing.T, source *stubRuleSource, data DataAccess, dispatcher Dispatcher, keying alerts.CooldownKeying, clock Clock) *Engine {
	t.Helper()
	evaluator, err := NewEvaluator(data)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	tracker, err := NewCooldownTracker(nil, keying)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	composer, err := NewComposer("")
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	engine, err := NewEngine(source, evaluator, tracker, composer, dispatcher, zap.NewNop(), WithClock(clock))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.RefreshRules(context.Background()); err != nil {
		t.Fatalf("refresh rules: %v", err)
	}
	return engine
}

func tsunamiRule() alerts.Rule {
	return alerts.Rule{
		ID:         "rule-tsunami",
		Name:       "Tsunami Watch",
		HazardType: hazards.HazardTsunami,
		Severity:   hazards.SeverityCritical,
		Conditions: []alerts.Condition{
			{Kind: alerts.ConditionReportCount, Operator: alerts.OperatorGreaterThan, Value: 5},
		},
		Actions: []alerts.Action{
			{Kind: alerts.ActionCreateAlert},
			{Kind: alerts.ActionNotifyRoles, Roles: []string{"admin", "coastal_authority"}},
		},
		TimeWindowMinutes: 60,
		CooldownMinutes:   30,
		IsActive:          true,
	}
}

func TestEngineFiredThenSuppressedThenFired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)}
	source := &stubRuleSource{rules: []alerts.Rule{tsunamiRule()}}
	data := &fakeData{reportCount: 8}
	dispatcher := &recordingDispatcher{}
	engine := newTestEngine(t, source, data, dispatcher, alerts.CooldownByRule, clock)

	summary := engine.RunCycle(context.Background())
	if summary.Fired != 1 {
		t.Fatalf("expected first cycle to fire, got %+v", summary)
	}
	if dispatcher.Count() != 1 {
		t.Fatalf("expected 1 dispatched alert, got %d", dispatcher.Count())
	}

	clock.Add(10 * time.Minute)
	summary = engine.RunCycle(context.Background())
	if summary.Suppressed != 1 || summary.Fired != 0 {
		t.Fatalf("expected suppression inside cooldown, got %+v", summary)
	}
	if dispatcher.Count() != 1 {
		t.Fatalf("suppressed cycle must not dispatch, got %d", dispatcher.Count())
	}

	clock.Add(25 * time.Minute)
	summary = engine.RunCycle(context.Background())
	if summary.Fired != 1 {
		t.Fatalf("expected firing after cooldown elapsed, got %+v", summary)
	}
	if dispatcher.Count() != 2 {
		t.Fatalf("expected 2 dispatched alerts, got %d", dispatcher.Count())
	}
}

func TestEngineConditionErrorDoesNotAffectSiblings(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)}
	broken := tsunamiRule()
	broken.ID = "rule-broken"
	broken.Name = "Broken Rule"
	broken.Conditions = []alerts.Condition{{Kind: "sensor_threshold"}}

	source := &stubRuleSource{rules: []alerts.Rule{broken, tsunamiRule()}}
	data := &fakeData{reportCount: 8}
	dispatcher := &recordingDispatcher{}
	engine := newTestEngine(t, source, data, dispatcher, alerts.CooldownByRule, clock)

	summary := engine.RunCycle(context.Background())
	if summary.Evaluated != 1 {
		// The broken rule fails validation and is dropped at refresh.
		t.Fatalf("expected broken rule dropped at load, got %+v", summary)
	}
	if summary.Fired != 1 {
		t.Fatalf("expected healthy rule to fire, got %+v", summary)
	}
}

func TestEngineFailsClosedOnDataError(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)}
	source := &stubRuleSource{rules: []alerts.Rule{tsunamiRule()}}
	data := &fakeData{err: errors.New("db down")}
	dispatcher := &recordingDispatcher{}
	engine := newTestEngine(t, source, data, dispatcher, alerts.CooldownByRule, clock)

	summary := engine.RunCycle(context.Background())
	if summary.Errors != 1 || summary.Fired != 0 {
		t.Fatalf("expected fail-closed error outcome, got %+v", summary)
	}
	if dispatcher.Count() != 0 {
		t.Fatal("errored rule must not dispatch")
	}
}

func TestEngineRetriesAfterDispatchFailure(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)}
	source := &stubRuleSource{rules: []alerts.Rule{tsunamiRule()}}
	data := &fakeData{reportCount: 8}
	dispatcher := &recordingDispatcher{err: errors.New("store down"), failOnce: true}
	engine := newTestEngine(t, source, data, dispatcher, alerts.CooldownByRule, clock)

	summary := engine.RunCycle(context.Background())
	if summary.Errors != 1 {
		t.Fatalf("expected dispatch failure to surface as error, got %+v", summary)
	}

	// Cooldown was not recorded, so the next cycle retries immediately.
	clock.Add(time.Minute)
	summary = engine.RunCycle(context.Background())
	if summary.Fired != 1 {
		t.Fatalf("expected retry to fire, got %+v", summary)
	}
}

type blockingData struct {
	fakeData
	blockHazard hazards.HazardType
}

func (b *blockingData) CountReports(ctx context.Context, hazardType hazards.HazardType, since time.Time, scope *hazards.GeoScope) (int, error) {
	if hazardType == b.blockHazard {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return b.fakeData.CountReports(ctx, hazardType, since, scope)
}

func TestEngineRuleTimeoutDoesNotStarveSiblings(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)}
	stuck := tsunamiRule()
	healthy := tsunamiRule()
	healthy.ID = "rule-flood"
	healthy.Name = "Flood Watch"
	healthy.HazardType = hazards.HazardFlood
	healthy.Severity = hazards.SeverityHigh

	source := &stubRuleSource{rules: []alerts.Rule{stuck, healthy}}
	data := &blockingData{fakeData: fakeData{reportCount: 8}, blockHazard: hazards.HazardTsunami}
	dispatcher := &recordingDispatcher{}

	evaluator, err := NewEvaluator(data)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	tracker, err := NewCooldownTracker(nil, alerts.CooldownByRule)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	composer, err := NewComposer("")
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	engine, err := NewEngine(source, evaluator, tracker, composer, dispatcher, zap.NewNop(),
		WithClock(clock), WithRuleTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.RefreshRules(context.Background()); err != nil {
		t.Fatalf("refresh rules: %v", err)
	}

	summary := engine.RunCycle(context.Background())
	if summary.Errors != 1 {
		t.Fatalf("expected stuck rule abandoned on timeout, got %+v", summary)
	}
	if summary.Fired != 1 {
		t.Fatalf("expected sibling rule to fire after the timeout, got %+v", summary)
	}
	if dispatcher.Count() != 1 {
		t.Fatalf("expected one dispatched alert, got %d", dispatcher.Count())
	}
	if alert := dispatcher.Latest(); alert.RuleID != "rule-flood" {
		t.Fatalf("expected the healthy rule's alert, got %+v", alert)
	}
}

func TestEngineRefreshKeepsLastKnownGood(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)}
	source := &stubRuleSource{rules: []alerts.Rule{tsunamiRule()}}
	data := &fakeData{reportCount: 8}
	dispatcher := &recordingDispatcher{}
	engine := newTestEngine(t, source, data, dispatcher, alerts.CooldownByRule, clock)

	source.mu.Lock()
	source.err = errors.New("db down")
	source.mu.Unlock()
	if err := engine.RefreshRules(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	summary := engine.RunCycle(context.Background())
	if summary.Evaluated != 1 {
		t.Fatalf("expected previous snapshot to survive failed refresh, got %+v", summary)
	}
}

func TestEngineHazardTypeCooldownSuppressesSiblings(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)}
	second := tsunamiRule()
	second.ID = "rule-tsunami-2"
	second.Name = "Tsunami Burst"
	source := &stubRuleSource{rules: []alerts.Rule{tsunamiRule(), second}}
	data := &fakeData{reportCount: 8}
	dispatcher := &recordingDispatcher{}
	engine := newTestEngine(t, source, data, dispatcher, alerts.CooldownByHazardType, clock)

	summary := engine.RunCycle(context.Background())
	if summary.Fired != 1 || summary.Suppressed != 1 {
		t.Fatalf("expected one firing to suppress the sibling under hazard keying, got %+v", summary)
	}
}

func TestEngineComposesAlertFromRule(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)}
	source := &stubRuleSource{rules: []alerts.Rule{tsunamiRule()}}
	data := &fakeData{reportCount: 8, confidence: 0.82}
	dispatcher := &recordingDispatcher{}
	engine := newTestEngine(t, source, data, dispatcher, alerts.CooldownByRule, clock)

	engine.RunCycle(context.Background())
	if dispatcher.Count() != 1 {
		t.Fatalf("expected 1 alert, got %d", dispatcher.Count())
	}
	alert := dispatcher.Latest()
	if alert.Title != "CRITICAL ALERT: Tsunami Detected" {
		t.Fatalf("unexpected title %q", alert.Title)
	}
	if alert.RuleID != "rule-tsunami" || alert.CreatedBy != "rule-tsunami" {
		t.Fatalf("expected rule attribution, got %+v", alert)
	}
	if len(alert.TargetRoles) != 2 {
		t.Fatalf("expected roles from notify_roles action, got %v", alert.TargetRoles)
	}
	status := engine.Status()
	if status.RulesLoaded != 1 || status.LastCycle == nil {
		t.Fatalf("unexpected status %+v", status)
	}
}
