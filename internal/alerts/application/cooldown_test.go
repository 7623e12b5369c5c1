package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alerts "hazardwatch/internal/alerts/domain"
	hazards "hazardwatch/internal/hazards/domain"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]time.Time
	err     error
	gets    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]time.Time)}
}

func (s *memoryStore) Get(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.err != nil {
		return time.Time{}, false, s.err
	}
	at, ok := s.records[key]
	return at, ok, nil
}

func (s *memoryStore) Record(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records[key] = at
	return nil
}

func cooldownRule(id string, minutes int) alerts.Rule {
	return alerts.Rule{
		ID:              id,
		Name:            "Rule " + id,
		HazardType:      hazards.HazardFlood,
		Severity:        hazards.SeverityHigh,
		CooldownMinutes: minutes,
	}
}

func TestCooldownTrackerSuppressesWithinWindow(t *testing.T) {
	tracker, err := NewCooldownTracker(newMemoryStore(), alerts.CooldownByRule)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	rule := cooldownRule("rule-1", 30)
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	suppress, err := tracker.ShouldSuppress(context.Background(), rule, now)
	if err != nil || suppress {
		t.Fatalf("never-fired rule must not be suppressed: %v %v", suppress, err)
	}
	if err := tracker.RecordFired(context.Background(), rule, now); err != nil {
		t.Fatalf("record fired: %v", err)
	}
	suppress, err = tracker.ShouldSuppress(context.Background(), rule, now.Add(10*time.Minute))
	if err != nil || !suppress {
		t.Fatalf("expected suppression inside window: %v %v", suppress, err)
	}
	suppress, err = tracker.ShouldSuppress(context.Background(), rule, now.Add(31*time.Minute))
	if err != nil || suppress {
		t.Fatalf("expected no suppression after window: %v %v", suppress, err)
	}
}

func TestCooldownTrackerZeroCooldownNeverSuppresses(t *testing.T) {
	tracker, _ := NewCooldownTracker(newMemoryStore(), alerts.CooldownByRule)
	rule := cooldownRule("rule-1", 0)
	now := time.Now().UTC()
	_ = tracker.RecordFired(context.Background(), rule, now)
	suppress, err := tracker.ShouldSuppress(context.Background(), rule, now)
	if err != nil || suppress {
		t.Fatalf("zero cooldown must never suppress: %v %v", suppress, err)
	}
}

func TestCooldownTrackerLoadsFromStore(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	store.records["rule:rule-1"] = now

	// A fresh tracker simulates a restart; suppression state must survive.
	tracker, _ := NewCooldownTracker(store, alerts.CooldownByRule)
	suppress, err := tracker.ShouldSuppress(context.Background(), cooldownRule("rule-1", 30), now.Add(5*time.Minute))
	if err != nil || !suppress {
		t.Fatalf("expected persisted cooldown to suppress: %v %v", suppress, err)
	}

	// Second lookup is served from cache.
	before := store.gets
	_, _ = tracker.ShouldSuppress(context.Background(), cooldownRule("rule-1", 30), now.Add(6*time.Minute))
	if store.gets != before {
		t.Fatalf("expected cached lookup, store gets went %d -> %d", before, store.gets)
	}
}

func TestCooldownTrackerStoreErrorSurfaces(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("db down")
	tracker, _ := NewCooldownTracker(store, alerts.CooldownByRule)
	if _, err := tracker.ShouldSuppress(context.Background(), cooldownRule("rule-1", 30), time.Now()); err == nil {
		t.Fatal("expected store error to surface")
	}
}

func TestCooldownTrackerHazardKeyingSharesState(t *testing.T) {
	tracker, _ := NewCooldownTracker(newMemoryStore(), alerts.CooldownByHazardType)
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	first := cooldownRule("rule-1", 30)
	sibling := cooldownRule("rule-2", 30)

	_ = tracker.RecordFired(context.Background(), first, now)
	suppress, err := tracker.ShouldSuppress(context.Background(), sibling, now.Add(5*time.Minute))
	if err != nil || !suppress {
		t.Fatalf("expected sibling rule suppressed under hazard keying: %v %v", suppress, err)
	}
}

func TestNewCooldownTrackerRejectsBadKeying(t *testing.T) {
	if _, err := NewCooldownTracker(nil, "station"); err == nil {
		t.Fatal("expected error for invalid keying")
	}
}
