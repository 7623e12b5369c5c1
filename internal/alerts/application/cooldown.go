package application

import (
	"context"
	"errors"
	"sync"
	"time"

	alerts "hazardwatch/internal/alerts/domain"
)

// CooldownStore persists last-fired timestamps across restarts.
type CooldownStore interface {
	Get(ctx context.Context, key string) (time.Time, bool, error)
	Record(ctx context.Context, key string, at time.Time) error
}

// CooldownTracker decides whether a firing must be suppressed because the
// same cooldown key fired too recently. Reads hit an in-process cache first;
// writes go through to the store so a restart does not reset suppression.
// Safe for concurrent reads with single-writer updates at fire time.
type CooldownTracker struct {
	mu     sync.Mutex
	store  CooldownStore
	keying alerts.CooldownKeying
	cache  map[string]time.Time
}

// NewCooldownTracker constructs a tracker. A nil store keeps cooldowns purely
// in memory.
func NewCooldownTracker(store CooldownStore, keying alerts.CooldownKeying) (*CooldownTracker, error) {
	if !keying.Valid() {
		return nil, errors.New("cooldown tracker: invalid keying mode")
	}
	return &CooldownTracker{
		store:  store,
		keying: keying,
		cache:  make(map[string]time.Time),
	}, nil
}

// ShouldSuppress returns true when the rule's cooldown window has not elapsed
// since the last firing of its key.
func (t *CooldownTracker) ShouldSuppress(ctx context.Context, rule alerts.Rule, now time.Time) (bool, error) {
	if t == nil {
		return false, errors.New("cooldown tracker: nil")
	}
	cooldown := rule.Cooldown()
	if cooldown <= 0 {
		return false, nil
	}
	key := t.keying.Key(rule)

	t.mu.Lock()
	last, ok := t.cache[key]
	t.mu.Unlock()

	if !ok && t.store != nil {
		stored, found, err := t.store.Get(ctx, key)
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil
		}
		last = stored
		t.mu.Lock()
		t.cache[key] = stored
		t.mu.Unlock()
		ok = true
	}
	if !ok {
		return false, nil
	}
	return now.Sub(last) < cooldown, nil
}

// RecordFired stores the firing time for the rule's key.
func (t *CooldownTracker) RecordFired(ctx context.Context, rule alerts.Rule, now time.Time) error {
	if t == nil {
		return errors.New("cooldown tracker: nil")
	}
	key := t.keying.Key(rule)
	t.mu.Lock()
	t.cache[key] = now.UTC()
	t.mu.Unlock()
	if t.store == nil {
		return nil
	}
	return t.store.Record(ctx, key, now.UTC())
}
