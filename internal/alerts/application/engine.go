package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	alerts "hazardwatch/internal/alerts/domain"
	"hazardwatch/internal/observability/metrics"
)

// Outcome is the terminal state of one rule in one evaluation cycle.
type Outcome string

const (
	OutcomeFired        Outcome = "fired"
	OutcomeNotTriggered Outcome = "not_triggered"
	OutcomeSuppressed   Outcome = "suppressed"
	OutcomeError        Outcome = "error"
)

// AlertEvent is a lifecycle update fanned out to notifiers (SSE stream etc).
type AlertEvent struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

// AlertNotifier receives alert lifecycle events.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// RuleSource loads the active rule set.
type RuleSource interface {
	ListActive(ctx context.Context) ([]alerts.Rule, error)
}

// Dispatcher persists a composed alert and executes the rule's actions.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *alerts.Alert, rule alerts.Rule) error
}

// RuleResult reports one rule's outcome for a cycle.
type RuleResult struct {
	RuleID   string
	RuleName string
	Outcome  Outcome
	Trigger  alerts.TriggerContext
	Err      error
}

// CycleSummary aggregates one evaluation cycle.
type CycleSummary struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Evaluated    int           `json:"evaluated"`
	Fired        int           `json:"fired"`
	Suppressed   int           `json:"suppressed"`
	NotTriggered int           `json:"not_triggered"`
	Errors       int           `json:"errors"`
}

// EngineStatus is the operator-visible snapshot of engine health.
type EngineStatus struct {
	Running          bool          `json:"running"`
	RulesLoaded      int           `json:"rules_loaded"`
	RulesRefreshedAt time.Time     `json:"rules_refreshed_at,omitempty"`
	LastCycle        *CycleSummary `json:"last_cycle,omitempty"`
}

type ruleSnapshot struct {
	rules    []alerts.Rule
	loadedAt time.Time
}

// Engine owns the active rule set and runs the periodic evaluation cycle.
// Rules are held behind an atomic snapshot replaced on refresh; cooldown state
// lives in the tracker. One engine instance must run per deployment — running
// several without distributed locking duplicates alerts.
type Engine struct {
	rules       RuleSource
	evaluator   *Evaluator
	tracker     *CooldownTracker
	composer    *Composer
	dispatcher  Dispatcher
	logger      *zap.Logger
	clock       Clock
	ruleTimeout time.Duration

	cron     *cron.Cron
	snapshot atomic.Pointer[ruleSnapshot]
	inCycle  atomic.Bool
	running  atomic.Bool

	mu        sync.Mutex
	lastCycle *CycleSummary

	stopOnce sync.Once
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithClock overrides the default clock.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithRuleTimeout bounds a single rule's evaluation.
func WithRuleTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		if timeout > 0 {
			e.ruleTimeout = timeout
		}
	}
}

// NewEngine constructs an engine.
func NewEngine(rules RuleSource, evaluator *Evaluator, tracker *CooldownTracker, composer *Composer, dispatcher Dispatcher, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if rules == nil {
		return nil, errors.New("engine: nil rule source")
	}
	if evaluator == nil {
		return nil, errors.New("engine: nil evaluator")
	}
	if tracker == nil {
		return nil, errors.New("engine: nil cooldown tracker")
	}
	if composer == nil {
		return nil, errors.New("engine: nil composer")
	}
	if dispatcher == nil {
		return nil, errors.New("engine: nil dispatcher")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := &Engine{
		rules:       rules,
		evaluator:   evaluator,
		tracker:     tracker,
		composer:    composer,
		dispatcher:  dispatcher,
		logger:      logger,
		clock:       systemClock{},
		ruleTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Start loads the rule set and begins the periodic evaluation and refresh
// jobs. Cron specs use robfig/cron syntax, e.g. "@every 2m".
func (e *Engine) Start(evaluateSpec, refreshSpec string) error {
	if e == nil {
		return errors.New("engine: nil")
	}
	if e.running.Load() {
		return errors.New("engine: already started")
	}

	if err := e.RefreshRules(context.Background()); err != nil {
		// Start anyway; the refresh job self-heals once the store is back.
		e.logger.Warn("initial rule load failed", zap.Error(err))
	}

	e.cron = cron.New()
	if _, err := e.cron.AddFunc(evaluateSpec, func() {
		e.RunCycle(context.Background())
	}); err != nil {
		return errors.New("engine: invalid evaluate schedule " + evaluateSpec)
	}
	if _, err := e.cron.AddFunc(refreshSpec, func() {
		if err := e.RefreshRules(context.Background()); err != nil {
			e.logger.Warn("rule refresh failed, keeping last known rules", zap.Error(err))
		}
	}); err != nil {
		return errors.New("engine: invalid refresh schedule " + refreshSpec)
	}
	e.cron.Start()
	e.running.Store(true)
	e.logger.Info("engine started",
		zap.String("evaluate_schedule", evaluateSpec),
		zap.String("refresh_schedule", refreshSpec))
	return nil
}

// Stop halts the schedule and waits for an in-flight cycle to finish.
func (e *Engine) Stop() {
	if e == nil {
		return
	}
	e.stopOnce.Do(func() {
		e.running.Store(false)
		if e.cron != nil {
			<-e.cron.Stop().Done()
		}
		e.logger.Info("engine stopped")
	})
}

// RefreshRules replaces the rule snapshot from the source. On failure the
// previous snapshot stays in place so a flaky store never empties the rule
// set. Invalid rules are dropped with a warning.
func (e *Engine) RefreshRules(ctx context.Context) error {
	loaded, err := e.rules.ListActive(ctx)
	if err != nil {
		metrics.IncRuleRefresh(metrics.ResultError)
		return err
	}
	valid := loaded[:0]
	for _, rule := range loaded {
		if err := rule.Validate(); err != nil {
			e.logger.Warn("dropping invalid rule",
				zap.String("rule_id", rule.ID),
				zap.Error(err))
			continue
		}
		valid = append(valid, rule)
	}
	// Critical rules first so the most urgent policies are evaluated before
	// any per-rule slowness eats into the cycle.
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Severity.Rank() != valid[j].Severity.Rank() {
			return valid[i].Severity.Rank() > valid[j].Severity.Rank()
		}
		return valid[i].Name < valid[j].Name
	})
	e.snapshot.Store(&ruleSnapshot{rules: valid, loadedAt: e.clock.Now().UTC()})
	metrics.IncRuleRefresh(metrics.ResultSuccess)
	e.logger.Info("rules refreshed", zap.Int("count", len(valid)))
	return nil
}

// RunCycle evaluates every rule in the current snapshot once. A cycle that
// overlaps a still-running one is skipped.
func (e *Engine) RunCycle(ctx context.Context) CycleSummary {
	now := e.clock.Now().UTC()
	summary := CycleSummary{StartedAt: now}
	if !e.inCycle.CompareAndSwap(false, true) {
		e.logger.Warn("evaluation cycle still running, skipping tick")
		metrics.IncCycleSkipped()
		return summary
	}
	defer e.inCycle.Store(false)

	snap := e.snapshot.Load()
	if snap == nil {
		e.logger.Warn("no rules loaded, skipping cycle")
		return summary
	}

	for _, rule := range snap.rules {
		result := e.evaluateRule(ctx, rule, now)
		summary.Evaluated++
		switch result.Outcome {
		case OutcomeFired:
			summary.Fired++
		case OutcomeSuppressed:
			summary.Suppressed++
		case OutcomeError:
			summary.Errors++
		default:
			summary.NotTriggered++
		}
		metrics.IncRuleOutcome(string(result.Outcome))
	}

	summary.Duration = e.clock.Now().UTC().Sub(now)
	metrics.ObserveCycle(summary.Duration)
	e.mu.Lock()
	e.lastCycle = &summary
	e.mu.Unlock()
	e.logger.Info("evaluation cycle complete",
		zap.Int("evaluated", summary.Evaluated),
		zap.Int("fired", summary.Fired),
		zap.Int("suppressed", summary.Suppressed),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", summary.Duration))
	return summary
}

// evaluateRule walks one rule through a cycle: conditions AND-combined with
// short-circuit, then the cooldown gate, then compose/dispatch/record. Any
// condition error fails the rule closed for this cycle without touching
// sibling rules.
func (e *Engine) evaluateRule(parent context.Context, rule alerts.Rule, now time.Time) RuleResult {
	result := RuleResult{RuleID: rule.ID, RuleName: rule.Name, Trigger: alerts.TriggerContext{}}

	ctx := parent
	if e.ruleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, e.ruleTimeout)
		defer cancel()
	}

	e.logger.Debug("evaluating rule", zap.String("rule_id", rule.ID), zap.String("rule", rule.Name))

	for _, condition := range rule.Conditions {
		ok, observed, err := e.evaluator.Evaluate(ctx, rule, condition, now)
		if err != nil {
			metrics.IncConditionEval(string(condition.Kind), metrics.ResultError)
			e.logger.Warn("condition evaluation failed, treating rule as not triggered",
				zap.String("rule_id", rule.ID),
				zap.String("condition", string(condition.Kind)),
				zap.Error(err))
			result.Outcome = OutcomeError
			result.Err = err
			return result
		}
		metrics.IncConditionEval(string(condition.Kind), metrics.ResultSuccess)
		result.Trigger[string(condition.Kind)] = observed
		if !ok {
			result.Outcome = OutcomeNotTriggered
			return result
		}
	}

	suppress, err := e.tracker.ShouldSuppress(ctx, rule, now)
	if err != nil {
		// A broken cooldown store must not silence alerting; log and proceed.
		e.logger.Warn("cooldown lookup failed, not suppressing",
			zap.String("rule_id", rule.ID),
			zap.Error(err))
	}
	if suppress {
		e.logger.Info("rule triggered during cooldown, suppressed",
			zap.String("rule_id", rule.ID),
			zap.String("rule", rule.Name))
		result.Outcome = OutcomeSuppressed
		return result
	}

	averageConfidence, err := e.evaluator.AverageConfidence(ctx, rule, now)
	if err != nil {
		averageConfidence = 0
	}
	alert, err := e.composer.Compose(rule, result.Trigger, averageConfidence, uuid.New().String(), now)
	if err != nil {
		e.logger.Error("alert composition failed",
			zap.String("rule_id", rule.ID),
			zap.Error(err))
		result.Outcome = OutcomeError
		result.Err = err
		return result
	}
	if err := e.dispatcher.Dispatch(ctx, alert, rule); err != nil {
		// Alert not persisted; leave cooldown untouched so the next cycle
		// retries.
		e.logger.Error("alert dispatch failed",
			zap.String("rule_id", rule.ID),
			zap.String("alert_id", alert.ID),
			zap.Error(err))
		result.Outcome = OutcomeError
		result.Err = err
		return result
	}
	if err := e.tracker.RecordFired(ctx, rule, now); err != nil {
		e.logger.Warn("cooldown record failed",
			zap.String("rule_id", rule.ID),
			zap.Error(err))
	}

	e.logger.Info("rule fired",
		zap.String("rule_id", rule.ID),
		zap.String("rule", rule.Name),
		zap.String("alert_id", alert.ID),
		zap.String("hazard_type", string(rule.HazardType)),
		zap.String("severity", string(rule.Severity)))
	result.Outcome = OutcomeFired
	return result
}

// Status reports engine health for the operational surface.
func (e *Engine) Status() EngineStatus {
	status := EngineStatus{Running: e.running.Load()}
	if snap := e.snapshot.Load(); snap != nil {
		status.RulesLoaded = len(snap.rules)
		status.RulesRefreshedAt = snap.loadedAt
	}
	e.mu.Lock()
	status.LastCycle = e.lastCycle
	e.mu.Unlock()
	return status
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
