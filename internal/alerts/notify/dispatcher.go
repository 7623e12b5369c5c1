package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"hazardwatch/internal/alerts/application"
	alerts "hazardwatch/internal/alerts/domain"
	hazards "hazardwatch/internal/hazards/domain"
	"hazardwatch/internal/observability/metrics"
)

// AlertStore persists alerts and their delivery state.
type AlertStore interface {
	Create(ctx context.Context, alert *alerts.Alert) error
	MarkSent(ctx context.Context, id string, at time.Time) error
	GetByID(ctx context.Context, id string) (*alerts.Alert, error)
}

// ReportVerifier flags source reports as verified, backing the auto_verify
// action.
type ReportVerifier interface {
	MarkReportsVerified(ctx context.Context, hazardType hazards.HazardType, since time.Time) (int64, error)
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

// Dispatcher persists a composed alert and runs the rule's actions. Action
// failures are isolated: a failed channel send never rolls back the alert or
// blocks the remaining actions. Only a failed persist makes Dispatch fail, so
// the engine can retry the rule next cycle without double-recording cooldown.
type Dispatcher struct {
	store          AlertStore
	verifier       ReportVerifier
	channels       map[string]Channel
	template       *Template
	notifier       application.AlertNotifier
	logger         *zap.Logger
	clock          Clock
	requestTimeout time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherClock overrides the default clock.
func WithDispatcherClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithRequestTimeout overrides the default timeout for delayed action runs.
func WithRequestTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.requestTimeout = timeout
		}
	}
}

// WithNotifier attaches a lifecycle event sink (e.g. the SSE broker).
func WithNotifier(notifier application.AlertNotifier) DispatcherOption {
	return func(d *Dispatcher) {
		if notifier != nil {
			d.notifier = notifier
		}
	}
}

// WithVerifier attaches the report verifier used by auto_verify actions.
func WithVerifier(verifier ReportVerifier) DispatcherOption {
	return func(d *Dispatcher) {
		if verifier != nil {
			d.verifier = verifier
		}
	}
}

// NewDispatcher constructs a dispatcher. Channels are keyed by action medium:
// "webhook" serves notify_roles and escalate, "email" and "sms" serve their
// matching actions. Missing channels make those actions log-and-skip.
func NewDispatcher(store AlertStore, channels map[string]Channel, template *Template, logger *zap.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("dispatcher: nil alert store")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		store:          store,
		channels:       channels,
		template:       template,
		logger:         logger,
		clock:          systemClock{},
		requestTimeout: 10 * time.Second,
		timers:         make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch persists the alert, marks it sent once the immediate actions ran,
// and schedules any delayed actions.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *alerts.Alert, rule alerts.Rule) error {
	if d == nil || d.store == nil {
		return errors.New("dispatcher: nil store")
	}
	if alert == nil {
		return errors.New("dispatcher: nil alert")
	}
	if err := d.store.Create(ctx, alert); err != nil {
		return fmt.Errorf("dispatcher: persist alert: %w", err)
	}
	d.emit(ctx, "created", *alert)

	for _, action := range rule.Actions {
		if action.Kind == alerts.ActionCreateAlert {
			// Persisting above covers this action.
			metrics.IncDispatchAction(string(action.Kind), metrics.ResultSuccess)
			continue
		}
		if action.DelayMinutes > 0 {
			d.scheduleDelayed(*alert, rule, action)
			continue
		}
		d.runAction(ctx, *alert, rule, action)
	}

	now := d.clock.Now().UTC()
	if err := d.store.MarkSent(ctx, alert.ID, now); err != nil {
		if !errors.Is(err, alerts.ErrAlreadySent) {
			d.logger.Warn("mark sent failed",
				zap.String("alert_id", alert.ID),
				zap.Error(err))
		}
	} else {
		alert.SentAt = now
		d.emit(ctx, "sent", *alert)
	}
	return nil
}

// DispatchManual persists and delivers an operator-created alert. No rule
// actions apply; the alert goes straight to the webhook channel.
func (d *Dispatcher) DispatchManual(ctx context.Context, alert *alerts.Alert) error {
	if d == nil || d.store == nil {
		return errors.New("dispatcher: nil store")
	}
	if alert == nil {
		return errors.New("dispatcher: nil alert")
	}
	if err := d.store.Create(ctx, alert); err != nil {
		return fmt.Errorf("dispatcher: persist alert: %w", err)
	}
	d.emit(ctx, "created", *alert)
	_ = d.send(ctx, "webhook", *alert, eventTriggered)

	now := d.clock.Now().UTC()
	if err := d.store.MarkSent(ctx, alert.ID, now); err != nil {
		if !errors.Is(err, alerts.ErrAlreadySent) {
			d.logger.Warn("mark sent failed",
				zap.String("alert_id", alert.ID),
				zap.Error(err))
		}
	} else {
		alert.SentAt = now
		d.emit(ctx, "sent", *alert)
	}
	return nil
}

// Close cancels all pending delayed actions.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.closed = true
	timers := d.timers
	d.timers = make(map[string]*time.Timer)
	d.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (d *Dispatcher) runAction(ctx context.Context, alert alerts.Alert, rule alerts.Rule, action alerts.Action) {
	var err error
	switch action.Kind {
	case alerts.ActionNotifyRoles:
		err = d.send(ctx, "webhook", alert, eventTriggered)
	case alerts.ActionEscalate:
		err = d.send(ctx, "webhook", alert, eventEscalated)
	case alerts.ActionSendEmail:
		err = d.send(ctx, "email", alert, eventTriggered)
	case alerts.ActionSendSMS:
		err = d.send(ctx, "sms", alert, eventTriggered)
	case alerts.ActionAutoVerify:
		err = d.autoVerify(ctx, rule)
	default:
		err = fmt.Errorf("dispatcher: unknown action kind %q", action.Kind)
	}
	if err != nil {
		metrics.IncDispatchAction(string(action.Kind), metrics.ResultError)
		d.logger.Warn("action failed",
			zap.String("alert_id", alert.ID),
			zap.String("action", string(action.Kind)),
			zap.Error(err))
		return
	}
	metrics.IncDispatchAction(string(action.Kind), metrics.ResultSuccess)
}

// Event labels mark deliveries so an escalated re-send is distinguishable from
// the initial notification downstream.
const (
	eventTriggered = "Triggered"
	eventEscalated = "Escalated"
)

func (d *Dispatcher) send(ctx context.Context, medium string, alert alerts.Alert, event string) error {
	channel := d.channels[medium]
	if channel == nil {
		d.logger.Debug("no channel configured, skipping delivery",
			zap.String("medium", medium),
			zap.String("alert_id", alert.ID))
		return nil
	}
	content, err := d.template.Render(TemplateData{
		EventLabel:  event,
		Title:       alert.Title,
		Message:     alert.Message,
		HazardName:  alert.AlertType.DisplayName(),
		Severity:    string(alert.Severity),
		TriggeredAt: alert.CreatedAt.UTC().Format(time.RFC3339),
		Roles:       strings.Join(alert.TargetRoles, ", "),
		AlertID:     alert.ID,
		RuleID:      alert.RuleID,
	})
	if err != nil {
		return err
	}
	subject := alert.Title
	if event == eventEscalated {
		subject = "ESCALATED: " + alert.Title
	}
	return channel.Send(ctx, subject, content)
}

func (d *Dispatcher) autoVerify(ctx context.Context, rule alerts.Rule) error {
	if d.verifier == nil {
		return nil
	}
	window := time.Duration(rule.TimeWindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Hour
	}
	count, err := d.verifier.MarkReportsVerified(ctx, rule.HazardType, d.clock.Now().UTC().Add(-window))
	if err != nil {
		return err
	}
	d.logger.Info("reports auto-verified",
		zap.String("rule_id", rule.ID),
		zap.Int64("count", count))
	return nil
}

func (d *Dispatcher) scheduleDelayed(alert alerts.Alert, rule alerts.Rule, action alerts.Action) {
	key := alert.ID + "|" + string(action.Kind)
	delay := time.Duration(action.DelayMinutes) * time.Minute

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if existing, ok := d.timers[key]; ok && existing != nil {
		existing.Stop()
	}
	d.timers[key] = time.AfterFunc(delay, func() {
		d.runDelayed(key, alert, rule, action)
	})
	d.mu.Unlock()
}

func (d *Dispatcher) runDelayed(key string, alert alerts.Alert, rule alerts.Rule, action alerts.Action) {
	d.mu.Lock()
	delete(d.timers, key)
	d.mu.Unlock()

	ctx := context.Background()
	if d.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.requestTimeout)
		defer cancel()
	}

	// An alert acknowledged during the delay no longer needs escalation.
	if action.Kind == alerts.ActionEscalate {
		current, err := d.store.GetByID(ctx, alert.ID)
		if err == nil && current != nil && current.Acknowledged {
			d.logger.Info("alert acknowledged, skipping escalation",
				zap.String("alert_id", alert.ID))
			return
		}
	}
	d.runAction(ctx, alert, rule, action)
}

func (d *Dispatcher) emit(ctx context.Context, eventType string, alert alerts.Alert) {
	if d.notifier == nil {
		return
	}
	d.notifier.Notify(ctx, application.AlertEvent{Type: eventType, Alert: alert})
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
