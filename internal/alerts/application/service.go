package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	alerts "hazardwatch/internal/alerts/domain"
	alertrepo "hazardwatch/internal/alerts/infrastructure/postgres"
	hazards "hazardwatch/internal/hazards/domain"
)

// RuleStore persists alert rules.
type RuleStore interface {
	Create(ctx context.Context, rule *alerts.Rule) error
	Update(ctx context.Context, rule *alerts.Rule) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*alerts.Rule, error)
	List(ctx context.Context) ([]alerts.Rule, error)
}

// RuleService manages the rule lifecycle for the management surface.
type RuleService struct {
	store RuleStore
	clock Clock
}

// NewRuleService constructs a rule service.
func NewRuleService(store RuleStore, clock Clock) (*RuleService, error) {
	if store == nil {
		return nil, errors.New("rule service: nil store")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &RuleService{store: store, clock: clock}, nil
}

// Create validates and persists a new rule, assigning an id when absent.
func (s *RuleService) Create(ctx context.Context, rule *alerts.Rule) error {
	if s == nil || s.store == nil {
		return errors.New("rule service: nil store")
	}
	if rule == nil {
		return errors.New("rule service: nil rule")
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := s.clock.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := rule.Validate(); err != nil {
		return err
	}
	return s.store.Create(ctx, rule)
}

// Update validates and replaces a rule's definition. The engine picks the
// change up at its next refresh.
func (s *RuleService) Update(ctx context.Context, rule *alerts.Rule) error {
	if s == nil || s.store == nil {
		return errors.New("rule service: nil store")
	}
	if rule == nil {
		return errors.New("rule service: nil rule")
	}
	if rule.ID == "" {
		return errors.New("rule service: empty rule id")
	}
	rule.UpdatedAt = s.clock.Now().UTC()
	if err := rule.Validate(); err != nil {
		return err
	}
	return s.store.Update(ctx, rule)
}

// Delete removes a rule.
func (s *RuleService) Delete(ctx context.Context, id string) error {
	if s == nil || s.store == nil {
		return errors.New("rule service: nil store")
	}
	return s.store.Delete(ctx, id)
}

// Get loads a rule, nil when absent.
func (s *RuleService) Get(ctx context.Context, id string) (*alerts.Rule, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("rule service: nil store")
	}
	return s.store.GetByID(ctx, id)
}

// List returns all rules.
func (s *RuleService) List(ctx context.Context) ([]alerts.Rule, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("rule service: nil store")
	}
	return s.store.List(ctx)
}

// AlertReader loads and updates persisted alerts.
type AlertReader interface {
	GetByID(ctx context.Context, id string) (*alerts.Alert, error)
	List(ctx context.Context, filter alertrepo.ListFilter) ([]alerts.Alert, error)
	MarkAcknowledged(ctx context.Context, id, by string, at time.Time) error
}

// ManualDispatcher delivers operator-created alerts.
type ManualDispatcher interface {
	DispatchManual(ctx context.Context, alert *alerts.Alert) error
}

// AlertQuery narrows alert listings. Contains matches title or message
// case-insensitively.
type AlertQuery struct {
	From      time.Time
	To        time.Time
	AlertType hazards.HazardType
	Severity  hazards.Severity
	Contains  string
}

// ManualAlertInput describes an operator-created alert.
type ManualAlertInput struct {
	Title       string             `json:"title"`
	Message     string             `json:"message"`
	AlertType   hazards.HazardType `json:"alert_type"`
	Severity    hazards.Severity   `json:"severity"`
	TargetRoles []string           `json:"target_roles,omitempty"`
	TargetScope *hazards.GeoScope  `json:"target_scope,omitempty"`
}

// AlertService serves the alert query and acknowledgement surface.
type AlertService struct {
	alerts     AlertReader
	dispatcher ManualDispatcher
	clock      Clock
}

// NewAlertService constructs an alert service.
func NewAlertService(reader AlertReader, dispatcher ManualDispatcher, clock Clock) (*AlertService, error) {
	if reader == nil {
		return nil, errors.New("alert service: nil reader")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &AlertService{alerts: reader, dispatcher: dispatcher, clock: clock}, nil
}

// List returns alerts matching the query, newest first.
func (s *AlertService) List(ctx context.Context, query AlertQuery) ([]alerts.Alert, error) {
	if s == nil || s.alerts == nil {
		return nil, errors.New("alert service: nil reader")
	}
	if query.To.IsZero() {
		query.To = s.clock.Now().UTC()
	}
	if query.From.IsZero() {
		query.From = query.To.AddDate(0, 0, -7)
	}
	listed, err := s.alerts.List(ctx, alertrepo.ListFilter{
		From:      query.From,
		To:        query.To,
		AlertType: query.AlertType,
		Severity:  query.Severity,
	})
	if err != nil {
		return nil, err
	}
	if query.Contains == "" {
		return listed, nil
	}
	needle := strings.ToLower(query.Contains)
	filtered := listed[:0]
	for _, alert := range listed {
		if strings.Contains(strings.ToLower(alert.Title), needle) ||
			strings.Contains(strings.ToLower(alert.Message), needle) {
			filtered = append(filtered, alert)
		}
	}
	return filtered, nil
}

// Get loads an alert, nil when absent.
func (s *AlertService) Get(ctx context.Context, id string) (*alerts.Alert, error) {
	if s == nil || s.alerts == nil {
		return nil, errors.New("alert service: nil reader")
	}
	return s.alerts.GetByID(ctx, id)
}

// CreateManual persists and delivers an operator-created alert.
func (s *AlertService) CreateManual(ctx context.Context, input ManualAlertInput, createdBy string) (*alerts.Alert, error) {
	if s == nil || s.dispatcher == nil {
		return nil, errors.New("alert service: nil dispatcher")
	}
	if input.Title == "" {
		return nil, errors.New("alert service: empty title")
	}
	if input.Message == "" {
		return nil, errors.New("alert service: empty message")
	}
	if !input.AlertType.Valid() {
		return nil, errors.New("alert service: invalid alert type")
	}
	if !input.Severity.Valid() {
		return nil, errors.New("alert service: invalid severity")
	}
	if input.TargetScope != nil && !input.TargetScope.Valid() {
		return nil, errors.New("alert service: invalid target scope")
	}
	if createdBy == "" {
		createdBy = alerts.CreatedBySystem
	}
	alert := &alerts.Alert{
		ID:          uuid.New().String(),
		Title:       input.Title,
		Message:     input.Message,
		AlertType:   input.AlertType,
		Severity:    input.Severity,
		TargetRoles: input.TargetRoles,
		TargetScope: input.TargetScope,
		CreatedBy:   createdBy,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := s.dispatcher.DispatchManual(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// Acknowledge marks an alert acknowledged by a subject.
func (s *AlertService) Acknowledge(ctx context.Context, id, by string) error {
	if s == nil || s.alerts == nil {
		return errors.New("alert service: nil reader")
	}
	if id == "" {
		return errors.New("alert service: empty alert id")
	}
	if by == "" {
		return errors.New("alert service: empty subject")
	}
	return s.alerts.MarkAcknowledged(ctx, id, by, s.clock.Now().UTC())
}
