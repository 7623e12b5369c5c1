package alerts

import (
	"errors"
	"fmt"
	"time"

	hazards "hazardwatch/internal/hazards/domain"
)

// Operator is the comparison applied by numeric and text conditions.
type Operator string

const (
	OperatorGreaterThan  Operator = "greater_than"
	OperatorLessThan     Operator = "less_than"
	OperatorEquals       Operator = "equals"
	OperatorContains     Operator = "contains"
	OperatorWithinRadius Operator = "within_radius"
)

// Valid returns true when operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreaterThan, OperatorLessThan, OperatorEquals, OperatorContains, OperatorWithinRadius:
		return true
	default:
		return false
	}
}

// Compare applies a numeric operator. Contains and within_radius are not
// numeric comparisons and always return false here.
func (o Operator) Compare(observed, value float64) bool {
	switch o {
	case OperatorGreaterThan:
		return observed > value
	case OperatorLessThan:
		return observed < value
	case OperatorEquals:
		return observed == value
	default:
		return false
	}
}

// ConditionKind discriminates the condition union.
type ConditionKind string

const (
	ConditionReportCount          ConditionKind = "report_count"
	ConditionSeverityThreshold    ConditionKind = "severity_threshold"
	ConditionTimeWindowBurst      ConditionKind = "time_window_burst"
	ConditionLocationProximity    ConditionKind = "location_proximity"
	ConditionSocialActivity       ConditionKind = "social_activity"
	ConditionOfficialDataPresence ConditionKind = "official_data_presence"
)

// Condition is one clause of a rule. Kind selects which fields apply; Validate
// enforces the per-kind shape so an unknown or half-filled condition is a
// configuration error instead of a silently skipped clause.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// report_count, severity_threshold, location_proximity, social_activity
	Operator Operator `json:"operator,omitempty"`
	Value    float64  `json:"value,omitempty"`

	// report_count, severity_threshold, social_activity; falls back to the
	// rule's time window when zero
	TimeWindowMinutes int `json:"time_window_minutes,omitempty"`

	// time_window_burst
	Count         int `json:"count,omitempty"`
	WindowMinutes int `json:"window_minutes,omitempty"`

	// location_proximity
	Lat      float64 `json:"lat,omitempty"`
	Lon      float64 `json:"lon,omitempty"`
	RadiusKm float64 `json:"radius_km,omitempty"`

	// social_activity
	MinRelevance float64 `json:"min_relevance,omitempty"`

	// official_data_presence
	Source                 string `json:"source,omitempty"`
	FeedType               string `json:"feed_type,omitempty"`
	FreshnessWindowMinutes int    `json:"freshness_window_minutes,omitempty"`
}

// Validate checks per-kind invariants.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionReportCount, ConditionSeverityThreshold:
		if !c.Operator.Valid() || c.Operator == OperatorContains || c.Operator == OperatorWithinRadius {
			return fmt.Errorf("condition %s: invalid operator %q", c.Kind, c.Operator)
		}
		if c.Value < 0 {
			return fmt.Errorf("condition %s: negative value", c.Kind)
		}
	case ConditionTimeWindowBurst:
		if c.Count < 2 {
			return errors.New("condition time_window_burst: count must be at least 2")
		}
		if c.WindowMinutes <= 0 {
			return errors.New("condition time_window_burst: window_minutes must be positive")
		}
	case ConditionLocationProximity:
		if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
			return errors.New("condition location_proximity: coordinates out of range")
		}
		if c.RadiusKm <= 0 {
			return errors.New("condition location_proximity: radius_km must be positive")
		}
		if !c.Operator.Valid() || c.Operator == OperatorContains {
			return fmt.Errorf("condition location_proximity: invalid operator %q", c.Operator)
		}
	case ConditionSocialActivity:
		if !c.Operator.Valid() || c.Operator == OperatorContains || c.Operator == OperatorWithinRadius {
			return fmt.Errorf("condition social_activity: invalid operator %q", c.Operator)
		}
		if c.MinRelevance < 0 || c.MinRelevance > 1 {
			return errors.New("condition social_activity: min_relevance must be in [0,1]")
		}
	case ConditionOfficialDataPresence:
		if c.Source == "" {
			return errors.New("condition official_data_presence: source required")
		}
		if c.FreshnessWindowMinutes <= 0 {
			return errors.New("condition official_data_presence: freshness_window_minutes must be positive")
		}
	default:
		return fmt.Errorf("condition: unknown kind %q", c.Kind)
	}
	return nil
}

// Window resolves the effective lookback window for a condition.
func (c Condition) Window(ruleWindowMinutes int) time.Duration {
	minutes := c.TimeWindowMinutes
	if minutes <= 0 {
		minutes = ruleWindowMinutes
	}
	if minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

// ActionKind discriminates the action union.
type ActionKind string

const (
	ActionCreateAlert ActionKind = "create_alert"
	ActionNotifyRoles ActionKind = "notify_roles"
	ActionEscalate    ActionKind = "escalate"
	ActionAutoVerify  ActionKind = "auto_verify"
	ActionSendEmail   ActionKind = "send_email"
	ActionSendSMS     ActionKind = "send_sms"
)

// Action is one configured reaction to a fired rule. DelayMinutes defers the
// action on a timer that is cancelled at engine shutdown.
type Action struct {
	Kind         ActionKind `json:"kind"`
	Roles        []string   `json:"roles,omitempty"`
	Recipients   []string   `json:"recipients,omitempty"`
	DelayMinutes int        `json:"delay_minutes,omitempty"`
}

// Validate checks per-kind invariants.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionCreateAlert, ActionEscalate, ActionAutoVerify:
	case ActionNotifyRoles:
		if len(a.Roles) == 0 {
			return errors.New("action notify_roles: roles required")
		}
	case ActionSendEmail, ActionSendSMS:
		if len(a.Recipients) == 0 {
			return fmt.Errorf("action %s: recipients required", a.Kind)
		}
	default:
		return fmt.Errorf("action: unknown kind %q", a.Kind)
	}
	if a.DelayMinutes < 0 {
		return fmt.Errorf("action %s: negative delay", a.Kind)
	}
	return nil
}

// Rule is an operator-configured alerting policy.
type Rule struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	HazardType        hazards.HazardType `json:"hazard_type"`
	Conditions        []Condition       `json:"conditions"`
	Actions           []Action          `json:"actions"`
	Severity          hazards.Severity  `json:"severity"`
	TimeWindowMinutes int               `json:"time_window_minutes"`
	CooldownMinutes   int               `json:"cooldown_minutes"`
	IsActive          bool              `json:"is_active"`
	Scope             *hazards.GeoScope `json:"geographic_scope,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Validate checks rule invariants. A rule without conditions never fires, so
// it is rejected outright rather than treated as vacuously true.
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.New("rule: empty id")
	}
	if r.Name == "" {
		return errors.New("rule: empty name")
	}
	if !r.HazardType.Valid() {
		return fmt.Errorf("rule %s: invalid hazard type %q", r.Name, r.HazardType)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("rule %s: invalid severity %q", r.Name, r.Severity)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule %s: at least one condition required", r.Name)
	}
	for i, condition := range r.Conditions {
		if err := condition.Validate(); err != nil {
			return fmt.Errorf("rule %s: condition %d: %w", r.Name, i, err)
		}
	}
	for i, action := range r.Actions {
		if err := action.Validate(); err != nil {
			return fmt.Errorf("rule %s: action %d: %w", r.Name, i, err)
		}
	}
	if r.TimeWindowMinutes < 0 {
		return fmt.Errorf("rule %s: negative time window", r.Name)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("rule %s: negative cooldown", r.Name)
	}
	if r.Scope != nil && !r.Scope.Valid() {
		return fmt.Errorf("rule %s: invalid geographic scope", r.Name)
	}
	return nil
}

// Cooldown returns the rule's cooldown as a duration.
func (r Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}
