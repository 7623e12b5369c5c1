package alerts

import (
	"time"

	hazards "hazardwatch/internal/hazards/domain"
)

// CreatedBySystem marks alerts produced by rule evaluation as opposed to a
// specific operator subject.
const CreatedBySystem = "system"

// Alert is a persisted notification record. Immutable after creation except
// for SentAt (set at most once) and the acknowledge fields.
type Alert struct {
	ID             string             `json:"id"`
	RuleID         string             `json:"rule_id,omitempty"`
	Title          string             `json:"title"`
	Message        string             `json:"message"`
	AlertType      hazards.HazardType `json:"alert_type"`
	Severity       hazards.Severity   `json:"severity"`
	TargetRoles    []string           `json:"target_roles,omitempty"`
	TargetScope    *hazards.GeoScope  `json:"target_scope,omitempty"`
	CreatedBy      string             `json:"created_by"`
	CreatedAt      time.Time          `json:"created_at"`
	SentAt         time.Time          `json:"sent_at,omitempty"`
	Acknowledged   bool               `json:"acknowledged"`
	AcknowledgedAt time.Time          `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string             `json:"acknowledged_by,omitempty"`
}

// TriggerContext carries the observed values each condition produced, keyed by
// condition kind, for message composition and structured logging.
type TriggerContext map[string]float64

// TriggerEvent is the ephemeral result of a rule whose conditions all held.
// It is not persisted unless the firing produces an Alert.
type TriggerEvent struct {
	RuleID      string         `json:"rule_id"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
	TriggerData TriggerContext `json:"trigger_data"`
}

// CooldownState records the last firing time for a cooldown key.
type CooldownState struct {
	RuleKey         string    `json:"rule_key"`
	LastTriggeredAt time.Time `json:"last_triggered_at"`
}

// CooldownKeying selects how firings are grouped for suppression.
type CooldownKeying string

const (
	// CooldownByRule keys cooldown strictly by rule id, the default: two rules
	// covering the same hazard suppress independently.
	CooldownByRule CooldownKeying = "rule"
	// CooldownByHazardType keys cooldown by the rule's hazard type, so any
	// firing suppresses every rule for that hazard.
	CooldownByHazardType CooldownKeying = "hazard_type"
)

// Valid returns true for a known keying mode.
func (k CooldownKeying) Valid() bool {
	return k == CooldownByRule || k == CooldownByHazardType
}

// Key resolves the cooldown key for a rule under this keying mode.
func (k CooldownKeying) Key(rule Rule) string {
	if k == CooldownByHazardType {
		return "hazard:" + string(rule.HazardType)
	}
	return "rule:" + rule.ID
}
