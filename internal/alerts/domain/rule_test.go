package alerts

import (
	"strings"
	"testing"
	"time"

	hazards "hazardwatch/internal/hazards/domain"
)

func validRule() Rule {
	return Rule{
		ID:         "rule-1",
		Name:       "Earthquake Surge",
		HazardType: hazards.HazardEarthquake,
		Severity:   hazards.SeverityHigh,
		Conditions: []Condition{
			{Kind: ConditionReportCount, Operator: OperatorGreaterThan, Value: 5, TimeWindowMinutes: 30},
		},
		Actions: []Action{
			{Kind: ActionCreateAlert},
			{Kind: ActionNotifyRoles, Roles: []string{"admin"}},
		},
		TimeWindowMinutes: 30,
		CooldownMinutes:   60,
		IsActive:          true,
	}
}

func TestRuleValidate(t *testing.T) {
	if err := validRule().Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	rule := validRule()
	rule.Conditions = nil
	if err := rule.Validate(); err == nil {
		t.Fatal("expected error for rule without conditions")
	}

	rule = validRule()
	rule.HazardType = "meteor"
	if err := rule.Validate(); err == nil {
		t.Fatal("expected error for unknown hazard type")
	}

	rule = validRule()
	rule.Severity = "extreme"
	if err := rule.Validate(); err == nil {
		t.Fatal("expected error for unknown severity")
	}

	rule = validRule()
	rule.CooldownMinutes = -1
	if err := rule.Validate(); err == nil {
		t.Fatal("expected error for negative cooldown")
	}

	rule = validRule()
	rule.Scope = &hazards.GeoScope{MinLat: 10, MaxLat: 5, MinLon: 0, MaxLon: 1}
	if err := rule.Validate(); err == nil {
		t.Fatal("expected error for inverted scope")
	}
}

func TestConditionValidateUnknownKind(t *testing.T) {
	condition := Condition{Kind: "sensor_threshold", Operator: OperatorGreaterThan, Value: 1}
	err := condition.Validate()
	if err == nil {
		t.Fatal("expected error for unknown condition kind")
	}
	if !strings.Contains(err.Error(), "unknown kind") {
		t.Fatalf("expected unknown-kind error, got %v", err)
	}
}

func TestConditionValidatePerKind(t *testing.T) {
	cases := []struct {
		name      string
		condition Condition
		wantErr   bool
	}{
		{"report count valid", Condition{Kind: ConditionReportCount, Operator: OperatorGreaterThan, Value: 3}, false},
		{"report count contains operator", Condition{Kind: ConditionReportCount, Operator: OperatorContains, Value: 3}, true},
		{"severity threshold negative value", Condition{Kind: ConditionSeverityThreshold, Operator: OperatorGreaterThan, Value: -1}, true},
		{"burst valid", Condition{Kind: ConditionTimeWindowBurst, Count: 10, WindowMinutes: 15}, false},
		{"burst count too small", Condition{Kind: ConditionTimeWindowBurst, Count: 1, WindowMinutes: 15}, true},
		{"burst zero window", Condition{Kind: ConditionTimeWindowBurst, Count: 5}, true},
		{"proximity valid", Condition{Kind: ConditionLocationProximity, Operator: OperatorWithinRadius, Lat: 27.7, Lon: 85.3, RadiusKm: 50}, false},
		{"proximity bad latitude", Condition{Kind: ConditionLocationProximity, Operator: OperatorWithinRadius, Lat: 91, Lon: 0, RadiusKm: 50}, true},
		{"proximity zero radius", Condition{Kind: ConditionLocationProximity, Operator: OperatorWithinRadius, Lat: 0, Lon: 0}, true},
		{"social valid", Condition{Kind: ConditionSocialActivity, Operator: OperatorGreaterThan, Value: 20, MinRelevance: 0.7}, false},
		{"social relevance out of range", Condition{Kind: ConditionSocialActivity, Operator: OperatorGreaterThan, Value: 20, MinRelevance: 1.5}, true},
		{"official valid", Condition{Kind: ConditionOfficialDataPresence, Source: "usgs", FeedType: "earthquake", FreshnessWindowMinutes: 30}, false},
		{"official missing source", Condition{Kind: ConditionOfficialDataPresence, FreshnessWindowMinutes: 30}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.condition.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestOperatorCompare(t *testing.T) {
	if OperatorGreaterThan.Compare(5, 5) {
		t.Fatal("greater_than must be strict")
	}
	if !OperatorGreaterThan.Compare(6, 5) {
		t.Fatal("6 > 5 expected true")
	}
	if !OperatorLessThan.Compare(4, 5) {
		t.Fatal("4 < 5 expected true")
	}
	if !OperatorEquals.Compare(5, 5) {
		t.Fatal("5 == 5 expected true")
	}
	if OperatorContains.Compare(1, 1) {
		t.Fatal("contains is not a numeric comparison")
	}
}

func TestConditionWindowFallback(t *testing.T) {
	condition := Condition{Kind: ConditionReportCount, TimeWindowMinutes: 15}
	if got := condition.Window(30); got != 15*time.Minute {
		t.Fatalf("expected condition window, got %s", got)
	}
	condition.TimeWindowMinutes = 0
	if got := condition.Window(30); got != 30*time.Minute {
		t.Fatalf("expected rule window fallback, got %s", got)
	}
	if got := condition.Window(0); got != time.Hour {
		t.Fatalf("expected default window, got %s", got)
	}
}

func TestCooldownKeying(t *testing.T) {
	rule := validRule()
	if got := CooldownByRule.Key(rule); got != "rule:rule-1" {
		t.Fatalf("unexpected rule key %q", got)
	}
	if got := CooldownByHazardType.Key(rule); got != "hazard:earthquake" {
		t.Fatalf("unexpected hazard key %q", got)
	}
	if !CooldownByRule.Valid() || !CooldownByHazardType.Valid() {
		t.Fatal("expected keying modes to be valid")
	}
	if CooldownKeying("station").Valid() {
		t.Fatal("unexpected valid keying")
	}
}

func TestActionValidate(t *testing.T) {
	if err := (Action{Kind: ActionNotifyRoles}).Validate(); err == nil {
		t.Fatal("expected error for notify_roles without roles")
	}
	if err := (Action{Kind: ActionSendEmail}).Validate(); err == nil {
		t.Fatal("expected error for send_email without recipients")
	}
	if err := (Action{Kind: "page_oncall"}).Validate(); err == nil {
		t.Fatal("expected error for unknown action kind")
	}
	if err := (Action{Kind: ActionEscalate, DelayMinutes: 10}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Action{Kind: ActionEscalate, DelayMinutes: -1}).Validate(); err == nil {
		t.Fatal("expected error for negative delay")
	}
}
