package application

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
	"time"

	alerts "hazardwatch/internal/alerts/domain"
)

// DefaultMessageTemplate renders the alert body from trigger context. Every
// value is passed in; nothing time- or random-dependent is added here, so the
// same inputs always produce the same message.
const DefaultMessageTemplate = `{{.ReportCount}} {{.HazardName}} report(s) received in the last {{.WindowMinutes}} minutes (average confidence {{.AverageConfidence}}%). Immediate review recommended.`

// MessageData provides fields for rendering the alert message.
type MessageData struct {
	HazardName        string
	SeverityName      string
	ReportCount       int
	AverageConfidence string
	WindowMinutes     int
}

// Composer turns a fired rule plus trigger data into an alert record using
// deterministic templating.
type Composer struct {
	tpl *template.Template
}

// NewComposer parses the message template, falling back to the default.
func NewComposer(messageTemplate string) (*Composer, error) {
	if messageTemplate == "" {
		messageTemplate = DefaultMessageTemplate
	}
	parsed, err := template.New("alert-message").Parse(messageTemplate)
	if err != nil {
		return nil, fmt.Errorf("composer: %w", err)
	}
	return &Composer{tpl: parsed}, nil
}

// Compose builds the alert for a firing. The title is
// "{SEVERITY} ALERT: {HazardDisplayName} Detected"; unknown enum values fall
// back to their raw identifier via the domain display-name lookups.
func (c *Composer) Compose(rule alerts.Rule, trigger alerts.TriggerContext, averageConfidence float64, id string, now time.Time) (*alerts.Alert, error) {
	if c == nil || c.tpl == nil {
		return nil, errors.New("composer: nil template")
	}
	if id == "" {
		return nil, errors.New("composer: empty alert id")
	}

	windowMinutes := rule.TimeWindowMinutes
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	data := MessageData{
		HazardName:        rule.HazardType.DisplayName(),
		SeverityName:      rule.Severity.DisplayName(),
		ReportCount:       int(trigger[string(alerts.ConditionReportCount)]),
		AverageConfidence: fmt.Sprintf("%.0f", averageConfidence*100),
		WindowMinutes:     windowMinutes,
	}

	var buf bytes.Buffer
	if err := c.tpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("composer: %w", err)
	}

	return &alerts.Alert{
		ID:          id,
		RuleID:      rule.ID,
		Title:       fmt.Sprintf("%s ALERT: %s Detected", rule.Severity.DisplayName(), rule.HazardType.DisplayName()),
		Message:     buf.String(),
		AlertType:   rule.HazardType,
		Severity:    rule.Severity,
		TargetRoles: targetRoles(rule),
		TargetScope: rule.Scope,
		CreatedBy:   rule.ID,
		CreatedAt:   now.UTC(),
	}, nil
}

func targetRoles(rule alerts.Rule) []string {
	seen := make(map[string]struct{})
	var roles []string
	for _, action := range rule.Actions {
		if action.Kind != alerts.ActionNotifyRoles {
			continue
		}
		for _, role := range action.Roles {
			if _, ok := seen[role]; ok {
				continue
			}
			seen[role] = struct{}{}
			roles = append(roles, role)
		}
	}
	return roles
}
