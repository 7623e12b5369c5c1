package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	alerts "hazardwatch/internal/alerts/domain"
)

// EngineConfig controls the evaluation engine.
type EngineConfig struct {
	EvaluateSchedule   string `yaml:"evaluate_schedule"`
	RefreshSchedule    string `yaml:"refresh_schedule"`
	RuleTimeoutSeconds int    `yaml:"rule_timeout_seconds"`
	CooldownKeying     string `yaml:"cooldown_keying"`
}

// ChannelsConfig configures notification delivery.
type ChannelsConfig struct {
	WebhookURL      string `yaml:"webhook_url"`
	EmailWebhookURL string `yaml:"email_webhook_url"`
	SMSWebhookURL   string `yaml:"sms_webhook_url"`
	Template        string `yaml:"template"`
}

// Config is the full service configuration. Values come from environment
// variables, optionally overridden by a YAML file named in HAZARDWATCH_CONFIG.
type Config struct {
	HTTPAddr        string         `yaml:"http_addr"`
	DatabaseURL     string         `yaml:"database_url"`
	JWTSecret       string         `yaml:"jwt_secret"`
	LogLevel        string         `yaml:"log_level"`
	MessageTemplate string         `yaml:"message_template"`
	Engine          EngineConfig   `yaml:"engine"`
	Channels        ChannelsConfig `yaml:"channels"`
}

// Load resolves configuration from env and the optional YAML file.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		LogLevel:    getenvDefault("LOG_LEVEL", "info"),
		Engine: EngineConfig{
			EvaluateSchedule:   getenvDefault("ENGINE_EVALUATE_SCHEDULE", "@every 2m"),
			RefreshSchedule:    getenvDefault("ENGINE_REFRESH_SCHEDULE", "@every 5m"),
			RuleTimeoutSeconds: getenvIntDefault("ENGINE_RULE_TIMEOUT_SECONDS", 10),
			CooldownKeying:     getenvDefault("ENGINE_COOLDOWN_KEYING", string(alerts.CooldownByRule)),
		},
		Channels: ChannelsConfig{
			WebhookURL:      os.Getenv("ALERT_WEBHOOK_URL"),
			EmailWebhookURL: os.Getenv("ALERT_EMAIL_WEBHOOK_URL"),
			SMSWebhookURL:   os.Getenv("ALERT_SMS_WEBHOOK_URL"),
		},
	}

	if path := os.Getenv("HAZARDWATCH_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL required")
	}
	if strings.TrimSpace(c.Engine.EvaluateSchedule) == "" {
		return errors.New("config: empty evaluate schedule")
	}
	if strings.TrimSpace(c.Engine.RefreshSchedule) == "" {
		return errors.New("config: empty refresh schedule")
	}
	if !alerts.CooldownKeying(c.Engine.CooldownKeying).Valid() {
		return errors.New("config: invalid cooldown keying " + c.Engine.CooldownKeying)
	}
	return nil
}

// CooldownKeying returns the configured keying mode.
func (c Config) CooldownKeying() alerts.CooldownKeying {
	return alerts.CooldownKeying(c.Engine.CooldownKeying)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
