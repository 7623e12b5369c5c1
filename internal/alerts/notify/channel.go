package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Channel delivers rendered content to one delivery medium.
type Channel interface {
	Send(ctx context.Context, subject, content string) error
}

type webhookPayload struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// WebhookChannel posts notifications to a webhook endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts subject and content as a JSON payload.
func (w *WebhookChannel) Send(ctx context.Context, subject, content string) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	body, err := json.Marshal(webhookPayload{Subject: subject, Text: content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}

// LogChannel records notifications through the structured logger. It stands in
// for email and SMS gateways in deployments where none is configured.
type LogChannel struct {
	name   string
	logger *zap.Logger
}

// NewLogChannel constructs a log-backed channel.
func NewLogChannel(name string, logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{name: name, logger: logger}
}

// Send logs the notification.
func (l *LogChannel) Send(_ context.Context, subject, content string) error {
	if l == nil {
		return errors.New("log channel: nil")
	}
	l.logger.Info("notification delivered",
		zap.String("channel", l.name),
		zap.String("subject", subject),
		zap.String("content", content))
	return nil
}
