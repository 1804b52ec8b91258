package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"trading-orchestrator/internal/events"
)

// Alert is an event promoted for operator attention.
type Alert struct {
	Time     time.Time       `json:"time"`
	Type     events.Type     `json:"type"`
	Severity events.Severity `json:"severity"`
	Source   string          `json:"source"`
	Message  string          `json:"message"`
	Data     map[string]any  `json:"data,omitempty"`
}

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Send(ctx context.Context, a Alert) error {
	fields := []zap.Field{
		zap.String("type", string(a.Type)),
		zap.String("severity", string(a.Severity)),
		zap.String("source", a.Source),
		zap.Any("data", a.Data),
	}
	switch a.Severity {
	case events.SeverityCritical, events.SeverityError:
		s.Log.Error(a.Message, fields...)
	default:
		s.Log.Warn(a.Message, fields...)
	}
	return nil
}

// WebhookSink posts alerts as JSON to URL.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("webhook: status %d", res.StatusCode)
	}
	return nil
}
