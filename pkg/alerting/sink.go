package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/queryguard/queryguard/pkg/logging"
)

// Sink delivers alerts to an external destination. Delivery is best-effort;
// the manager logs and drops failures.
type Sink interface {
	Deliver(ctx context.Context, alert Alert) error
	Name() string
}

// LogSink writes alerts to the application logger
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink backed by the given logger
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LogSink{logger: logger}
}

// Deliver handles an alert by logging it
func (s *LogSink) Deliver(ctx context.Context, alert Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"kind", string(alert.Kind),
		"severity", alert.Severity.String(),
		"resource", alert.Resource,
	}
	for key, value := range alert.Data {
		fields = append(fields, fmt.Sprintf("data_%s", key), value)
	}

	switch alert.Severity {
	case SeverityInfo:
		s.logger.Info("ALERT: "+alert.Message, fields...)
	case SeverityWarning:
		s.logger.Warn("ALERT: "+alert.Message, fields...)
	default:
		s.logger.Error("ALERT: "+alert.Message, fields...)
	}
	return nil
}

// Name returns the name of the sink
func (s *LogSink) Name() string {
	return "log"
}

// WebhookSink posts alerts as JSON to an HTTP endpoint (Slack-compatible
// webhooks, incident bridges).
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

// NewWebhookSink creates a webhook sink for the given URL
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Deliver posts the alert payload to the webhook
func (s *WebhookSink) Deliver(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Name returns the name of the sink
func (s *WebhookSink) Name() string {
	return "webhook"
}

// RedisSink publishes alerts to a Redis channel and keeps a capped list of
// recent alerts for other processes to read.
type RedisSink struct {
	client  *redis.Client
	channel string
	listKey string
	maxList int64
}

// NewRedisSink creates a Redis-backed sink
func NewRedisSink(client *redis.Client, channel, listKey string, maxList int64) *RedisSink {
	if maxList <= 0 {
		maxList = 100
	}
	return &RedisSink{
		client:  client,
		channel: channel,
		listKey: listKey,
		maxList: maxList,
	}
}

// Deliver publishes the alert and appends it to the recent list
func (s *RedisSink) Deliver(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, s.listKey, payload)
	pipe.LTrim(ctx, s.listKey, 0, s.maxList-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store alert: %w", err)
	}
	return nil
}

// Name returns the name of the sink
func (s *RedisSink) Name() string {
	return "redis"
}
