// Package notification delivers lifecycle events to the configured webhooks.
package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/config"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/model"
)

// Notifier delivers a lifecycle event to every configured sink. Delivery is
// best effort: a failed sink is logged and reported but never blocks or fails
// the renewal cycle that produced the event.
type Notifier interface {
	Notify(ctx context.Context, event model.LifecycleEvent) error
}

type _Dispatcher struct {
	sinks []*_WebhookSink
}

func NewDispatcher(configs []config.NotificationConfig) *_Dispatcher {
	return &_Dispatcher{
		sinks: lo.Map(configs, func(cfg config.NotificationConfig, _ int) *_WebhookSink {
			return NewWebhookSink(cfg)
		}),
	}
}

// Notify posts the event to every sink and returns the first failure after
// all sinks were tried.
func (d *_Dispatcher) Notify(ctx context.Context, event model.LifecycleEvent) error {
	var firstErr error
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, event); err != nil {
			logrus.Warnf("failed to deliver %s notification to %s: %v", event.Type, sink.url, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

type _WebhookSink struct {
	url      string
	format   string
	secret   string
	timeout  time.Duration
	maxRetry int
}

func NewWebhookSink(cfg config.NotificationConfig) *_WebhookSink {
	return &_WebhookSink{
		url:      cfg.Url,
		format:   cfg.Format,
		secret:   cfg.Secret,
		timeout:  time.Duration(cfg.Timeout) * time.Second,
		maxRetry: cfg.MaxRetry,
	}
}

func (s *_WebhookSink) Send(ctx context.Context, event model.LifecycleEvent) error {
	payload, err := s.payload(event)
	if err != nil {
		return fmt.Errorf("json marshal event: %v", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true
	transport.MaxIdleConnsPerHost = -1
	client := http.Client{Timeout: s.timeout, Transport: transport}

	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
			if err != nil {
				return fmt.Errorf("create http request: %v", err)
			}
			req.Header.Set("Content-Type", "application/json")
			if s.secret != "" {
				req.Header.Set("X-Payload-Signature", signPayload(payload, s.secret))
			}

			resp, err := client.Do(req)
			if err != nil {
				logrus.Debugf("send http request: %v", err)
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode/100 != 2 {
				body, _ := io.ReadAll(resp.Body)
				logrus.Debugf("%s returned %v: %s", s.url, resp.StatusCode, string(body))
				return fmt.Errorf("unexpected status code: %v", resp.StatusCode)
			}

			return nil
		},
		retry.Attempts(uint(s.maxRetry)),
		retry.Context(ctx),
	)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("exceed maximum retries posting notification. %w", model.ErrWebhookUnreachable)
	}
	return nil
}

func (s *_WebhookSink) payload(event model.LifecycleEvent) ([]byte, error) {
	if s.format == config.NotificationFormatSlack {
		return json.Marshal(slackMessage{
			Text:      slackText(event),
			Username:  "cert-agent",
			IconEmoji: ":lock:",
		})
	}
	return json.Marshal(event)
}

type slackMessage struct {
	Text      string `json:"text"`
	Username  string `json:"username"`
	IconEmoji string `json:"icon_emoji"`
}

func slackText(event model.LifecycleEvent) string {
	switch event.Type {
	case model.EventRenewalSucceeded:
		return fmt.Sprintf(":white_check_mark: Certificate %s renewed (%s)", event.Name, event.Fingerprint)
	case model.EventRenewalFailed:
		return fmt.Sprintf(":x: Certificate %s renewal failed: %s", event.Name, event.Message)
	case model.EventExpiringSoon:
		return fmt.Sprintf(":warning: Certificate %s is expiring soon: %s", event.Name, event.Message)
	case model.EventReloadFailed:
		return fmt.Sprintf(":x: Reload after renewing certificate %s failed: %s", event.Name, event.Message)
	default:
		return fmt.Sprintf("%s: %s", event.Type, event.Message)
	}
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
