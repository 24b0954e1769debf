package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const slackTimeout = 30 * time.Second

// SlackNotifier posts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier builds a notifier; client may be nil.
func NewSlackNotifier(webhookURL string, client *http.Client) (*SlackNotifier, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack webhook url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: slackTimeout}
	}
	return &SlackNotifier{webhookURL: webhookURL, client: client}, nil
}

// Name implements Notifier.
func (s *SlackNotifier) Name() string { return "slack" }

type slackPayload struct {
	Text   string `json:"text"`
	Mrkdwn bool   `json:"mrkdwn"`
}

// Notify implements Notifier.
func (s *SlackNotifier) Notify(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, slackTimeout)
	defer cancel()

	body, err := json.Marshal(slackPayload{Text: msg.Markdown(), Mrkdwn: true})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &DeliveryError{Notifier: s.Name(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DeliveryError{Notifier: s.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(detail))}
	}
	return nil
}
