package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// WebhookChannel delivers alerts as a JSON POST to an operator endpoint
// (chat hook, incident tool, anything that accepts JSON).
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel. The per-attempt timeout is
// enforced by the dispatcher through the Send context.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{},
	}
}

// Name identifies the channel in logs and metrics.
func (w *WebhookChannel) Name() string { return "webhook" }

// Send POSTs the alert as JSON. Any non-2xx status is an error.
func (w *WebhookChannel) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(struct {
		Alert
		Message string `json:"message"`
	}{Alert: alert, Message: alert.Message()})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
