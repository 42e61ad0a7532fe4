package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"photoshare/gatekeeper/pkg/admission/escalation"
	"photoshare/gatekeeper/pkg/admission/store"
)

// recordingChannel captures delivered alerts.
type recordingChannel struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Send(ctx context.Context, alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *recordingChannel) delivered() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

func testAlert(tier escalation.Tier) Alert {
	return Alert{
		ID:            "alert-1",
		Identifier:    "user:1",
		Tier:          tier,
		PreviousTier:  escalation.TierNormal,
		RouteKey:      "upload",
		WeightedCount: 12,
		Blocking:      tier == escalation.TierCritical,
		At:            time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
	}
}

func TestNotify_DeliversAndSuppresses(t *testing.T) {
	backend := store.NewMemoryBackend()
	ch := &recordingChannel{}
	d := NewDispatcher(DispatcherConfig{
		Suppression:    backend,
		Channels:       []Channel{ch},
		DedupeInterval: 15 * time.Minute,
	})
	ctx := context.Background()

	if !d.Notify(ctx, testAlert(escalation.TierWatch)) {
		t.Fatal("Expected first alert to be delivered")
	}
	if d.Notify(ctx, testAlert(escalation.TierWatch)) {
		t.Error("Expected repeat alert within the dedupe interval to be suppressed")
	}

	// A different tier for the same identifier is not suppressed.
	if !d.Notify(ctx, testAlert(escalation.TierHigh)) {
		t.Error("Expected alert for a different tier to be delivered")
	}

	if got := len(ch.delivered()); got != 2 {
		t.Errorf("Expected 2 delivered alerts, got %d", got)
	}
}

func TestNotify_ChannelFailureIsSwallowed(t *testing.T) {
	backend := store.NewMemoryBackend()
	failing := &recordingChannel{err: errors.New("connection refused")}
	working := &recordingChannel{}
	d := NewDispatcher(DispatcherConfig{
		Suppression:    backend,
		Channels:       []Channel{failing, working},
		DedupeInterval: 15 * time.Minute,
	})

	if !d.Notify(context.Background(), testAlert(escalation.TierWatch)) {
		t.Fatal("Expected delivery to be attempted despite a failing channel")
	}
	if got := len(working.delivered()); got != 1 {
		t.Errorf("Expected remaining channel to receive the alert, got %d deliveries", got)
	}
}

// failingSuppression simulates an unreachable suppression store.
type failingSuppression struct{}

func (failingSuppression) MarkNotified(ctx context.Context, identifier, tier string, interval time.Duration) (bool, error) {
	return false, store.ErrUnavailable
}

func TestNotify_SuppressionErrorDropsAlert(t *testing.T) {
	ch := &recordingChannel{}
	d := NewDispatcher(DispatcherConfig{
		Suppression:    failingSuppression{},
		Channels:       []Channel{ch},
		DedupeInterval: 15 * time.Minute,
	})

	if d.Notify(context.Background(), testAlert(escalation.TierWatch)) {
		t.Error("Expected alert to be dropped when the suppression store is down")
	}
	if got := len(ch.delivered()); got != 0 {
		t.Errorf("Expected no deliveries, got %d", got)
	}
}

func TestWebhookChannel_PostsJSON(t *testing.T) {
	var (
		mu   sync.Mutex
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json, got %s", ct)
		}
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL)
	if err := ch.Send(context.Background(), testAlert(escalation.TierCritical)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if body["identifier"] != "user:1" {
		t.Errorf("Expected identifier user:1, got %v", body["identifier"])
	}
	if body["tier"] != "CRITICAL" {
		t.Errorf("Expected tier CRITICAL, got %v", body["tier"])
	}
	if body["blocking"] != true {
		t.Errorf("Expected blocking true, got %v", body["blocking"])
	}
	if msg, ok := body["message"].(string); !ok || msg == "" {
		t.Error("Expected a non-empty message field")
	}
}

func TestWebhookChannel_NonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL)
	if err := ch.Send(context.Background(), testAlert(escalation.TierWatch)); err == nil {
		t.Error("Expected error on 500 response")
	}
}

func TestLogChannel_Send(t *testing.T) {
	ch := NewLogChannel(nil)
	if ch.Name() != "log" {
		t.Errorf("Expected channel name log, got %s", ch.Name())
	}
	if err := ch.Send(context.Background(), testAlert(escalation.TierWatch)); err != nil {
		t.Errorf("Send failed: %v", err)
	}
}

func TestAlertMessage(t *testing.T) {
	msg := testAlert(escalation.TierCritical).Message()
	if msg == "" {
		t.Fatal("Expected non-empty message")
	}
	for _, want := range []string{"user:1", "CRITICAL", "upload", "blocked"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected message to contain %q, got %q", want, msg)
		}
	}
}
