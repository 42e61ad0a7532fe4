package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"photoshare/gatekeeper/pkg/admission/engine"
	"photoshare/gatekeeper/pkg/admission/escalation"
	"photoshare/gatekeeper/pkg/admission/notify"
	"photoshare/gatekeeper/pkg/admission/store"
	"photoshare/gatekeeper/pkg/config"
)

// recordingChannel captures alerts delivered through the dispatcher.
type recordingChannel struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Send(ctx context.Context, alert notify.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *recordingChannel) delivered() []notify.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Alert(nil), c.alerts...)
}

func testLimits() *config.LimitsConfig {
	return &config.LimitsConfig{
		FailurePolicy: config.FailOpen,
		Default: config.RouteThreshold{
			RateLimit:       100,
			BurstLimit:      150,
			Window:          time.Minute,
			ViolationWeight: 1,
		},
		Routes: map[string]config.RouteThreshold{
			"upload": {
				RateLimit:       5,
				BurstLimit:      10,
				Window:          time.Minute,
				ViolationWeight: 2,
			},
			"password-reset": {
				RateLimit:       1,
				BurstLimit:      1,
				Window:          10 * time.Minute,
				ViolationWeight: 5,
				Sensitive:       true,
			},
		},
	}
}

// tickingClock returns strictly increasing timestamps so every violation
// gets a distinct dedupe key and no window boundary is crossed mid-test.
func tickingClock(base time.Time) func() time.Time {
	var mu sync.Mutex
	var calls int
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return base.Add(time.Duration(calls) * time.Millisecond)
	}
}

func newTestManager(backend *store.MemoryBackend, enforce bool, ch notify.Channel) *Manager {
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	backend.SetClock(func() time.Time { return base })

	limits := testLimits()
	thresholds := config.NewThresholdSource(config.BuildThresholdTable(limits))

	eng := engine.New(engine.Config{
		Counters:      backend,
		Escalations:   backend,
		Thresholds:    thresholds,
		Enforce:       enforce,
		FailurePolicy: limits.FailurePolicy,
	})
	classifier := escalation.NewClassifier(backend, backend, config.EscalationConfig{
		WatchCount:    3,
		HighCount:     6,
		CriticalCount: 9,
		CoolDown:      30 * time.Minute,
		Horizon:       time.Hour,
	}, nil)

	var dispatcher *notify.Dispatcher
	if ch != nil {
		dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
			Suppression:    backend,
			Channels:       []notify.Channel{ch},
			DedupeInterval: 15 * time.Minute,
		})
	}

	m := NewManager(ManagerConfig{
		Engine:        eng,
		Classifier:    classifier,
		Dispatcher:    dispatcher,
		Metrics:       NewMetricsWithRegisterer(prometheus.NewRegistry()),
		FailurePolicy: limits.FailurePolicy,
	})
	m.nowFunc = tickingClock(base)
	return m
}

func TestCheck_TieredOutcomes(t *testing.T) {
	backend := store.NewMemoryBackend()
	m := newTestManager(backend, true, nil)
	ctx := context.Background()

	var allowed, warned, denied int
	for i := 0; i < 12; i++ {
		dec := m.Check(ctx, "user:1", "upload")
		switch {
		case !dec.Allowed:
			denied++
		case dec.Warn:
			warned++
		default:
			allowed++
		}
	}

	if allowed != 5 || warned != 5 || denied != 2 {
		t.Errorf("Expected 5 allowed / 5 warned / 2 denied, got %d/%d/%d", allowed, warned, denied)
	}
}

func TestCheck_DenialsEscalateAndAlert(t *testing.T) {
	backend := store.NewMemoryBackend()
	ch := &recordingChannel{}
	m := newTestManager(backend, true, ch)
	ctx := context.Background()

	// Burn through the upload quota; each denial carries weight 2, so the
	// second denial crosses the watch threshold of 3.
	for i := 0; i < 12; i++ {
		m.Check(ctx, "user:1", "upload")
	}

	alerts := ch.delivered()
	if len(alerts) != 1 {
		t.Fatalf("Expected exactly 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Tier != escalation.TierWatch || a.PreviousTier != escalation.TierNormal {
		t.Errorf("Expected NORMAL -> WATCH alert, got %s -> %s", a.PreviousTier, a.Tier)
	}
	if a.Identifier != "user:1" || a.RouteKey != "upload" {
		t.Errorf("Unexpected alert subject: %+v", a)
	}
	if a.Blocking {
		t.Error("Expected WATCH alert to be non-blocking")
	}
}

func TestCheck_SensitiveRouteHardBlocks(t *testing.T) {
	backend := store.NewMemoryBackend()
	ch := &recordingChannel{}
	m := newTestManager(backend, true, ch)
	ctx := context.Background()

	// Second password-reset attempt exceeds the burst limit of 1 and, being
	// sensitive, escalates straight to CRITICAL.
	m.Check(ctx, "user:1", "password-reset")
	dec := m.Check(ctx, "user:1", "password-reset")
	if dec.Allowed {
		t.Fatal("Expected denial over the burst limit")
	}

	alerts := ch.delivered()
	if len(alerts) != 1 || alerts[0].Tier != escalation.TierCritical {
		t.Fatalf("Expected a CRITICAL alert, got %+v", alerts)
	}
	if !alerts[0].Blocking {
		t.Error("Expected CRITICAL alert to be marked blocking")
	}

	// The hard block now rejects traffic on every route, under quota or not.
	dec = m.Check(ctx, "user:1", "upload")
	if dec.Allowed {
		t.Fatal("Expected hard block on an unrelated route")
	}
	if dec.Reason != engine.ReasonHardBlock {
		t.Errorf("Expected reason %q, got %q", engine.ReasonHardBlock, dec.Reason)
	}
}

func TestCheck_HardBlockRefreshesCoolDown(t *testing.T) {
	backend := store.NewMemoryBackend()
	m := newTestManager(backend, true, nil)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	// Two password-reset attempts escalate straight to CRITICAL; the
	// cool-down clock starts here.
	m.Check(ctx, "user:1", "password-reset")
	if dec := m.Check(ctx, "user:1", "password-reset"); dec.Allowed {
		t.Fatal("Expected denial over the burst limit")
	}

	// Hammering again shortly before the cool-down would lapse: the hard
	// block denies, and that denial counts as a violation of its own.
	late := base.Add(25 * time.Minute)
	m.nowFunc = func() time.Time { return late }
	backend.SetClock(func() time.Time { return late })
	dec := m.Check(ctx, "user:1", "upload")
	if dec.Allowed {
		t.Fatal("Expected hard block inside the cool-down")
	}
	if dec.Reason != engine.ReasonHardBlock {
		t.Errorf("Expected reason %q, got %q", engine.ReasonHardBlock, dec.Reason)
	}

	// Past the original expiry the block still stands: the cool-down was
	// restarted by the blocked attempt, not left to run out under abuse.
	after := base.Add(40 * time.Minute)
	m.nowFunc = func() time.Time { return after }
	backend.SetClock(func() time.Time { return after })
	dec = m.Check(ctx, "user:1", "upload")
	if dec.Allowed {
		t.Fatal("Expected sustained abuse to keep the hard block alive")
	}
	if dec.Reason != engine.ReasonHardBlock {
		t.Errorf("Expected reason %q, got %q", engine.ReasonHardBlock, dec.Reason)
	}
}

func TestCheck_ShadowModeStillRecords(t *testing.T) {
	backend := store.NewMemoryBackend()
	ch := &recordingChannel{}
	m := newTestManager(backend, false, ch)
	ctx := context.Background()

	var shadowDenied int
	for i := 0; i < 12; i++ {
		dec := m.Check(ctx, "user:1", "upload")
		if !dec.Allowed {
			t.Fatalf("Request %d: expected shadow mode to allow everything", i+1)
		}
		if dec.ShadowDenied {
			shadowDenied++
		}
	}
	if shadowDenied != 2 {
		t.Errorf("Expected 2 shadow-denied decisions, got %d", shadowDenied)
	}

	// The ledger keeps recording, so escalation and alerting still work.
	if len(ch.delivered()) != 1 {
		t.Errorf("Expected escalation alert in shadow mode, got %d alerts", len(ch.delivered()))
	}
}

func TestCheck_RepeatEscalationAlertsOnce(t *testing.T) {
	backend := store.NewMemoryBackend()
	ch := &recordingChannel{}
	m := newTestManager(backend, true, ch)
	ctx := context.Background()

	// Two rounds of abuse in the same window; the WATCH transition happens
	// once, so only one alert fires.
	for i := 0; i < 30; i++ {
		m.Check(ctx, "user:1", "upload")
	}

	for _, a := range ch.delivered() {
		if a.Tier == escalation.TierWatch && a.PreviousTier != escalation.TierNormal {
			t.Errorf("Unexpected duplicate WATCH transition: %+v", a)
		}
	}
}
