package notify

import (
	"context"
	"fmt"
	"time"

	"photoshare/gatekeeper/pkg/admission/escalation"
)

// Alert describes one escalation event for operators.
type Alert struct {
	// ID is a unique id for correlating the alert across channels and logs.
	ID string `json:"id"`

	// Identifier is the escalated caller.
	Identifier string `json:"identifier"`

	// Tier is the severity tier the identifier entered.
	Tier escalation.Tier `json:"tier"`

	// PreviousTier is the tier it came from.
	PreviousTier escalation.Tier `json:"previousTier"`

	// RouteKey is the route whose violation triggered the transition.
	RouteKey string `json:"routeKey"`

	// WeightedCount is the weighted violation count at transition time.
	WeightedCount float64 `json:"weightedCount"`

	// Blocking reports whether the new tier blocks requests outright.
	Blocking bool `json:"blocking"`

	// At is when the transition happened.
	At time.Time `json:"at"`
}

// Message renders a one-line operator summary.
func (a Alert) Message() string {
	action := "monitoring only, no automatic action taken"
	if a.Blocking {
		action = "requests from this identifier are now blocked"
	}
	return fmt.Sprintf("[%s] %s escalated %s -> %s on %s (weighted violations: %.1f); %s",
		a.Tier, a.Identifier, a.PreviousTier, a.Tier, a.RouteKey, a.WeightedCount, action)
}

// Channel delivers alerts to one destination. Send is fire-and-forget from
// the dispatcher's point of view; implementations should make a single
// bounded attempt.
type Channel interface {
	// Name identifies the channel in logs and metrics.
	Name() string

	// Send delivers the alert or returns an error. It must honor ctx.
	Send(ctx context.Context, alert Alert) error
}
