package checkout

import (
	"context"
	"time"

	id "storefront/pkg/domain"
)

// EventType names a change the UI and the audit trail care about.
type EventType string

const (
	EventCartChanged          EventType = "cart_changed"
	EventVerificationStarted  EventType = "verification_started"
	EventVerificationChanged  EventType = "verification_changed"
	EventCheckoutBlocked      EventType = "checkout_blocked"
	EventCheckoutCompleted    EventType = "checkout_completed"
	EventCheckoutAcknowledged EventType = "checkout_acknowledged"
	EventVerificationReset    EventType = "verification_reset"
)

// Event is emitted after a transition has been applied.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID id.SessionID `json:"-"`
	RequestID string       `json:"-"`
	At        time.Time    `json:"at"`
	State     State        `json:"state"`
	Verified  bool         `json:"verified"`
	// Reason and Message describe a block.
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	// ItemCount and Total describe the cart after a cart change.
	ItemCount int    `json:"item_count,omitempty"`
	Total     string `json:"total,omitempty"`
}

// Observer receives events. Notify runs on the caller's goroutine after the
// orchestrator lock is released and must not block for long.
type Observer interface {
	Notify(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event)

func (f ObserverFunc) Notify(ctx context.Context, event Event) {
	f(ctx, event)
}
