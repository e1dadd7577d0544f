package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "storefront/pkg/domain"
)

// EventCategory classifies audit events for retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers age-gate decisions and completed orders.
	// These are written synchronously and never sampled.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers routine shopper activity such as cart edits.
	CategoryOperations EventCategory = "operations"
)

type EventType string

const (
	EventCartChanged          EventType = "cart_changed"
	EventVerificationStarted  EventType = "verification_started"
	EventVerificationChanged  EventType = "verification_changed"
	EventVerificationDenied   EventType = "verification_denied"
	EventCheckoutBlocked      EventType = "checkout_blocked"
	EventCheckoutCompleted    EventType = "checkout_completed"
	EventOrderPlaced          EventType = "order_placed"
	EventVerificationReset    EventType = "verification_reset"
	EventCheckoutAcknowledged EventType = "checkout_acknowledged"
)

var eventCategories = map[EventType]EventCategory{
	EventVerificationChanged: CategoryCompliance,
	EventVerificationDenied:  CategoryCompliance,
	EventCheckoutBlocked:     CategoryCompliance,
	EventCheckoutCompleted:   CategoryCompliance,
	EventOrderPlaced:         CategoryCompliance,
	EventVerificationReset:   CategoryCompliance,
}

// Category returns the category for this event type.
// Unknown types default to CategoryOperations.
func (t EventType) Category() EventCategory {
	if cat, ok := eventCategories[t]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is one audit record. It carries no personal data: the shopper is
// identified only by the opaque session ID.
type Event struct {
	ID        uuid.UUID
	Type      EventType
	Category  EventCategory
	Timestamp time.Time
	SessionID id.SessionID
	RequestID string

	// State is the orchestrator state after the action.
	State string
	// Reason is the error code for blocked or denied outcomes.
	Reason string
	// OrderID is set for completed checkouts.
	OrderID string
	// Verified mirrors the verification flag after the action.
	Verified bool
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySession(ctx context.Context, sessionID id.SessionID) ([]Event, error)
}

// OutboxEntry is an appended event that has not yet been relayed.
type OutboxEntry struct {
	ID        uuid.UUID
	Key       string
	Type      EventType
	Payload   []byte
	CreatedAt time.Time
}

// Outbox is the relay-facing side of a Store.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Normalize fills the derived fields of an event before it is stored.
func Normalize(event Event, now time.Time) Event {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}
	event.Category = event.Type.Category()
	return event
}
