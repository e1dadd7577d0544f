package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "storefront/pkg/domain"
)

// payload is the JSON document relayed to the event stream.
type payload struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
	State     string `json:"state,omitempty"`
	Reason    string `json:"reason,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	Verified  bool   `json:"verified"`
}

// MarshalPayload encodes an event for the outbox.
func MarshalPayload(event Event) ([]byte, error) {
	raw, err := json.Marshal(payload{
		ID:        event.ID.String(),
		Type:      string(event.Type),
		Category:  string(event.Category),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		SessionID: event.SessionID.String(),
		RequestID: event.RequestID,
		State:     event.State,
		Reason:    event.Reason,
		OrderID:   event.OrderID,
		Verified:  event.Verified,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	return raw, nil
}

// UnmarshalPayload decodes an outbox payload back into an event.
func UnmarshalPayload(raw []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Event{}, fmt.Errorf("unmarshal audit payload: %w", err)
	}
	eventID, err := uuid.Parse(p.ID)
	if err != nil {
		return Event{}, fmt.Errorf("parse audit event id: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	sessionID, err := id.ParseSessionID(p.SessionID)
	if err != nil {
		return Event{}, fmt.Errorf("parse audit session id: %w", err)
	}
	return Event{
		ID:        eventID,
		Type:      EventType(p.Type),
		Category:  EventCategory(p.Category),
		Timestamp: ts,
		SessionID: sessionID,
		RequestID: p.RequestID,
		State:     p.State,
		Reason:    p.Reason,
		OrderID:   p.OrderID,
		Verified:  p.Verified,
	}, nil
}
