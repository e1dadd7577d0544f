// Package domain holds typed identifiers shared across storefront modules.
//
// Typed IDs keep a session ID from being passed where an order ID is expected,
// and give every trust boundary the same parsing rules.
package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "storefront/pkg/domain-errors"
)

// SessionID identifies one shopper session (one cart, one verification record).
type SessionID uuid.UUID

// OrderID identifies a completed checkout.
type OrderID uuid.UUID

func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id OrderID) String() string   { return uuid.UUID(id).String() }

// IsNil reports whether the ID is the zero value.
func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewSessionID returns a random session ID.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewOrderID returns a random order ID.
func NewOrderID() OrderID { return OrderID(uuid.New()) }

// ParseSessionID parses a non-nil UUID session identifier.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session_id")
	return SessionID(u), err
}

// ParseOrderID parses a non-nil UUID order identifier.
func ParseOrderID(s string) (OrderID, error) {
	u, err := parseUUID(s, "order_id")
	return OrderID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	if len(s) > 64 || !utf8.ValidString(s) {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	return u, nil
}
