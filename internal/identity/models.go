// Package identity is the port to the external identity-verification
// provider. The orchestrator only sees "submit a request, get a redirect URL,
// later poll its status"; authentication and wire formats live in adapters.
package identity

import (
	"context"
	"strings"
	"time"
)

// Gateway submits verification requests and reports their status.
type Gateway interface {
	// Submit creates a verification request. It never changes local
	// verification state.
	Submit(ctx context.Context, req SubmitRequest) (*Submission, error)
	// Status fetches the current state of a request.
	Status(ctx context.Context, requestID string) (*Status, error)
}

// State is the provider-reported lifecycle of a request.
type State string

const (
	StatePending   State = "PENDING"
	StateApproved  State = "APPROVED"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	// StateOther is any state this service does not recognise. It is not
	// terminal: polling continues until a known state or the attempt bound.
	StateOther State = "OTHER"
)

// ParseState normalises a provider state string.
func ParseState(raw string) State {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING", "IN_PROGRESS", "CREATED":
		return StatePending
	case "APPROVED":
		return StateApproved
	case "COMPLETED":
		return StateCompleted
	case "FAILED", "ERROR", "REJECTED", "CANCELLED", "EXPIRED":
		return StateFailed
	default:
		return StateOther
	}
}

// IsSuccess reports APPROVED or COMPLETED.
func (s State) IsSuccess() bool {
	return s == StateApproved || s == StateCompleted
}

// IsTerminal reports whether polling should stop.
func (s State) IsTerminal() bool {
	return s.IsSuccess() || s == StateFailed
}

// SubmitRequest starts a verification.
type SubmitRequest struct {
	// StateToken is echoed back on the redirect and checked on resume.
	StateToken string
	ReturnURL  string
}

// Submission is the provider's answer to Submit.
type Submission struct {
	RequestID  string
	RequestURL string
}

// Status is one poll result.
type Status struct {
	RequestID string
	State     State
	// RawState is the provider's original state string.
	RawState      string
	Profile       *Profile
	CustomerToken string
}

// Profile is the verified customer data the provider shares. Every field is
// optional; a missing or partial profile is not an error.
type Profile struct {
	Name           *Name
	DateOfBirth    *DateOfBirth
	Email          *Email
	Phone          *Phone
	BillingAddress *Address
	CustomerID     string
}

type Name struct {
	GivenName  string
	FamilyName string
	Verified   bool
}

// DateOfBirth holds the provider value as YYYY-MM-DD.
type DateOfBirth struct {
	Value    string
	Verified bool
}

// Parse returns the date of birth as a UTC midnight.
func (d DateOfBirth) Parse() (time.Time, error) {
	return time.Parse(time.DateOnly, strings.TrimSpace(d.Value))
}

type Email struct {
	Address  string
	Verified bool
}

type Phone struct {
	Number   string
	Verified bool
}

type Address struct {
	StreetAddress  string
	StreetAddress2 string
	PostalCode     string
	City           string
	Region         string
	Country        string
}
