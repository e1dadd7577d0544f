// Package checkout owns one shopper session's path from cart to completed
// order, including the age gate in between.
package checkout

import (
	"time"

	"storefront/internal/cart"
	"storefront/internal/identity"
	"storefront/internal/order"
	"storefront/internal/verification"
	dErrors "storefront/pkg/domain-errors"
)

// State is the orchestrator's position in the checkout flow.
type State string

const (
	StateIdle                 State = "IDLE"
	StateAwaitingVerification State = "AWAITING_EXTERNAL_VERIFICATION"
	StatePolling              State = "POLLING"
	StateVerifiedResume       State = "VERIFIED_RESUME"
	StateBlocked              State = "BLOCKED"
)

// PendingRequest is the verification currently in flight. RequestID is empty
// until the provider has accepted the submission.
type PendingRequest struct {
	RequestID            string    `json:"request_id,omitempty"`
	StateToken           string    `json:"-"`
	SubmittedAt          time.Time `json:"submitted_at"`
	CorrelatesToCheckout bool      `json:"correlates_to_checkout"`
}

// Block is the reason the orchestrator is in BLOCKED. Details carries the
// provider's error fields when the block came from the gateway.
type Block struct {
	Code    dErrors.Code      `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	At      time.Time         `json:"at"`
}

// Outcome tells the caller what to do next.
type Outcome string

const (
	// OutcomeCompleted: the order was placed.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRedirect: send the shopper to RedirectURL.
	OutcomeRedirect Outcome = "redirect"
	// OutcomeVerified: verification succeeded with no checkout waiting on it.
	OutcomeVerified Outcome = "verified"
)

// Result is returned by operations that may complete a checkout or start a
// verification.
type Result struct {
	Outcome     Outcome
	RedirectURL string
	Order       *order.Order
}

// ProfileView is the provider profile from the last successful verification,
// with the computed age when a date of birth was shared.
type ProfileView struct {
	Profile *identity.Profile
	Age     *int
}

// Snapshot is a consistent view of the session for rendering.
type Snapshot struct {
	State        State
	Verified     bool
	Verification verification.Record
	Cart         cart.Summary
	Pending      *PendingRequest
	Block        *Block
	LastOrder    *order.Order
	Profile      *ProfileView
}
