// Package mock is a deterministic identity gateway for local demos and tests.
// Its request URL points straight back at the return URL, as if the shopper
// had completed the provider flow instantly.
package mock

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/internal/identity"
)

type request struct {
	polls int
}

// Gateway simulates the provider: each request reports PENDING for a number
// of polls, then the configured final state.
type Gateway struct {
	mu           sync.Mutex
	requests     map[string]*request
	pendingPolls int
	final        identity.State
	profile      *identity.Profile
	latency      time.Duration
}

type Option func(*Gateway)

// WithPendingPolls sets how many polls report PENDING before the final state.
func WithPendingPolls(n int) Option {
	return func(g *Gateway) {
		if n >= 0 {
			g.pendingPolls = n
		}
	}
}

// WithFinalState sets the terminal state (default COMPLETED).
func WithFinalState(state identity.State) Option {
	return func(g *Gateway) {
		g.final = state
	}
}

// WithProfile replaces the returned customer profile. nil means no profile.
func WithProfile(p *identity.Profile) Option {
	return func(g *Gateway) {
		g.profile = p
	}
}

// WithLatency delays every call to mimic a network round trip.
func WithLatency(d time.Duration) Option {
	return func(g *Gateway) {
		g.latency = d
	}
}

// DefaultProfile is an adult sample customer.
func DefaultProfile() *identity.Profile {
	return &identity.Profile{
		Name:        &identity.Name{GivenName: "Sample", FamilyName: "Shopper", Verified: true},
		DateOfBirth: &identity.DateOfBirth{Value: "1990-02-03", Verified: true},
		Email:       &identity.Email{Address: "sample.shopper@example.com", Verified: true},
		Phone:       &identity.Phone{Number: "+46700000000", Verified: false},
		BillingAddress: &identity.Address{
			StreetAddress: "Sveavägen 46",
			PostalCode:    "111 34",
			City:          "Stockholm",
			Country:       "SE",
		},
		CustomerID: "mock-customer-1",
	}
}

func New(opts ...Option) *Gateway {
	g := &Gateway{
		requests:     make(map[string]*request),
		pendingPolls: 1,
		final:        identity.StateCompleted,
		profile:      DefaultProfile(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Submit(ctx context.Context, req identity.SubmitRequest) (*identity.Submission, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	if req.ReturnURL == "" {
		return nil, identity.NewGatewayError(identity.ErrorBadData, "return url is required", nil)
	}
	redirect, err := url.Parse(req.ReturnURL)
	if err != nil {
		return nil, identity.NewGatewayError(identity.ErrorBadData, "return url is invalid", err)
	}

	requestID := "krn:identity:mock:" + uuid.NewString()
	g.mu.Lock()
	g.requests[requestID] = &request{}
	g.mu.Unlock()

	q := redirect.Query()
	q.Set("identity_request_id", requestID)
	q.Set("state", req.StateToken)
	redirect.RawQuery = q.Encode()

	return &identity.Submission{RequestID: requestID, RequestURL: redirect.String()}, nil
}

func (g *Gateway) Status(ctx context.Context, requestID string) (*identity.Status, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.requests[requestID]
	if !ok {
		ge := identity.NewGatewayError(identity.ErrorNotFound, "identity request not found", nil)
		ge.HTTPStatus = 404
		return nil, ge
	}
	r.polls++
	if r.polls <= g.pendingPolls {
		return &identity.Status{RequestID: requestID, State: identity.StatePending, RawState: string(identity.StatePending)}, nil
	}

	status := &identity.Status{RequestID: requestID, State: g.final, RawState: string(g.final)}
	if g.final.IsSuccess() && g.profile != nil {
		p := *g.profile
		status.Profile = &p
		status.CustomerToken = "mock-token-" + requestID[len(requestID)-8:]
	}
	return status, nil
}

func (g *Gateway) wait(ctx context.Context) error {
	if g.latency <= 0 {
		if err := ctx.Err(); err != nil {
			return identity.NewGatewayError(identity.ErrorTimeout, "request cancelled", err)
		}
		return nil
	}
	t := time.NewTimer(g.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return identity.NewGatewayError(identity.ErrorTimeout, "request cancelled", ctx.Err())
	case <-t.C:
		return nil
	}
}
