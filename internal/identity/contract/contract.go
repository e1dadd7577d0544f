// Package contract holds behavioural checks every identity.Gateway
// implementation must pass, regardless of transport.
package contract

import (
	"context"
	"net/url"
	"testing"
	"time"

	"storefront/internal/identity"
)

// FlowSuite drives a gateway through submit and status until it settles.
type FlowSuite struct {
	Name      string
	Gateway   identity.Gateway
	ReturnURL string
	// MaxPolls bounds the status loop. Zero means 10.
	MaxPolls int
	// ExpectProfile requires an adult date of birth on success.
	ExpectProfile bool
}

// Run executes the flow checks.
func (s *FlowSuite) Run(t *testing.T) {
	t.Run(s.Name+"/submit returns an absolute redirect", func(t *testing.T) {
		sub, err := s.Gateway.Submit(context.Background(), identity.SubmitRequest{
			StateToken: "contract-state",
			ReturnURL:  s.ReturnURL,
		})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		if sub.RequestID == "" {
			t.Error("request id not set")
		}
		u, err := url.Parse(sub.RequestURL)
		if err != nil || !u.IsAbs() {
			t.Errorf("request url %q is not absolute", sub.RequestURL)
		}
	})

	t.Run(s.Name+"/status settles on a terminal state", func(t *testing.T) {
		ctx := context.Background()
		sub, err := s.Gateway.Submit(ctx, identity.SubmitRequest{StateToken: "contract-state", ReturnURL: s.ReturnURL})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}

		limit := s.MaxPolls
		if limit == 0 {
			limit = 10
		}
		var last *identity.Status
		for range limit {
			last, err = s.Gateway.Status(ctx, sub.RequestID)
			if err != nil {
				t.Fatalf("status failed: %v", err)
			}
			if last.RequestID != sub.RequestID {
				t.Errorf("expected request id %s, got %s", sub.RequestID, last.RequestID)
			}
			if last.State.IsTerminal() {
				break
			}
		}
		if last == nil || !last.State.IsTerminal() {
			t.Fatalf("no terminal state after %d polls", limit)
		}
		if !s.ExpectProfile || !last.State.IsSuccess() {
			return
		}
		if last.Profile == nil || last.Profile.DateOfBirth == nil {
			t.Fatal("successful status carries no date of birth")
		}
		dob, err := last.Profile.DateOfBirth.Parse()
		if err != nil {
			t.Fatalf("date of birth %q does not parse: %v", last.Profile.DateOfBirth.Value, err)
		}
		if dob.After(time.Now()) {
			t.Errorf("date of birth %s is in the future", dob.Format(time.DateOnly))
		}
	})
}

// ErrorContractTest checks that failures surface as categorised gateway errors.
type ErrorContractTest struct {
	Name          string
	Call          func(ctx context.Context, gw identity.Gateway) error
	Gateway       identity.Gateway
	ExpectedError identity.ErrorCategory
	ExpectedRetry bool
}

// Run executes the error check.
func (e *ErrorContractTest) Run(t *testing.T) {
	t.Run(e.Name, func(t *testing.T) {
		err := e.Call(context.Background(), e.Gateway)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		ge, ok := identity.AsGatewayError(err)
		if !ok {
			t.Fatalf("expected *identity.GatewayError, got %T", err)
		}
		if ge.Category != e.ExpectedError {
			t.Errorf("expected category %s, got %s", e.ExpectedError, ge.Category)
		}
		if ge.Retryable != e.ExpectedRetry {
			t.Errorf("expected retryable=%v, got %v", e.ExpectedRetry, ge.Retryable)
		}
	})
}
