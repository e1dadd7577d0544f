package checkout

//go:generate mockgen -source=ports.go -destination=mocks/order_placer_mock.go -package=mocks OrderPlacer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"storefront/internal/cart"
	"storefront/internal/checkout/mocks"
	"storefront/internal/identity"
	identitymocks "storefront/internal/identity/mocks"
	"storefront/internal/order"
	"storefront/internal/session/store"
	"storefront/internal/verification"
	id "storefront/pkg/domain"
	dErrors "storefront/pkg/domain-errors"
	auditmemory "storefront/pkg/platform/audit/store/memory"
	"storefront/pkg/platform/sentinel"
)

const (
	returnURL  = "http://localhost:3000/api/klarna/callback"
	stateToken = "state-1"
	requestID  = "abc"
	flowURL    = "https://klarna.test/flow/abc"
)

var (
	tea  = cart.NewItem{ID: "p1", Name: "Green Tea", Price: decimal.RequireFromString("9.99")}
	wine = cart.NewItem{ID: "p2", Name: "Red Wine", Price: decimal.RequireFromString("19.99"), AgeRestricted: true}
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type OrchestratorSuite struct {
	suite.Suite
	ctx       context.Context
	now       time.Time
	sessionID id.SessionID
	store     *store.InMemoryStore
	cart      *cart.Cart
	verified  *verification.State
	orders    *order.InMemoryStore
	gateway   *identitymocks.MockGateway
	events    *recorder
	orch      *Orchestrator
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	s.sessionID = id.NewSessionID()
	s.store = store.NewInMemoryStore()
	s.orders = order.NewInMemoryStore()
	s.events = &recorder{}

	var err error
	s.cart, err = cart.New(s.store, s.sessionID)
	s.Require().NoError(err)
	s.verified, err = verification.New(s.store, s.sessionID, verification.WithClock(s.clock))
	s.Require().NoError(err)

	ctrl := gomock.NewController(s.T())
	s.gateway = identitymocks.NewMockGateway(ctrl)
	s.orch = s.newOrchestrator()
}

func (s *OrchestratorSuite) TearDownTest() {
	s.orch.Close()
}

func (s *OrchestratorSuite) clock() time.Time {
	return s.now
}

func (s *OrchestratorSuite) newOrchestrator(opts ...Option) *Orchestrator {
	svc, err := order.NewService(s.orders, auditmemory.NewInMemoryStore(), order.WithClock(s.clock))
	s.Require().NoError(err)
	base := []Option{
		WithReturnURL(returnURL),
		WithClock(s.clock),
		WithStateTokens(func() string { return stateToken }),
		WithPollInterval(time.Millisecond),
		WithMaxPolls(5),
		WithSubmitTimeout(time.Second),
		WithObservers(s.events),
	}
	o, err := New(s.sessionID, Deps{
		Cart:         s.cart,
		Verification: s.verified,
		Gateway:      s.gateway,
		Orders:       svc,
	}, append(base, opts...)...)
	s.Require().NoError(err)
	return o
}

func (s *OrchestratorSuite) add(items ...cart.NewItem) {
	for _, it := range items {
		_, err := s.orch.AddItem(s.ctx, it)
		s.Require().NoError(err)
	}
}

func (s *OrchestratorSuite) expectSubmit() *gomock.Call {
	return s.gateway.EXPECT().
		Submit(gomock.Any(), identity.SubmitRequest{StateToken: stateToken, ReturnURL: returnURL}).
		Return(&identity.Submission{RequestID: requestID, RequestURL: flowURL}, nil)
}

func status(state identity.State) *identity.Status {
	return &identity.Status{RequestID: requestID, State: state, RawState: string(state)}
}

func (s *OrchestratorSuite) snapshot() Snapshot {
	snap, err := s.orch.Snapshot(s.ctx)
	s.Require().NoError(err)
	return snap
}

// startCheckoutVerification drives a restricted cart to AWAITING.
func (s *OrchestratorSuite) startCheckoutVerification() {
	s.add(wine, wine)
	s.expectSubmit()
	res, err := s.orch.Checkout(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(OutcomeRedirect, res.Outcome)
}

// =============================================================================
// Checkout: direct completion and the age gate
// =============================================================================

func (s *OrchestratorSuite) TestCheckoutEmptyCart() {
	_, err := s.orch.Checkout(s.ctx)

	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Contains(err.Error(), "cart is empty")
	s.Equal(StateIdle, s.snapshot().State)
}

func (s *OrchestratorSuite) TestCheckoutWithoutRestrictedItems() {
	s.add(tea)

	res, err := s.orch.Checkout(s.ctx)
	s.Require().NoError(err)

	s.Equal(OutcomeCompleted, res.Outcome)
	s.Equal("9.99", res.Order.Total.StringFixed(2))
	s.False(res.Order.AgeGated)

	snap := s.snapshot()
	s.Equal(StateIdle, snap.State)
	s.Empty(snap.Cart.Items)
	s.Require().NotNil(snap.LastOrder)
	s.Equal(res.Order.ID, snap.LastOrder.ID)

	orders, err := s.orders.ListBySession(s.ctx, s.sessionID)
	s.Require().NoError(err)
	s.Len(orders, 1)
	s.Equal([]EventType{EventCartChanged, EventCheckoutCompleted, EventCartChanged}, s.events.types())
}

func (s *OrchestratorSuite) TestCheckoutAlreadyVerified() {
	s.verified.SetVerified(s.ctx, true)
	s.add(wine)

	res, err := s.orch.Checkout(s.ctx)
	s.Require().NoError(err)
	s.Equal(OutcomeCompleted, res.Outcome)
	s.True(res.Order.AgeGated)
}

func (s *OrchestratorSuite) TestCheckoutExpiredVerificationGoesToProvider() {
	stale, err := verification.New(s.store, s.sessionID,
		verification.WithClock(func() time.Time { return s.now.Add(-25 * time.Hour) }))
	s.Require().NoError(err)
	stale.SetVerified(s.ctx, true)
	s.add(wine)
	s.expectSubmit().Times(1)

	res, err := s.orch.Checkout(s.ctx)
	s.Require().NoError(err)

	s.Equal(OutcomeRedirect, res.Outcome)
	_, err = s.store.Get(s.ctx, s.sessionID, store.KeyVerification)
	s.ErrorIs(err, sentinel.ErrNotFound, "stale record is cleared")
}

func (s *OrchestratorSuite) TestCheckoutRestrictedStartsVerification() {
	s.add(wine, wine)
	s.expectSubmit().Times(1)

	res, err := s.orch.Checkout(s.ctx)
	s.Require().NoError(err)

	s.Equal(OutcomeRedirect, res.Outcome)
	s.Equal(flowURL, res.RedirectURL)

	snap := s.snapshot()
	s.Equal(StateAwaitingVerification, snap.State)
	s.Require().NotNil(snap.Pending)
	s.Equal(requestID, snap.Pending.RequestID)
	s.True(snap.Pending.CorrelatesToCheckout)
	s.False(snap.Verified, "submitting never verifies")
	s.Equal(2, snap.Cart.ItemCount)
	s.Equal("39.98", snap.Cart.Total.StringFixed(2))
}

// =============================================================================
// Submit failures
// =============================================================================

func (s *OrchestratorSuite) TestSubmitFailureBlocks() {
	s.add(wine)
	ge := identity.NewGatewayError(identity.ErrorProviderOutage, "Service Unavailable", nil)
	ge.HTTPStatus = 503
	ge.ErrorID = "err-7"
	s.gateway.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, ge)

	_, err := s.orch.Checkout(s.ctx)

	s.True(dErrors.HasCode(err, dErrors.CodeGateway))
	got, ok := identity.AsGatewayError(err)
	s.Require().True(ok)
	s.Equal("err-7", got.ErrorID)

	snap := s.snapshot()
	s.Equal(StateBlocked, snap.State)
	s.Require().NotNil(snap.Block)
	s.Equal(dErrors.CodeGateway, snap.Block.Code)
	s.Equal("err-7", snap.Block.Details["error_id"])
	s.Nil(snap.Pending)
	s.False(snap.Verified)
	s.Equal(1, snap.Cart.ItemCount, "cart untouched")
}

func (s *OrchestratorSuite) TestSubmitTimeoutBlocks() {
	s.orch = s.newOrchestrator(WithSubmitTimeout(20 * time.Millisecond))
	s.add(wine)
	s.gateway.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ identity.SubmitRequest) (*identity.Submission, error) {
			<-ctx.Done()
			return nil, identity.NewGatewayError(identity.ErrorTimeout, "no response", ctx.Err())
		})

	_, err := s.orch.Checkout(s.ctx)

	s.True(dErrors.HasCode(err, dErrors.CodeGateway))
	s.True(errors.Is(err, context.DeadlineExceeded))
	s.Equal(StateBlocked, s.snapshot().State)
}

func (s *OrchestratorSuite) TestCheckoutFromBlockedRetries() {
	s.add(wine)
	gomock.InOrder(
		s.gateway.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(nil, identity.NewGatewayError(identity.ErrorTimeout, "slow", nil)),
		s.expectSubmit(),
	)

	_, err := s.orch.Checkout(s.ctx)
	s.Require().Error(err)
	s.Require().Equal(StateBlocked, s.snapshot().State)

	res, err := s.orch.Checkout(s.ctx)
	s.Require().NoError(err)
	s.Equal(OutcomeRedirect, res.Outcome)
	s.Equal(StateAwaitingVerification, s.snapshot().State)
}

func (s *OrchestratorSuite) TestSubmitWithoutRedirectIsGatewayError() {
	s.add(wine)
	s.gateway.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(&identity.Submission{RequestID: requestID}, nil)

	_, err := s.orch.Checkout(s.ctx)

	s.True(dErrors.HasCode(err, dErrors.CodeGateway))
	s.Equal(StateBlocked, s.snapshot().State)
}

// =============================================================================
// Resume and polling
// =============================================================================

func (s *OrchestratorSuite) TestResumePendingThenApprovedCompletesCheckout() {
	s.startCheckoutVerification()
	gomock.InOrder(
		s.gateway.EXPECT().Status(gomock.Any(), requestID).Return(status(identity.StatePending), nil),
		s.gateway.EXPECT().Status(gomock.Any(), requestID).Return(status(identity.StateApproved), nil),
	)
	s.events.reset()

	res, err := s.orch.Resume(s.ctx, requestID, stateToken)
	s.Require().NoError(err)

	s.Equal(OutcomeCompleted, res.Outcome)
	s.Equal("39.98", res.Order.Total.StringFixed(2))
	snap := s.snapshot()
	s.True(snap.Verified)
	s.True(snap.Verification.VerifiedAt.Equal(s.now))
	s.Equal(StateIdle, snap.State)
	s.Empty(snap.Cart.Items)
	s.Nil(snap.Pending)
	s.Equal([]EventType{EventVerificationChanged, EventCheckoutCompleted, EventCartChanged}, s.events.types())
}

func (s *OrchestratorSuite) TestResumeStandaloneVerificationReturnsToIdle() {
	s.add(wine)
	s.expectSubmit()
	_, err := s.orch.StartVerification(s.ctx)
	s.Require().NoError(err)
	s.False(s.snapshot().Pending.CorrelatesToCheckout)

	s.gateway.EXPECT().Status(gomock.Any(), requestID).Return(status(identity.StateCompleted), nil)
	res, err := s.orch.Resume(s.ctx, requestID, stateToken)
	s.Require().NoError(err)

	s.Equal(OutcomeVerified, res.Outcome)
	snap := s.snapshot()
	s.Equal(StateIdle, snap.State)
	s.True(snap.Verified)
	s.Equal(1, snap.Cart.ItemCount, "cart kept for a later checkout")
}

func (s *OrchestratorSuite) TestResumeFailedBlocksWithoutVerifying() {
	s.startCheckoutVerification()
	s.gateway.EXPECT().Status(gomock.Any(), requestID).Return(status(identity.StateFailed), nil)

	_, err := s.orch.Resume(s.ctx, requestID, stateToken)

	s.True(dErrors.HasCode(err, dErrors.CodeVerificationDenied))
	snap := s.snapshot()
	s.Equal(StateBlocked, snap.State)
	s.False(snap.Verified)
	s.Equal(2, snap.Cart.ItemCount)
}

func (s *OrchestratorSuite) TestResumeGatewayErrorBlocks() {
	s.startCheckoutVerification()
	s.gateway.EXPECT().Status(gomock.Any(), requestID).
		Return(nil, identity.NewGatewayError(identity.ErrorAuthentication, "Unauthorized", nil))

	_, err := s.orch.Resume(s.ctx, requestID, stateToken)

	s.True(dErrors.HasCode(err, dErrors.CodeGateway))
	s.Equal(StateBlocked, s.snapshot().State)
	s.False(s.snapshot().Verified)
}

func (s *OrchestratorSuite) TestResumePollingIsBounded() {
	s.startCheckoutVerification()
	s.gateway.EXPECT().Status(gomock.Any(), requestID).Return(status(identity.StatePending), nil).Times(5)

	_, err := s.orch.Resume(s.ctx, requestID, stateToken)

	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	s.Equal(StateBlocked, s.snapshot().State)
	s.False(s.snapshot().Verified)
}

func (s *OrchestratorSuite) TestResumeUnknownStateKeepsPolling() {
	s.startCheckoutVerification()
	gomock.InOrder(
		s.gateway.EXPECT().Status(gomock.Any(), requestID).Return(status(identity.StateOther), nil),
		s.gateway.EXPECT().Status(gomock.Any(), requestID).Return(status(identity.StateCompleted), nil),
	)

	res, err := s.orch.Resume(s.ctx, requestID, stateToken)
	s.Require().NoError(err)
	s.Equal(OutcomeCompleted, res.Outcome)
}

func (s *OrchestratorSuite) TestResumeUnderAgeProfileIsDenied() {
	s.startCheckoutVerification()
	st := status(identity.StateApproved)
	st.Profile = &identity.Profile{DateOfBirth: &identity.DateOfBirth{Value: "2010-01-01", Verified: true}}
	s.gateway.EXPECT().Status(gomock.Any(), requestID).Return(st, nil)

	_, err := s.orch.Resume(s.ctx, requestID, stateToken)

	s.True(dErrors.HasCode(err, dErrors.CodeVerificationDenied))
	s.Contains(err.Error(), "You are currently 16 years old")
	s.False(s.snapshot().Verified)
}

func (s *OrchestratorSuite) TestResumeRecordsProfileAge() {
	s.startCheckoutVerification()
	st := status(identity.StateCompleted)
	st.Profile = &identity.Profile{DateOfBirth: &identity.DateOfBirth{Value: "1990-06-16", Verified: true}}
	s.gateway.EXPECT().Status(gomock.Any(), requestID).Return(st, nil)

	_, err := s.orch.Resume(s.ctx, requestID, stateToken)
	s.Require().NoError(err)

	snap := s.snapshot()
	s.Require().NotNil(snap.Profile)
	s.Require().NotNil(snap.Profile.Age)
	s.Equal(35, *snap.Profile.Age, "birthday is tomorrow")
}

func (s *OrchestratorSuite) TestResumeMissingIdentifiersIsProtocolError() {
	s.startCheckoutVerification()

	for _, tc := range []struct{ name, requestID, state string }{
		{"missing request id", "", stateToken},
		{"missing state", requestID, ""},
		{"unknown request id", "other", stateToken},
		{"wrong state token", requestID, "forged"},
	} {
		s.Run(tc.name, func() {
			_, err := s.orch.Resume(s.ctx, tc.requestID, tc.state)
			s.True(dErrors.HasCode(err, dErrors.CodeProtocol))

			snap := s.snapshot()
			s.Equal(StateBlocked, snap.State)
			s.False(snap.Verified)
			s.Require().NotNil(snap.Pending, "pending request is kept")
		})
	}
}

func (s *OrchestratorSuite) TestResumeWithoutPendingRequest() {
	s.verified.SetVerified(s.ctx, true)

	_, err := s.orch.Resume(s.ctx, requestID, stateToken)

	s.True(dErrors.HasCode(err, dErrors.CodeProtocol))
	s.True(s.snapshot().Verified, "verification unchanged")
}

// =============================================================================
// Background polling and cancellation
// =============================================================================

func (s *OrchestratorSuite) TestResumeAsyncCompletes() {
	s.startCheckoutVerification()
	s.gateway.EXPECT().Status(gomock.Any(), requestID).Return(status(identity.StateApproved), nil)

	s.Require().NoError(s.orch.ResumeAsync(s.ctx, requestID, stateToken))
	s.Eventually(func() bool {
		snap, err := s.orch.Snapshot(s.ctx)
		return err == nil && snap.LastOrder != nil
	}, time.Second, 5*time.Millisecond)

	s.True(s.snapshot().Verified)
}

func (s *OrchestratorSuite) TestResetCancelsPollAndDropsResult() {
	s.startCheckoutVerification()
	started := make(chan struct{})
	s.gateway.EXPECT().Status(gomock.Any(), requestID).DoAndReturn(
		func(ctx context.Context, _ string) (*identity.Status, error) {
			close(started)
			<-ctx.Done()
			return status(identity.StateApproved), nil
		})

	s.Require().NoError(s.orch.ResumeAsync(s.ctx, requestID, stateToken))
	<-started
	s.Equal(StatePolling, s.snapshot().State)
	s.Require().NoError(s.orch.ResumeAsync(s.ctx, requestID, stateToken), "duplicate redirect is ignored")

	s.orch.Reset(s.ctx)
	s.orch.Close()

	snap := s.snapshot()
	s.Equal(StateIdle, snap.State)
	s.False(snap.Verified, "stale poll result is dropped")
	s.Nil(snap.Pending)
	s.Equal(2, snap.Cart.ItemCount)
}

func (s *OrchestratorSuite) TestNewVerificationSupersedesPoll() {
	s.startCheckoutVerification()
	release := make(chan struct{})
	started := make(chan struct{})
	s.gateway.EXPECT().Status(gomock.Any(), requestID).DoAndReturn(
		func(ctx context.Context, _ string) (*identity.Status, error) {
			close(started)
			<-release
			return status(identity.StateApproved), nil
		})

	done := make(chan error, 1)
	go func() {
		_, err := s.orch.Resume(s.ctx, requestID, stateToken)
		done <- err
	}()
	<-started

	s.gateway.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(&identity.Submission{RequestID: "second", RequestURL: flowURL}, nil)
	_, err := s.orch.StartVerification(s.ctx)
	s.Require().NoError(err)
	close(release)

	err = <-done
	s.ErrorIs(err, sentinel.ErrSuperseded)
	snap := s.snapshot()
	s.False(snap.Verified)
	s.Equal(StateAwaitingVerification, snap.State)
	s.Equal("second", snap.Pending.RequestID)
}

func (s *OrchestratorSuite) TestMismatchedRedirectDuringPollKeepsState() {
	s.startCheckoutVerification()
	release := make(chan struct{})
	started := make(chan struct{})
	s.gateway.EXPECT().Status(gomock.Any(), requestID).DoAndReturn(
		func(ctx context.Context, _ string) (*identity.Status, error) {
			close(started)
			<-release
			return status(identity.StateApproved), nil
		})

	s.Require().NoError(s.orch.ResumeAsync(s.ctx, requestID, stateToken))
	<-started
	s.events.reset()

	err := s.orch.ResumeAsync(s.ctx, "stale-id", "stale-state")
	s.True(dErrors.HasCode(err, dErrors.CodeProtocol))
	_, err = s.orch.Resume(s.ctx, "", "")
	s.True(dErrors.HasCode(err, dErrors.CodeProtocol))

	snap := s.snapshot()
	s.Equal(StatePolling, snap.State, "running poll keeps the session state")
	s.Nil(snap.Block)
	s.NotContains(s.events.types(), EventCheckoutBlocked)

	close(release)
	s.Eventually(func() bool {
		snap, err := s.orch.Snapshot(s.ctx)
		return err == nil && snap.LastOrder != nil
	}, time.Second, 5*time.Millisecond)
	s.True(s.snapshot().Verified)
}

func (s *OrchestratorSuite) TestPollEmptyStatusIsGatewayError() {
	s.startCheckoutVerification()
	s.gateway.EXPECT().Status(gomock.Any(), requestID).Return(nil, nil)

	_, err := s.orch.Resume(s.ctx, requestID, stateToken)

	s.True(dErrors.HasCode(err, dErrors.CodeGateway))
	snap := s.snapshot()
	s.Equal(StateBlocked, snap.State)
	s.False(snap.Verified)
}

func (s *OrchestratorSuite) TestIdleKeepsSessionAwaitingRedirect() {
	s.startCheckoutVerification()

	s.now = s.now.Add(2 * time.Hour)
	s.False(s.orch.Idle(s.now.Add(-time.Hour)), "pending redirect keeps the session resident")

	s.now = s.now.Add(verification.Validity)
	s.True(s.orch.Idle(s.now.Add(-time.Hour)))
}

func (s *OrchestratorSuite) TestOwnsRequest() {
	s.startCheckoutVerification()
	s.True(s.orch.OwnsRequest(requestID))
	s.False(s.orch.OwnsRequest("other"))
	s.False(s.orch.OwnsRequest(""))

	s.orch.TrackRequest("relay-1")
	s.True(s.orch.OwnsRequest("relay-1"))

	for _, rid := range []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8"} {
		s.orch.TrackRequest(rid)
	}
	s.False(s.orch.OwnsRequest("relay-1"), "oldest requests are forgotten")
	s.True(s.orch.OwnsRequest("r8"))
}

func (s *OrchestratorSuite) TestResumeCallerCancelReturnsToAwaiting() {
	s.startCheckoutVerification()
	ctx, cancel := context.WithCancel(s.ctx)
	s.gateway.EXPECT().Status(gomock.Any(), requestID).DoAndReturn(
		func(context.Context, string) (*identity.Status, error) {
			cancel()
			return nil, identity.NewGatewayError(identity.ErrorTimeout, "cancelled", context.Canceled)
		})

	_, err := s.orch.Resume(ctx, requestID, stateToken)

	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	snap := s.snapshot()
	s.Equal(StateAwaitingVerification, snap.State)
	s.NotNil(snap.Pending, "redirect can be replayed")
}

// =============================================================================
// Manual birth date
// =============================================================================

func (s *OrchestratorSuite) TestVerifyBirthDateUnderAge() {
	dob := s.now.AddDate(-17, 0, 0).Format(time.DateOnly)

	_, err := s.orch.VerifyBirthDate(s.ctx, dob)

	s.True(dErrors.HasCode(err, dErrors.CodeVerificationDenied))
	s.Contains(err.Error(), "you must be 18 years or older. You are currently 17 years old.")
	snap := s.snapshot()
	s.False(snap.Verified)
	s.Equal(StateBlocked, snap.State)
	s.Equal(dErrors.CodeVerificationDenied, snap.Block.Code)
}

func (s *OrchestratorSuite) TestVerifyBirthDateAdult() {
	res, err := s.orch.VerifyBirthDate(s.ctx, "1990-02-03")
	s.Require().NoError(err)

	s.Equal(OutcomeVerified, res.Outcome)
	s.True(s.snapshot().Verified)
	s.Equal(StateIdle, s.snapshot().State)
}

func (s *OrchestratorSuite) TestVerifyBirthDateExactlyEighteenToday() {
	dob := s.now.AddDate(-18, 0, 0).Format(time.DateOnly)

	_, err := s.orch.VerifyBirthDate(s.ctx, dob)
	s.Require().NoError(err)
	s.True(s.snapshot().Verified)
}

func (s *OrchestratorSuite) TestVerifyBirthDateResumesBlockedCheckout() {
	s.add(wine)
	s.gateway.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(nil, identity.NewGatewayError(identity.ErrorProviderOutage, "down", nil))
	_, err := s.orch.Checkout(s.ctx)
	s.Require().Error(err)

	res, err := s.orch.VerifyBirthDate(s.ctx, "1980-01-01")
	s.Require().NoError(err)

	s.Equal(OutcomeCompleted, res.Outcome)
	s.True(res.Order.AgeGated)
	s.Empty(s.snapshot().Cart.Items)
}

func (s *OrchestratorSuite) TestVerifyBirthDateInvalidInput() {
	for _, raw := range []string{"", "   ", "15/06/1990", "1990-13-01", "2030-01-01"} {
		s.Run(raw, func() {
			_, err := s.orch.VerifyBirthDate(s.ctx, raw)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
			s.Equal(StateIdle, s.snapshot().State)
			s.False(s.snapshot().Verified)
		})
	}
}

// =============================================================================
// Acknowledge, reset and cart events
// =============================================================================

func (s *OrchestratorSuite) TestAcknowledge() {
	s.orch.Acknowledge(s.ctx)
	s.Equal(StateIdle, s.snapshot().State, "no-op outside BLOCKED")

	_, err := s.orch.VerifyBirthDate(s.ctx, s.now.AddDate(-10, 0, 0).Format(time.DateOnly))
	s.Require().Error(err)
	s.orch.Acknowledge(s.ctx)

	snap := s.snapshot()
	s.Equal(StateIdle, snap.State)
	s.Nil(snap.Block)
	s.Contains(s.events.types(), EventCheckoutAcknowledged)
}

func (s *OrchestratorSuite) TestResetClearsVerification() {
	s.startCheckoutVerification()
	s.verified.SetVerified(s.ctx, true)

	s.orch.Reset(s.ctx)

	snap := s.snapshot()
	s.Equal(StateIdle, snap.State)
	s.False(snap.Verified)
	s.Nil(snap.Pending)
	types := s.events.types()
	s.Equal([]EventType{EventVerificationReset, EventVerificationChanged}, types[len(types)-2:])
}

func (s *OrchestratorSuite) TestCartMutations() {
	sum, err := s.orch.AddItem(s.ctx, tea)
	s.Require().NoError(err)
	s.Equal(1, sum.ItemCount)

	sum, err = s.orch.AddItem(s.ctx, tea)
	s.Require().NoError(err)
	s.Len(sum.Items, 1, "same id increments quantity")
	s.Equal(2, sum.Items[0].Quantity)

	sum, err = s.orch.SetQuantity(s.ctx, tea.ID, 0)
	s.Require().NoError(err)
	s.Empty(sum.Items)

	s.add(wine)
	sum, err = s.orch.RemoveItem(s.ctx, wine.ID)
	s.Require().NoError(err)
	s.Empty(sum.Items)

	_, err = s.orch.AddItem(s.ctx, cart.NewItem{ID: " "})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	for _, e := range s.events.events {
		s.Equal(EventCartChanged, e.Type)
		s.Equal(s.sessionID, e.SessionID)
	}
}

func (s *OrchestratorSuite) TestOrderFailureKeepsCart() {
	ctrl := gomock.NewController(s.T())
	placer := mocks.NewMockOrderPlacer(ctrl)
	placer.EXPECT().Place(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeInternal, "failed to place order"))

	o, err := New(s.sessionID, Deps{Cart: s.cart, Verification: s.verified, Gateway: s.gateway, Orders: placer},
		WithReturnURL(returnURL))
	s.Require().NoError(err)
	_, err = o.AddItem(s.ctx, tea)
	s.Require().NoError(err)

	_, err = o.Checkout(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	items, err := s.cart.Items(s.ctx)
	s.Require().NoError(err)
	s.Len(items, 1)
}

func TestNewValidation(t *testing.T) {
	st := store.NewInMemoryStore()
	sid := id.NewSessionID()
	c, _ := cart.New(st, sid)
	v, _ := verification.New(st, sid)
	ctrl := gomock.NewController(t)
	gw := identitymocks.NewMockGateway(ctrl)
	placer := mocks.NewMockOrderPlacer(ctrl)

	cases := map[string]struct {
		sid  id.SessionID
		deps Deps
		opts []Option
	}{
		"nil session": {deps: Deps{Cart: c, Verification: v, Gateway: gw, Orders: placer}, opts: []Option{WithReturnURL(returnURL)}},
		"no gateway":  {sid: sid, deps: Deps{Cart: c, Verification: v, Orders: placer}, opts: []Option{WithReturnURL(returnURL)}},
		"no return":   {sid: sid, deps: Deps{Cart: c, Verification: v, Gateway: gw, Orders: placer}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(tc.sid, tc.deps, tc.opts...)
			if err == nil || !strings.Contains(err.Error(), "required") {
				t.Fatalf("expected a required-field error, got %v", err)
			}
		})
	}
}
