package checkout

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/internal/cart"
	"storefront/internal/checkout/metrics"
	"storefront/internal/identity"
	"storefront/internal/order"
	"storefront/internal/verification"
	id "storefront/pkg/domain"
	dErrors "storefront/pkg/domain-errors"
	"storefront/pkg/platform/sentinel"
	"storefront/pkg/requestcontext"
)

const (
	DefaultPollInterval  = 2 * time.Second
	DefaultMaxPolls      = 30
	DefaultSubmitTimeout = 30 * time.Second

	// maxKnownRequests bounds the provider request IDs a session remembers.
	maxKnownRequests = 8
)

var errSuperseded = dErrors.Wrap(sentinel.ErrSuperseded, dErrors.CodeConflict,
	"verification was superseded by a newer request")

// Deps are the per-session collaborators of an Orchestrator.
type Deps struct {
	Cart         *cart.Cart
	Verification *verification.State
	Gateway      identity.Gateway
	Orders       OrderPlacer
}

// Orchestrator is the checkout state machine for one session.
//
// Transitions are serialised by mu. Session store and order writes happen
// under the lock; gateway calls never do. Every verification start and every
// poll start bumps generation, and results carrying an older generation are
// dropped.
type Orchestrator struct {
	sessionID    id.SessionID
	cart         *cart.Cart
	verification *verification.State
	gateway      identity.Gateway
	orders       OrderPlacer

	observers     []Observer
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
	newToken      func() string
	baseCtx       context.Context
	returnURL     string
	pollInterval  time.Duration
	maxPolls      int
	submitTimeout time.Duration

	mu         sync.Mutex
	state      State
	pending    *PendingRequest
	block      *Block
	deferred   bool
	generation uint64
	cancelPoll context.CancelFunc
	lastOrder  *order.Order
	profile    *ProfileView
	lastUsed   time.Time
	queued     []Event

	// knownRequests are provider request IDs started by this session.
	knownRequests []string

	polls sync.WaitGroup
}

type Option func(*Orchestrator)

// WithReturnURL sets where the provider sends the shopper back to.
func WithReturnURL(u string) Option {
	return func(o *Orchestrator) {
		o.returnURL = u
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func WithMaxPolls(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPolls = n
		}
	}
}

// WithSubmitTimeout bounds the provider submission call.
func WithSubmitTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.submitTimeout = d
		}
	}
}

func WithObservers(observers ...Observer) Option {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, observers...)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStateTokens replaces the generator of opaque redirect state tokens.
func WithStateTokens(next func() string) Option {
	return func(o *Orchestrator) {
		if next != nil {
			o.newToken = next
		}
	}
}

// WithBaseContext is the parent of background polls started by ResumeAsync.
// Cancelling it stops them.
func WithBaseContext(ctx context.Context) Option {
	return func(o *Orchestrator) {
		if ctx != nil {
			o.baseCtx = ctx
		}
	}
}

func New(sessionID id.SessionID, deps Deps, opts ...Option) (*Orchestrator, error) {
	if sessionID.IsNil() {
		return nil, errors.New("session id is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("cart is required")
	}
	if deps.Verification == nil {
		return nil, errors.New("verification state is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("identity gateway is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order placer is required")
	}
	o := &Orchestrator{
		sessionID:     sessionID,
		cart:          deps.Cart,
		verification:  deps.Verification,
		gateway:       deps.Gateway,
		orders:        deps.Orders,
		logger:        slog.Default(),
		now:           time.Now,
		newToken:      uuid.NewString,
		baseCtx:       context.Background(),
		pollInterval:  DefaultPollInterval,
		maxPolls:      DefaultMaxPolls,
		submitTimeout: DefaultSubmitTimeout,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.returnURL == "" {
		return nil, errors.New("return url is required")
	}
	o.lastUsed = o.now()
	return o, nil
}

func (o *Orchestrator) SessionID() id.SessionID {
	return o.sessionID
}

// Checkout completes the order when the cart needs no age gate or the
// session is already verified, and otherwise starts a provider verification
// that resumes the checkout once it succeeds. Checkout from BLOCKED is a
// retry and clears the block first.
func (o *Orchestrator) Checkout(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	o.touch()
	if o.state == StateBlocked {
		o.logger.InfoContext(ctx, "checkout retried after block",
			"session_id", o.sessionID.String(),
			"reason", string(o.block.Code),
		)
		o.clearBlockLocked(ctx)
	}

	summary, err := o.cart.Summary(ctx)
	if err != nil {
		o.unlock(ctx)
		return nil, err
	}
	if len(summary.Items) == 0 {
		o.metrics.RecordCheckout("empty_cart")
		o.unlock(ctx)
		return nil, dErrors.New(dErrors.CodeValidation, "cart is empty")
	}
	if !summary.HasAgeRestrictedItems || o.verification.IsVerified(ctx) {
		res, err := o.completeLocked(ctx, summary)
		o.unlock(ctx)
		return res, err
	}

	gen, token := o.beginVerificationLocked(ctx, true)
	o.unlock(ctx)
	return o.submit(ctx, gen, token)
}

// StartVerification starts a provider verification that is not tied to a
// checkout. On success the session is verified and returns to IDLE.
func (o *Orchestrator) StartVerification(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	o.touch()
	if o.state == StateBlocked {
		o.clearBlockLocked(ctx)
	}
	gen, token := o.beginVerificationLocked(ctx, false)
	o.unlock(ctx)
	return o.submit(ctx, gen, token)
}

// Resume handles the provider redirect-back and polls the request status
// until it settles, the attempt budget runs out, or ctx is cancelled.
func (o *Orchestrator) Resume(ctx context.Context, requestID, stateToken string) (*Result, error) {
	pollCtx, cancel, gen, _, err := o.beginPoll(ctx, ctx, requestID, stateToken, false)
	if err != nil {
		return nil, err
	}
	return o.poll(pollCtx, cancel, gen, requestID)
}

// ResumeAsync validates the redirect-back synchronously and polls in the
// background. A duplicate redirect for the request already being polled is
// ignored.
func (o *Orchestrator) ResumeAsync(ctx context.Context, requestID, stateToken string) error {
	parent := requestcontext.WithSessionID(o.baseCtx, o.sessionID)
	if rid := requestcontext.RequestID(ctx); rid != "" {
		parent = requestcontext.WithRequestID(parent, rid)
	}
	pollCtx, cancel, gen, already, err := o.beginPoll(ctx, parent, requestID, stateToken, true)
	if err != nil || already {
		return err
	}
	o.polls.Add(1)
	go func() {
		defer o.polls.Done()
		_, _ = o.poll(pollCtx, cancel, gen, requestID)
	}()
	return nil
}

// VerifyBirthDate is the manual fallback: the age is computed locally and
// the provider is not involved.
func (o *Orchestrator) VerifyBirthDate(ctx context.Context, birthDate string) (*Result, error) {
	o.mu.Lock()
	o.touch()
	now := o.now()
	dob, err := ParseBirthDate(birthDate, now)
	if err != nil {
		o.unlock(ctx)
		return nil, err
	}

	age := AgeOn(dob, now)
	if age < MinimumAge {
		o.metrics.RecordVerification("manual", "denied")
		o.logger.InfoContext(ctx, "manual age check denied",
			"session_id", o.sessionID.String(),
			"age", age,
		)
		err := o.blockLocked(ctx, underAgeError(age))
		o.unlock(ctx)
		return nil, err
	}

	o.invalidateLocked()
	o.pending = nil
	o.profile = nil
	res, err := o.verifiedLocked(ctx, "manual", o.deferred)
	o.unlock(ctx)
	return res, err
}

// Acknowledge dismisses a block and drops the deferred checkout. It is a
// no-op outside BLOCKED.
func (o *Orchestrator) Acknowledge(ctx context.Context) {
	o.mu.Lock()
	defer o.unlock(ctx)
	o.touch()
	if o.state != StateBlocked {
		return
	}
	o.clearBlockLocked(ctx)
}

// Reset returns to IDLE from any state, clears the verification record and
// abandons any verification in flight.
func (o *Orchestrator) Reset(ctx context.Context) {
	o.mu.Lock()
	defer o.unlock(ctx)
	o.touch()

	o.invalidateLocked()
	o.pending = nil
	o.block = nil
	o.deferred = false
	o.profile = nil
	o.verification.Reset(ctx)
	o.setState(ctx, StateIdle)

	o.queue(ctx, Event{Type: EventVerificationReset})
	o.queue(ctx, Event{Type: EventVerificationChanged, Verified: false})
	o.logger.InfoContext(ctx, "verification reset",
		"session_id", o.sessionID.String(),
	)
}

func (o *Orchestrator) AddItem(ctx context.Context, item cart.NewItem) (cart.Summary, error) {
	o.mu.Lock()
	defer o.unlock(ctx)
	o.touch()
	if err := o.cart.Add(ctx, item); err != nil {
		return cart.Summary{}, err
	}
	return o.cartChangedLocked(ctx)
}

func (o *Orchestrator) RemoveItem(ctx context.Context, itemID string) (cart.Summary, error) {
	o.mu.Lock()
	defer o.unlock(ctx)
	o.touch()
	if err := o.cart.Remove(ctx, itemID); err != nil {
		return cart.Summary{}, err
	}
	return o.cartChangedLocked(ctx)
}

func (o *Orchestrator) SetQuantity(ctx context.Context, itemID string, quantity int) (cart.Summary, error) {
	o.mu.Lock()
	defer o.unlock(ctx)
	o.touch()
	if err := o.cart.SetQuantity(ctx, itemID, quantity); err != nil {
		return cart.Summary{}, err
	}
	return o.cartChangedLocked(ctx)
}

// Snapshot reads the whole session. Reading verification may clear an
// expired record.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	defer o.unlock(ctx)
	o.touch()

	summary, err := o.cart.Summary(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	record, verified := o.verification.Snapshot(ctx)
	snap := Snapshot{
		State:        o.state,
		Verified:     verified,
		Verification: record,
		Cart:         summary,
		LastOrder:    o.lastOrder,
		Profile:      o.profile,
	}
	if o.pending != nil {
		p := *o.pending
		snap.Pending = &p
	}
	if o.block != nil {
		b := *o.block
		snap.Block = &b
	}
	return snap, nil
}

// Close abandons any poll in flight and waits for background polls to exit.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.invalidateLocked()
	o.mu.Unlock()
	o.polls.Wait()
}

// Idle reports whether no poll is running and the session has not been used
// since before cutoff. A session waiting on the provider redirect stays
// resident until its pending request is older than a verification lasts.
func (o *Orchestrator) Idle(cutoff time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelPoll != nil || !o.lastUsed.Before(cutoff) {
		return false
	}
	if o.pending != nil && o.now().Sub(o.pending.SubmittedAt) < verification.Validity {
		return false
	}
	return true
}

// TrackRequest records a provider request started for this session outside
// the checkout flow so its status can be read back.
func (o *Orchestrator) TrackRequest(requestID string) {
	if requestID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rememberLocked(requestID)
}

// OwnsRequest reports whether requestID was started by this session.
func (o *Orchestrator) OwnsRequest(requestID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return requestID != "" && slices.Contains(o.knownRequests, requestID)
}

func (o *Orchestrator) rememberLocked(requestID string) {
	if slices.Contains(o.knownRequests, requestID) {
		return
	}
	o.knownRequests = append(o.knownRequests, requestID)
	if n := len(o.knownRequests); n > maxKnownRequests {
		o.knownRequests = o.knownRequests[n-maxKnownRequests:]
	}
}

// ---- verification flow ----

func (o *Orchestrator) beginVerificationLocked(ctx context.Context, correlates bool) (uint64, string) {
	o.invalidateLocked()
	token := o.newToken()
	o.deferred = correlates
	o.pending = &PendingRequest{
		StateToken:           token,
		SubmittedAt:          o.now(),
		CorrelatesToCheckout: correlates,
	}
	o.setState(ctx, StateAwaitingVerification)
	o.queue(ctx, Event{Type: EventVerificationStarted})
	return o.generation, token
}

func (o *Orchestrator) submit(ctx context.Context, gen uint64, token string) (*Result, error) {
	submitCtx, cancel := context.WithTimeout(ctx, o.submitTimeout)
	defer cancel()
	sub, err := o.gateway.Submit(submitCtx, identity.SubmitRequest{StateToken: token, ReturnURL: o.returnURL})
	if err == nil && (sub == nil || sub.RequestID == "" || sub.RequestURL == "") {
		err = identity.NewGatewayError(identity.ErrorContractMismatch, "submission returned no redirect", nil)
	}

	o.mu.Lock()
	if gen != o.generation {
		o.unlock(ctx)
		return nil, errSuperseded
	}
	if err != nil {
		correlates := o.pending != nil && o.pending.CorrelatesToCheckout
		o.pending = nil
		if correlates {
			o.metrics.RecordCheckout("blocked")
		}
		o.logger.ErrorContext(ctx, "identity verification submit failed",
			"session_id", o.sessionID.String(),
			"error", err,
		)
		err = o.blockLocked(ctx, dErrors.Wrap(err, dErrors.CodeGateway, "failed to start identity verification"))
		o.unlock(ctx)
		return nil, err
	}

	o.pending.RequestID = sub.RequestID
	o.pending.SubmittedAt = o.now()
	o.rememberLocked(sub.RequestID)
	if o.pending.CorrelatesToCheckout {
		o.metrics.RecordCheckout("redirected")
	}
	o.logger.InfoContext(ctx, "identity verification submitted",
		"session_id", o.sessionID.String(),
		"identity_request_id", sub.RequestID,
		"correlates_to_checkout", o.pending.CorrelatesToCheckout,
	)
	o.unlock(ctx)
	return &Result{Outcome: OutcomeRedirect, RedirectURL: sub.RequestURL}, nil
}

// beginPoll checks the redirect-back against the pending request and moves
// to POLLING. eventCtx carries the caller's request values; parent is the
// context the poll derives from.
func (o *Orchestrator) beginPoll(eventCtx, parent context.Context, requestID, stateToken string, async bool) (context.Context, context.CancelFunc, uint64, bool, error) {
	o.mu.Lock()
	o.touch()

	var protoErr error
	p := o.pending
	switch {
	case requestID == "" || stateToken == "":
		protoErr = dErrors.New(dErrors.CodeProtocol,
			"verification redirect is missing the identity request id or state")
	case p == nil || p.RequestID == "" || p.RequestID != requestID ||
		subtle.ConstantTimeCompare([]byte(p.StateToken), []byte(stateToken)) != 1:
		o.logger.WarnContext(eventCtx, "verification redirect does not match pending request",
			"session_id", o.sessionID.String(),
			"identity_request_id", requestID,
			"poll_running", o.cancelPoll != nil,
		)
		protoErr = dErrors.New(dErrors.CodeProtocol,
			"verification redirect does not match the pending verification request")
	}
	if protoErr != nil {
		// A poll already running for the real request keeps the session's state.
		if o.cancelPoll == nil {
			protoErr = o.blockLocked(eventCtx, protoErr)
		}
		o.unlock(eventCtx)
		return nil, nil, 0, false, protoErr
	}
	if async && o.state == StatePolling && o.cancelPoll != nil {
		o.unlock(eventCtx)
		return nil, nil, 0, true, nil
	}

	o.invalidateLocked()
	pollCtx, cancel := context.WithCancel(parent)
	o.cancelPoll = cancel
	o.setState(eventCtx, StatePolling)
	gen := o.generation
	o.unlock(eventCtx)
	return pollCtx, cancel, gen, false, nil
}

func (o *Orchestrator) poll(ctx context.Context, cancel context.CancelFunc, gen uint64, requestID string) (*Result, error) {
	defer o.releasePoll(gen, cancel)

	for attempt := 1; attempt <= o.maxPolls; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, o.pollInterval); err != nil {
				return o.abandon(ctx, gen)
			}
		}
		status, err := o.gateway.Status(ctx, requestID)
		if ctx.Err() != nil {
			return o.abandon(ctx, gen)
		}
		if err == nil && status == nil {
			err = identity.NewGatewayError(identity.ErrorContractMismatch, "status returned no result", nil)
		}
		if err != nil {
			return o.finishFailure(ctx, gen, attempt, "failed",
				dErrors.Wrap(err, dErrors.CodeGateway, "failed to check identity verification status"))
		}
		o.logger.DebugContext(ctx, "identity verification polled",
			"session_id", o.sessionID.String(),
			"identity_request_id", requestID,
			"attempt", attempt,
			"state", status.RawState,
		)
		switch {
		case status.State.IsSuccess():
			return o.finishSuccess(ctx, gen, attempt, status)
		case status.State == identity.StateFailed:
			return o.finishFailure(ctx, gen, attempt, "denied",
				dErrors.New(dErrors.CodeVerificationDenied, "identity verification was not approved"))
		}
	}
	return o.finishFailure(ctx, gen, o.maxPolls, "timeout",
		dErrors.New(dErrors.CodeTimeout, "identity verification did not complete in time, please try again"))
}

func (o *Orchestrator) releasePoll(gen uint64, cancel context.CancelFunc) {
	cancel()
	o.mu.Lock()
	if gen == o.generation {
		o.cancelPoll = nil
	}
	o.mu.Unlock()
}

// abandon handles a poll whose context ended before the request settled.
// If nothing newer replaced it the pending request stays, so the redirect
// can be replayed.
func (o *Orchestrator) abandon(ctx context.Context, gen uint64) (*Result, error) {
	cause := ctx.Err()
	ctx = context.WithoutCancel(ctx)
	o.mu.Lock()
	if gen != o.generation {
		o.unlock(ctx)
		return nil, errSuperseded
	}
	if o.state == StatePolling {
		o.setState(ctx, StateAwaitingVerification)
	}
	o.unlock(ctx)
	return nil, dErrors.Wrap(cause, dErrors.CodeTimeout, "verification status check was cancelled")
}

func (o *Orchestrator) finishFailure(ctx context.Context, gen uint64, attempts int, result string, cause error) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	o.mu.Lock()
	if gen != o.generation {
		o.unlock(ctx)
		return nil, errSuperseded
	}
	if result == "denied" {
		o.pending = nil
	}
	o.metrics.RecordVerification("provider", result)
	o.metrics.ObservePolls(attempts)
	o.logger.WarnContext(ctx, "identity verification did not succeed",
		"session_id", o.sessionID.String(),
		"result", result,
		"attempts", attempts,
		"error", cause,
	)
	err := o.blockLocked(ctx, cause)
	o.unlock(ctx)
	return nil, err
}

func (o *Orchestrator) finishSuccess(ctx context.Context, gen uint64, attempts int, status *identity.Status) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	o.mu.Lock()
	if gen != o.generation {
		o.unlock(ctx)
		return nil, errSuperseded
	}
	correlates := o.pending != nil && o.pending.CorrelatesToCheckout
	o.pending = nil
	o.metrics.ObservePolls(attempts)

	view := newProfileView(status.Profile, o.now())
	o.profile = view
	if view != nil && view.Age != nil && *view.Age < MinimumAge {
		o.metrics.RecordVerification("provider", "denied")
		err := o.blockLocked(ctx, underAgeError(*view.Age))
		o.unlock(ctx)
		return nil, err
	}

	res, err := o.verifiedLocked(ctx, "provider", correlates)
	o.unlock(ctx)
	return res, err
}

// verifiedLocked records a successful age check and resumes the deferred
// checkout when there is one.
func (o *Orchestrator) verifiedLocked(ctx context.Context, path string, correlates bool) (*Result, error) {
	o.verification.SetVerified(ctx, true)
	o.metrics.RecordVerification(path, "verified")
	o.block = nil
	o.queue(ctx, Event{Type: EventVerificationChanged, Verified: true})
	o.logger.InfoContext(ctx, "age verification succeeded",
		"session_id", o.sessionID.String(),
		"path", path,
		"correlates_to_checkout", correlates,
	)

	if !correlates {
		o.setState(ctx, StateIdle)
		return &Result{Outcome: OutcomeVerified}, nil
	}

	o.setState(ctx, StateVerifiedResume)
	summary, err := o.cart.Summary(ctx)
	if err != nil {
		o.setState(ctx, StateIdle)
		return nil, err
	}
	if len(summary.Items) == 0 {
		o.deferred = false
		o.setState(ctx, StateIdle)
		return &Result{Outcome: OutcomeVerified}, nil
	}
	res, err := o.completeLocked(ctx, summary)
	if err != nil {
		o.setState(ctx, StateIdle)
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) completeLocked(ctx context.Context, summary cart.Summary) (*Result, error) {
	lines := make([]order.Line, 0, len(summary.Items))
	for _, it := range summary.Items {
		lines = append(lines, order.Line{
			ItemID:        it.ID,
			Name:          it.Name,
			UnitPrice:     it.UnitPrice,
			Quantity:      it.Quantity,
			AgeRestricted: it.AgeRestricted,
		})
	}
	placed, err := o.orders.Place(ctx, order.PlaceRequest{
		SessionID: o.sessionID,
		RequestID: requestcontext.RequestID(ctx),
		Lines:     lines,
	})
	if err != nil {
		return nil, err
	}
	if err := o.cart.Clear(ctx); err != nil {
		o.logger.ErrorContext(ctx, "failed to clear cart after checkout",
			"session_id", o.sessionID.String(),
			"order_id", placed.ID.String(),
			"error", err,
		)
	}

	o.deferred = false
	if o.pending != nil {
		o.pending.CorrelatesToCheckout = false
	}
	o.lastOrder = placed
	if o.state == StateIdle || o.state == StateVerifiedResume {
		o.setState(ctx, StateIdle)
	}
	o.metrics.RecordCheckout("completed")
	o.queue(ctx, Event{
		Type:     EventCheckoutCompleted,
		OrderID:  placed.ID.String(),
		Total:    placed.Total.StringFixed(2),
		Verified: placed.AgeGated,
	})
	o.queue(ctx, Event{Type: EventCartChanged, Total: "0.00"})
	o.logger.InfoContext(ctx, "checkout completed",
		"session_id", o.sessionID.String(),
		"order_id", placed.ID.String(),
		"age_gated", placed.AgeGated,
	)
	return &Result{Outcome: OutcomeCompleted, Order: placed}, nil
}

// ---- helpers; callers hold mu ----

func (o *Orchestrator) cartChangedLocked(ctx context.Context) (cart.Summary, error) {
	summary, err := o.cart.Summary(ctx)
	if err != nil {
		return cart.Summary{}, err
	}
	o.queue(ctx, Event{
		Type:      EventCartChanged,
		ItemCount: summary.ItemCount,
		Total:     summary.Total.StringFixed(2),
	})
	return summary, nil
}

func (o *Orchestrator) blockLocked(ctx context.Context, err error) error {
	b := &Block{Code: dErrors.CodeOf(err), Message: "checkout failed", At: o.now()}
	if de, ok := dErrors.As(err); ok {
		b.Message = de.Message
	}
	if ge, ok := identity.AsGatewayError(err); ok {
		b.Details = ge.Details()
	}
	o.block = b
	o.setState(ctx, StateBlocked)
	o.queue(ctx, Event{Type: EventCheckoutBlocked, Reason: string(b.Code), Message: b.Message})
	return err
}

func (o *Orchestrator) clearBlockLocked(ctx context.Context) {
	o.invalidateLocked()
	o.block = nil
	o.deferred = false
	o.pending = nil
	o.setState(ctx, StateIdle)
	o.queue(ctx, Event{Type: EventCheckoutAcknowledged})
}

func (o *Orchestrator) invalidateLocked() {
	if o.cancelPoll != nil {
		o.cancelPoll()
		o.cancelPoll = nil
	}
	o.generation++
}

func (o *Orchestrator) setState(ctx context.Context, to State) {
	from := o.state
	if from == to {
		return
	}
	o.state = to
	o.metrics.RecordTransition(string(from), string(to))
	o.logger.InfoContext(ctx, "checkout state changed",
		"session_id", o.sessionID.String(),
		"from", string(from),
		"to", string(to),
	)
}

func (o *Orchestrator) queue(ctx context.Context, e Event) {
	e.SessionID = o.sessionID
	e.RequestID = requestcontext.RequestID(ctx)
	e.At = o.now()
	e.State = o.state
	o.queued = append(o.queued, e)
}

func (o *Orchestrator) touch() {
	o.lastUsed = o.now()
}

// unlock releases mu and then delivers the events queued while it was held.
func (o *Orchestrator) unlock(ctx context.Context) {
	events := o.queued
	o.queued = nil
	o.mu.Unlock()
	for _, e := range events {
		for _, obs := range o.observers {
			obs.Notify(ctx, e)
		}
	}
}

func newProfileView(p *identity.Profile, now time.Time) *ProfileView {
	if p == nil {
		return nil
	}
	view := &ProfileView{Profile: p}
	if p.DateOfBirth != nil {
		if dob, err := p.DateOfBirth.Parse(); err == nil {
			age := AgeOn(dob, now)
			view.Age = &age
		}
	}
	return view
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
