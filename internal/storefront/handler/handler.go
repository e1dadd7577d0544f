// Package handler is the HTTP surface of the storefront: cart, checkout,
// verification, the provider redirect-back and the provider relay.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/feed"
	"storefront/internal/identity"
	id "storefront/pkg/domain"
	dErrors "storefront/pkg/domain-errors"
	"storefront/pkg/platform/httputil"
	"storefront/pkg/requestcontext"
)

// Sessions resolves a shopper session to its orchestrator.
type Sessions interface {
	Get(sessionID id.SessionID) (*checkout.Orchestrator, error)
}

// Events is the per-session UI event feed.
type Events interface {
	Since(sessionID id.SessionID, seq uint64) []feed.Entry
}

// Products is the catalog items are added from.
type Products interface {
	Find(productID string) (catalog.Product, error)
	List() []catalog.Product
}

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

// ProviderConfig is the public part of the identity provider configuration.
type ProviderConfig struct {
	ClientID    string
	Environment string
	GatewayMode string
}

// Deps are the collaborators every route needs.
type Deps struct {
	Sessions Sessions
	Events   Events
	Products Products
	// Gateway backs the provider relay routes.
	Gateway identity.Gateway
}

// Handler serves the storefront API.
type Handler struct {
	sessions  Sessions
	events    Events
	products  Products
	gateway   identity.Gateway
	logger    *slog.Logger
	provider  ProviderConfig
	returnURL string
	checks    map[string]HealthCheck
	limit     func(http.Handler) http.Handler
	// landing is where the redirect-back sends the browser.
	landing string
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithProviderConfig(cfg ProviderConfig) Option {
	return func(h *Handler) {
		h.provider = cfg
	}
}

// WithReturnURL is passed to the provider by the relay submit route.
func WithReturnURL(u string) Option {
	return func(h *Handler) {
		h.returnURL = u
	}
}

// WithHealthCheck adds a named dependency to GET /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

// WithProviderLimiter throttles the routes that reach the identity provider.
func WithProviderLimiter(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		if mw != nil {
			h.limit = mw
		}
	}
}

// WithLandingPath sets where the browser lands after the redirect-back.
func WithLandingPath(path string) Option {
	return func(h *Handler) {
		if path != "" {
			h.landing = path
		}
	}
}

func New(deps Deps, opts ...Option) (*Handler, error) {
	if deps.Sessions == nil {
		return nil, errors.New("session registry is required")
	}
	if deps.Events == nil {
		return nil, errors.New("event feed is required")
	}
	if deps.Products == nil {
		return nil, errors.New("product catalog is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("identity gateway is required")
	}
	h := &Handler{
		sessions: deps.Sessions,
		events:   deps.Events,
		products: deps.Products,
		gateway:  deps.Gateway,
		logger:   slog.Default(),
		checks:   make(map[string]HealthCheck),
		landing:  "/",
		limit:    func(next http.Handler) http.Handler { return next },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// RegisterHealth registers GET /healthz. It needs no session.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
}

// Register registers the storefront API routes with the chi router. They
// expect the session middleware upstream.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(api chi.Router) {
		api.Get("/products", h.handleListProducts)

		api.Get("/cart", h.handleGetCart)
		api.Post("/cart/items", h.handleAddItem)
		api.Patch("/cart/items/{itemID}", h.handleSetQuantity)
		api.Delete("/cart/items/{itemID}", h.handleRemoveItem)

		api.With(h.limit).Post("/checkout", h.handleCheckout)
		api.Post("/checkout/acknowledge", h.handleAcknowledge)

		api.With(h.limit).Post("/verification/start", h.handleStartVerification)
		api.Post("/verification/manual", h.handleManualVerification)
		api.Post("/verification/reset", h.handleResetVerification)

		api.Get("/session", h.handleGetSession)
		api.Get("/session/events", h.handleSessionEvents)

		api.Get("/klarna/config", h.handleProviderConfig)
		api.Get("/klarna/callback", h.handleCallback)
		api.With(h.limit).Post("/klarna/identity/request", h.handleRelaySubmit)
		api.With(h.limit).Get("/klarna/identity/request/{requestID}", h.handleRelayStatus)
	})
}

// ---- catalog and cart ----

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"products": toProductResponses(h.products.List()),
	})
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := o.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, "failed to read cart", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCartResponse(snap.Cart))
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	o, ok := h.session(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AddItemRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	product, err := h.products.Find(req.ProductID)
	if err != nil {
		h.fail(w, r, "unknown product", err)
		return
	}
	summary, err := o.AddItem(ctx, cart.NewItem{
		ID:            product.ID,
		Name:          product.Name,
		Price:         product.Price,
		AgeRestricted: product.AgeRestricted,
	})
	if err != nil {
		h.fail(w, r, "failed to add item", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCartResponse(summary))
}

func (h *Handler) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	o, ok := h.session(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SetQuantityRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	summary, err := o.SetQuantity(ctx, chi.URLParam(r, "itemID"), *req.Quantity)
	if err != nil {
		h.fail(w, r, "failed to update quantity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCartResponse(summary))
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	summary, err := o.RemoveItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.fail(w, r, "failed to remove item", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCartResponse(summary))
}

// ---- checkout and verification ----

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	res, err := o.Checkout(r.Context())
	if err != nil {
		h.fail(w, r, "checkout failed", err)
		return
	}
	h.writeResult(w, res)
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	o.Acknowledge(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStartVerification(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	res, err := o.StartVerification(r.Context())
	if err != nil {
		h.fail(w, r, "failed to start verification", err)
		return
	}
	h.writeResult(w, res)
}

func (h *Handler) handleManualVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	o, ok := h.session(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ManualVerificationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := o.VerifyBirthDate(ctx, req.BirthDate)
	if err != nil {
		h.fail(w, r, "manual verification failed", err)
		return
	}
	h.writeResult(w, res)
}

func (h *Handler) handleResetVerification(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	o.Reset(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleCallback is the provider redirect-back. The status is polled in the
// background; the browser lands on the storefront and follows the event feed.
// Query flags such as ?verified=true are ignored.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	identityRequestID := q.Get("identity_request_id")

	o, ok := h.session(w, r)
	if !ok {
		return
	}
	err := o.ResumeAsync(ctx, identityRequestID, q.Get("state"))
	if err != nil {
		h.logger.InfoContext(ctx, "rejected verification redirect-back",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", o.SessionID().String(),
			"identity_request_id", identityRequestID,
			"error", err,
		)
	}

	if wantsJSON(r) {
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"verification": "pending"})
		return
	}

	target := url.Values{}
	if err != nil {
		target.Set("verification", "error")
		target.Set("reason", string(dErrors.CodeOf(err)))
	} else {
		target.Set("verification", "pending")
	}
	http.Redirect(w, r, h.landing+"?"+target.Encode(), http.StatusSeeOther)
}

// ---- session ----

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := o.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, "failed to read session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSessionResponse(o.SessionID().String(), snap))
}

func (h *Handler) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := requestcontext.SessionID(ctx)
	if sessionID.IsNil() {
		h.missingSession(w, r)
		return
	}

	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "after must be a non-negative integer"))
			return
		}
		after = v
	}

	entries := h.events.Since(sessionID, after)
	next := after
	if len(entries) > 0 {
		next = entries[len(entries)-1].Seq
	} else {
		entries = []feed.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, eventsResponse{Events: entries, Next: next})
}

// ---- provider ----

// handleProviderConfig exposes what the browser SDK needs. The client secret
// never leaves the server.
func (h *Handler) handleProviderConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, providerConfigResponse{
		ClientID:    h.provider.ClientID,
		Environment: h.provider.Environment,
		GatewayMode: h.provider.GatewayMode,
	})
}

// handleRelaySubmit creates a provider request outside the checkout flow.
// It never changes the session's verification state.
func (h *Handler) handleRelaySubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returnURL == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "return url not configured"))
		return
	}
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	sub, err := h.gateway.Submit(ctx, identity.SubmitRequest{
		StateToken: uuid.NewString(),
		ReturnURL:  h.returnURL,
	})
	if err != nil {
		h.fail(w, r, "relay submit failed", gatewayError(err))
		return
	}
	o.TrackRequest(sub.RequestID)
	httputil.WriteJSON(w, http.StatusCreated, submissionResponse{
		RequestID:  sub.RequestID,
		RequestURL: sub.RequestURL,
	})
}

// handleRelayStatus reports a provider request's status as-is. It never
// changes the session's verification state. Only requests started by the
// calling session are visible.
func (h *Handler) handleRelayStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "identity request id is required"))
		return
	}
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	if !o.OwnsRequest(requestID) {
		h.fail(w, r, "relay status for unknown request", dErrors.New(dErrors.CodeNotFound, "identity request not found"))
		return
	}
	status, err := h.gateway.Status(ctx, requestID)
	if err != nil {
		h.fail(w, r, "relay status failed", gatewayError(err))
		return
	}
	resp := statusResponse{
		RequestID: status.RequestID,
		State:     status.State,
		RawState:  status.RawState,
	}
	if status.Profile != nil {
		var age *int
		if status.Profile.DateOfBirth != nil {
			if dob, err := status.Profile.DateOfBirth.Parse(); err == nil {
				a := checkout.AgeOn(dob, requestcontext.Now(ctx))
				age = &a
			}
		}
		resp.Profile = toProfileResponse(status.Profile, age)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ---- health ----

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				"check", name,
				"error", err,
			)
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}

// ---- helpers ----

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*checkout.Orchestrator, bool) {
	ctx := r.Context()
	sessionID := requestcontext.SessionID(ctx)
	if sessionID.IsNil() {
		h.missingSession(w, r)
		return nil, false
	}
	o, err := h.sessions.Get(sessionID)
	if err != nil {
		h.fail(w, r, "failed to load session", err)
		return nil, false
	}
	return o, true
}

func (h *Handler) missingSession(w http.ResponseWriter, r *http.Request) {
	// Only reachable when the session middleware is not mounted.
	h.logger.ErrorContext(r.Context(), "session missing from context",
		"request_id", requestcontext.RequestID(r.Context()),
		"path", r.URL.Path,
	)
	httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "session context error"))
}

// fail logs at a level matching the error's code and writes the envelope.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"session_id", requestcontext.SessionID(ctx).String(),
		"error", err,
	}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.InfoContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

func (h *Handler) writeResult(w http.ResponseWriter, res *checkout.Result) {
	status := http.StatusOK
	switch res.Outcome {
	case checkout.OutcomeCompleted:
		status = http.StatusCreated
	case checkout.OutcomeRedirect:
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, toResultResponse(res))
}

// gatewayError codes a raw provider error so its detail fields reach the
// client.
func gatewayError(err error) error {
	ge, ok := identity.AsGatewayError(err)
	if !ok {
		return dErrors.Wrap(err, dErrors.CodeInternal, "identity provider call failed")
	}
	switch ge.Category {
	case identity.ErrorNotFound:
		return dErrors.Wrap(err, dErrors.CodeNotFound, "identity request not found")
	case identity.ErrorTimeout:
		return dErrors.Wrap(err, dErrors.CodeTimeout, "identity provider timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeGateway, "identity provider request failed")
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
