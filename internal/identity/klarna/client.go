// Package klarna implements identity.Gateway against the Klarna Identity API.
//
//	POST {base}/v1/identity/requests        create a request, returns its redirect URL
//	GET  {base}/v1/identity/requests/{id}   read its state and customer profile
//
// Calls are throttled client-side, guarded by a circuit breaker, bounded by a
// 30s HTTP timeout and traced with OpenTelemetry.
package klarna

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"storefront/internal/identity"
	"storefront/internal/identity/metrics"
	"storefront/pkg/platform/circuit"
)

const (
	DefaultTimeout  = 30 * time.Second
	maxResponseBody = 1 << 20
	tracerName      = "storefront/internal/identity/klarna"
)

// Client is the Klarna identity adapter.
type Client struct {
	baseURL    string
	accountID  string
	auth       Auth
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuit.Breaker
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithAccountID sends the Klarna-Account-Id header on every call.
func WithAccountID(accountID string) Option {
	return func(c *Client) {
		c.accountID = accountID
	}
}

// WithRateLimit throttles outbound calls to rps with a burst of burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New builds the adapter. auth selects the provider authentication strategy.
func New(baseURL string, auth Auth, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if auth == nil {
		return nil, errors.New("auth strategy is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		breaker:    circuit.New("klarna-identity"),
		tracer:     otel.Tracer(tracerName),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit creates an identity request.
func (c *Client) Submit(ctx context.Context, req identity.SubmitRequest) (*identity.Submission, error) {
	if req.ReturnURL == "" {
		return nil, identity.NewGatewayError(identity.ErrorBadData, "return url is required", nil)
	}
	body, err := json.Marshal(createRequestBody{ReturnURL: req.ReturnURL, State: req.StateToken})
	if err != nil {
		return nil, identity.NewGatewayError(identity.ErrorInternal, "encode request", err)
	}

	var out createResponseBody
	if err := c.do(ctx, "submit", http.MethodPost, c.baseURL+"/v1/identity/requests", body, &out); err != nil {
		return nil, err
	}
	if out.IdentityRequestID == "" || out.IdentityRequestURL == "" {
		return nil, identity.NewGatewayError(identity.ErrorContractMismatch, "response is missing identity_request_id or identity_request_url", nil)
	}
	return &identity.Submission{RequestID: out.IdentityRequestID, RequestURL: out.IdentityRequestURL}, nil
}

// Status reads an identity request.
func (c *Client) Status(ctx context.Context, requestID string) (*identity.Status, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, identity.NewGatewayError(identity.ErrorBadData, "request id is required", nil)
	}
	endpoint := c.baseURL + "/v1/identity/requests/" + url.PathEscape(requestID)

	var out statusResponseBody
	if err := c.do(ctx, "status", http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.toStatus(requestID), nil
}

func (c *Client) do(ctx context.Context, operation, method, endpoint string, body []byte, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "klarna."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("klarna.operation", operation),
		),
	)
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			category := string(identity.ErrorInternal)
			if ge, ok := identity.AsGatewayError(err); ok {
				category = string(ge.Category)
				span.SetAttributes(attribute.String("klarna.error_category", category))
				if ge.ErrorID != "" {
					span.SetAttributes(attribute.String("klarna.error_id", ge.ErrorID))
				}
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, category)
			c.metrics.IncrementError(operation, category)
		}
		c.metrics.ObserveCall(operation, outcome, time.Since(start))
		span.End()
	}()

	if !c.breaker.Allow() {
		return identity.NewGatewayError(identity.ErrorProviderOutage, "identity provider circuit open", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return identity.NewGatewayError(identity.ErrorTimeout, "rate limiter wait aborted", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return identity.NewGatewayError(identity.ErrorInternal, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accountID != "" {
		req.Header.Set("Klarna-Account-Id", c.accountID)
	}
	c.auth.Apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		ge := transportError(err)
		c.recordOutcome(ctx, ge)
		return ge
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		ge := identity.NewGatewayError(identity.ErrorProviderOutage, "read response", err)
		c.recordOutcome(ctx, ge)
		return ge
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ge := statusError(resp.StatusCode, raw)
		c.recordOutcome(ctx, ge)
		c.logger.WarnContext(ctx, "identity provider returned an error",
			"operation", operation,
			"status", resp.StatusCode,
			"error_id", ge.ErrorID,
			"error_code", ge.Code,
		)
		return ge
	}
	c.recordOutcome(ctx, nil)

	if err := json.Unmarshal(raw, out); err != nil {
		ge := identity.NewGatewayError(identity.ErrorContractMismatch, "decode response", err)
		ge.HTTPStatus = resp.StatusCode
		return ge
	}
	return nil
}

// recordOutcome feeds the breaker. Only failures that say something about
// provider health count against it.
func (c *Client) recordOutcome(ctx context.Context, ge *identity.GatewayError) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	var change circuit.StateChange
	if ge != nil && (ge.Category == identity.ErrorProviderOutage || ge.Category == identity.ErrorTimeout) {
		_, change = c.breaker.RecordFailure()
	} else {
		_, change = c.breaker.RecordSuccess()
	}
	if change.Opened {
		c.metrics.SetCircuitOpen(true)
		c.logger.ErrorContext(ctx, "identity provider circuit opened", "breaker", c.breaker.Name())
	}
	if change.Closed {
		c.metrics.SetCircuitOpen(false)
		c.logger.InfoContext(ctx, "identity provider circuit closed", "breaker", c.breaker.Name())
	}
}

func transportError(err error) *identity.GatewayError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return identity.NewGatewayError(identity.ErrorTimeout, "identity provider did not respond in time", err)
	}
	return identity.NewGatewayError(identity.ErrorProviderOutage, "identity provider unreachable", err)
}

func statusError(status int, raw []byte) *identity.GatewayError {
	ge := identity.NewGatewayError(identity.CategoryForStatus(status), http.StatusText(status), nil)
	ge.HTTPStatus = status
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		ge.ErrorID = eb.ErrorID
		ge.ErrorType = eb.ErrorType
		ge.Code = eb.ErrorCode
		if eb.ErrorMessage != "" {
			ge.Message = eb.ErrorMessage
		}
	}
	return ge
}
