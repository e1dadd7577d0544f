package contract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"storefront/internal/identity"
	"storefront/internal/identity/klarna"
	"storefront/internal/identity/metrics"
	"storefront/internal/identity/mock"
)

// fakeKlarna is a minimal in-process stand-in for the provider API.
func fakeKlarna(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	polls := map[string]int{}

	r := chi.NewRouter()
	r.Post("/v1/identity/requests", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ReturnURL string `json:"return_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ReturnURL == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error_id":"e-1","error_type":"INVALID_REQUEST","error_code":"MISSING_RETURN_URL"}`))
			return
		}
		mu.Lock()
		polls["req-1"] = 0
		mu.Unlock()
		_, _ = w.Write([]byte(`{"identity_request_id":"req-1","identity_request_url":"https://klarna.test/flow/req-1"}`))
	})
	r.Get("/v1/identity/requests/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		mu.Lock()
		n, ok := polls[id]
		polls[id] = n + 1
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if n == 0 {
			_, _ = w.Write([]byte(`{"identity_request_id":"` + id + `","state":"IN_PROGRESS"}`))
			return
		}
		_, _ = w.Write([]byte(`{"identity_request_id":"` + id + `","state":"COMPLETED","state_context":{"klarna_customer":{"customer_token":"t","customer_profile":{"date_of_birth":{"date_of_birth":"1985-01-01","date_of_birth_verified":true}}}}}`))
	})
	r.Get("/outage/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newKlarna(t *testing.T, baseURL string) *klarna.Client {
	t.Helper()
	c, err := klarna.New(baseURL, klarna.NoAuth{},
		klarna.WithRateLimit(1000, 100),
		klarna.WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
	require.NoError(t, err)
	return c
}

func TestMockGatewayContract(t *testing.T) {
	suite := &FlowSuite{
		Name:          "mock",
		Gateway:       mock.New(mock.WithPendingPolls(2)),
		ReturnURL:     "http://localhost:3000/api/klarna/callback",
		ExpectProfile: true,
	}
	suite.Run(t)

	(&ErrorContractTest{
		Name:    "mock/unknown request",
		Gateway: mock.New(),
		Call: func(ctx context.Context, gw identity.Gateway) error {
			_, err := gw.Status(ctx, "krn:identity:mock:missing")
			return err
		},
		ExpectedError: identity.ErrorNotFound,
	}).Run(t)
}

func TestKlarnaGatewayContract(t *testing.T) {
	srv := fakeKlarna(t)
	suite := &FlowSuite{
		Name:          "klarna",
		Gateway:       newKlarna(t, srv.URL),
		ReturnURL:     "http://localhost:3000/api/klarna/callback",
		ExpectProfile: true,
	}
	suite.Run(t)

	tests := []ErrorContractTest{
		{
			Name:    "klarna/unknown request",
			Gateway: newKlarna(t, srv.URL),
			Call: func(ctx context.Context, gw identity.Gateway) error {
				_, err := gw.Status(ctx, "missing")
				return err
			},
			ExpectedError: identity.ErrorNotFound,
		},
		{
			Name:    "klarna/provider outage",
			Gateway: newKlarna(t, strings.TrimRight(srv.URL, "/")+"/outage"),
			Call: func(ctx context.Context, gw identity.Gateway) error {
				_, err := gw.Status(ctx, "any")
				return err
			},
			ExpectedError: identity.ErrorProviderOutage,
			ExpectedRetry: true,
		},
	}
	for i := range tests {
		tests[i].Run(t)
	}
}
