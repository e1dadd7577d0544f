package klarna

import (
	"errors"
	"fmt"
	"net/http"
)

// Auth decorates outbound requests with provider credentials.
type Auth interface {
	Apply(req *http.Request)
	Scheme() string
}

// BasicAuth sends client id and secret as HTTP basic credentials.
type BasicAuth struct {
	ClientID     string
	ClientSecret string
}

func (a BasicAuth) Apply(req *http.Request) { req.SetBasicAuth(a.ClientID, a.ClientSecret) }
func (a BasicAuth) Scheme() string          { return "basic" }

// BearerAuth sends a static API token.
type BearerAuth struct {
	Token string
}

func (a BearerAuth) Apply(req *http.Request) { req.Header.Set("Authorization", "Bearer "+a.Token) }
func (a BearerAuth) Scheme() string          { return "bearer" }

// NoAuth sends no credentials. Used against local provider stubs.
type NoAuth struct{}

func (NoAuth) Apply(*http.Request) {}
func (NoAuth) Scheme() string      { return "none" }

// NewAuth selects a strategy by scheme name.
func NewAuth(scheme, clientID, clientSecret string) (Auth, error) {
	switch scheme {
	case "", "basic":
		if clientID == "" || clientSecret == "" {
			return nil, errors.New("basic auth requires client id and secret")
		}
		return BasicAuth{ClientID: clientID, ClientSecret: clientSecret}, nil
	case "bearer":
		if clientSecret == "" {
			return nil, errors.New("bearer auth requires a token")
		}
		return BearerAuth{Token: clientSecret}, nil
	case "none":
		return NoAuth{}, nil
	default:
		return nil, fmt.Errorf("unsupported auth scheme %q", scheme)
	}
}
