package testutil

import (
	"net/http"
	"time"

	id "storefront/pkg/domain"
	"storefront/pkg/requestcontext"
)

// WithSession binds req to sessionID the way the session middleware would.
func WithSession(req *http.Request, sessionID id.SessionID) *http.Request {
	return req.WithContext(requestcontext.WithSessionID(req.Context(), sessionID))
}

// WithTime pins the request-scoped clock.
func WithTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
