// Package session binds every request to a shopper session.
//
// The session ID travels in a signed cookie (HS256 JWT). A missing, expired or
// tampered cookie never fails the request: the shopper simply gets a fresh
// session, which starts with an empty cart and no verification.
package session

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "storefront/pkg/domain"
	"storefront/pkg/requestcontext"
)

const (
	DefaultCookieName = "sf_session"
	issuer            = "storefront"
)

// Claims is the signed cookie payload.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager issues and validates session cookies.
type Manager struct {
	signingKey []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	logger     *slog.Logger
}

type Option func(*Manager)

func WithCookieName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.cookieName = name
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithSecureCookie marks the cookie Secure (HTTPS only).
func WithSecureCookie(secure bool) Option {
	return func(m *Manager) {
		m.secure = secure
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func New(signingKey string, opts ...Option) (*Manager, error) {
	if signingKey == "" {
		return nil, errors.New("session signing key is required")
	}
	m := &Manager{
		signingKey: []byte(signingKey),
		cookieName: DefaultCookieName,
		ttl:        30 * 24 * time.Hour,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue signs a cookie value for sessionID.
func (m *Manager) Issue(sessionID id.SessionID, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(m.signingKey)
}

// Parse validates a cookie value and returns its session ID.
func (m *Manager) Parse(value string) (id.SessionID, error) {
	parsed, err := jwt.ParseWithClaims(value, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return m.signingKey, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return id.SessionID{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return id.SessionID{}, jwt.ErrTokenInvalidClaims
	}
	return id.ParseSessionID(claims.SessionID)
}

// Middleware resolves the session from the cookie, issuing a new one when
// needed, and stores the ID in the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := requestcontext.Now(ctx)

		var sessionID id.SessionID
		if c, err := r.Cookie(m.cookieName); err == nil {
			sessionID, err = m.Parse(c.Value)
			if err != nil {
				m.logger.InfoContext(ctx, "discarding invalid session cookie",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
			}
		}

		if sessionID.IsNil() {
			sessionID = id.NewSessionID()
			value, err := m.Issue(sessionID, now)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to sign session cookie",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal_error"}`))
				return
			}
			http.SetCookie(w, &http.Cookie{
				Name:     m.cookieName,
				Value:    value,
				Path:     "/",
				Expires:  now.Add(m.ttl),
				HttpOnly: true,
				Secure:   m.secure,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx = requestcontext.WithSessionID(ctx, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
