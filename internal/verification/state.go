// Package verification owns a session's age-verification record.
//
// A record is valid for 24 hours after the provider (or the manual date of
// birth check) confirmed the shopper is of age. Expiry is lazy: the record is
// deleted the first time it is read after going stale. Every read fails
// closed, so a storage fault means "not verified", never "verified".
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"storefront/internal/session/store"
	id "storefront/pkg/domain"
	"storefront/pkg/platform/sentinel"
)

// Validity is how long a successful verification lasts.
const Validity = 24 * time.Hour

// Record is the persisted verification state.
type Record struct {
	Verified   bool
	VerifiedAt time.Time
}

// ExpiresAt is the first instant at which the record is no longer valid.
func (r Record) ExpiresAt() time.Time {
	return r.VerifiedAt.Add(Validity)
}

// storedRecord keeps the epoch-millisecond layout of the browser original so
// records migrate verbatim.
type storedRecord struct {
	Verified   bool   `json:"verified"`
	VerifiedAt *int64 `json:"verified_at,omitempty"`
}

// State is one session's verification record.
type State struct {
	store     store.Store
	sessionID id.SessionID
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*State)

func WithClock(now func() time.Time) Option {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *State) {
		s.logger = logger
	}
}

func New(st store.Store, sessionID id.SessionID, opts ...Option) (*State, error) {
	if st == nil {
		return nil, errors.New("session store is required")
	}
	if sessionID.IsNil() {
		return nil, errors.New("session id is required")
	}
	s := &State{
		store:     st,
		sessionID: sessionID,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IsVerified reports whether a verified, unexpired record exists.
func (s *State) IsVerified(ctx context.Context) bool {
	_, ok := s.current(ctx)
	return ok
}

// Snapshot returns the valid record, if any, for rendering.
func (s *State) Snapshot(ctx context.Context) (Record, bool) {
	return s.current(ctx)
}

// SetVerified stores a fresh verification when verified is true and clears
// the record otherwise.
func (s *State) SetVerified(ctx context.Context, verified bool) {
	if !verified {
		s.clear(ctx, "cleared")
		return
	}
	millis := s.now().UnixMilli()
	raw, err := json.Marshal(storedRecord{Verified: true, VerifiedAt: &millis})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode verification record",
			"session_id", s.sessionID.String(),
			"error", err,
		)
		return
	}
	if err := s.store.Set(ctx, s.sessionID, store.KeyVerification, raw); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist verification record",
			"session_id", s.sessionID.String(),
			"error", err,
		)
	}
}

// Reset clears the record.
func (s *State) Reset(ctx context.Context) {
	s.SetVerified(ctx, false)
}

func (s *State) current(ctx context.Context) (Record, bool) {
	raw, err := s.store.Get(ctx, s.sessionID, store.KeyVerification)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Record{}, false
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "verification record unreadable, treating as unverified",
			"session_id", s.sessionID.String(),
			"error", err,
		)
		return Record{}, false
	}

	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		s.clear(ctx, "malformed")
		return Record{}, false
	}
	if !stored.Verified || stored.VerifiedAt == nil {
		s.clear(ctx, "incomplete")
		return Record{}, false
	}

	rec := Record{Verified: true, VerifiedAt: time.UnixMilli(*stored.VerifiedAt)}
	now := s.now()
	if rec.VerifiedAt.After(now) {
		s.clear(ctx, "future_dated")
		return Record{}, false
	}
	if now.Sub(rec.VerifiedAt) >= Validity {
		s.clear(ctx, "expired")
		return Record{}, false
	}
	return rec, true
}

func (s *State) clear(ctx context.Context, reason string) {
	if err := s.store.Delete(ctx, s.sessionID, store.KeyVerification); err != nil {
		s.logger.ErrorContext(ctx, "failed to clear verification record",
			"session_id", s.sessionID.String(),
			"reason", reason,
			"error", err,
		)
		return
	}
	if reason != "cleared" {
		s.logger.InfoContext(ctx, "verification record discarded",
			"session_id", s.sessionID.String(),
			"reason", reason,
		)
	}
}
