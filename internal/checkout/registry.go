package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"storefront/internal/cart"
	"storefront/internal/checkout/metrics"
	"storefront/internal/identity"
	"storefront/internal/session/store"
	"storefront/internal/verification"
	id "storefront/pkg/domain"
)

// RegistryConfig wires the collaborators shared by every session.
type RegistryConfig struct {
	Store   store.Store
	Gateway identity.Gateway
	Orders  OrderPlacer
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Clock   func() time.Time
	// Options are applied to every orchestrator the registry builds.
	Options []Option
	// OnEvict runs after an idle session has been dropped.
	OnEvict func(sessionID id.SessionID)
}

// Registry maps session IDs to their orchestrators, building them on first
// use. Persistent session state lives in the session store, so an evicted
// orchestrator is rebuilt with the same cart and verification record.
type Registry struct {
	cfg RegistryConfig

	mu       sync.Mutex
	sessions map[id.SessionID]*Orchestrator
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("identity gateway is required")
	}
	if cfg.Orders == nil {
		return nil, errors.New("order placer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Registry{cfg: cfg, sessions: make(map[id.SessionID]*Orchestrator)}, nil
}

// Get returns the session's orchestrator.
func (r *Registry) Get(sessionID id.SessionID) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.sessions[sessionID]; ok {
		return o, nil
	}
	c, err := cart.New(r.cfg.Store, sessionID, cart.WithLogger(r.cfg.Logger))
	if err != nil {
		return nil, err
	}
	v, err := verification.New(r.cfg.Store, sessionID,
		verification.WithClock(r.cfg.Clock),
		verification.WithLogger(r.cfg.Logger),
	)
	if err != nil {
		return nil, err
	}
	opts := append([]Option{
		WithLogger(r.cfg.Logger),
		WithClock(r.cfg.Clock),
		WithMetrics(r.cfg.Metrics),
	}, r.cfg.Options...)
	o, err := New(sessionID, Deps{
		Cart:         c,
		Verification: v,
		Gateway:      r.cfg.Gateway,
		Orders:       r.cfg.Orders,
	}, opts...)
	if err != nil {
		return nil, err
	}
	r.sessions[sessionID] = o
	r.cfg.Metrics.SetActiveSessions(len(r.sessions))
	return o, nil
}

// Len is the number of sessions held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for longer than idleFor and returns how many
// were evicted. Sessions with a poll running are kept.
func (r *Registry) Sweep(idleFor time.Duration) int {
	cutoff := r.cfg.Clock().Add(-idleFor)

	r.mu.Lock()
	var evicted []*Orchestrator
	for sid, o := range r.sessions {
		if o.Idle(cutoff) {
			evicted = append(evicted, o)
			delete(r.sessions, sid)
		}
	}
	r.cfg.Metrics.SetActiveSessions(len(r.sessions))
	r.mu.Unlock()

	for _, o := range evicted {
		o.Close()
		if r.cfg.OnEvict != nil {
			r.cfg.OnEvict(o.SessionID())
		}
	}
	return len(evicted)
}

// Run sweeps every interval until ctx is cancelled, then closes all sessions.
func (r *Registry) Run(ctx context.Context, interval, idleFor time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Close()
			return nil
		case <-ticker.C:
			if n := r.Sweep(idleFor); n > 0 {
				r.cfg.Logger.InfoContext(ctx, "evicted idle checkout sessions", "count", n)
			}
		}
	}
}

// Close stops every background poll and drops all sessions.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[id.SessionID]*Orchestrator)
	r.cfg.Metrics.SetActiveSessions(0)
	r.mu.Unlock()

	for _, o := range sessions {
		o.Close()
	}
}
