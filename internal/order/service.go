package order

import (
	"context"
	"errors"
	"log/slog"
	"time"

	id "storefront/pkg/domain"
	dErrors "storefront/pkg/domain-errors"
	audit "storefront/pkg/platform/audit"
	txcontext "storefront/pkg/platform/tx"
)

// Service places orders. The order row and its order_placed audit record
// are written in one transaction, so the outbox never announces an order
// that was not stored.
type Service struct {
	store  Store
	audit  audit.Store
	tx     txcontext.Runner
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Service)

// WithTxRunner sets the transaction runner. Defaults to txcontext.NopRunner.
func WithTxRunner(r txcontext.Runner) Option {
	return func(s *Service) {
		if r != nil {
			s.tx = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(store Store, auditStore audit.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("order store is required")
	}
	if auditStore == nil {
		return nil, errors.New("audit store is required")
	}
	s := &Service{
		store:  store,
		audit:  auditStore,
		tx:     txcontext.NopRunner{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Place records a completed checkout.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (*Order, error) {
	if req.SessionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "session id is required")
	}
	if len(req.Lines) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "order has no lines")
	}
	for _, l := range req.Lines {
		if l.ItemID == "" || l.Quantity < 1 || l.UnitPrice.IsNegative() {
			return nil, dErrors.New(dErrors.CodeValidation, "order line is invalid")
		}
	}

	o := &Order{
		ID:        id.NewOrderID(),
		SessionID: req.SessionID,
		Lines:     req.Lines,
		Total:     totalOf(req.Lines),
		AgeGated:  hasRestricted(req.Lines),
		PlacedAt:  s.now(),
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Save(ctx, o); err != nil {
			return err
		}
		return s.audit.Append(ctx, audit.Event{
			Type:      audit.EventOrderPlaced,
			Timestamp: o.PlacedAt,
			SessionID: o.SessionID,
			RequestID: req.RequestID,
			OrderID:   o.ID.String(),
			Verified:  o.AgeGated,
		})
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to place order",
			"session_id", req.SessionID.String(),
			"request_id", req.RequestID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to place order")
	}

	s.logger.InfoContext(ctx, "order placed",
		"session_id", o.SessionID.String(),
		"order_id", o.ID.String(),
		"total", o.Total.StringFixed(2),
		"age_gated", o.AgeGated,
	)
	return o, nil
}

// ListBySession returns a session's orders, oldest first.
func (s *Service) ListBySession(ctx context.Context, sessionID id.SessionID) ([]*Order, error) {
	orders, err := s.store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list orders")
	}
	return orders, nil
}
