package order

import (
	"context"

	id "storefront/pkg/domain"
)

// Store persists orders. Save joins the transaction bound to ctx, if any.
type Store interface {
	Save(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, orderID id.OrderID) (*Order, error)
	ListBySession(ctx context.Context, sessionID id.SessionID) ([]*Order, error)
}
