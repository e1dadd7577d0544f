package checkout

import (
	"context"

	"storefront/internal/order"
)

// OrderPlacer records completed checkouts.
type OrderPlacer interface {
	Place(ctx context.Context, req order.PlaceRequest) (*order.Order, error)
}
