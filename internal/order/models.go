// Package order records completed checkouts.
package order

import (
	"time"

	"github.com/shopspring/decimal"

	id "storefront/pkg/domain"
)

// Line is one purchased product, priced at the moment of checkout.
type Line struct {
	ItemID        string          `json:"item_id"`
	Name          string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Quantity      int             `json:"quantity"`
	AgeRestricted bool            `json:"age_restricted"`
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is an immutable record of a completed checkout.
type Order struct {
	ID        id.OrderID
	SessionID id.SessionID
	Lines     []Line
	Total     decimal.Decimal
	// AgeGated is true when the order contained restricted items and so
	// passed the verification gate.
	AgeGated bool
	PlacedAt time.Time
}

// PlaceRequest is the input to Service.Place.
type PlaceRequest struct {
	SessionID id.SessionID
	RequestID string
	Lines     []Line
}

func totalOf(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

func hasRestricted(lines []Line) bool {
	for _, l := range lines {
		if l.AgeRestricted {
			return true
		}
	}
	return false
}
