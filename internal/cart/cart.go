// Package cart is a session's shopping cart.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/internal/session/store"
	id "storefront/pkg/domain"
	dErrors "storefront/pkg/domain-errors"
	"storefront/pkg/platform/sentinel"
)

// Item is one cart line. Quantity is always >= 1.
type Item struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	AgeRestricted bool            `json:"age_restricted"`
	Quantity      int             `json:"quantity"`
}

// LineTotal is UnitPrice × Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// NewItem describes a product being added.
type NewItem struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	AgeRestricted bool
}

// Summary is a consistent read of the whole cart.
type Summary struct {
	Items                 []Item
	Total                 decimal.Decimal
	ItemCount             int
	HasAgeRestrictedItems bool
}

type document struct {
	Items []Item `json:"items"`
}

// Cart persists items under the session's cart key, in insertion order.
type Cart struct {
	store     store.Store
	sessionID id.SessionID
	logger    *slog.Logger
}

type Option func(*Cart)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cart) {
		c.logger = logger
	}
}

func New(st store.Store, sessionID id.SessionID, opts ...Option) (*Cart, error) {
	if st == nil {
		return nil, errors.New("session store is required")
	}
	if sessionID.IsNil() {
		return nil, errors.New("session id is required")
	}
	c := &Cart{store: st, sessionID: sessionID, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Add inserts the product with quantity 1, or increments an existing line.
func (c *Cart) Add(ctx context.Context, item NewItem) error {
	itemID := strings.TrimSpace(item.ID)
	if itemID == "" {
		return dErrors.New(dErrors.CodeValidation, "item id is required")
	}
	if item.Price.IsNegative() {
		return dErrors.New(dErrors.CodeValidation, "item price must not be negative")
	}

	items, err := c.load(ctx)
	if err != nil {
		return err
	}
	if i := indexOf(items, itemID); i >= 0 {
		items[i].Quantity++
	} else {
		items = append(items, Item{
			ID:            itemID,
			Name:          item.Name,
			UnitPrice:     item.Price,
			AgeRestricted: item.AgeRestricted,
			Quantity:      1,
		})
	}
	return c.save(ctx, items)
}

// Remove deletes the line. Removing an absent item is a no-op.
func (c *Cart) Remove(ctx context.Context, itemID string) error {
	items, err := c.load(ctx)
	if err != nil {
		return err
	}
	i := indexOf(items, itemID)
	if i < 0 {
		return nil
	}
	return c.save(ctx, slices.Delete(items, i, i+1))
}

// SetQuantity sets the line quantity; q <= 0 removes the line. Absent items
// are ignored.
func (c *Cart) SetQuantity(ctx context.Context, itemID string, q int) error {
	if q <= 0 {
		return c.Remove(ctx, itemID)
	}
	items, err := c.load(ctx)
	if err != nil {
		return err
	}
	i := indexOf(items, itemID)
	if i < 0 {
		return nil
	}
	items[i].Quantity = q
	return c.save(ctx, items)
}

func (c *Cart) Items(ctx context.Context) ([]Item, error) {
	return c.load(ctx)
}

func (c *Cart) Total(ctx context.Context) (decimal.Decimal, error) {
	sum, err := c.Summary(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return sum.Total, nil
}

func (c *Cart) HasAgeRestrictedItems(ctx context.Context) (bool, error) {
	sum, err := c.Summary(ctx)
	if err != nil {
		return false, err
	}
	return sum.HasAgeRestrictedItems, nil
}

// Summary reads the cart once and derives total, count and the restricted flag.
func (c *Cart) Summary(ctx context.Context) (Summary, error) {
	items, err := c.load(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Items: items, Total: decimal.Zero}
	for _, it := range items {
		sum.Total = sum.Total.Add(it.LineTotal())
		sum.ItemCount += it.Quantity
		sum.HasAgeRestrictedItems = sum.HasAgeRestrictedItems || it.AgeRestricted
	}
	return sum, nil
}

// Clear empties the cart.
func (c *Cart) Clear(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.sessionID, store.KeyCart); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear cart")
	}
	return nil
}

func (c *Cart) load(ctx context.Context) ([]Item, error) {
	raw, err := c.store.Get(ctx, c.sessionID, store.KeyCart)
	if errors.Is(err, sentinel.ErrNotFound) {
		return []Item{}, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load cart")
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		c.logger.WarnContext(ctx, "discarding unreadable cart",
			"session_id", c.sessionID.String(),
			"error", err,
		)
		return []Item{}, nil
	}
	items := slices.DeleteFunc(doc.Items, func(it Item) bool { return it.ID == "" || it.Quantity <= 0 })
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

func (c *Cart) save(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return c.Clear(ctx)
	}
	raw, err := json.Marshal(document{Items: items})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode cart")
	}
	if err := c.store.Set(ctx, c.sessionID, store.KeyCart, raw); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save cart")
	}
	return nil
}

func indexOf(items []Item, itemID string) int {
	return slices.IndexFunc(items, func(it Item) bool { return it.ID == itemID })
}
