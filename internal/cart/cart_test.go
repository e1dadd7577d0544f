package cart

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"storefront/internal/session/store"
	id "storefront/pkg/domain"
	dErrors "storefront/pkg/domain-errors"
	"storefront/pkg/platform/sentinel"
)

type failingStore struct{ store.Store }

func (failingStore) Get(context.Context, id.SessionID, string) ([]byte, error) {
	return nil, sentinel.ErrUnavailable
}

type CartSuite struct {
	suite.Suite
	ctx   context.Context
	store *store.InMemoryStore
	cart  *Cart
}

func TestCartSuite(t *testing.T) {
	suite.Run(t, new(CartSuite))
}

func (s *CartSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemoryStore()
	var err error
	s.cart, err = New(s.store, id.NewSessionID())
	s.Require().NoError(err)
}

func price(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

var (
	vitamins = NewItem{ID: "vit-c", Name: "Vitamin C", Price: price("9.99")}
	wine     = NewItem{ID: "wine", Name: "Red Wine", Price: price("19.50"), AgeRestricted: true}
)

// =============================================================================
// Add
// =============================================================================

func (s *CartSuite) TestAdd() {
	s.Run("new item starts at quantity one", func() {
		s.Require().NoError(s.cart.Add(s.ctx, vitamins))
		items, err := s.cart.Items(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(items, 1)
		s.Equal(1, items[0].Quantity)
		s.Equal("Vitamin C", items[0].Name)
	})

	s.Run("adding the same id twice increments instead of duplicating", func() {
		s.Require().NoError(s.cart.Add(s.ctx, vitamins))
		items, err := s.cart.Items(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(items, 1)
		s.Equal(2, items[0].Quantity)
	})

	s.Run("insertion order is preserved", func() {
		s.Require().NoError(s.cart.Add(s.ctx, wine))
		items, err := s.cart.Items(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(items, 2)
		s.Equal("vit-c", items[0].ID)
		s.Equal("wine", items[1].ID)
	})
}

func (s *CartSuite) TestAddValidation() {
	s.Run("empty id", func() {
		err := s.cart.Add(s.ctx, NewItem{ID: "  ", Price: price("1")})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("negative price", func() {
		err := s.cart.Add(s.ctx, NewItem{ID: "x", Price: price("-0.01")})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("zero price is allowed", func() {
		s.NoError(s.cart.Add(s.ctx, NewItem{ID: "sample", Price: decimal.Zero}))
	})
}

// =============================================================================
// Remove and SetQuantity
// =============================================================================

func (s *CartSuite) TestSetQuantity() {
	s.Require().NoError(s.cart.Add(s.ctx, vitamins))
	s.Require().NoError(s.cart.Add(s.ctx, wine))

	s.Run("positive quantity is set", func() {
		s.Require().NoError(s.cart.SetQuantity(s.ctx, "vit-c", 4))
		sum, err := s.cart.Summary(s.ctx)
		s.Require().NoError(err)
		s.Equal(5, sum.ItemCount)
	})

	s.Run("zero is equivalent to remove", func() {
		s.Require().NoError(s.cart.SetQuantity(s.ctx, "wine", 0))
		items, err := s.cart.Items(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(items, 1)
		s.Equal("vit-c", items[0].ID)
	})

	s.Run("negative is equivalent to remove", func() {
		s.Require().NoError(s.cart.SetQuantity(s.ctx, "vit-c", -3))
		items, err := s.cart.Items(s.ctx)
		s.Require().NoError(err)
		s.Empty(items)
	})

	s.Run("absent id is a no-op", func() {
		s.Require().NoError(s.cart.SetQuantity(s.ctx, "ghost", 3))
		items, err := s.cart.Items(s.ctx)
		s.Require().NoError(err)
		s.Empty(items)
	})
}

func (s *CartSuite) TestRemove() {
	s.Require().NoError(s.cart.Add(s.ctx, vitamins))
	s.Require().NoError(s.cart.Remove(s.ctx, "ghost"))
	s.Require().NoError(s.cart.Remove(s.ctx, "vit-c"))

	items, err := s.cart.Items(s.ctx)
	s.Require().NoError(err)
	s.Empty(items)
}

// =============================================================================
// Derived values
// =============================================================================

func (s *CartSuite) TestTotalIsExactDecimal() {
	for range 3 {
		s.Require().NoError(s.cart.Add(s.ctx, NewItem{ID: "dime", Price: price("0.10")}))
	}
	s.Require().NoError(s.cart.Add(s.ctx, NewItem{ID: "fifth", Price: price("0.20")}))

	total, err := s.cart.Total(s.ctx)
	s.Require().NoError(err)
	s.True(total.Equal(price("0.50")), "got %s", total)
	s.Equal("0.50", total.StringFixed(2))
}

func (s *CartSuite) TestHasAgeRestrictedItems() {
	has, err := s.cart.HasAgeRestrictedItems(s.ctx)
	s.Require().NoError(err)
	s.False(has)

	s.Require().NoError(s.cart.Add(s.ctx, vitamins))
	has, err = s.cart.HasAgeRestrictedItems(s.ctx)
	s.Require().NoError(err)
	s.False(has)

	s.Require().NoError(s.cart.Add(s.ctx, wine))
	has, err = s.cart.HasAgeRestrictedItems(s.ctx)
	s.Require().NoError(err)
	s.True(has)
}

func (s *CartSuite) TestClear() {
	s.Require().NoError(s.cart.Add(s.ctx, wine))
	s.Require().NoError(s.cart.Clear(s.ctx))

	sum, err := s.cart.Summary(s.ctx)
	s.Require().NoError(err)
	s.Empty(sum.Items)
	s.True(sum.Total.IsZero())
}

// =============================================================================
// Persistence
// =============================================================================

func (s *CartSuite) TestSurvivesReload() {
	sessionID := id.NewSessionID()
	first, err := New(s.store, sessionID)
	s.Require().NoError(err)
	s.Require().NoError(first.Add(s.ctx, wine))

	second, err := New(s.store, sessionID)
	s.Require().NoError(err)
	items, err := second.Items(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.True(items[0].UnitPrice.Equal(price("19.50")))
	s.True(items[0].AgeRestricted)
}

func (s *CartSuite) TestUnreadableDocumentIsEmpty() {
	sessionID := id.NewSessionID()
	s.Require().NoError(s.store.Set(s.ctx, sessionID, store.KeyCart, []byte("{broken")))
	c, err := New(s.store, sessionID)
	s.Require().NoError(err)

	items, err := c.Items(s.ctx)
	s.Require().NoError(err)
	s.Empty(items)
}

func (s *CartSuite) TestStorageFailureSurfaces() {
	c, err := New(failingStore{Store: s.store}, id.NewSessionID())
	s.Require().NoError(err)

	err = c.Add(s.ctx, vitamins)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.ErrorIs(err, sentinel.ErrUnavailable)
}
