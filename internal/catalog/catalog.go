// Package catalog is the fixed product list the storefront sells. Prices and
// the age-restricted flag come from here, never from the browser.
package catalog

import (
	"sort"

	"github.com/shopspring/decimal"

	dErrors "storefront/pkg/domain-errors"
)

// Product is one sellable item.
type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	AgeRestricted bool            `json:"age_restricted"`
}

// Catalog looks products up by ID.
type Catalog struct {
	products map[string]Product
}

// New builds a catalog. Later duplicates replace earlier ones.
func New(products ...Product) *Catalog {
	c := &Catalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// Default is the demo pharmacy range.
func Default() *Catalog {
	return New(
		Product{
			ID:          "vitamin-c",
			Name:        "Vitamin C 1000mg",
			Description: "60 effervescent tablets",
			Price:       decimal.RequireFromString("8.99"),
		},
		Product{
			ID:          "ibuprofen",
			Name:        "Ibuprofen 200mg",
			Description: "24 coated tablets",
			Price:       decimal.RequireFromString("4.49"),
		},
		Product{
			ID:          "hand-sanitizer",
			Name:        "Hand Sanitizer",
			Description: "250ml gel, 70% alcohol",
			Price:       decimal.RequireFromString("3.25"),
		},
		Product{
			ID:            "nicotine-patches",
			Name:          "Nicotine Patches 21mg",
			Description:   "Step 1, 14 patches",
			Price:         decimal.RequireFromString("32.50"),
			AgeRestricted: true,
		},
		Product{
			ID:            "nicotine-gum",
			Name:          "Nicotine Gum 4mg",
			Description:   "Mint, 105 pieces",
			Price:         decimal.RequireFromString("24.95"),
			AgeRestricted: true,
		},
		Product{
			ID:            "melatonin",
			Name:          "Melatonin 5mg",
			Description:   "30 tablets",
			Price:         decimal.RequireFromString("12.00"),
			AgeRestricted: true,
		},
	)
}

// Find returns the product or a not-found error.
func (c *Catalog) Find(productID string) (Product, error) {
	p, ok := c.products[productID]
	if !ok {
		return Product{}, dErrors.New(dErrors.CodeNotFound, "product not found")
	}
	return p, nil
}

// List returns every product ordered by ID.
func (c *Catalog) List() []Product {
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
