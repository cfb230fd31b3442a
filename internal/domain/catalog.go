package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a menu entry that can be referenced by orders.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MenuTopping is an extra that can be attached to products, up to MaximumAmount units.
type MenuTopping struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	MaximumAmount int
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProductTopping attaches a topping to a product. Topping is populated on reads only.
type ProductTopping struct {
	ID        string
	ProductID string
	ToppingID string
	Quantity  int
	CreatedAt time.Time
	Topping   *MenuTopping
}
