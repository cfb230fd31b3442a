package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/restaurant-ordering/api/internal/domain"
)

// Money fields are decimal strings.
type orderDocument struct {
	Total     string                 `firestore:"total"`
	Date      time.Time              `firestore:"date"`
	UserID    string                 `firestore:"userId"`
	State     string                 `firestore:"state"`
	Address   string                 `firestore:"address"`
	IsActive  bool                   `firestore:"isActive"`
	Toppings  []orderToppingDocument `firestore:"toppings"`
	Items     []lineItemDocument     `firestore:"items"`
	UpdatedAt time.Time              `firestore:"updatedAt"`
}

type orderToppingDocument struct {
	ProductID string `firestore:"productId"`
	Topping   string `firestore:"topping"`
	Price     string `firestore:"price"`
	Quantity  int    `firestore:"quantity"`
}

type lineItemDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
}

type orderProductDocument struct {
	OrderID   string    `firestore:"orderId"`
	ProductID string    `firestore:"productId"`
	Position  int       `firestore:"position"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type productDocument struct {
	Name        string    `firestore:"name"`
	Description string    `firestore:"description"`
	Category    string    `firestore:"category"`
	Price       string    `firestore:"price"`
	IsActive    bool      `firestore:"isActive"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		Total:     order.Total.StringFixed(2),
		Date:      order.Date.UTC(),
		UserID:    order.UserID,
		State:     string(order.State),
		Address:   order.Address,
		IsActive:  order.IsActive,
		UpdatedAt: order.UpdatedAt.UTC(),
	}
	for _, topping := range order.Toppings {
		doc.Toppings = append(doc.Toppings, orderToppingDocument{
			ProductID: topping.ProductID,
			Topping:   topping.Topping,
			Price:     topping.Price.String(),
			Quantity:  topping.Quantity,
		})
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, lineItemDocument{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return doc
}

func toDomainOrder(id string, doc orderDocument) (domain.Order, error) {
	total, err := parseMoney(doc.Total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s total: %w", id, err)
	}
	order := domain.Order{
		ID:        id,
		Total:     total,
		Date:      doc.Date.UTC(),
		UserID:    doc.UserID,
		State:     domain.OrderState(doc.State),
		Address:   doc.Address,
		IsActive:  doc.IsActive,
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
	for _, topping := range doc.Toppings {
		price, err := parseMoney(topping.Price)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s topping price: %w", id, err)
		}
		order.Toppings = append(order.Toppings, domain.Topping{
			ProductID: topping.ProductID,
			Topping:   topping.Topping,
			Price:     price,
			Quantity:  topping.Quantity,
		})
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.LineItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return order, nil
}

func fromDomainProduct(product domain.Product) productDocument {
	return productDocument{
		Name:        product.Name,
		Description: product.Description,
		Category:    product.Category,
		Price:       product.Price.StringFixed(2),
		IsActive:    product.IsActive,
		CreatedAt:   product.CreatedAt.UTC(),
		UpdatedAt:   product.UpdatedAt.UTC(),
	}
}

func toDomainProduct(id string, doc productDocument) (domain.Product, error) {
	price, err := parseMoney(doc.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s price: %w", id, err)
	}
	return domain.Product{
		ID:          id,
		Name:        doc.Name,
		Description: doc.Description,
		Category:    doc.Category,
		Price:       price,
		IsActive:    doc.IsActive,
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}, nil
}

func parseMoney(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func orderProductDocID(orderID, productID string) string {
	return orderID + "_" + productID
}

type toppingDocument struct {
	Name          string    `firestore:"name"`
	Price         string    `firestore:"price"`
	MaximumAmount int       `firestore:"maximumAmount"`
	IsActive      bool      `firestore:"isActive"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

type productToppingDocument struct {
	ID        string    `firestore:"id"`
	ProductID string    `firestore:"productId"`
	ToppingID string    `firestore:"toppingId"`
	Quantity  int       `firestore:"quantity"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func fromDomainTopping(topping domain.MenuTopping) toppingDocument {
	return toppingDocument{
		Name:          topping.Name,
		Price:         topping.Price.StringFixed(2),
		MaximumAmount: topping.MaximumAmount,
		IsActive:      topping.IsActive,
		CreatedAt:     topping.CreatedAt.UTC(),
		UpdatedAt:     topping.UpdatedAt.UTC(),
	}
}

func toDomainTopping(id string, doc toppingDocument) (domain.MenuTopping, error) {
	price, err := parseMoney(doc.Price)
	if err != nil {
		return domain.MenuTopping{}, fmt.Errorf("topping %s price: %w", id, err)
	}
	return domain.MenuTopping{
		ID:            id,
		Name:          doc.Name,
		Price:         price,
		MaximumAmount: doc.MaximumAmount,
		IsActive:      doc.IsActive,
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
	}, nil
}

func toDomainProductTopping(doc productToppingDocument) domain.ProductTopping {
	return domain.ProductTopping{
		ID:        doc.ID,
		ProductID: doc.ProductID,
		ToppingID: doc.ToppingID,
		Quantity:  doc.Quantity,
		CreatedAt: doc.CreatedAt.UTC(),
	}
}

func productToppingDocID(productID, toppingID string) string {
	return productID + "_" + toppingID
}
