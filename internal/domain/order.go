package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderState enumerates valid lifecycle states for orders.
type OrderState string

const (
	// OrderStatePending indicates the order was accepted and awaits the kitchen.
	OrderStatePending OrderState = "pending"
	// OrderStatePreparing indicates the kitchen is working on the order.
	OrderStatePreparing OrderState = "preparing"
	// OrderStateReady indicates the order is ready for pickup or dispatch.
	OrderStateReady OrderState = "ready"
	// OrderStateOnTheWay indicates a courier is delivering the order.
	OrderStateOnTheWay OrderState = "onTheWay"
	// OrderStateDelivered indicates the order reached the customer.
	OrderStateDelivered OrderState = "delivered"
	// OrderStateCancelled indicates the order was cancelled.
	OrderStateCancelled OrderState = "cancelled"
)

var orderStateRank = map[OrderState]int{
	OrderStatePending:   0,
	OrderStatePreparing: 1,
	OrderStateReady:     2,
	OrderStateOnTheWay:  3,
	OrderStateDelivered: 4,
}

var orderStateProgression = map[OrderState]OrderState{
	OrderStatePending:   OrderStatePreparing,
	OrderStatePreparing: OrderStateReady,
	OrderStateReady:     OrderStateOnTheWay,
	OrderStateOnTheWay:  OrderStateDelivered,
}

// OrderStates lists every state in lifecycle order, cancellation last.
func OrderStates() []OrderState {
	return []OrderState{
		OrderStatePending,
		OrderStatePreparing,
		OrderStateReady,
		OrderStateOnTheWay,
		OrderStateDelivered,
		OrderStateCancelled,
	}
}

// ParseOrderState matches raw against the known states, ignoring case and surrounding whitespace.
func ParseOrderState(raw string) (OrderState, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, state := range OrderStates() {
		if strings.EqualFold(trimmed, string(state)) {
			return state, true
		}
	}
	return "", false
}

// Valid reports whether the state is one of the known lifecycle states.
func (s OrderState) Valid() bool {
	_, ok := orderStateRank[s]
	return ok || s == OrderStateCancelled
}

// Terminal reports whether no further transitions are possible.
func (s OrderState) Terminal() bool {
	return s == OrderStateDelivered || s == OrderStateCancelled
}

// Cancellable reports whether an order in this state may still be cancelled.
func (s OrderState) Cancellable() bool {
	return s != OrderStateOnTheWay && s != OrderStateDelivered
}

// Counted reports whether orders in this state count as completed sales.
func (s OrderState) Counted() bool {
	return s == OrderStateReady || s == OrderStateDelivered
}

// Next returns the state following s in the linear progression. Terminal states return themselves.
func (s OrderState) Next() OrderState {
	if next, ok := orderStateProgression[s]; ok {
		return next
	}
	return s
}

// Precedes reports whether target lies strictly after s on the progression.
// Cancelled is not part of the progression and is never preceded.
func (s OrderState) Precedes(target OrderState) bool {
	from, ok := orderStateRank[s]
	if !ok {
		return false
	}
	to, ok := orderStateRank[target]
	if !ok {
		return false
	}
	return to > from
}

// CountedOrderStates lists the states included in sales reporting.
func CountedOrderStates() []OrderState {
	return []OrderState{OrderStateReady, OrderStateDelivered}
}

// Topping is a pass-through line describing an extra added to a product.
type Topping struct {
	ProductID string
	Topping   string
	Price     decimal.Decimal
	Quantity  int
}

// LineItem is a pass-through quantity line for a product.
type LineItem struct {
	ProductID string
	Quantity  int
}

// Order captures the order header, its associations and loaded relations.
type Order struct {
	ID         string
	Total      decimal.Decimal
	Date       time.Time
	UserID     string
	User       *User
	State      OrderState
	Address    string
	IsActive   bool
	ProductIDs []string
	Products   []Product
	Toppings   []Topping
	Items      []LineItem
	UpdatedAt  time.Time
}

// OwnedBy reports whether the order belongs to the given user id.
func (o Order) OwnedBy(userID string) bool {
	userID = strings.TrimSpace(userID)
	return userID != "" && o.UserID == userID
}
