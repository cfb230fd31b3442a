package services

import (
	"fmt"

	domain "github.com/restaurant-ordering/api/internal/domain"
)

// OrderAction names a mutation subject to authorization.
type OrderAction string

const (
	OrderActionUpdate  OrderAction = "update"
	OrderActionAdvance OrderAction = "advance"
	OrderActionCancel  OrderAction = "cancel"
	OrderActionErase   OrderAction = "erase"
)

// OrderPatchFields records which fields a patch touches.
type OrderPatchFields struct {
	State      bool
	Address    bool
	ProductIDs bool
	Toppings   bool
	Items      bool
}

// Empty reports whether no field is present.
func (f OrderPatchFields) Empty() bool {
	return !f.State && !f.Address && !f.ProductIDs && !f.Toppings && !f.Items
}

// OnlyState reports whether the state is the single field present.
func (f OrderPatchFields) OnlyState() bool {
	return f.State && !f.Address && !f.ProductIDs && !f.Toppings && !f.Items
}

// OrderChange describes the mutation being authorized.
type OrderChange struct {
	Action      OrderAction
	Fields      OrderPatchFields
	TargetState OrderState
}

// OrderDecision is the verdict of AuthorizeOrderMutation. Reason is set when the change is denied.
type OrderDecision struct {
	Allowed bool
	Reason  string
}

func allow() OrderDecision { return OrderDecision{Allowed: true} }

func deny(reason string) OrderDecision { return OrderDecision{Reason: reason} }

// AuthorizeOrderMutation decides whether principal may apply change to order. It is evaluated once
// per mutation, before anything is written.
func AuthorizeOrderMutation(principal *Principal, order Order, change OrderChange) OrderDecision {
	if principal == nil {
		return deny("authentication required")
	}
	if principal.IsAdmin() {
		return allow()
	}

	if principal.IsDelivery() {
		switch change.Action {
		case OrderActionUpdate:
			if change.Fields.OnlyState() {
				return allow()
			}
			return deny("delivery staff may only change the order state")
		case OrderActionAdvance, OrderActionCancel, OrderActionErase:
			return allow()
		}
		return deny(fmt.Sprintf("unsupported action %q", change.Action))
	}

	if !order.OwnedBy(principal.ID) {
		return deny("not the order owner")
	}
	switch change.Action {
	case OrderActionUpdate:
		if change.Fields.State && deliveryOnlyState(change.TargetState) {
			return deny(fmt.Sprintf("only delivery staff or admins may set state %q", change.TargetState))
		}
		return allow()
	case OrderActionCancel, OrderActionErase:
		return allow()
	case OrderActionAdvance:
		return deny("only delivery staff or admins may advance orders")
	}
	return deny(fmt.Sprintf("unsupported action %q", change.Action))
}

func deliveryOnlyState(state OrderState) bool {
	return state == domain.OrderStateOnTheWay || state == domain.OrderStateDelivered
}
