package services

import (
	"testing"

	domain "github.com/restaurant-ordering/api/internal/domain"
)

func TestAuthorizeOrderMutation(t *testing.T) {
	order := Order{ID: "ord_1", UserID: "user-1", State: domain.OrderStatePreparing}
	stateOnly := OrderPatchFields{State: true}
	stateAndAddress := OrderPatchFields{State: true, Address: true}

	cases := []struct {
		name      string
		principal *Principal
		change    OrderChange
		allowed   bool
	}{
		{name: "anonymous", principal: nil, change: OrderChange{Action: OrderActionCancel}},
		{name: "admin update", principal: admin(), change: OrderChange{Action: OrderActionUpdate, Fields: stateAndAddress, TargetState: domain.OrderStateDelivered}, allowed: true},
		{name: "admin erase", principal: admin(), change: OrderChange{Action: OrderActionErase}, allowed: true},
		{name: "delivery state only", principal: courier(), change: OrderChange{Action: OrderActionUpdate, Fields: stateOnly, TargetState: domain.OrderStateOnTheWay}, allowed: true},
		{name: "delivery extra field", principal: courier(), change: OrderChange{Action: OrderActionUpdate, Fields: stateAndAddress, TargetState: domain.OrderStateOnTheWay}},
		{name: "delivery advance", principal: courier(), change: OrderChange{Action: OrderActionAdvance}, allowed: true},
		{name: "delivery cancel", principal: courier(), change: OrderChange{Action: OrderActionCancel}, allowed: true},
		{name: "owner update", principal: customer("user-1"), change: OrderChange{Action: OrderActionUpdate, Fields: OrderPatchFields{Address: true}}, allowed: true},
		{name: "owner on the way", principal: customer("user-1"), change: OrderChange{Action: OrderActionUpdate, Fields: stateOnly, TargetState: domain.OrderStateOnTheWay}},
		{name: "owner delivered", principal: customer("user-1"), change: OrderChange{Action: OrderActionUpdate, Fields: stateOnly, TargetState: domain.OrderStateDelivered}},
		{name: "owner cancels via patch", principal: customer("user-1"), change: OrderChange{Action: OrderActionUpdate, Fields: stateOnly, TargetState: domain.OrderStateCancelled}, allowed: true},
		{name: "owner cancel", principal: customer("user-1"), change: OrderChange{Action: OrderActionCancel}, allowed: true},
		{name: "owner advance", principal: customer("user-1"), change: OrderChange{Action: OrderActionAdvance}},
		{name: "stranger cancel", principal: customer("user-2"), change: OrderChange{Action: OrderActionCancel}},
		{name: "unknown action", principal: courier(), change: OrderChange{Action: "archive"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := AuthorizeOrderMutation(tc.principal, order, tc.change)
			if decision.Allowed != tc.allowed {
				t.Fatalf("expected allowed=%v, got %+v", tc.allowed, decision)
			}
			if !decision.Allowed && decision.Reason == "" {
				t.Fatalf("expected a reason for denial")
			}
		})
	}
}

func TestOrderPatchFields(t *testing.T) {
	address := "x"
	state := domain.OrderStateReady
	fields := OrderPatch{State: &state}.Fields()
	if !fields.OnlyState() || fields.Empty() {
		t.Fatalf("expected state-only patch, got %+v", fields)
	}
	fields = OrderPatch{State: &state, Address: &address}.Fields()
	if fields.OnlyState() {
		t.Fatalf("expected mixed patch, got %+v", fields)
	}
	if !(OrderPatch{}).Fields().Empty() {
		t.Fatalf("expected empty patch")
	}
}
