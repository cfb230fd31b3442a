package domain

import "strings"

const (
	// RoleAdmin grants full access to orders, products and reports.
	RoleAdmin = "admin"
	// RoleCustomer is the default role of people placing orders.
	RoleCustomer = "customer"
	// RoleDelivery is held by couriers who move orders along their lifecycle.
	RoleDelivery = "delivery"
)

// Principal is the authenticated actor performing a request.
type Principal struct {
	ID          string
	Email       string
	DisplayName string
	Roles       []string
}

// HasRole reports whether the principal holds the role (case-insensitive).
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	role = strings.TrimSpace(role)
	for _, candidate := range p.Roles {
		if strings.EqualFold(strings.TrimSpace(candidate), role) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

// IsDelivery reports whether the principal holds the delivery role.
func (p *Principal) IsDelivery() bool {
	return p.HasRole(RoleDelivery)
}

// CustomerOnly reports whether customer is the principal's only privilege.
func (p *Principal) CustomerOnly() bool {
	if p == nil {
		return false
	}
	return p.HasRole(RoleCustomer) && !p.IsAdmin() && !p.IsDelivery()
}
