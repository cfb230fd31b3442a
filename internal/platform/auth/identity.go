package auth

import (
	"context"
	"slices"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/restaurant-ordering/api/internal/domain"
)

// Role constants used throughout the API when checking authorisation boundaries.
const (
	RoleCustomer = domain.RoleCustomer
	RoleDelivery = domain.RoleDelivery
	RoleAdmin    = domain.RoleAdmin
)

// Identity captures the authenticated principal details extracted from a Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Name  string
	Roles []string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token associated with this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// Principal converts the identity into the domain actor consumed by services.
func (i *Identity) Principal() *domain.Principal {
	if i == nil || strings.TrimSpace(i.UID) == "" {
		return nil
	}
	return &domain.Principal{
		ID:          strings.TrimSpace(i.UID),
		Email:       strings.TrimSpace(i.Email),
		DisplayName: strings.TrimSpace(i.Name),
		Roles:       slices.Clone(i.Roles),
	}
}

type contextKey string

const identityContextKey contextKey = "github.com/restaurant-ordering/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// PrincipalFromContext returns the domain principal of the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (*domain.Principal, bool) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, false
	}
	principal := identity.Principal()
	return principal, principal != nil
}
