package auth

import (
	"context"
	"slices"
)

// Roles known to the appointment routes.
const (
	RoleCustomer   = "customer"
	RoleTechnician = "technician"
	RoleAdmin      = "admin"
)

// Identity is the authenticated caller. UserID is the customer or staff id
// taken from the token subject.
type Identity struct {
	UserID string
	Roles  []string
	Phone  string
}

type identityKey struct{}

// WithIdentity stores the caller identity on ctx.
func WithIdentity(ctx context.Context, userID string, roles []string, phone string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{UserID: userID, Roles: roles, Phone: phone})
}

// IdentityFrom returns the identity stored by one of the auth middlewares.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := IdentityFrom(ctx)
	return id.UserID
}

func RolesFromContext(ctx context.Context) []string {
	id, _ := IdentityFrom(ctx)
	return id.Roles
}

// PhoneFromContext returns the caller's profile phone number, if the token
// carried one.
func PhoneFromContext(ctx context.Context) string {
	id, _ := IdentityFrom(ctx)
	return id.Phone
}

// HasRole reports whether the caller holds any of roles. Admins hold every
// role.
func HasRole(ctx context.Context, roles ...string) bool {
	held := RolesFromContext(ctx)
	if slices.Contains(held, RoleAdmin) {
		return true
	}
	for _, r := range roles {
		if slices.Contains(held, r) {
			return true
		}
	}
	return false
}
