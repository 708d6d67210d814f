package auth

import "context"

// Role is the account role carried in an access token.
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleWholesale Role = "wholesale"
	RoleAdmin     Role = "admin"
)

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID string
	Email  string
	Role   Role
}

// IsAdmin reports whether the principal has administrative rights.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanWholesale reports whether the principal may use the wholesale portal.
// Admins can act on wholesale resources too.
func (p Principal) CanWholesale() bool {
	return p.Role == RoleWholesale || p.Role == RoleAdmin
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
