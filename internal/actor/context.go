// Package actor carries the acting user identity and role through request
// context. Role gates for verification, approval and dispute resolution
// are enforced here.
package actor

import "context"

// Role is the billing role of the acting user.
type Role string

const (
	RoleField Role = "field"
	RoleGF    Role = "gf"
	RoleQA    Role = "qa"
	RolePM    Role = "pm"
	RoleAdmin Role = "admin"
)

// Actor identifies the user performing a mutating operation.
type Actor struct {
	ID   string
	Name string
	Role Role
}

// ContextKey is the request context key for the acting user.
type ContextKey struct{}

// WithActor stores the actor in the context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ContextKey{}, a)
}

// FromContext returns the actor from context, if set.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	a, ok := ctx.Value(ContextKey{}).(Actor)
	if !ok || a.ID == "" {
		return Actor{}, false
	}
	return a, true
}

// CanVerify reports whether the role may verify submitted entries.
func (r Role) CanVerify() bool {
	return r == RoleGF || r == RoleQA || r == RolePM || r == RoleAdmin
}

// CanApprove reports whether the role may approve verified entries and
// claims.
func (r Role) CanApprove() bool {
	return r == RolePM || r == RoleAdmin
}

// CanResolveDispute reports whether the role may resolve disputes.
func (r Role) CanResolveDispute() bool {
	return r == RolePM || r == RoleGF || r == RoleAdmin
}
