package auth

import (
	"fmt"
	"slices"

	"carbon-scribe/mrv-registry/internal/apperrors"
)

// Role identifies what an actor may do in the registry.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleValidator Role = "validator"
	RoleUser      Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleValidator, RoleUser:
		return true
	}
	return false
}

// Actor is the authenticated caller of an operation. Address is the holder
// reference credits are issued to; it may be empty.
type Actor struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Address string `json:"address,omitempty"`
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Holds reports whether ref names this actor, by id or by holder address.
func (a Actor) Holds(ref string) bool {
	if ref == "" {
		return false
	}
	return ref == a.ID || (a.Address != "" && ref == a.Address)
}

// Ref is the reference recorded when the actor binds itself to an entity.
func (a Actor) Ref() string {
	if a.Address != "" {
		return a.Address
	}
	return a.ID
}

// Capability is proof that an Authorize check passed. Operations take it
// from Authorize at their top and pass it down instead of the raw actor.
type Capability struct {
	actor Actor
	role  Role
}

func (c Capability) Actor() Actor { return c.actor }
func (c Capability) Role() Role { return c.role }

// Authorize returns a Capability when the actor holds one of roles, or an
// ErrForbidden. An empty role list admits any authenticated actor.
func Authorize(actor Actor, roles ...Role) (Capability, error) {
	if actor.ID == "" || !actor.Role.Valid() {
		return Capability{}, fmt.Errorf("%w: unauthenticated actor", apperrors.ErrForbidden)
	}
	if len(roles) == 0 || slices.Contains(roles, actor.Role) {
		return Capability{actor: actor, role: actor.Role}, nil
	}
	return Capability{}, fmt.Errorf("%w: role %q may not perform this operation", apperrors.ErrForbidden, actor.Role)
}
