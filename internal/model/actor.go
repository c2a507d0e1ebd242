package model

// Role is the authorization role of an actor.  The upper-case values
// match the "role" claim carried in access tokens.
type Role string

const (
	RoleCustomer     Role = "CUSTOMER"
	RoleProfessional Role = "PROFESSIONAL"
	RoleAdmin        Role = "ADMIN"
	// RoleSystem is used for transitions the platform performs on its own
	// behalf, such as advancing a booking after payment.  It is never
	// accepted from a token.
	RoleSystem Role = "SYSTEM"
)

// Valid reports whether r is a role that may appear in a token.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleProfessional, RoleAdmin:
		return true
	}
	return false
}

// Actor identifies who is performing an operation.  The authorization
// layer supplies it; the core trusts ID and Role as given.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is the actor recorded on events the platform emits itself.
var SystemActor = Actor{ID: "system:payments", Role: RoleSystem}
