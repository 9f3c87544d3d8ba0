package domain

// Role is the authorization level of a principal.
type Role string

// The two roles recognized by the service.
const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// IsValid checks whether the given role is one the service recognizes.
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleOperator
}

// Grants reports whether a principal holding role r satisfies the required
// role. Admin grants every role.
func (r Role) Grants(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	return r == required
}

// Allowed reports whether role r satisfies any of the required roles.
// An empty requirement set passes.
func Allowed(r Role, required ...Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, req := range required {
		if r.Grants(req) {
			return true
		}
	}
	return false
}
