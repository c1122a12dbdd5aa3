package auth

import "slices"

// roleOrder lists roles from least to most privileged
var roleOrder = []UserRole{RoleMember, RoleProjectAdmin, RoleAdmin}

func (r UserRole) rank() int {
	return slices.Index(roleOrder, r)
}

// IsValid reports whether r is a known role
func (r UserRole) IsValid() bool {
	return r.rank() >= 0
}

// IsAtLeast reports whether r is as privileged as minRole. Unknown roles
// never qualify.
func (r UserRole) IsAtLeast(minRole UserRole) bool {
	have, want := r.rank(), minRole.rank()
	return have >= 0 && want >= 0 && have >= want
}

// GetAllRoles returns the known roles from least to most privileged
func GetAllRoles() []UserRole {
	return slices.Clone(roleOrder)
}

// ParseRole converts s into a UserRole, ok is false for unknown roles
func ParseRole(s string) (role UserRole, ok bool) {
	role = UserRole(s)
	return role, role.IsValid()
}
