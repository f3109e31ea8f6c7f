package auth

// BusinessRole is the coarse, tenant wide role carried in access tokens
type BusinessRole string

const (
	// BusinessRoleMember can work inside projects they belong to
	BusinessRoleMember BusinessRole = "member"
	// BusinessRoleAdmin can invite and manage users and projects
	BusinessRoleAdmin BusinessRole = "admin"
	// BusinessRoleOwner created the business and can do everything
	BusinessRoleOwner BusinessRole = "owner"
)

// ProjectRole is the role of a member inside a single project
type ProjectRole string

const (
	ProjectRoleMember ProjectRole = "member"
	ProjectRoleAdmin  ProjectRole = "admin"
)

// Capability is a business level permission checked against token claims
type Capability string

const (
	CapManageBusiness Capability = "business:manage"
	CapInviteUsers    Capability = "users:invite"
	CapManageUsers    Capability = "users:manage"
	CapManageProjects Capability = "projects:manage"
	CapViewProjects   Capability = "projects:view"
)

var businessRoleHierarchy = map[BusinessRole]int{
	BusinessRoleMember: 1,
	BusinessRoleAdmin:  2,
	BusinessRoleOwner:  3,
}

// minimum business role needed for each capability
var capabilityRoles = map[Capability]BusinessRole{
	CapManageBusiness: BusinessRoleOwner,
	CapInviteUsers:    BusinessRoleAdmin,
	CapManageUsers:    BusinessRoleAdmin,
	CapManageProjects: BusinessRoleAdmin,
	CapViewProjects:   BusinessRoleMember,
}

// IsValid checks if the role is one of the predefined roles
func (r BusinessRole) IsValid() bool {
	_, ok := businessRoleHierarchy[r]
	return ok
}

// IsAtLeast checks if this role meets the minimum required level
func (r BusinessRole) IsAtLeast(minRole BusinessRole) bool {
	current, ok := businessRoleHierarchy[r]
	if !ok {
		return false
	}
	min, ok := businessRoleHierarchy[minRole]
	if !ok {
		return false
	}
	return current >= min
}

// Allows reports whether the role grants the capability
func (r BusinessRole) Allows(c Capability) bool {
	min, ok := capabilityRoles[c]
	if !ok {
		return false
	}
	return r.IsAtLeast(min)
}

// ParseBusinessRole safely parses a string into a BusinessRole
func ParseBusinessRole(s string) (BusinessRole, bool) {
	role := BusinessRole(s)
	return role, role.IsValid()
}

func (r ProjectRole) IsValid() bool {
	return r == ProjectRoleAdmin || r == ProjectRoleMember
}

// ParseProjectRole safely parses a string into a ProjectRole
func ParseProjectRole(s string) (ProjectRole, bool) {
	role := ProjectRole(s)
	return role, role.IsValid()
}
