// Package auth provides the role and permission model of the console.
package auth

import "errors"

// Role represents the single classification held by a principal.
type Role string

// Console roles. Wire values match the backend profile exactly.
const (
	RoleAdmin    Role = "Admin"    // User administration, all projects
	RoleEngineer Role = "Engineer" // Technical design, BOQ, GIS
	RolePlanner  Role = "Planner"  // Project wizard, GIS, reports
	RoleViewer   Role = "Viewer"   // Read-only
)

// ErrInvalidRole is returned when a role string is not one of the console roles.
var ErrInvalidRole = errors.New("invalid role")

// Permission represents a capability flag that gates a screen or an action.
type Permission string

// Admin permissions
const (
	PermUserManagement    Permission = "user_management"
	PermActivityLogs      Permission = "activity_logs"
	PermFullSettings      Permission = "full_settings"
	PermDashboardAdmin    Permission = "dashboard_admin"
	PermRegisterUsers     Permission = "register_users"
	PermViewAllProjects   Permission = "view_all_projects"
	PermManageAllProjects Permission = "manage_all_projects"
)

// Engineer permissions
const (
	PermDashboardEngineer      Permission = "dashboard_engineer"
	PermManageTechnicalAspects Permission = "manage_technical_aspects"
	PermBOQBuilder             Permission = "boq_builder"
	PermIrrigationTech         Permission = "irrigation_tech"
	PermGISPlanning            Permission = "gis_planning"
)

// Planner permissions
const (
	PermDashboardPlanner Permission = "dashboard_planner"
	PermProjectWizard    Permission = "project_wizard"
	PermReports          Permission = "reports"
)

// Shared by non-admin roles
const (
	PermDashboardViewer Permission = "dashboard_viewer"
	PermBasicSettings   Permission = "basic_settings"
	PermViewProjects    Permission = "view_projects"
)

// rolePermissions is the process-wide permission table. Order within a role
// is significant and is preserved by PermissionsFor.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermUserManagement, PermActivityLogs, PermFullSettings, PermDashboardAdmin,
		PermRegisterUsers, PermViewAllProjects, PermManageAllProjects,
	},
	RoleEngineer: {
		PermDashboardEngineer, PermBasicSettings, PermViewProjects, PermManageTechnicalAspects,
		PermBOQBuilder, PermIrrigationTech, PermGISPlanning,
	},
	RolePlanner: {
		PermDashboardPlanner, PermBasicSettings, PermViewProjects, PermProjectWizard,
		PermGISPlanning, PermReports,
	},
	RoleViewer: {
		PermDashboardViewer, PermBasicSettings, PermViewProjects,
	},
}

// permissionIndex mirrors rolePermissions as sets for constant-time checks.
var permissionIndex = buildIndex(rolePermissions)

func buildIndex(table map[Role][]Permission) map[Role]map[Permission]struct{} {
	index := make(map[Role]map[Permission]struct{}, len(table))
	for role, perms := range table {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		index[role] = set
	}
	return index
}

// Roles returns every console role in declaration order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleEngineer, RolePlanner, RoleViewer}
}

// ParseRole converts a backend-supplied role string into a Role.
// Matching is exact; anything else yields ErrInvalidRole.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleEngineer, RolePlanner, RoleViewer:
		return r, nil
	default:
		return "", ErrInvalidRole
	}
}

// Valid reports whether r is one of the console roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// String returns the wire value of the role.
func (r Role) String() string {
	return string(r)
}

// PermissionsFor returns a copy of the ordered permission list for a role.
// Unknown roles get nil.
func PermissionsFor(role Role) []Permission {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// RoleHasPermission checks if a role grants a specific permission.
func RoleHasPermission(role Role, perm Permission) bool {
	set, ok := permissionIndex[role]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// KnownPermission reports whether any role grants perm. Checks against an
// unknown permission are always false.
func KnownPermission(perm Permission) bool {
	for _, set := range permissionIndex {
		if _, ok := set[perm]; ok {
			return true
		}
	}
	return false
}

// AllPermissions returns the distinct permission vocabulary, in table order
// starting from Admin.
func AllPermissions() []Permission {
	seen := make(map[Permission]bool)
	var out []Permission
	for _, role := range Roles() {
		for _, p := range rolePermissions[role] {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}
