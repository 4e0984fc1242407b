// Package navigation decides which console screens a session may reach and
// which sidebar entries it sees.
package navigation

import (
	"net/http"
	"strings"

	"github.com/tides-platform/console/internal/auth"
)

// MenuItem is one sidebar entry. An empty AnyOf needs only authentication.
type MenuItem struct {
	Label string            `json:"label"`
	Path  string            `json:"path"`
	Icon  string            `json:"icon"`
	AnyOf []auth.Permission `json:"any_of,omitempty"`
}

var menu = []MenuItem{
	{Label: "Dashboard", Path: "/", Icon: "trending-up"},
	{Label: "User Management", Path: "/users", Icon: "users",
		AnyOf: []auth.Permission{auth.PermUserManagement}},
	{Label: "Projects & Schemes", Path: "/projects", Icon: "folder-open",
		AnyOf: []auth.Permission{auth.PermViewProjects, auth.PermViewAllProjects}},
	{Label: "BOQ Builder", Path: "/boq-builder", Icon: "file-text",
		AnyOf: []auth.Permission{auth.PermBOQBuilder}},
	{Label: "Irrigation Technologies", Path: "/irrigation-tech", Icon: "droplets",
		AnyOf: []auth.Permission{auth.PermIrrigationTech}},
	{Label: "GIS Planning", Path: "/gis-planning", Icon: "map",
		AnyOf: []auth.Permission{auth.PermGISPlanning}},
	{Label: "Resources & Cost Database", Path: "/resources", Icon: "database",
		AnyOf: []auth.Permission{auth.PermManageTechnicalAspects, auth.PermManageAllProjects}},
	{Label: "Reports & Exports", Path: "/reports", Icon: "bar-chart-3",
		AnyOf: []auth.Permission{auth.PermReports}},
	{Label: "Settings", Path: "/settings", Icon: "settings",
		AnyOf: []auth.Permission{auth.PermBasicSettings, auth.PermFullSettings}},
}

// route is a guarded UI path. Prefix routes also match one trailing segment
// (e.g. /project-scheme/{projectId}).
type route struct {
	path   string
	prefix bool
	public bool
	anyOf  []auth.Permission
}

var routes = []route{
	{path: "/login", public: true},
	{path: "/"},
	{path: "/admin-dashboard", anyOf: []auth.Permission{auth.PermDashboardAdmin}},
	{path: "/engineer-dashboard", anyOf: []auth.Permission{auth.PermDashboardEngineer}},
	{path: "/planner-dashboard", anyOf: []auth.Permission{auth.PermDashboardPlanner}},
	{path: "/viewer-dashboard", anyOf: []auth.Permission{auth.PermDashboardViewer}},
	{path: "/users", anyOf: []auth.Permission{auth.PermUserManagement}},
	{path: "/activity-logs", anyOf: []auth.Permission{auth.PermActivityLogs}},
	{path: "/projects", anyOf: []auth.Permission{auth.PermViewProjects, auth.PermViewAllProjects}},
	{path: "/project-scheme", prefix: true, anyOf: []auth.Permission{auth.PermProjectWizard, auth.PermManageAllProjects}},
	{path: "/boq-builder", anyOf: []auth.Permission{auth.PermBOQBuilder}},
	{path: "/irrigation-tech", anyOf: []auth.Permission{auth.PermIrrigationTech}},
	{path: "/gis-planning", anyOf: []auth.Permission{auth.PermGISPlanning}},
	{path: "/resources", anyOf: []auth.Permission{auth.PermManageTechnicalAspects, auth.PermManageAllProjects}},
	{path: "/reports", anyOf: []auth.Permission{auth.PermReports}},
	{path: "/settings", anyOf: []auth.Permission{auth.PermBasicSettings, auth.PermFullSettings}},
}

// Items returns the full sidebar, regardless of session.
func Items() []MenuItem {
	out := make([]MenuItem, len(menu))
	copy(out, menu)
	return out
}

// Menu returns the sidebar entries s may see, in sidebar order.
// An Unauthenticated session sees nothing.
func Menu(s *auth.Session) []MenuItem {
	if !s.IsAuthenticated() {
		return []MenuItem{}
	}
	out := make([]MenuItem, 0, len(menu))
	for _, item := range menu {
		if len(item.AnyOf) == 0 || s.HasAnyPermission(item.AnyOf...) {
			out = append(out, item)
		}
	}
	return out
}

// Decision is the outcome of guarding a UI path.
type Decision struct {
	Path     string            `json:"path"`
	Allowed  bool              `json:"allowed"`
	Status   int               `json:"status"`
	Public   bool              `json:"public,omitempty"`
	Required []auth.Permission `json:"required,omitempty"`
}

// Guard decides whether s may open the UI path. Unknown paths are 404,
// protected paths without a principal are 401, and a principal lacking
// every required permission gets 403.
func Guard(s *auth.Session, path string) Decision {
	path = normalize(path)
	d := Decision{Path: path}

	r, ok := lookup(path)
	if !ok {
		d.Status = http.StatusNotFound
		return d
	}

	d.Required = r.anyOf
	if r.public {
		d.Public = true
		d.Allowed = true
		d.Status = http.StatusOK
		return d
	}

	switch {
	case !s.IsAuthenticated():
		d.Status = http.StatusUnauthorized
	case len(r.anyOf) > 0 && !s.HasAnyPermission(r.anyOf...):
		d.Status = http.StatusForbidden
	default:
		d.Allowed = true
		d.Status = http.StatusOK
	}
	return d
}

func lookup(path string) (route, bool) {
	for _, r := range routes {
		if path == r.path {
			return r, true
		}
		if r.prefix && strings.HasPrefix(path, r.path+"/") {
			rest := strings.TrimPrefix(path, r.path+"/")
			if rest != "" && !strings.Contains(rest, "/") {
				return r, true
			}
		}
	}
	return route{}, false
}

func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// Dashboard kinds.
const (
	DashboardAdmin    = "admin"
	DashboardEngineer = "engineer"
	DashboardPlanner  = "planner"
	DashboardViewer   = "viewer"
)

// DashboardFor picks the dashboard for the session's role. Anything
// without a known role falls back to the viewer dashboard.
func DashboardFor(s *auth.Session) string {
	switch s.Role() {
	case auth.RoleAdmin:
		return DashboardAdmin
	case auth.RoleEngineer:
		return DashboardEngineer
	case auth.RolePlanner:
		return DashboardPlanner
	default:
		return DashboardViewer
	}
}

// Settings panels.
const (
	SettingsFull  = "full"
	SettingsBasic = "basic"
)

// SettingsFor returns the full settings panel only with full_settings.
func SettingsFor(s *auth.Session) string {
	if s.HasPermission(auth.PermFullSettings) {
		return SettingsFull
	}
	return SettingsBasic
}
