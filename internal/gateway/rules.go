package gateway

import (
	"net/http"
	"strings"

	"github.com/tides-platform/console/internal/auth"
)

// Rule gates one backend path prefix. Read applies to safe methods and
// Write to everything else; either list is any-of. An empty list denies.
type Rule struct {
	Prefix string
	Read   []auth.Permission
	Write  []auth.Permission
}

// Matches reports whether path falls under the rule's prefix.
func (r Rule) Matches(path string) bool {
	return path == r.Prefix || strings.HasPrefix(path, r.Prefix+"/")
}

// Required returns the permissions guarding method.
func (r Rule) Required(method string) []auth.Permission {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return r.Read
	default:
		return r.Write
	}
}

// DefaultRules maps the backend REST resources to console permissions.
func DefaultRules() []Rule {
	projectReaders := []auth.Permission{auth.PermViewProjects, auth.PermViewAllProjects}
	technical := []auth.Permission{auth.PermManageTechnicalAspects, auth.PermManageAllProjects}

	return []Rule{
		{
			Prefix: "/projects",
			Read:   projectReaders,
			Write:  []auth.Permission{auth.PermManageAllProjects, auth.PermProjectWizard},
		},
		{
			Prefix: "/project-wizard",
			Read:   []auth.Permission{auth.PermProjectWizard, auth.PermManageAllProjects},
			Write:  []auth.Permission{auth.PermProjectWizard, auth.PermManageAllProjects},
		},
		{
			Prefix: "/users",
			Read:   []auth.Permission{auth.PermUserManagement},
			Write:  []auth.Permission{auth.PermUserManagement, auth.PermRegisterUsers},
		},
		{
			Prefix: "/materials/unit-prices",
			Read:   []auth.Permission{auth.PermBOQBuilder, auth.PermManageTechnicalAspects, auth.PermManageAllProjects},
			Write:  technical,
		},
		{
			Prefix: "/materials/exchange-rates",
			Read:   []auth.Permission{auth.PermBOQBuilder, auth.PermManageTechnicalAspects, auth.PermManageAllProjects},
			Write:  technical,
		},
		{
			Prefix: "/resources",
			Read:   technical,
			Write:  technical,
		},
		{
			Prefix: "/boq",
			Read:   []auth.Permission{auth.PermBOQBuilder, auth.PermManageAllProjects},
			Write:  []auth.Permission{auth.PermBOQBuilder},
		},
		{
			Prefix: "/irrigation-technologies",
			Read:   []auth.Permission{auth.PermIrrigationTech, auth.PermProjectWizard, auth.PermManageAllProjects},
			Write:  []auth.Permission{auth.PermIrrigationTech, auth.PermManageAllProjects},
		},
		{
			Prefix: "/gis",
			Read:   []auth.Permission{auth.PermGISPlanning},
			Write:  []auth.Permission{auth.PermGISPlanning},
		},
		{
			Prefix: "/reports",
			Read:   []auth.Permission{auth.PermReports, auth.PermViewAllProjects},
			Write:  []auth.Permission{auth.PermReports},
		},
	}
}

func matchRule(rules []Rule, path string) (Rule, bool) {
	var best Rule
	found := false
	for _, r := range rules {
		if r.Matches(path) && len(r.Prefix) > len(best.Prefix) {
			best = r
			found = true
		}
	}
	return best, found
}
