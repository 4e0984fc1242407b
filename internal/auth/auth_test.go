package auth

import (
	"context"
	"sync"
	"testing"
)

func principalFor(role Role) Principal {
	return Principal{
		ID:    "42",
		Name:  string(role) + " User",
		Email: "user@tides.example",
		Role:  role,
	}
}

// --- Permission table ---

func TestPermissionTable(t *testing.T) {
	tests := []struct {
		role     Role
		expected []Permission
	}{
		{RoleAdmin, []Permission{
			"user_management", "activity_logs", "full_settings", "dashboard_admin",
			"register_users", "view_all_projects", "manage_all_projects",
		}},
		{RoleEngineer, []Permission{
			"dashboard_engineer", "basic_settings", "view_projects", "manage_technical_aspects",
			"boq_builder", "irrigation_tech", "gis_planning",
		}},
		{RolePlanner, []Permission{
			"dashboard_planner", "basic_settings", "view_projects", "project_wizard",
			"gis_planning", "reports",
		}},
		{RoleViewer, []Permission{
			"dashboard_viewer", "basic_settings", "view_projects",
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			got := PermissionsFor(tt.role)
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %d permissions, got %d", len(tt.expected), len(got))
			}
			for i := range tt.expected {
				if got[i] != tt.expected[i] {
					t.Errorf("Expected permission %d to be '%s', got '%s'", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestEveryRoleHasTableEntry(t *testing.T) {
	for _, role := range Roles() {
		if len(PermissionsFor(role)) == 0 {
			t.Errorf("Role %s has no permission entry", role)
		}
	}
}

func TestPermissionsForReturnsCopy(t *testing.T) {
	perms := PermissionsFor(RoleViewer)
	perms[0] = "tampered"

	if PermissionsFor(RoleViewer)[0] != PermDashboardViewer {
		t.Error("Mutating the returned slice must not change the table")
	}
}

func TestAllPermissionsDistinct(t *testing.T) {
	all := AllPermissions()
	if len(all) != 18 {
		t.Errorf("Expected 18 distinct permissions, got %d", len(all))
	}
	seen := map[Permission]bool{}
	for _, p := range all {
		if seen[p] {
			t.Errorf("Duplicate permission %s", p)
		}
		seen[p] = true
		if !KnownPermission(p) {
			t.Errorf("Permission %s should be known", p)
		}
	}
}

func TestKnownPermission(t *testing.T) {
	if KnownPermission("launch_missiles") {
		t.Error("Unknown permission should not be known")
	}
	if KnownPermission("User_Management") {
		t.Error("Permission matching must be case-sensitive")
	}
}

// --- Role parsing ---

func TestParseRole(t *testing.T) {
	tests := []struct {
		input   string
		want    Role
		wantErr bool
	}{
		{"Admin", RoleAdmin, false},
		{"Engineer", RoleEngineer, false},
		{"Planner", RolePlanner, false},
		{"Viewer", RoleViewer, false},
		{"admin", "", true},
		{"Superuser", "", true},
		{"", "", true},
		{" Admin", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRole(tt.input)
			if tt.wantErr {
				if err != ErrInvalidRole {
					t.Errorf("Expected ErrInvalidRole, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected role %s, got %s", tt.want, got)
			}
		})
	}
}

// --- Session checks ---

func TestHasPermissionPerRole(t *testing.T) {
	for _, role := range Roles() {
		s, err := RestoreSession(principalFor(role))
		if err != nil {
			t.Fatalf("RestoreSession(%s) failed: %v", role, err)
		}

		for _, perm := range AllPermissions() {
			want := false
			for _, p := range PermissionsFor(role) {
				if p == perm {
					want = true
				}
			}
			if got := s.HasPermission(perm); got != want {
				t.Errorf("%s.HasPermission(%s) = %v, expected %v", role, perm, got, want)
			}
		}
	}
}

func TestAdminVersusViewerUserManagement(t *testing.T) {
	admin, _ := RestoreSession(principalFor(RoleAdmin))
	viewer, _ := RestoreSession(principalFor(RoleViewer))

	if !admin.HasPermission("user_management") {
		t.Error("Admin should have user_management")
	}
	if viewer.HasPermission("user_management") {
		t.Error("Viewer should not have user_management")
	}
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		role  Role
		query []Role
		want  bool
	}{
		{RoleAdmin, []Role{"Admin"}, true},
		{RoleEngineer, []Role{"Admin"}, false},
		{RoleAdmin, []Role{"Admin", "Engineer"}, true},
		{RoleEngineer, []Role{"Admin", "Engineer"}, true},
		{RolePlanner, []Role{"Admin", "Engineer"}, false},
		{RoleViewer, []Role{"Admin", "Engineer"}, false},
		{RoleViewer, nil, false},
		{RoleAdmin, []Role{"admin"}, false},
	}

	for _, tt := range tests {
		s, _ := RestoreSession(principalFor(tt.role))
		if got := s.HasRole(tt.query...); got != tt.want {
			t.Errorf("%s.HasRole(%v) = %v, expected %v", tt.role, tt.query, got, tt.want)
		}
	}
}

func TestUnauthenticatedDeniesEverything(t *testing.T) {
	sessions := map[string]*Session{
		"new":  NewSession(),
		"zero": {},
		"nil":  nil,
	}

	for name, s := range sessions {
		t.Run(name, func(t *testing.T) {
			for _, perm := range AllPermissions() {
				if s.HasPermission(perm) {
					t.Errorf("Unauthenticated session granted %s", perm)
				}
			}
			for _, role := range Roles() {
				if s.HasRole(role) {
					t.Errorf("Unauthenticated session matched role %s", role)
				}
			}
			if s.IsAuthenticated() {
				t.Error("Session should not be authenticated")
			}
			if s.State() != StateUnauthenticated {
				t.Errorf("Expected state unauthenticated, got %s", s.State())
			}
			if s.Role() != "" {
				t.Errorf("Expected empty role, got %s", s.Role())
			}
			if s.Permissions() != nil {
				t.Error("Expected no permissions")
			}
		})
	}
}

func TestLogoutRevokesEverything(t *testing.T) {
	for _, role := range Roles() {
		s, _ := RestoreSession(principalFor(role))
		perms := PermissionsFor(role)

		if !s.HasPermission(perms[0]) || !s.HasRole(role) {
			t.Fatalf("%s should be granted before logout", role)
		}

		s.Logout()

		if s.HasPermission(perms[0]) {
			t.Errorf("%s keeps %s after logout", role, perms[0])
		}
		if s.HasRole(role) {
			t.Errorf("%s keeps its role after logout", role)
		}
		if _, ok := s.Principal(); ok {
			t.Error("Principal should be cleared after logout")
		}
	}
}

func TestLoginRejectsUnknownRole(t *testing.T) {
	s, _ := RestoreSession(principalFor(RoleAdmin))

	err := s.Login(Principal{ID: "9", Role: "Superuser"})
	if err != ErrInvalidRole {
		t.Fatalf("Expected ErrInvalidRole, got %v", err)
	}

	if s.IsAuthenticated() {
		t.Error("Failed login must leave the session unauthenticated")
	}
	if s.HasPermission(PermUserManagement) {
		t.Error("Previous principal must not survive a rejected login")
	}
}

func TestLoginRejectsUnsetRole(t *testing.T) {
	s := NewSession()
	if err := s.Login(Principal{ID: "1", Name: "No Role"}); err != ErrInvalidRole {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
	if s.HasPermission(PermBasicSettings) {
		t.Error("Principal without role must be denied")
	}
}

func TestLoginOnNilSession(t *testing.T) {
	var s *Session

	if err := s.Login(principalFor(RoleAdmin)); err != ErrNilSession {
		t.Fatalf("Expected ErrNilSession, got %v", err)
	}
	if s.IsAuthenticated() || s.HasPermission(PermUserManagement) {
		t.Error("Nil session must stay unauthenticated")
	}
	s.Logout()
}

func TestChecksAreIdempotent(t *testing.T) {
	s, _ := RestoreSession(principalFor(RolePlanner))

	for i := 0; i < 100; i++ {
		if !s.HasPermission(PermReports) {
			t.Fatal("HasPermission changed between identical calls")
		}
		if s.HasRole(RoleAdmin, RoleEngineer) {
			t.Fatal("HasRole changed between identical calls")
		}
	}
}

func TestEngineerScenario(t *testing.T) {
	s := NewSession()
	if err := s.Login(principalFor(RoleEngineer)); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if !s.HasPermission("gis_planning") {
		t.Error("Engineer should have gis_planning")
	}
	if s.HasPermission("user_management") {
		t.Error("Engineer should not have user_management")
	}
	if s.HasRole("Admin", "Planner") {
		t.Error("Engineer should not match [Admin Planner]")
	}
	if !s.HasRole("Engineer") {
		t.Error("Engineer should match Engineer")
	}
}

func TestDeadPermissionIsFalseForAllRoles(t *testing.T) {
	for _, role := range Roles() {
		s, _ := RestoreSession(principalFor(role))
		if s.HasPermission("export_everything") {
			t.Errorf("%s granted a permission that no role has", role)
		}
	}
}

func TestPrincipalIsCopied(t *testing.T) {
	p := principalFor(RoleViewer)
	s, _ := RestoreSession(p)

	p.Role = RoleAdmin
	if s.HasRole(RoleAdmin) {
		t.Error("Mutating the caller's principal must not change the session")
	}

	got, _ := s.Principal()
	got.Role = RoleAdmin
	if s.HasRole(RoleAdmin) {
		t.Error("Mutating the returned principal must not change the session")
	}
}

func TestHasAnyPermission(t *testing.T) {
	s, _ := RestoreSession(principalFor(RoleAdmin))

	if !s.HasAnyPermission(PermViewProjects, PermViewAllProjects) {
		t.Error("Admin should match view_all_projects")
	}
	if s.HasAnyPermission() {
		t.Error("Empty permission list should be denied")
	}
}

func TestConcurrentChecksDuringLogout(t *testing.T) {
	s, _ := RestoreSession(principalFor(RoleEngineer))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.HasPermission(PermBOQBuilder)
				s.HasRole(RoleEngineer)
			}
		}()
	}
	s.Logout()
	wg.Wait()

	if s.HasPermission(PermBOQBuilder) {
		t.Error("Session should be logged out")
	}
}

// --- Context ---

func TestFromContextDefaultsToUnauthenticated(t *testing.T) {
	s := FromContext(context.Background())
	if s == nil {
		t.Fatal("FromContext must never return nil")
	}
	if s.IsAuthenticated() {
		t.Error("Missing session should be unauthenticated")
	}
}

func TestWithSession(t *testing.T) {
	s, _ := RestoreSession(principalFor(RolePlanner))
	ctx := WithSession(context.Background(), s)

	if FromContext(ctx) != s {
		t.Error("Expected the same session back from context")
	}
}
