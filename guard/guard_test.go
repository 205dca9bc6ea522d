package guard_test

import (
	"testing"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/guard"
)

func ready(role portal.Role) portal.SessionState {
	return portal.SessionState{
		Status: portal.StatusReady,
		User:   &portal.UserProfile{ID: "u1", Role: role},
	}
}

var signedOut = portal.SessionState{Status: portal.StatusReady}

func TestDecide(t *testing.T) {
	admin := []portal.Role{portal.RoleAdmin}

	tests := []struct {
		name     string
		state    portal.SessionState
		required []portal.Role
		want     guard.Decision
	}{
		{"idle waits", portal.SessionState{Status: portal.StatusIdle}, admin, guard.Wait},
		{"loading waits", portal.SessionState{Status: portal.StatusLoading, User: &portal.UserProfile{Role: portal.RoleAdmin}}, admin, guard.Wait},
		{"signed out", signedOut, admin, guard.RedirectLogin},
		{"signed out, no requirement", signedOut, nil, guard.RedirectLogin},
		{"student on admin view", ready(portal.RoleStudent), admin, guard.RedirectHome},
		{"no role on admin view", ready(portal.RoleNone), admin, guard.RedirectHome},
		{"no role, no requirement", ready(portal.RoleNone), nil, guard.Allow},
		{"admin on admin view", ready(portal.RoleAdmin), admin, guard.Allow},
		{"teacher among several", ready(portal.RoleTeacher), []portal.Role{portal.RoleStudent, portal.RoleTeacher}, guard.Allow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := guard.Decide(tt.state, tt.required...); got != tt.want {
				t.Errorf("Decide() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHomePath(t *testing.T) {
	tests := map[portal.Role]string{
		portal.RoleStudent: "/student/dashboard",
		portal.RoleTeacher: "/teacher/dashboard",
		portal.RoleAdmin:   "/admin/dashboard",
		portal.RoleNone:    guard.LoginPath,
	}
	for role, want := range tests {
		if got := guard.HomePath(role); got != want {
			t.Errorf("HomePath(%q) = %q, want %q", role, got, want)
		}
	}
}

func TestTableCheck(t *testing.T) {
	routes := guard.DefaultRoutes()

	tests := []struct {
		name       string
		state      portal.SessionState
		path       string
		want       guard.Decision
		wantTarget string
	}{
		{"login is public", signedOut, "/login", guard.Allow, ""},
		{"register is public while loading", portal.SessionState{Status: portal.StatusLoading}, "/register", guard.Allow, ""},
		{"student area", ready(portal.RoleStudent), "/student/grades", guard.Allow, ""},
		{"student area root", ready(portal.RoleStudent), "/student", guard.Allow, ""},
		{"student into admin", ready(portal.RoleStudent), "/admin/requests", guard.RedirectHome, "/student/dashboard"},
		{"teacher into student", ready(portal.RoleTeacher), "/student/claims", guard.RedirectHome, "/teacher/dashboard"},
		{"prefix is not a substring match", ready(portal.RoleAdmin), "/administrator", guard.Allow, ""},
		{"profile for any role", ready(portal.RoleTeacher), "/profile", guard.Allow, ""},
		{"profile signed out", signedOut, "/profile", guard.RedirectLogin, guard.LoginPath},
		{"unknown path requires session", signedOut, "/somewhere", guard.RedirectLogin, guard.LoginPath},
		{"root sends admin home", ready(portal.RoleAdmin), "/", guard.RedirectHome, "/admin/dashboard"},
		{"root sends roleless user to login", ready(portal.RoleNone), "/", guard.RedirectHome, guard.LoginPath},
		{"root signed out", signedOut, "/", guard.RedirectLogin, guard.LoginPath},
		{"root while loading", portal.SessionState{Status: portal.StatusLoading}, "/", guard.Wait, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, target := routes.Check(tt.state, tt.path)
			if got != tt.want || target != tt.wantTarget {
				t.Errorf("Check(%q) = (%v, %q), want (%v, %q)", tt.path, got, target, tt.want, tt.wantTarget)
			}
		})
	}
}

func TestLongestPrefixWins(t *testing.T) {
	routes := guard.NewTable(
		guard.Route{Prefix: "/admin/", Roles: []portal.Role{portal.RoleAdmin}},
		guard.Route{Prefix: "/admin/help", Public: true},
	)

	if got, _ := routes.Check(signedOut, "/admin/help"); got != guard.Allow {
		t.Errorf("Check(/admin/help) = %v, want allow", got)
	}
	if got, _ := routes.Check(signedOut, "/admin/users"); got != guard.RedirectLogin {
		t.Errorf("Check(/admin/users) = %v, want redirect_login", got)
	}
}

func TestDecisionString(t *testing.T) {
	if guard.RedirectHome.String() != "redirect_home" || guard.Decision(42).String() != "Decision(42)" {
		t.Error("unexpected Decision strings")
	}
}
