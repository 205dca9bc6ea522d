package guard

import (
	"sort"
	"strings"

	portal "github.com/academia-portal/portal-go"
)

// Route protects every path under Prefix. A prefix ending in "/" matches the
// subtree; any other prefix matches that exact path and its subtree.
type Route struct {
	Prefix string
	// Public routes are reachable without a session.
	Public bool
	// Roles lists who may enter. Empty means any signed-in user.
	Roles []portal.Role
}

// Table is an ordered set of routes; the longest matching prefix wins.
type Table struct {
	routes []Route
}

// NewTable builds a table from routes.
func NewTable(routes ...Route) *Table {
	rs := append([]Route(nil), routes...)
	sort.SliceStable(rs, func(i, j int) bool { return len(rs[i].Prefix) > len(rs[j].Prefix) })
	return &Table{routes: rs}
}

// DefaultRoutes is the portal's view layout.
func DefaultRoutes() *Table {
	return NewTable(
		Route{Prefix: LoginPath, Public: true},
		Route{Prefix: "/register", Public: true},
		Route{Prefix: "/student/", Roles: []portal.Role{portal.RoleStudent}},
		Route{Prefix: "/teacher/", Roles: []portal.Role{portal.RoleTeacher}},
		Route{Prefix: "/admin/", Roles: []portal.Role{portal.RoleAdmin}},
		Route{Prefix: "/profile"},
	)
}

// Match returns the route guarding path.
func (t *Table) Match(path string) (Route, bool) {
	for _, r := range t.routes {
		if matches(r.Prefix, path) {
			return r, true
		}
	}
	return Route{}, false
}

func matches(prefix, path string) bool {
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(path, prefix) || path == strings.TrimSuffix(prefix, "/")
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Check decides access to path and returns the redirect target, if any.
// The root path always redirects to the caller's home view once the session
// is ready. Unlisted paths require a signed-in user.
func (t *Table) Check(state portal.SessionState, path string) (Decision, string) {
	if path == "/" || path == "" {
		d := Decide(state)
		if d == Allow {
			d = RedirectHome
		}
		return d, Target(d, state)
	}

	r, ok := t.Match(path)
	if ok && r.Public {
		return Allow, ""
	}
	d := Decide(state, r.Roles...)
	return d, Target(d, state)
}
