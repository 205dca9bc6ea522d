// Package guard decides whether a session may enter a role-gated view.
//
// Decisions are a pure function of the session snapshot and the required
// roles: no network, no storage, no clock.
package guard

import (
	"fmt"

	portal "github.com/academia-portal/portal-go"
)

// Decision is the outcome of an access check.
type Decision int

const (
	// Wait means the session has not settled yet; render a placeholder.
	Wait Decision = iota
	// Allow means the view may render.
	Allow
	// RedirectLogin means nobody is signed in.
	RedirectLogin
	// RedirectHome means the signed-in role may not see the view.
	RedirectHome
)

func (d Decision) String() string {
	switch d {
	case Wait:
		return "wait"
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectHome:
		return "redirect_home"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// LoginPath is where unauthenticated sessions are sent.
const LoginPath = "/login"

// Decide returns the access decision for state. With no required roles any
// signed-in user is allowed; RoleNone never satisfies a role requirement.
func Decide(state portal.SessionState, required ...portal.Role) Decision {
	if state.Status != portal.StatusReady {
		return Wait
	}
	if state.User == nil {
		return RedirectLogin
	}
	if len(required) > 0 && !state.User.Role.In(required...) {
		return RedirectHome
	}
	return Allow
}

// HomePath returns the landing view for role. A user without a role lands on
// the login view.
func HomePath(role portal.Role) string {
	switch role {
	case portal.RoleStudent:
		return "/student/dashboard"
	case portal.RoleTeacher:
		return "/teacher/dashboard"
	case portal.RoleAdmin:
		return "/admin/dashboard"
	}
	return LoginPath
}

// Target returns where a decision sends the user: the login view, the
// role's home view, or "" when no redirect applies.
func Target(d Decision, state portal.SessionState) string {
	switch d {
	case RedirectLogin:
		return LoginPath
	case RedirectHome:
		var role portal.Role
		if state.User != nil {
			role = state.User.Role
		}
		return HomePath(role)
	}
	return ""
}
