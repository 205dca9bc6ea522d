package session

import (
	"strings"

	portal "github.com/academia-portal/portal-go"
)

// Rule resolves a role from a raw profile. Rules are tried in order and the
// first match wins.
type Rule struct {
	Name  string
	Match func(p *portal.RawProfile) (portal.Role, bool)
}

// ExplicitRole uses the profile's role field whenever one is present. An
// unrecognised value still matches and yields RoleNone, so flags never widen
// a role the backend named.
var ExplicitRole = Rule{
	Name: "explicit_role",
	Match: func(p *portal.RawProfile) (portal.Role, bool) {
		if strings.TrimSpace(p.Role) == "" {
			return portal.RoleNone, false
		}
		role, _ := portal.ParseRole(p.Role)
		return role, true
	},
}

// AdminFlag maps is_admin to RoleAdmin.
var AdminFlag = flagRule("is_admin", portal.RoleAdmin, func(p *portal.RawProfile) bool { return p.IsAdmin })

// TeacherFlag maps is_teacher to RoleTeacher.
var TeacherFlag = flagRule("is_teacher", portal.RoleTeacher, func(p *portal.RawProfile) bool { return p.IsTeacher })

// StudentFlag maps is_student to RoleStudent.
var StudentFlag = flagRule("is_student", portal.RoleStudent, func(p *portal.RawProfile) bool { return p.IsStudent })

func flagRule(name string, role portal.Role, set func(*portal.RawProfile) bool) Rule {
	return Rule{
		Name: name,
		Match: func(p *portal.RawProfile) (portal.Role, bool) {
			if set(p) {
				return role, true
			}
			return portal.RoleNone, false
		},
	}
}

// DefaultRules returns the standard derivation chain:
// explicit role, is_admin, is_teacher, is_student.
func DefaultRules() []Rule {
	return []Rule{ExplicitRole, AdminFlag, TeacherFlag, StudentFlag}
}

// Derive applies rules to p and returns the role with the name of the rule
// that produced it. The first matching rule ends the chain, even when it
// yields RoleNone. No match yields RoleNone and "".
func Derive(p *portal.RawProfile, rules []Rule) (portal.Role, string) {
	if p == nil {
		return portal.RoleNone, ""
	}
	for _, r := range rules {
		if role, ok := r.Match(p); ok {
			return role, r.Name
		}
	}
	return portal.RoleNone, ""
}
