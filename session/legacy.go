package session

import portal "github.com/academia-portal/portal-go"

// LegacyRuleName identifies the username fallback in Derive results.
const LegacyRuleName = "legacy_admin_username"

// LegacyAdminUsername treats the account called name as an administrator.
// It exists for backends that predate role fields and is appended after the
// standard rules. Matching is exact.
func LegacyAdminUsername(name string) Rule {
	return Rule{
		Name: LegacyRuleName,
		Match: func(p *portal.RawProfile) (portal.Role, bool) {
			if name != "" && p.Username == name {
				return portal.RoleAdmin, true
			}
			return portal.RoleNone, false
		},
	}
}
