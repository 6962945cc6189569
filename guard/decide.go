package guard

import (
	toystory "github.com/NguyenMinh4869/toystory"
)

// Route paths used by redirect decisions.
const (
	LoginPath      = "/login"
	AdminHomePath  = "/admin/dashboard"
	StaffHomePath  = "/staff/dashboard"
	PublicHomePath = "/"
)

// Kind is the outcome of a route decision.
type Kind uint8

const (
	Allow Kind = iota
	RedirectToLogin
	RedirectToRoleHome
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect_to_login"
	case RedirectToRoleHome:
		return "redirect_to_role_home"
	default:
		return "unknown"
	}
}

// Decision is returned by [Decide]. Role is set only for RedirectToRoleHome.
type Decision struct {
	Kind Kind
	Role toystory.Role
}

// Target is the redirect location, or "" for Allow.
func (d Decision) Target() string {
	switch d.Kind {
	case RedirectToLogin:
		return LoginPath
	case RedirectToRoleHome:
		return RoleHome(d.Role)
	default:
		return ""
	}
}

// Decide is side-effect free. An absent role always redirects to login; a
// role outside required redirects to that role's home, even for unknown roles.
func Decide(required toystory.RoleSet, current toystory.Role) Decision {
	if current == "" {
		return Decision{Kind: RedirectToLogin}
	}
	if required.Has(current) {
		return Decision{Kind: Allow}
	}
	return Decision{Kind: RedirectToRoleHome, Role: current}
}

// RoleHome maps every role to its landing page.
func RoleHome(role toystory.Role) string {
	switch role {
	case toystory.RoleAdmin:
		return AdminHomePath
	case toystory.RoleStaff:
		return StaffHomePath
	default:
		return PublicHomePath
	}
}
