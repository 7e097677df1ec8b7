package rbac

import (
	"github.com/platinummonkey/campus/pkg/auth"
)

// Authorize decides whether p satisfies req.
//
// Rules, in order: a nil principal is unauthenticated; an empty requirement
// allows; a role outside req.Roles is forbidden; super_admin bypasses the
// permission check; otherwise at least one of req.Permissions must be held.
func Authorize(req Requirement, p *auth.PrincipalContext) error {
	_, err := evaluate(req, p)
	return err
}

// evaluate is Authorize that also names the failed check for logging
func evaluate(req Requirement, p *auth.PrincipalContext) (string, error) {
	if p == nil {
		return "unauthenticated", auth.ErrUnauthenticated
	}
	if req.IsZero() {
		return "", nil
	}

	if len(req.Roles) > 0 && !hasRole(req.Roles, p.Role) {
		return "role", auth.ErrForbidden
	}

	if p.IsSuperAdmin() {
		return "", nil
	}

	if len(req.Permissions) > 0 && !p.HasAnyPermission(req.Permissions...) {
		return "permission", auth.ErrForbidden
	}

	return "", nil
}

func hasRole(roles []auth.Role, role auth.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
