package rbac

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/middleware"
	"github.com/platinummonkey/campus/pkg/observability"
)

// Gate enforces route requirements against the principal placed in the
// request context by middleware.AuthMiddleware
type Gate struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewGate creates a new RBAC gate. metrics may be nil.
func NewGate(logger *observability.Logger, metrics *observability.Metrics) *Gate {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Gate{logger: logger, metrics: metrics}
}

// Require creates middleware that only lets through callers satisfying req
func (g *Gate) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := middleware.GetPrincipal(r)

			reason, err := evaluate(req, p)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			log := observability.FromContextOr(r.Context(), g.logger).
				WithField("path", r.URL.Path).
				WithField("reason", reason)
			if p != nil {
				log = log.WithField("role", string(p.Role))
			}
			log.Debug("Access denied")

			if g.metrics != nil {
				g.metrics.AccessDeniedTotal.WithLabelValues(reason).Inc()
			}

			if errors.Is(err, auth.ErrUnauthenticated) {
				middleware.UnauthorizedResponse(w)
				return
			}
			middleware.ForbiddenResponse(w)
		})
	}
}

// RequireRoles is shorthand for a requirement listing only roles
func (g *Gate) RequireRoles(roles ...auth.Role) func(http.Handler) http.Handler {
	return g.Require(Requirement{Roles: roles})
}

// RequireAnyPermission is shorthand for a requirement listing only permissions
func (g *Gate) RequireAnyPermission(perms ...auth.Permission) func(http.Handler) http.Handler {
	return g.Require(Requirement{Permissions: perms})
}
