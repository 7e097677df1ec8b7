package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/httputil"
	"github.com/platinummonkey/campus/pkg/middleware"
	"github.com/platinummonkey/campus/pkg/observability"
	"github.com/platinummonkey/campus/pkg/rbac"
	"github.com/platinummonkey/campus/pkg/tenant"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// userAdminRequirement guards the user directory endpoints
var userAdminRequirement = rbac.Requirement{
	Roles: []auth.Role{auth.RoleSuperAdmin, auth.RoleSchoolAdmin},
	Permissions: []auth.Permission{
		auth.PermManageStudents,
		auth.PermManageTeachers,
		auth.PermManageStaff,
		auth.PermManageAllSchools,
	},
}

// AuthHandlers handles authentication-related HTTP requests
type AuthHandlers struct {
	service      *auth.Service
	authn        *middleware.AuthMiddleware
	optionalAuth *middleware.AuthMiddleware
	gate         *rbac.Gate
	loginLimit   func(http.Handler) http.Handler
}

// AuthHandlersConfig holds the collaborators of AuthHandlers
type AuthHandlersConfig struct {
	Service      *auth.Service
	Authn        *middleware.AuthMiddleware
	OptionalAuth *middleware.AuthMiddleware
	Gate         *rbac.Gate
	LoginLimit   func(http.Handler) http.Handler // may be nil
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(cfg AuthHandlersConfig) *AuthHandlers {
	return &AuthHandlers{
		service:      cfg.Service,
		authn:        cfg.Authn,
		optionalAuth: cfg.OptionalAuth,
		gate:         cfg.Gate,
		loginLimit:   cfg.LoginLimit,
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	// Public routes
	router.Handle("/auth/login", h.with(h.login, h.loginLimit)).Methods("POST")
	router.Handle("/auth/register", h.with(h.register, h.optionalAuth.Handler)).Methods("POST")
	router.HandleFunc("/auth/refresh", h.refresh).Methods("POST")

	// Bearer routes
	router.Handle("/auth/profile", h.with(h.profile, h.authn.Handler)).Methods("GET")
	router.Handle("/auth/validate", h.with(h.validate, h.authn.Handler)).Methods("GET")
	router.Handle("/auth/logout", h.with(h.logout, h.authn.Handler)).Methods("POST")

	// User directory
	router.Handle("/auth/users", h.with(h.listUsers, h.authn.Handler, h.gate.Require(userAdminRequirement))).Methods("GET")
	router.Handle("/auth/users/{id}", h.with(h.getUser, h.authn.Handler)).Methods("GET")
	router.Handle("/auth/users/{id}/deactivate",
		h.with(h.deactivateUser, h.authn.Handler, h.gate.RequireRoles(auth.RoleSuperAdmin, auth.RoleSchoolAdmin))).Methods("POST")
}

// with wraps fn in the given middleware, outermost first. Nil entries are skipped.
func (h *AuthHandlers) with(fn http.HandlerFunc, mws ...func(http.Handler) http.Handler) http.Handler {
	chain := make([]func(http.Handler) http.Handler, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			chain = append(chain, mw)
		}
	}
	return httputil.Chain(chain...)(fn)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

// register handles POST /auth/register. Anonymous callers self-register; an
// authenticated caller provisions into its own school.
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	caller := middleware.GetPrincipal(r)
	if caller != nil {
		req.SchoolID = tenant.CreateTenant(caller, req.SchoolID)
	}

	summary, err := h.service.Register(r.Context(), req, caller)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, summary)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refresh handles POST /auth/refresh
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteBadRequest(w, "refreshToken is required")
		return
	}

	result, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

// profile handles GET /auth/profile
func (h *AuthHandlers) profile(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r)

	profile, err := h.service.Profile(r.Context(), caller.UserID)
	if errors.Is(err, auth.ErrNotFound) {
		// The token outlived its principal
		middleware.UnauthorizedResponse(w)
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, profile)
}

type validateResponse struct {
	Valid bool                   `json:"valid"`
	User  *auth.PrincipalContext `json:"user"`
}

// validate handles GET /auth/validate. Reaching it means the token verified.
func (h *AuthHandlers) validate(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, validateResponse{Valid: true, User: middleware.GetPrincipal(r)})
}

// logout handles POST /auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.GetPrincipal(r).UserID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

type listUsersResponse struct {
	Users  []*auth.PrincipalSummary `json:"users"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

// listUsers handles GET /auth/users
func (h *AuthHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r)

	scope := tenant.QueryScope(caller, httputil.ParseQueryOptional(r, tenant.QueryParam))
	if scope.Empty() {
		middleware.ForbiddenResponse(w)
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", defaultListLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if limit <= 0 || limit > maxListLimit || offset < 0 {
		httputil.WriteBadRequest(w, "limit must be between 1 and 200 and offset must not be negative")
		return
	}

	users, err := h.service.ListUsers(r.Context(), auth.ListFilter{
		SchoolID: scope.SchoolID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, listUsersResponse{Users: users, Limit: limit, Offset: offset})
}

// getUser handles GET /auth/users/{id}. Principals of other schools look
// absent to the caller.
func (h *AuthHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !tenant.Allows(middleware.GetPrincipal(r), user.SchoolID) {
		h.writeServiceError(w, r, auth.ErrNotFound)
		return
	}
	_ = httputil.WriteSuccess(w, user)
}

// deactivateUser handles POST /auth/users/{id}/deactivate
func (h *AuthHandlers) deactivateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	caller := middleware.GetPrincipal(r)
	if id == caller.UserID {
		httputil.WriteBadRequest(w, "cannot deactivate yourself")
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !tenant.Allows(caller, user.SchoolID) {
		h.writeServiceError(w, r, auth.ErrNotFound)
		return
	}

	if err := h.service.Deactivate(r.Context(), id, caller); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// writeServiceError maps a service error to its status. Unexpected errors are
// logged and answered with a generic body.
func (h *AuthHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := middleware.StatusForError(err)
	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("path", r.URL.Path).
			Error("Request failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteErrorMessage(w, status, err.Error())
}
