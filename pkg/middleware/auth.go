package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/contextkeys"
	"github.com/platinummonkey/campus/pkg/observability"
)

// DefaultRemoteTimeout bounds the advisory remote validation call
const DefaultRemoteTimeout = 2 * time.Second

// TokenVerifier verifies an access token locally
type TokenVerifier interface {
	ParseAccessToken(raw string) (*auth.Claims, error)
}

// RemoteValidator asks the issuing service whether a token is still accepted
type RemoteValidator interface {
	Validate(ctx context.Context, token string) error
}

// AuthMiddleware verifies bearer tokens and attaches the caller identity to
// the request context.
type AuthMiddleware struct {
	tokens        TokenVerifier
	optional      bool // If true, allow requests without an Authorization header
	remote        RemoteValidator
	remoteTimeout time.Duration
	logger        *observability.Logger
	metrics       *observability.Metrics
}

// AuthOption customizes an AuthMiddleware
type AuthOption func(*AuthMiddleware)

// WithRemoteValidator enables the advisory remote check. Its outcome never
// changes the local decision; failures are logged and counted.
func WithRemoteValidator(v RemoteValidator, timeout time.Duration) AuthOption {
	return func(m *AuthMiddleware) {
		m.remote = v
		if timeout > 0 {
			m.remoteTimeout = timeout
		}
	}
}

// WithLogger sets the fallback logger used when the request carries none
func WithLogger(logger *observability.Logger) AuthOption {
	return func(m *AuthMiddleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records rejections and remote validation failures
func WithMetrics(metrics *observability.Metrics) AuthOption {
	return func(m *AuthMiddleware) {
		m.metrics = metrics
	}
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenVerifier, optional bool, opts ...AuthOption) *AuthMiddleware {
	m := &AuthMiddleware{
		tokens:        tokens,
		optional:      optional,
		remoteTimeout: DefaultRemoteTimeout,
		logger:        observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			m.reject(w, "missing_header")
			return
		}

		// Format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			m.reject(w, "malformed_header")
			return
		}
		token := strings.TrimSpace(parts[1])

		claims, err := m.tokens.ParseAccessToken(token)
		if err != nil {
			reason := "invalid_token"
			if auth.IsExpired(err) {
				reason = "expired_token"
			}
			m.reject(w, reason)
			return
		}

		if m.remote != nil {
			m.validateRemotely(r.Context(), token, claims.UserID)
		}

		principal := claims.PrincipalContext(token)
		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		ctx = contextkeys.WithUserID(ctx, principal.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) validateRemotely(ctx context.Context, token, userID string) {
	ctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	defer cancel()

	if err := m.remote.Validate(ctx, token); err != nil {
		observability.FromContextOr(ctx, m.logger).
			WithField("user_id", userID).
			WithError(err).
			Warn("remote token validation failed")
		if m.metrics != nil {
			m.metrics.RemoteValidationFailure.Inc()
		}
	}
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, reason string) {
	if m.metrics != nil {
		m.metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
	}
	UnauthorizedResponse(w)
}

// GetPrincipal extracts the caller identity from the request, or nil
func GetPrincipal(r *http.Request) *auth.PrincipalContext {
	return PrincipalFromContext(r.Context())
}

// PrincipalFromContext extracts the caller identity from ctx, or nil
func PrincipalFromContext(ctx context.Context) *auth.PrincipalContext {
	p, ok := contextkeys.GetPrincipal(ctx).(*auth.PrincipalContext)
	if !ok {
		return nil
	}
	return p
}

// RequirePrincipal rejects requests that reached it without a verified identity.
// It guards handlers mounted behind an optional AuthMiddleware.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetPrincipal(r) == nil {
			UnauthorizedResponse(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StatusForError maps the auth error taxonomy to HTTP status codes
func StatusForError(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// UnauthorizedResponse writes the uniform authentication failure body
func UnauthorizedResponse(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

// ForbiddenResponse writes the uniform access-denied body
func ForbiddenResponse(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "forbidden")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
