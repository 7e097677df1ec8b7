// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// # Authentication Gate
//
// AuthMiddleware verifies "Bearer <token>" access tokens locally and attaches
// an *auth.PrincipalContext to the request context:
//
//	gate := middleware.NewAuthMiddleware(tokenManager, false,
//		middleware.WithRemoteValidator(authClient, 2*time.Second),
//		middleware.WithMetrics(metrics),
//	)
//	router.Handle("/auth/profile", gate.Handler(profileHandler))
//
// Every rejection is a 401 with the body {"error":"unauthorized"}. The
// remote validator is advisory: when configured it is called after local
// verification succeeds, and its failures are logged and counted but never
// change the outcome.
//
// Handlers read the identity with GetPrincipal(r).
//
// # Rate Limiting
//
// RateLimitMiddleware limits requests per client IP. DistributedRateLimiter
// keeps the counters in Redis so replicas share them; RateLimiter is the
// in-process fallback. Limiter errors fail open.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.LoginRateLimitConfig(), "")
//	router.Handle("/auth/login", middleware.NewRateLimitMiddleware(limiter, logger, metrics).Handler(login))
//
// # Related Packages
//
//   - pkg/auth: Token verification
//   - pkg/rbac: Role and permission gates
package middleware
