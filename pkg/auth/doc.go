// Package auth provides credential storage, token issuance and token
// verification for the campus platform.
//
// # Overview
//
// A principal is an account identified by email and bcrypt password hash,
// optionally bound to one school. Service implements the credential flows:
//
//	svc := auth.NewService(auth.ServiceConfig{
//		Store:    auth.NewSQLStore(db),
//		Resolver: rbac.NewResolver(rbac.NewStore(db)),
//		Tokens:   tokenManager,
//		Audit:    auth.NewAuditLogger(logger, metrics),
//	})
//
//	res, err := svc.Login(ctx, "teacher@example.com", "secret")
//	// res.AccessToken, res.RefreshToken, res.User
//
// # Tokens
//
// TokenManager signs HS256 JWTs with a single process-wide secret. Access
// tokens carry the principal's primary role, school and a snapshot of its
// permissions. Refresh tokens carry only the user ID and a unique token ID.
// A tokenType claim keeps one kind from being accepted as the other.
//
// Only the SHA-256 hash of the latest refresh token is stored. Logging in
// again supersedes it; logging out or deactivating the principal revokes it.
// Access tokens are never revoked and stay valid until expiry.
//
// # Errors
//
// Operations return the sentinel errors in errors.go, wrapped with context.
// Every login failure is ErrInvalidCredentials so callers cannot tell an
// unknown email from a wrong password.
//
// # Audit
//
// AuditLogger writes one structured log line per security event and counts
// logins and issued tokens in Prometheus.
package auth
