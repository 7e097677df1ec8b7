// Package api provides the HTTP API of the campus auth service.
//
// # Overview
//
// The API exposes login, registration, token refresh and the identity lookups
// other services use to verify callers and enrich records. It is built on
// gorilla/mux; every route is assembled from the shared authentication gate,
// the RBAC gate and, for login, the rate limiter.
//
// # Routes
//
//	POST /auth/login                  public, rate limited
//	POST /auth/register               public, or provisioning when a bearer is sent
//	POST /auth/refresh                public
//	GET  /auth/profile                bearer
//	GET  /auth/validate               bearer
//	POST /auth/logout                 bearer
//	GET  /auth/users                  school_admin or super_admin, tenant scoped
//	GET  /auth/users/{id}             bearer, tenant scoped
//	POST /auth/users/{id}/deactivate  school_admin or super_admin, tenant scoped
//	GET  /healthz, /readyz
//
// Principals of another school are reported as not found rather than
// forbidden.
//
// # Usage
//
//	server := api.NewServer(api.ServerConfig{
//		Service:      service,
//		Logger:       logger,
//		Metrics:      metrics,
//		LoginLimiter: limiter,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Errors
//
// Service errors are mapped with middleware.StatusForError and written as
// {"error": "..."}. Unexpected failures are logged and answered with a
// generic 500 body.
package api
