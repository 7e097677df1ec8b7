// Package storage opens the shared SQL and Redis connections used by the
// campus services.
//
// OpenDatabase accepts the postgres (lib/pq) and sqlite3 (mattn/go-sqlite3)
// drivers. Queries in the repositories built on top of it use positional
// $n placeholders, which both drivers understand, so the same SQL runs in
// production and in tests:
//
//	db, err := storage.OpenDatabase(ctx, storage.DatabaseConfig{
//		Driver: "postgres",
//		URL:    "postgres://campus@localhost/campus?sslmode=disable",
//	})
//
// IsUniqueViolation normalizes constraint errors from both drivers so callers
// can map them to a conflict without knowing which database is underneath.
// Tx wraps a function in a transaction that commits only when it returns nil.
//
// NewRedisClient connects to Redis for the shared login rate limiter.
package storage
