// Package rbac provides role-based access control for the campus platform.
//
// # Overview
//
// Principals hold one or more role assignments. Each role carries a fixed set
// of permission names. The package covers three concerns:
//
//   - Storage: roles and user_roles tables (Store, RunMigrations)
//   - Resolution: the permission union of a principal's assignments (Resolver)
//   - Enforcement: per-route requirements checked against the token's claims (Gate)
//
// # Role Catalog
//
// BuiltInRoles defines super_admin, school_admin, teacher, parent and
// student. InitializeBuiltInRoles seeds them at startup and never modifies
// roles that already exist.
//
// # Resolution
//
//	resolver := rbac.NewResolver(rbac.NewStore(db))
//	res, err := resolver.Resolve(ctx, userID)
//	// res.PrimaryRole is the oldest assignment's role
//	// res.Permissions is the sorted, de-duplicated union
//
// # Enforcement
//
//	gate := rbac.NewGate(logger, metrics)
//	router.Handle("/auth/users", authn.Handler(gate.Require(rbac.Requirement{
//		Roles:       []auth.Role{auth.RoleSuperAdmin, auth.RoleSchoolAdmin},
//		Permissions: []auth.Permission{auth.PermManageStudents, auth.PermManageAllSchools},
//	})(list)))
//
// A requirement allows the caller when its role is listed (if roles are
// given) and it holds at least one listed permission (if permissions are
// given). super_admin passes every permission check but not a role list
// that omits it. Decisions use only the token's claims; the store is not
// consulted per request.
package rbac
