// Package tenant narrows reads and writes to the caller's school.
//
// A principal bound to a school can only see and create records of that
// school, whatever the request asks for. super_admin is not bound to a school
// and may address any school explicitly, or all of them.
package tenant

import (
	"net/url"

	"github.com/platinummonkey/campus/pkg/auth"
)

// QueryParam is the query and body field carrying a school ID
const QueryParam = "schoolId"

// Scope is the set of schools a read may touch
type Scope struct {
	// SchoolID is the single school in scope; nil with All set means every school
	SchoolID *string
	All      bool
}

// Includes reports whether a record of schoolID is inside the scope
func (s Scope) Includes(schoolID *string) bool {
	if s.All {
		return true
	}
	return s.SchoolID != nil && schoolID != nil && *s.SchoolID == *schoolID
}

// QueryScope resolves the scope of a read. requested is the school named by
// the request, if any. A nil principal gets an empty scope.
func QueryScope(p *auth.PrincipalContext, requested *string) Scope {
	if p == nil {
		return Scope{}
	}
	if p.IsSuperAdmin() {
		if requested != nil && *requested != "" {
			id := *requested
			return Scope{SchoolID: &id}
		}
		return Scope{All: true}
	}
	if p.SchoolID == nil {
		return Scope{}
	}
	id := *p.SchoolID
	return Scope{SchoolID: &id}
}

// CreateTenant resolves the school a new record belongs to. Principals bound
// to a school always create in their own school.
func CreateTenant(p *auth.PrincipalContext, requested *string) *string {
	if p == nil {
		return requested
	}
	if p.IsSuperAdmin() {
		if requested == nil || *requested == "" {
			return nil
		}
		id := *requested
		return &id
	}
	if p.SchoolID == nil {
		return nil
	}
	id := *p.SchoolID
	return &id
}

// Allows reports whether p may act on a record of schoolID
func Allows(p *auth.PrincipalContext, schoolID *string) bool {
	return QueryScope(p, nil).Includes(schoolID)
}

// Empty reports whether the scope admits no school at all
func (s Scope) Empty() bool {
	return !s.All && s.SchoolID == nil
}

// ApplyToQuery rewrites the schoolId query parameter to the caller's scope.
// It returns false, leaving q untouched, when the caller may read no school.
func ApplyToQuery(q url.Values, p *auth.PrincipalContext) bool {
	scope := QueryScope(p, optional(q.Get(QueryParam)))
	switch {
	case scope.Empty():
		return false
	case scope.SchoolID != nil:
		q.Set(QueryParam, *scope.SchoolID)
	default:
		q.Del(QueryParam)
	}
	return true
}

// ApplyToBody rewrites the schoolId field of a JSON object body to the
// school the caller may create in. It returns false, leaving body untouched,
// when a caller bound to no school tries to create.
func ApplyToBody(body map[string]any, p *auth.PrincipalContext) bool {
	if p == nil || (!p.IsSuperAdmin() && p.SchoolID == nil) {
		return false
	}
	var requested *string
	if v, ok := body[QueryParam].(string); ok {
		requested = &v
	}
	if id := CreateTenant(p, requested); id != nil {
		body[QueryParam] = *id
	} else {
		delete(body, QueryParam)
	}
	return true
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
