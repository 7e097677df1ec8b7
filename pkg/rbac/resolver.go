package rbac

import (
	"context"
	"sort"

	"github.com/platinummonkey/campus/pkg/auth"
)

// AssignmentSource lists a principal's role assignments in grant order
type AssignmentSource interface {
	GetAssignments(ctx context.Context, userID string) ([]Assignment, error)
}

// Resolver computes effective permissions from role assignments. It reads
// the store on every call; tokens carry the snapshot between calls.
type Resolver struct {
	source AssignmentSource
}

// NewResolver creates a new permission resolver
func NewResolver(source AssignmentSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the union of permissions over every assignment of userID,
// sorted, with the oldest assignment's role as the primary role. A principal
// without assignments resolves to an empty role and no permissions.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*auth.Resolution, error) {
	assignments, err := r.source.GetAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := &auth.Resolution{Permissions: []auth.Permission{}}
	if len(assignments) == 0 {
		return res, nil
	}
	res.PrimaryRole = assignments[0].RoleName

	seen := make(map[auth.Permission]struct{})
	for _, a := range assignments {
		for _, perm := range a.Permissions {
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			res.Permissions = append(res.Permissions, perm)
		}
	}
	sort.Slice(res.Permissions, func(i, j int) bool {
		return res.Permissions[i] < res.Permissions[j]
	})

	return res, nil
}
