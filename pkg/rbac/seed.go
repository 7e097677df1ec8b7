package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/observability"
)

// InitializeBuiltInRoles creates the catalog roles that do not exist yet.
// Existing roles are left untouched, so running it on every startup is safe,
// including from several replicas at once.
func InitializeBuiltInRoles(ctx context.Context, store *Store, logger *observability.Logger) (int, error) {
	created := 0
	for _, role := range BuiltInRoles() {
		_, err := store.GetRoleByName(ctx, role.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, auth.ErrNotFound) {
			return created, err
		}

		role := role
		if err := store.CreateRole(ctx, &role); err != nil {
			if errors.Is(err, ErrRoleExists) {
				continue
			}
			return created, fmt.Errorf("failed to create built-in role %s: %w", role.Name, err)
		}

		created++
		logger.WithField("role", string(role.Name)).Info("Created built-in role")
	}
	return created, nil
}
