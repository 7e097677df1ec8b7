package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/storage"
)

// ErrRoleExists is returned when creating a role whose name is taken
var ErrRoleExists = errors.New("role already exists")

// Store handles role and assignment persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRole creates a new role
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, permissions, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, role.ID, string(role.Name), role.Description, string(permissionsJSON), true, now, now)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrRoleExists
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.IsActive = true
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRoleByName retrieves a role by name
func (s *Store) GetRoleByName(ctx context.Context, name auth.Role) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, permissions, is_active, created_at, updated_at
		FROM roles
		WHERE name = $1
	`, string(name))

	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %s: %w", name, auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists every role ordered by name
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, permissions, is_active, created_at, updated_at
		FROM roles
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// AssignRole grants roleName to userID. Assigning a role twice returns ErrRoleExists.
func (s *Store) AssignRole(ctx context.Context, userID string, roleName auth.Role, schoolID *string) (*Assignment, error) {
	role, err := s.GetRoleByName(ctx, roleName)
	if err != nil {
		return nil, err
	}

	a := &Assignment{
		ID:          uuid.NewString(),
		UserID:      userID,
		RoleID:      role.ID,
		RoleName:    role.Name,
		Permissions: role.Permissions,
		SchoolID:    schoolID,
		GrantedAt:   time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_roles (id, user_id, role_id, school_id, granted_at)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.UserID, a.RoleID, a.SchoolID, a.GrantedAt)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, ErrRoleExists
		}
		return nil, fmt.Errorf("failed to assign role: %w", err)
	}
	return a, nil
}

// GetAssignments returns every active-role assignment of userID ordered by
// grant time, then ID. Each assignment carries its role's permissions.
func (s *Store) GetAssignments(ctx context.Context, userID string) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ur.id, ur.user_id, r.id, r.name, r.permissions, ur.school_id, ur.granted_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND r.is_active = TRUE
		ORDER BY ur.granted_at, ur.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []Assignment
	for rows.Next() {
		var (
			a               Assignment
			roleName        string
			permissionsJSON string
			schoolID        sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &roleName, &permissionsJSON, &schoolID, &a.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.RoleName = auth.Role(roleName)
		if err := json.Unmarshal([]byte(permissionsJSON), &a.Permissions); err != nil {
			return nil, fmt.Errorf("failed to parse permissions of role %s: %w", roleName, err)
		}
		if schoolID.Valid {
			a.SchoolID = &schoolID.String
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	return assignments, nil
}

// scanRole scans a role from a database row
func scanRole(scanner interface {
	Scan(dest ...interface{}) error
}) (*Role, error) {
	var (
		role            Role
		name            string
		permissionsJSON string
	)
	err := scanner.Scan(&role.ID, &name, &role.Description, &permissionsJSON, &role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	role.Name = auth.Role(name)
	if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to parse permissions: %w", err)
	}
	return &role, nil
}
