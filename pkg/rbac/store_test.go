package rbac

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/observability"
)

func insertUser(t *testing.T, db *sql.DB, id, email string) {
	t.Helper()
	now := time.Now().UTC()
	_, err := db.Exec(`
		INSERT INTO users (id, email, password_hash, first_name, last_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, email, "x", "Test", "User", true, now, now)
	require.NoError(t, err)
}

func TestStore_BuiltInRolesSeeded(t *testing.T) {
	db := NewTestDB(t)
	store := NewStore(db)

	roles, err := store.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, len(BuiltInRoles()))

	for _, want := range BuiltInRoles() {
		got, err := store.GetRoleByName(context.Background(), want.Name)
		require.NoError(t, err, want.Name)
		assert.Equal(t, want.Permissions, got.Permissions)
		assert.True(t, got.IsActive)
	}
}

func TestStore_CreateRoleDuplicate(t *testing.T) {
	store := NewStore(NewTestDB(t))

	err := store.CreateRole(context.Background(), &Role{Name: auth.RoleTeacher})
	assert.ErrorIs(t, err, ErrRoleExists)
}

func TestStore_GetRoleByNameMissing(t *testing.T) {
	store := NewStore(NewTestDB(t))

	_, err := store.GetRoleByName(context.Background(), "librarian")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestStore_Assignments(t *testing.T) {
	ctx := context.Background()
	db := NewTestDB(t)
	store := NewStore(db)
	insertUser(t, db, "u1", "u1@example.com")

	school := "school-1"
	first, err := store.AssignRole(ctx, "u1", auth.RoleTeacher, &school)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleTeacher, first.RoleName)

	// Distinct grant times keep the ordering deterministic
	time.Sleep(5 * time.Millisecond)
	_, err = store.AssignRole(ctx, "u1", auth.RoleParent, &school)
	require.NoError(t, err)

	_, err = store.AssignRole(ctx, "u1", auth.RoleTeacher, &school)
	assert.ErrorIs(t, err, ErrRoleExists)

	_, err = store.AssignRole(ctx, "u1", "janitor", nil)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	assignments, err := store.GetAssignments(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Equal(t, auth.RoleTeacher, assignments[0].RoleName)
	assert.Equal(t, auth.RoleParent, assignments[1].RoleName)
	assert.Contains(t, assignments[0].Permissions, auth.PermTakeAttendance)
	require.NotNil(t, assignments[0].SchoolID)
	assert.Equal(t, "school-1", *assignments[0].SchoolID)

	none, err := store.GetAssignments(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_InactiveRolesIgnored(t *testing.T) {
	ctx := context.Background()
	db := NewTestDB(t)
	store := NewStore(db)
	insertUser(t, db, "u1", "u1@example.com")

	_, err := store.AssignRole(ctx, "u1", auth.RoleStudent, nil)
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE roles SET is_active = FALSE WHERE name = $1`, string(auth.RoleStudent))
	require.NoError(t, err)

	assignments, err := store.GetAssignments(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, assignments)
}

func TestStore_GetAssignmentsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db)

	t.Run("query failure", func(t *testing.T) {
		mock.ExpectQuery("SELECT ur.id").WithArgs("u1").WillReturnError(errors.New("connection reset"))

		_, err := store.GetAssignments(context.Background(), "u1")
		assert.ErrorContains(t, err, "failed to query assignments")
	})

	t.Run("corrupt permissions", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "user_id", "role_id", "name", "permissions", "school_id", "granted_at"}).
			AddRow("a1", "u1", "r1", "teacher", "not json", nil, time.Now())
		mock.ExpectQuery("SELECT ur.id").WithArgs("u1").WillReturnRows(rows)

		_, err := store.GetAssignments(context.Background(), "u1")
		assert.ErrorContains(t, err, "failed to parse permissions of role teacher")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := NewTestDB(t)

	require.NoError(t, RunMigrations(context.Background(), db, observability.NopLogger()))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM campus_migrations").Scan(&count))
	assert.Equal(t, len(GetMigrations()), count)
}

func TestInitializeBuiltInRoles_Idempotent(t *testing.T) {
	db := NewTestDB(t)

	created, err := InitializeBuiltInRoles(context.Background(), NewStore(db), observability.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}
