package auth

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memoryStore is an in-memory PrincipalStore
type memoryStore struct {
	mu         sync.Mutex
	principals map[string]*Principal
	roles      map[string]Role
	failWith   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{principals: map[string]*Principal{}, roles: map[string]Role{}}
}

func (m *memoryStore) CreatePrincipal(_ context.Context, p *Principal, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.principals {
		if existing.Email == p.Email {
			return ErrDuplicateEmail
		}
	}
	cp := *p
	m.principals[p.ID] = &cp
	m.roles[p.ID] = role
	return nil
}

func (m *memoryStore) GetPrincipalByEmail(_ context.Context, email string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, p := range m.principals {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryStore) GetPrincipalByID(_ context.Context, id string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memoryStore) ListPrincipals(_ context.Context, filter ListFilter) ([]*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Principal
	for _, p := range m.principals {
		if filter.SchoolID != nil && (p.SchoolID == nil || *p.SchoolID != *filter.SchoolID) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *memoryStore) RecordLogin(_ context.Context, id, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.RefreshTokenHash = &hash
	p.LastLoginAt = &at
	return nil
}

func (m *memoryStore) ClearRefreshToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.RefreshTokenHash = nil
	return nil
}

func (m *memoryStore) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.IsActive = active
	return nil
}

// catalogResolver resolves the role recorded by memoryStore to a fixed permission set
type catalogResolver struct {
	store *memoryStore
	perms map[Role][]Permission
}

func (r *catalogResolver) Resolve(_ context.Context, userID string) (*Resolution, error) {
	r.store.mu.Lock()
	role, ok := r.store.roles[userID]
	r.store.mu.Unlock()
	if !ok {
		return &Resolution{Permissions: []Permission{}}, nil
	}
	return &Resolution{PrimaryRole: role, Permissions: append([]Permission{}, r.perms[role]...)}, nil
}

type serviceFixture struct {
	svc      *Service
	store    *memoryStore
	resolver *catalogResolver
	tokens   *TokenManager
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	store := newMemoryStore()
	resolver := &catalogResolver{store: store, perms: map[Role][]Permission{
		RoleSchoolAdmin: {PermManageStudents, PermManageTeachers},
		RoleTeacher:     {PermTakeAttendance, PermUploadHomework},
		RoleSuperAdmin:  {PermManageAllSchools},
	}}
	tokens := newTestTokenManager(t)
	svc := NewService(ServiceConfig{
		Store:      store,
		Resolver:   resolver,
		Tokens:     tokens,
		BcryptCost: bcrypt.MinCost,
	})
	return &serviceFixture{svc: svc, store: store, resolver: resolver, tokens: tokens}
}

func strPtr(s string) *string { return &s }

func (f *serviceFixture) register(t *testing.T, email string, role Role, school *string) *PrincipalSummary {
	t.Helper()
	caller := &PrincipalContext{UserID: "root", Role: RoleSuperAdmin}
	sum, err := f.svc.Register(context.Background(), RegisterRequest{
		Email:     email,
		Password:  "secret123",
		FirstName: "Test",
		LastName:  "User",
		Role:      role,
		SchoolID:  school,
	}, caller)
	require.NoError(t, err)
	return sum
}

func TestService_LoginIssuesResolvedPermissions(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "teacher@example.com", RoleTeacher, strPtr("s1"))

	res, err := f.svc.Login(context.Background(), "teacher@example.com", "secret123")
	require.NoError(t, err)

	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, RoleTeacher, res.User.Role)
	assert.Equal(t, "s1", *res.User.SchoolID)

	claims, err := f.tokens.ParseAccessToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.Permissions, claims.Permissions)
	assert.Equal(t, []Permission{PermTakeAttendance, PermUploadHomework}, claims.Permissions)

	stored, err := f.store.GetPrincipalByID(context.Background(), res.User.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshTokenHash)
	assert.True(t, TokenMatchesHash(res.RefreshToken, *stored.RefreshTokenHash))
	assert.NotNil(t, stored.LastLoginAt)
}

func TestService_LoginWithoutAssignments(t *testing.T) {
	f := newServiceFixture(t)
	sum := f.register(t, "orphan@example.com", RoleTeacher, strPtr("s1"))
	delete(f.store.roles, sum.ID)

	res, err := f.svc.Login(context.Background(), "orphan@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, Role(""), res.User.Role)
	assert.Equal(t, []Permission{}, res.User.Permissions)
}

func TestService_LoginFailuresAreIndistinguishable(t *testing.T) {
	f := newServiceFixture(t)
	sum := f.register(t, "teacher@example.com", RoleTeacher, strPtr("s1"))
	f.register(t, "inactive@example.com", RoleTeacher, strPtr("s1"))
	inactive, _ := f.store.GetPrincipalByEmail(context.Background(), "inactive@example.com")
	require.NoError(t, f.store.SetActive(context.Background(), inactive.ID, false))

	cases := map[string][2]string{
		"unknown email":  {"nobody@example.com", "secret123"},
		"wrong password": {"teacher@example.com", "wrong-password"},
		"inactive":       {"inactive@example.com", "secret123"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), c[0], c[1])
			assert.Equal(t, ErrInvalidCredentials, err)
		})
	}

	// Failed attempts leave the stored refresh token alone
	stored, _ := f.store.GetPrincipalByID(context.Background(), sum.ID)
	assert.Nil(t, stored.RefreshTokenHash)
}

func TestService_DummyHashUsesConfiguredCost(t *testing.T) {
	f := newServiceFixture(t)
	cost, err := bcrypt.Cost(f.svc.dummyHash)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	svc := NewService(ServiceConfig{Store: newMemoryStore(), BcryptCost: bcrypt.MinCost + 1})
	cost, err = bcrypt.Cost(svc.dummyHash)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)
}

func TestService_LoginStoreError(t *testing.T) {
	f := newServiceFixture(t)
	f.store.failWith = errors.New("db down")

	_, err := f.svc.Login(context.Background(), "a@example.com", "secret123")
	assert.EqualError(t, err, "db down")
}

func TestService_Register(t *testing.T) {
	school := strPtr("s1")
	admin := &PrincipalContext{UserID: "admin", Role: RoleSchoolAdmin, SchoolID: school}
	root := &PrincipalContext{UserID: "root", Role: RoleSuperAdmin}

	tests := []struct {
		name   string
		req    RegisterRequest
		caller *PrincipalContext
		want   error
	}{
		{"valid teacher", RegisterRequest{Email: "t@example.com", Password: "secret123", FirstName: "T", LastName: "U", Role: RoleTeacher, SchoolID: school}, admin, nil},
		{"self-service student", RegisterRequest{Email: "s@example.com", Password: "secret123", FirstName: "S", LastName: "U", Role: RoleStudent, SchoolID: school}, nil, nil},
		{"bad email", RegisterRequest{Email: "not-an-email", Password: "secret123", FirstName: "T", LastName: "U", Role: RoleTeacher, SchoolID: school}, admin, ErrValidation},
		{"short password", RegisterRequest{Email: "p@example.com", Password: "12345", FirstName: "T", LastName: "U", Role: RoleTeacher, SchoolID: school}, admin, ErrValidation},
		{"password beyond bcrypt limit", RegisterRequest{Email: "l@example.com", Password: strings.Repeat("a", MaxPasswordLength+1), FirstName: "T", LastName: "U", Role: RoleTeacher, SchoolID: school}, admin, ErrValidation},
		{"password at bcrypt limit", RegisterRequest{Email: "k@example.com", Password: strings.Repeat("a", MaxPasswordLength), FirstName: "T", LastName: "U", Role: RoleTeacher, SchoolID: school}, admin, nil},
		{"missing names", RegisterRequest{Email: "n@example.com", Password: "secret123", FirstName: " ", Role: RoleTeacher, SchoolID: school}, admin, ErrValidation},
		{"unknown role", RegisterRequest{Email: "r@example.com", Password: "secret123", FirstName: "T", LastName: "U", Role: "principal", SchoolID: school}, admin, ErrValidation},
		{"missing school", RegisterRequest{Email: "m@example.com", Password: "secret123", FirstName: "T", LastName: "U", Role: RoleParent}, admin, ErrValidation},
		{"super admin by school admin", RegisterRequest{Email: "x@example.com", Password: "secret123", FirstName: "T", LastName: "U", Role: RoleSuperAdmin}, admin, ErrForbidden},
		{"super admin self-service", RegisterRequest{Email: "y@example.com", Password: "secret123", FirstName: "T", LastName: "U", Role: RoleSuperAdmin}, nil, ErrForbidden},
		{"super admin with school", RegisterRequest{Email: "z@example.com", Password: "secret123", FirstName: "T", LastName: "U", Role: RoleSuperAdmin, SchoolID: school}, root, ErrValidation},
		{"super admin by super admin", RegisterRequest{Email: "root2@example.com", Password: "secret123", FirstName: "T", LastName: "U", Role: RoleSuperAdmin}, root, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			sum, err := f.svc.Register(context.Background(), tt.req, tt.caller)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				assert.Empty(t, f.store.principals)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.req.Role, sum.Role)
			assert.Nil(t, sum.Permissions)

			stored, err := f.store.GetPrincipalByID(context.Background(), sum.ID)
			require.NoError(t, err)
			assert.True(t, stored.IsActive)
			assert.True(t, CheckPassword(stored.PasswordHash, tt.req.Password))
			assert.NotEqual(t, tt.req.Password, stored.PasswordHash)
		})
	}
}

func TestService_RegisterDuplicateEmail(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "dup@example.com", RoleTeacher, strPtr("s1"))

	_, err := f.svc.Register(context.Background(), RegisterRequest{
		Email: "dup@example.com", Password: "secret123", FirstName: "D", LastName: "U",
		Role: RoleParent, SchoolID: strPtr("s2"),
	}, nil)
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.Len(t, f.store.principals, 1)
}

func TestService_Refresh(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.register(t, "teacher@example.com", RoleTeacher, strPtr("s1"))

	login, err := f.svc.Login(ctx, "teacher@example.com", "secret123")
	require.NoError(t, err)

	// Permissions are resolved again on refresh
	f.resolver.perms[RoleTeacher] = []Permission{PermTakeAttendance}

	res, err := f.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	claims, err := f.tokens.ParseAccessToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermTakeAttendance}, claims.Permissions)
	assert.Equal(t, login.User.ID, res.User.ID)

	// No rotation: the same refresh token keeps working
	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	assert.NoError(t, err)

	t.Run("access token is not a refresh token", func(t *testing.T) {
		_, err := f.svc.Refresh(ctx, login.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("superseded by a later login", func(t *testing.T) {
		_, err := f.svc.Login(ctx, "teacher@example.com", "secret123")
		require.NoError(t, err)
		_, err = f.svc.Refresh(ctx, login.RefreshToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestService_RefreshAfterDeactivation(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.register(t, "teacher@example.com", RoleTeacher, strPtr("s1"))
	login, err := f.svc.Login(ctx, "teacher@example.com", "secret123")
	require.NoError(t, err)

	require.NoError(t, f.svc.Deactivate(ctx, login.User.ID, &PrincipalContext{UserID: "admin"}))

	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Access tokens stay valid until they expire
	_, err = f.tokens.ParseAccessToken(login.AccessToken)
	assert.NoError(t, err)

	assert.ErrorIs(t, f.svc.Deactivate(ctx, "missing", nil), ErrNotFound)
}

func TestService_RefreshUnknownPrincipal(t *testing.T) {
	f := newServiceFixture(t)
	token, err := f.tokens.IssueRefreshToken("ghost")
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.register(t, "teacher@example.com", RoleTeacher, strPtr("s1"))
	login, err := f.svc.Login(ctx, "teacher@example.com", "secret123")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, login.User.ID))

	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_ProfileAndLookups(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	teacher := f.register(t, "teacher@example.com", RoleTeacher, strPtr("s1"))
	f.register(t, "admin@example.com", RoleSchoolAdmin, strPtr("s1"))
	f.register(t, "other@example.com", RoleTeacher, strPtr("s2"))

	profile, err := f.svc.Profile(ctx, teacher.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleTeacher, profile.Role)
	assert.Equal(t, []Permission{PermTakeAttendance, PermUploadHomework}, profile.Permissions)

	_, err = f.svc.Profile(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	user, err := f.svc.GetUser(ctx, teacher.ID)
	require.NoError(t, err)
	assert.Equal(t, "teacher@example.com", user.Email)
	assert.Nil(t, user.Permissions)

	users, err := f.svc.ListUsers(ctx, ListFilter{SchoolID: strPtr("s1")})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "admin@example.com", users[0].Email)
	assert.Equal(t, RoleSchoolAdmin, users[0].Role)

	all, err := f.svc.ListUsers(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestService_EnsureSuperAdmin(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	created, err := f.svc.EnsureSuperAdmin(ctx, "root@example.com", "rootpassword")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.svc.EnsureSuperAdmin(ctx, "root@example.com", "rootpassword")
	require.NoError(t, err)
	assert.False(t, created)

	login, err := f.svc.Login(ctx, "root@example.com", "rootpassword")
	require.NoError(t, err)
	assert.Equal(t, RoleSuperAdmin, login.User.Role)
	assert.Nil(t, login.User.SchoolID)
}
