package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/campus/pkg/observability"
)

// PermissionResolver computes a principal's primary role and permission set
type PermissionResolver interface {
	Resolve(ctx context.Context, userID string) (*Resolution, error)
}

// Service implements login, registration, refresh and the identity lookups
// behind the auth API.
type Service struct {
	store      PrincipalStore
	resolver   PermissionResolver
	tokens     *TokenManager
	audit      *AuditLogger
	logger     *observability.Logger
	bcryptCost int
	dummyHash  []byte
	now        func() time.Time
}

// ServiceConfig holds the dependencies of a Service
type ServiceConfig struct {
	Store      PrincipalStore
	Resolver   PermissionResolver
	Tokens     *TokenManager
	Audit      *AuditLogger
	Logger     *observability.Logger
	BcryptCost int
}

// NewService creates a new auth service
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	audit := cfg.Audit
	if audit == nil {
		audit = NewAuditLogger(logger, nil)
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	return &Service{
		store:      cfg.Store,
		resolver:   cfg.Resolver,
		tokens:     cfg.Tokens,
		audit:      audit,
		logger:     logger,
		bcryptCost: cost,
		dummyHash:  newDummyHash(cost),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Tokens exposes the token manager for the authentication gate
func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

// Login verifies credentials and issues an access and a refresh token.
// Every credential failure returns ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)

	p, err := s.store.GetPrincipalByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		burnPasswordCheck(s.dummyHash, password)
		s.audit.Record(ctx, AuditEvent{Action: ActionLogin, Email: email, Status: StatusFailure, Reason: "unknown email"})
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !CheckPassword(p.PasswordHash, password) {
		s.audit.Record(ctx, AuditEvent{Action: ActionLogin, UserID: p.ID, Email: email, Status: StatusFailure, Reason: "wrong password"})
		return nil, ErrInvalidCredentials
	}
	if !p.IsActive {
		s.audit.Record(ctx, AuditEvent{Action: ActionLogin, UserID: p.ID, Email: email, Status: StatusDenied, Reason: "inactive"})
		return nil, ErrInvalidCredentials
	}

	res, err := s.resolver.Resolve(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	accessToken, err := s.tokens.IssueAccessToken(p, res)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.tokens.IssueRefreshToken(p.ID)
	if err != nil {
		return nil, err
	}

	if err := s.store.RecordLogin(ctx, p.ID, HashToken(refreshToken), s.now()); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	s.audit.Record(ctx, AuditEvent{Action: ActionLogin, UserID: p.ID, Email: email, SchoolID: p.SchoolID, Status: StatusSuccess})

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         summarize(p, res, true),
	}, nil
}

// Register creates a principal with one role assignment. caller is the
// authenticated provisioning principal, or nil for self-service registration.
// The tenant of the new principal must already be resolved by the caller of
// Register; only its consistency with the role is checked here.
func (s *Service) Register(ctx context.Context, req RegisterRequest, caller *PrincipalContext) (*PrincipalSummary, error) {
	req.Email = normalizeEmail(req.Email)
	if err := validateRegistration(req, caller); err != nil {
		return nil, err
	}

	if _, err := s.store.GetPrincipalByEmail(ctx, req.Email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &Principal{
		ID:           newID(),
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Phone:        req.Phone,
		SchoolID:     req.SchoolID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreatePrincipal(ctx, p, req.Role); err != nil {
		return nil, err
	}

	ev := AuditEvent{Action: ActionRegister, UserID: p.ID, Email: p.Email, SchoolID: p.SchoolID, Status: StatusSuccess}
	if caller != nil {
		ev.Reason = "provisioned by " + caller.UserID
	}
	s.audit.Record(ctx, ev)

	return summarize(p, &Resolution{PrimaryRole: req.Role}, false), nil
}

func validateRegistration(req RegisterRequest, caller *PrincipalContext) error {
	if _, err := mail.ParseAddress(req.Email); err != nil || req.Email == "" {
		return fmt.Errorf("%w: a valid email is required", ErrValidation)
	}
	if len(req.Password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	}
	if len(req.Password) > MaxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, MaxPasswordLength)
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return fmt.Errorf("%w: first and last name are required", ErrValidation)
	}
	if !req.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, req.Role)
	}

	if req.Role == RoleSuperAdmin {
		if !caller.IsSuperAdmin() {
			return ErrForbidden
		}
		if req.SchoolID != nil {
			return fmt.Errorf("%w: super_admin cannot belong to a school", ErrValidation)
		}
		return nil
	}

	if req.SchoolID == nil || *req.SchoolID == "" {
		return fmt.Errorf("%w: schoolId is required for role %s", ErrValidation, req.Role)
	}
	return nil
}

// Refresh exchanges a refresh token for a new access token carrying freshly
// resolved permissions. The refresh token itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		s.audit.Record(ctx, AuditEvent{Action: ActionRefresh, Status: StatusFailure, Reason: "unverifiable token"})
		return nil, ErrInvalidToken
	}

	p, err := s.store.GetPrincipalByID(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	if !p.IsActive || p.RefreshTokenHash == nil || !TokenMatchesHash(refreshToken, *p.RefreshTokenHash) {
		s.audit.Record(ctx, AuditEvent{Action: ActionRefresh, UserID: p.ID, Status: StatusDenied, Reason: "inactive or superseded"})
		return nil, ErrInvalidToken
	}

	res, err := s.resolver.Resolve(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	accessToken, err := s.tokens.IssueAccessToken(p, res)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, AuditEvent{Action: ActionRefresh, UserID: p.ID, SchoolID: p.SchoolID, Status: StatusSuccess})

	return &RefreshResult{AccessToken: accessToken, User: summarize(p, res, true)}, nil
}

// Logout invalidates the principal's outstanding refresh token. Access tokens
// stay valid until they expire.
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.store.ClearRefreshToken(ctx, userID); err != nil {
		return err
	}
	s.audit.Record(ctx, AuditEvent{Action: ActionLogout, UserID: userID, Status: StatusSuccess})
	return nil
}

// Profile returns the stored view of userID with its current permissions
func (s *Service) Profile(ctx context.Context, userID string) (*Profile, error) {
	p, err := s.store.GetPrincipalByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	res, err := s.resolver.Resolve(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	perms := res.Permissions
	if perms == nil {
		perms = []Permission{}
	}
	return &Profile{
		ID:          p.ID,
		Email:       p.Email,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Phone:       p.Phone,
		Role:        res.PrimaryRole,
		SchoolID:    p.SchoolID,
		Permissions: perms,
		LastLoginAt: p.LastLoginAt,
	}, nil
}

// GetUser returns the identity summary of id without permissions
func (s *Service) GetUser(ctx context.Context, id string) (*PrincipalSummary, error) {
	p, err := s.store.GetPrincipalByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := s.resolver.Resolve(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	return summarize(p, res, false), nil
}

// ListUsers lists principals matching filter. Tenant scoping of the filter is
// the caller's responsibility.
func (s *Service) ListUsers(ctx context.Context, filter ListFilter) ([]*PrincipalSummary, error) {
	principals, err := s.store.ListPrincipals(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*PrincipalSummary, 0, len(principals))
	for _, p := range principals {
		res, err := s.resolver.Resolve(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve permissions: %w", err)
		}
		out = append(out, summarize(p, res, false))
	}
	return out, nil
}

// Deactivate marks a principal inactive. Existing access tokens remain valid
// until expiry; refresh stops working immediately.
func (s *Service) Deactivate(ctx context.Context, id string, caller *PrincipalContext) error {
	if err := s.store.SetActive(ctx, id, false); err != nil {
		return err
	}
	ev := AuditEvent{Action: ActionDeactivate, UserID: id, Status: StatusSuccess}
	if caller != nil {
		ev.Reason = "deactivated by " + caller.UserID
	}
	s.audit.Record(ctx, ev)
	return nil
}

// EnsureSuperAdmin creates the bootstrap super_admin when no principal with
// email exists yet. It reports whether a principal was created.
func (s *Service) EnsureSuperAdmin(ctx context.Context, email, password string) (bool, error) {
	email = normalizeEmail(email)
	if _, err := s.store.GetPrincipalByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	bootstrap := &PrincipalContext{Role: RoleSuperAdmin}
	_, err := s.Register(ctx, RegisterRequest{
		Email:     email,
		Password:  password,
		FirstName: "Super",
		LastName:  "Admin",
		Role:      RoleSuperAdmin,
	}, bootstrap)
	if errors.Is(err, ErrDuplicateEmail) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.audit.Record(ctx, AuditEvent{Action: ActionSeedAdmin, Email: email, Status: StatusSuccess})
	return true, nil
}

func summarize(p *Principal, res *Resolution, withPermissions bool) *PrincipalSummary {
	sum := &PrincipalSummary{
		ID:        p.ID,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Role:      res.PrimaryRole,
		SchoolID:  p.SchoolID,
	}
	if withPermissions {
		sum.Permissions = res.Permissions
		if sum.Permissions == nil {
			sum.Permissions = []Permission{}
		}
	}
	return sum
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

func newID() string {
	return uuid.NewString()
}
