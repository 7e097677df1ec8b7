package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultAccessTTL is the lifetime of an access token
	DefaultAccessTTL = time.Hour
	// DefaultRefreshTTL is the lifetime of a refresh token
	DefaultRefreshTTL = 7 * 24 * time.Hour
	// DefaultIssuer is stamped into every token
	DefaultIssuer = "campus-auth"

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	// MinSecretLength is the shortest signing secret accepted
	MinSecretLength = 32
)

// Claims is the payload of an access token
type Claims struct {
	UserID      string       `json:"userId"`
	Email       string       `json:"email"`
	Role        Role         `json:"role"`
	SchoolID    *string      `json:"schoolId,omitempty"`
	Permissions []Permission `json:"permissions"`
	TokenType   string       `json:"tokenType"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token
type RefreshClaims struct {
	UserID    string `json:"userId"`
	TokenType string `json:"tokenType"`
	jwt.RegisteredClaims
}

// PrincipalContext converts verified claims into the caller identity
func (c *Claims) PrincipalContext(rawToken string) *PrincipalContext {
	perms := c.Permissions
	if perms == nil {
		perms = []Permission{}
	}
	return &PrincipalContext{
		UserID:      c.UserID,
		Email:       c.Email,
		Role:        c.Role,
		SchoolID:    c.SchoolID,
		Permissions: perms,
		AccessToken: rawToken,
	}
}

// TokenManager signs and verifies HS256 tokens with a process-wide secret
type TokenManager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption customizes a TokenManager
type TokenOption func(*TokenManager)

// WithTTLs overrides the access and refresh token lifetimes
func WithTTLs(access, refresh time.Duration) TokenOption {
	return func(tm *TokenManager) {
		if access > 0 {
			tm.accessTTL = access
		}
		if refresh > 0 {
			tm.refreshTTL = refresh
		}
	}
}

// WithIssuer overrides the issuer claim
func WithIssuer(issuer string) TokenOption {
	return func(tm *TokenManager) {
		if issuer != "" {
			tm.issuer = issuer
		}
	}
}

// WithClock replaces the time source, used by tests to age tokens
func WithClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) {
		tm.now = now
	}
}

// NewTokenManager creates a token manager. The secret must be at least
// MinSecretLength bytes.
func NewTokenManager(secret string, opts ...TokenOption) (*TokenManager, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	tm := &TokenManager{
		secret:     []byte(secret),
		issuer:     DefaultIssuer,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm, nil
}

// AccessTTL returns the configured access token lifetime
func (tm *TokenManager) AccessTTL() time.Duration {
	return tm.accessTTL
}

// IssueAccessToken signs an access token carrying the principal's role,
// tenant and permission snapshot.
func (tm *TokenManager) IssueAccessToken(p *Principal, res *Resolution) (string, error) {
	now := tm.now()
	perms := res.Permissions
	if perms == nil {
		perms = []Permission{}
	}
	claims := &Claims{
		UserID:      p.ID,
		Email:       p.Email,
		Role:        res.PrimaryRole,
		SchoolID:    p.SchoolID,
		Permissions: perms,
		TokenType:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.accessTTL)),
		},
	}
	return tm.sign(claims)
}

// IssueRefreshToken signs a refresh token for userID. Each token carries a
// unique ID so two refresh tokens issued in the same second still differ.
func (tm *TokenManager) IssueRefreshToken(userID string) (string, error) {
	now := tm.now()
	claims := &RefreshClaims{
		UserID:    userID,
		TokenType: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tm.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.refreshTTL)),
		},
	}
	return tm.sign(claims)
}

func (tm *TokenManager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, expiry and type of an access token
func (tm *TokenManager) ParseAccessToken(raw string) (*Claims, error) {
	claims := &Claims{}
	if err := tm.parse(raw, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseRefreshToken verifies signature, expiry and type of a refresh token
func (tm *TokenManager) ParseRefreshToken(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := tm.parse(raw, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (tm *TokenManager) parse(raw string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(tm.issuer),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// IsExpired reports whether err came from an expired token
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

// HashToken computes the SHA256 hash of a token for storage
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// TokenMatchesHash compares a presented token against a stored hash in constant time
func TokenMatchesHash(token, storedHash string) bool {
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
