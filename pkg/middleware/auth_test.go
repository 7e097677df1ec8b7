package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/observability"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTokens(t *testing.T, opts ...auth.TokenOption) *auth.TokenManager {
	t.Helper()
	tm, err := auth.NewTokenManager(testSecret, opts...)
	require.NoError(t, err)
	return tm
}

func teacherToken(t *testing.T, tm *auth.TokenManager) string {
	t.Helper()
	school := "school-1"
	token, err := tm.IssueAccessToken(
		&auth.Principal{ID: "user-1", Email: "t@example.com", SchoolID: &school},
		&auth.Resolution{PrimaryRole: auth.RoleTeacher, Permissions: []auth.Permission{auth.PermTakeAttendance}},
	)
	require.NoError(t, err)
	return token
}

type capture struct {
	called    bool
	principal *auth.PrincipalContext
}

func (c *capture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		c.principal = GetPrincipal(r)
		w.WriteHeader(http.StatusOK)
	})
}

type stubRemote struct {
	err   error
	calls int32
}

func (s *stubRemote) Validate(ctx context.Context, token string) error {
	atomic.AddInt32(&s.calls, 1)
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("no deadline on remote call")
	}
	return s.err
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	tm := newTokens(t)
	token := teacherToken(t, tm)

	var c capture
	h := NewAuthMiddleware(tm, false).Handler(c.handler())

	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.True(t, c.called)
	require.NotNil(t, c.principal)
	assert.Equal(t, "user-1", c.principal.UserID)
	assert.Equal(t, auth.RoleTeacher, c.principal.Role)
	require.NotNil(t, c.principal.SchoolID)
	assert.Equal(t, "school-1", *c.principal.SchoolID)
	assert.Equal(t, []auth.Permission{auth.PermTakeAttendance}, c.principal.Permissions)
	assert.Equal(t, token, c.principal.AccessToken)
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tm := newTokens(t)
	valid := teacherToken(t, tm)

	past := time.Now().Add(-2 * time.Hour)
	expired := teacherToken(t, newTokens(t, auth.WithClock(func() time.Time { return past })))

	refresh, err := tm.IssueRefreshToken("user-1")
	require.NoError(t, err)

	otherSecret, err := auth.NewTokenManager("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	forged := teacherToken(t, otherSecret)

	tests := []struct {
		name   string
		header string
		reason string
	}{
		{"missing header", "", "missing_header"},
		{"wrong scheme", "Basic " + valid, "malformed_header"},
		{"no token", "Bearer ", "malformed_header"},
		{"bare token", valid, "malformed_header"},
		{"garbage token", "Bearer not-a-jwt", "invalid_token"},
		{"expired token", "Bearer " + expired, "expired_token"},
		{"refresh token as access", "Bearer " + refresh, "invalid_token"},
		{"wrong signing key", "Bearer " + forged, "invalid_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewMetrics(prometheus.NewRegistry())
			var c capture
			h := NewAuthMiddleware(tm, false, WithMetrics(metrics)).Handler(c.handler())

			req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
			assert.False(t, c.called)
			assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuthFailuresTotal.WithLabelValues(tt.reason)))
		})
	}
}

func TestAuthMiddleware_SchemeIsCaseInsensitive(t *testing.T) {
	tm := newTokens(t)
	var c capture
	h := NewAuthMiddleware(tm, false).Handler(c.handler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+teacherToken(t, tm))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, c.principal)
}

func TestAuthMiddleware_Optional(t *testing.T) {
	tm := newTokens(t)

	t.Run("anonymous passes without principal", func(t *testing.T) {
		var c capture
		h := NewAuthMiddleware(tm, true).Handler(c.handler())
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/register", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, c.called)
		assert.Nil(t, c.principal)
	})

	t.Run("invalid token is still rejected", func(t *testing.T) {
		var c capture
		h := NewAuthMiddleware(tm, true).Handler(c.handler())
		req := httptest.NewRequest(http.MethodPost, "/auth/register", nil)
		req.Header.Set("Authorization", "Bearer junk")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, c.called)
	})
}

func TestAuthMiddleware_RemoteValidationIsAdvisory(t *testing.T) {
	tm := newTokens(t)
	token := teacherToken(t, tm)

	t.Run("failure is counted but request proceeds", func(t *testing.T) {
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		remote := &stubRemote{err: fmt.Errorf("auth service returned 401")}
		var c capture
		h := NewAuthMiddleware(tm, false,
			WithRemoteValidator(remote, time.Second),
			WithMetrics(metrics),
		).Handler(c.handler())

		req := httptest.NewRequest(http.MethodGet, "/api/students", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, c.called)
		assert.Equal(t, int32(1), atomic.LoadInt32(&remote.calls))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RemoteValidationFailure))
	})

	t.Run("success leaves the counter alone", func(t *testing.T) {
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		remote := &stubRemote{}
		var c capture
		h := NewAuthMiddleware(tm, false,
			WithRemoteValidator(remote, 0),
			WithMetrics(metrics),
		).Handler(c.handler())

		req := httptest.NewRequest(http.MethodGet, "/api/students", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(0), testutil.ToFloat64(metrics.RemoteValidationFailure))
	})

	t.Run("not consulted when local verification fails", func(t *testing.T) {
		remote := &stubRemote{}
		h := NewAuthMiddleware(tm, false, WithRemoteValidator(remote, time.Second)).
			Handler((&capture{}).handler())

		req := httptest.NewRequest(http.MethodGet, "/api/students", nil)
		req.Header.Set("Authorization", "Bearer junk")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, int32(0), atomic.LoadInt32(&remote.calls))
	})
}

func TestRequirePrincipal(t *testing.T) {
	var c capture
	h := RequirePrincipal(c.handler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, c.called)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("wrap: %w", auth.ErrInvalidToken), http.StatusUnauthorized},
		{auth.ErrUnauthenticated, http.StatusUnauthorized},
		{auth.ErrForbidden, http.StatusForbidden},
		{auth.ErrDuplicateEmail, http.StatusConflict},
		{auth.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: email", auth.ErrValidation), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusForError(tt.err), tt.err.Error())
	}
}
