// Package authclient calls the auth service from other services: remote
// token validation for the authentication gate and user lookups for record
// enrichment.
package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/observability"
)

const (
	DefaultTimeout   = 5 * time.Second
	DefaultCacheSize = 1024
	DefaultCacheTTL  = time.Minute

	cacheType = "user_lookup"
)

// ErrRejected is returned when the auth service refuses a token
var ErrRejected = errors.New("token rejected by auth service")

// Directory resolves principals by ID. Services use it to enrich domain
// records with names and roles.
type Directory interface {
	LookupUser(ctx context.Context, token, id string) (*auth.PrincipalSummary, error)
}

// Client is an HTTP client for the auth service
type Client struct {
	baseURL    string
	httpClient *http.Client
	users      *lru.LRU[string, *auth.PrincipalSummary]
	metrics    *observability.Metrics
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the instrumented default client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserCache sizes the user lookup cache. A size of zero disables caching.
func WithUserCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		if size <= 0 {
			c.users = nil
			return
		}
		c.users = lru.NewLRU[string, *auth.PrincipalSummary](size, nil, ttl)
	}
}

// WithMetrics records cache hits and misses
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// New creates a client for the auth service at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		users: lru.NewLRU[string, *auth.PrincipalSummary](DefaultCacheSize, nil, DefaultCacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type validateResponse struct {
	Valid bool                   `json:"valid"`
	User  *auth.PrincipalContext `json:"user"`
}

// Introspect asks the auth service to verify token and returns the identity
// it resolved.
func (c *Client) Introspect(ctx context.Context, token string) (*auth.PrincipalContext, error) {
	var resp validateResponse
	status, err := c.get(ctx, "/auth/validate", token, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || !resp.Valid || resp.User == nil {
		return nil, fmt.Errorf("%w: status %d", ErrRejected, status)
	}
	resp.User.AccessToken = token
	return resp.User, nil
}

// Validate reports whether the auth service still accepts token
func (c *Client) Validate(ctx context.Context, token string) error {
	_, err := c.Introspect(ctx, token)
	return err
}

// LookupUser fetches the summary of principal id as seen by the holder of
// token. Results are cached per token and ID so tenant checks made by the
// auth service are never shared between callers.
func (c *Client) LookupUser(ctx context.Context, token, id string) (*auth.PrincipalSummary, error) {
	key := auth.HashToken(token) + ":" + id
	if c.users != nil {
		if user, ok := c.users.Get(key); ok {
			c.recordCache(true)
			return user, nil
		}
		c.recordCache(false)
	}

	var user auth.PrincipalSummary
	status, err := c.get(ctx, "/auth/users/"+url.PathEscape(id), token, &user)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, auth.ErrNotFound
	case http.StatusUnauthorized:
		return nil, auth.ErrUnauthenticated
	case http.StatusForbidden:
		return nil, auth.ErrForbidden
	default:
		return nil, fmt.Errorf("user lookup failed with status %d", status)
	}

	if c.users != nil {
		c.users.Add(key, &user)
	}
	return &user, nil
}

// get performs an authenticated GET and decodes a 200 body into dest
func (c *Client) get(ctx context.Context, path, token string, dest interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("auth service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode auth service response: %w", err)
	}
	return resp.StatusCode, nil
}

func (c *Client) recordCache(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}
