package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/httputil"
	"github.com/platinummonkey/campus/pkg/middleware"
	"github.com/platinummonkey/campus/pkg/observability"
	"github.com/platinummonkey/campus/pkg/tenant"
)

const (
	// SchoolIDHeader tells downstream services which school the caller is bound to
	SchoolIDHeader = "X-School-ID"
	// UserIDHeader carries the caller's principal ID
	UserIDHeader = "X-User-ID"

	DefaultUpstreamTimeout = 10 * time.Second
)

// forwardedRequestHeaders are copied from the caller to the downstream request
var forwardedRequestHeaders = []string{
	"Authorization",
	"Content-Type",
	"Accept",
	"Accept-Language",
	httputil.RequestIDHeader,
}

// hopHeaders are never relayed back to the caller
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// Forwarder relays requests to downstream services
type Forwarder struct {
	upstreams map[string]*url.URL
	client    *http.Client
	proxies   *httputil.ClientIPResolver
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewForwarder creates a forwarder for the given service URLs. client may be
// nil, in which case an instrumented client with DefaultUpstreamTimeout is used.
// proxies lists the peers whose X-Forwarded-For chain is passed on; nil trusts none.
func NewForwarder(upstreams map[string]string, client *http.Client, proxies *httputil.ClientIPResolver, logger *observability.Logger, metrics *observability.Metrics) (*Forwarder, error) {
	parsed := make(map[string]*url.URL, len(upstreams))
	for name, raw := range upstreams {
		u, err := url.Parse(strings.TrimRight(raw, "/"))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid URL for %s service: %q", name, raw)
		}
		parsed[name] = u
	}
	if client == nil {
		client = &http.Client{
			Timeout:   DefaultUpstreamTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Forwarder{upstreams: parsed, client: client, proxies: proxies, logger: logger, metrics: metrics}, nil
}

// Has reports whether service has a configured URL
func (f *Forwarder) Has(service string) bool {
	_, ok := f.upstreams[service]
	return ok
}

// Handler forwards requests matched by route
func (f *Forwarder) Handler(route Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := middleware.GetPrincipal(r)

		query := r.URL.Query()
		body, ok := f.readBody(w, r)
		if !ok {
			return
		}

		switch route.Tenant {
		case TenantList:
			if !tenant.ApplyToQuery(query, caller) {
				middleware.ForbiddenResponse(w)
				return
			}
			if route.Caller != "" {
				query.Set(route.Caller, caller.UserID)
			}
		case TenantCreate, TenantUpdate:
			body, ok = f.scopeBody(w, body, caller, route.Caller)
			if !ok {
				return
			}
		}

		f.forward(w, r, route.Service, query, body, caller)
	})
}

func (f *Forwarder) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, true
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return nil, false
	}
	return body, true
}

// scopeBody pins the school of a create or update body to the caller's school
func (f *Forwarder) scopeBody(w http.ResponseWriter, body []byte, caller *auth.PrincipalContext, callerField string) ([]byte, bool) {
	fields := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
			httputil.WriteBadRequest(w, "request body must be a JSON object")
			return nil, false
		}
	}
	if !tenant.ApplyToBody(fields, caller) {
		middleware.ForbiddenResponse(w)
		return nil, false
	}
	if callerField != "" {
		fields[callerField] = caller.UserID
	}
	scoped, err := json.Marshal(fields)
	if err != nil {
		httputil.WriteInternalError(w)
		return nil, false
	}
	return scoped, true
}

func (f *Forwarder) forward(w http.ResponseWriter, r *http.Request, service string, query url.Values, body []byte, caller *auth.PrincipalContext) {
	log := observability.FromContextOr(r.Context(), f.logger).WithField("service", service)

	base, ok := f.upstreams[service]
	if !ok {
		log.Error("No URL configured for service")
		httputil.WriteInternalError(w)
		return
	}

	target := *base
	target.Path = base.Path + r.URL.Path
	target.RawQuery = query.Encode()

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), reqBody)
	if err != nil {
		log.WithError(err).Error("Failed to build upstream request")
		httputil.WriteInternalError(w)
		return
	}
	for _, h := range forwardedRequestHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	if caller != nil {
		req.Header.Set(UserIDHeader, caller.UserID)
		if caller.SchoolID != nil {
			req.Header.Set(SchoolIDHeader, *caller.SchoolID)
		}
	}
	req.Header.Set("X-Forwarded-For", f.proxies.ForwardedFor(r))

	start := time.Now()
	resp, err := f.client.Do(req)
	f.observe(service, resp, time.Since(start))
	if err != nil {
		log.WithError(err).Error("Upstream request failed")
		httputil.WriteInternalError(w)
		return
	}
	defer resp.Body.Close()

	for k, values := range resp.Header {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.WithError(err).Warn("Failed to relay upstream response")
	}
}

func (f *Forwarder) observe(service string, resp *http.Response, elapsed time.Duration) {
	if f.metrics == nil {
		return
	}
	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	f.metrics.UpstreamRequestsTotal.WithLabelValues(service, status).Inc()
	f.metrics.UpstreamRequestDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}
