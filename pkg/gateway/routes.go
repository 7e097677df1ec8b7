package gateway

import (
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/rbac"
)

//go:embed routes.yaml
var defaultRoutes []byte

// TenantMode selects how a route's request is narrowed to the caller's school
type TenantMode string

const (
	TenantNone   TenantMode = ""
	TenantList   TenantMode = "list"   // rewrite the schoolId query parameter
	TenantCreate TenantMode = "create" // rewrite the schoolId field of the JSON body
	TenantUpdate TenantMode = "update" // as create, so an update cannot move a record to another school
)

// Route maps one method and path of the gateway to a downstream service
type Route struct {
	Method           string     `yaml:"method"`
	Path             string     `yaml:"path"`
	Service          string     `yaml:"service"`
	Public           bool       `yaml:"public,omitempty"`
	Tenant           TenantMode `yaml:"tenant,omitempty"`
	Caller           string     `yaml:"caller,omitempty"`
	rbac.Requirement `yaml:",inline"`
}

// String identifies the route in logs and errors
func (r Route) String() string {
	return r.Method + " " + r.Path
}

type routeFile struct {
	Routes []Route `yaml:"routes"`
}

// DefaultRoutes returns the built-in route table
func DefaultRoutes() ([]Route, error) {
	return ParseRoutes(defaultRoutes)
}

// LoadRoutes reads a route table from path, or the built-in table when path
// is empty.
func LoadRoutes(path string) ([]Route, error) {
	if path == "" {
		return DefaultRoutes()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route file: %w", err)
	}
	return ParseRoutes(data)
}

// ParseRoutes decodes and validates a YAML route table
func ParseRoutes(data []byte) ([]Route, error) {
	var file routeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse route table: %w", err)
	}
	if len(file.Routes) == 0 {
		return nil, fmt.Errorf("route table is empty")
	}

	seen := make(map[string]bool, len(file.Routes))
	for i := range file.Routes {
		r := &file.Routes[i]
		r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("route %d (%s): %w", i, r, err)
		}
		if seen[r.String()] {
			return nil, fmt.Errorf("duplicate route %s", r)
		}
		seen[r.String()] = true
	}
	return file.Routes, nil
}

var knownPermissions = func() map[auth.Permission]bool {
	known := make(map[auth.Permission]bool)
	for _, role := range rbac.BuiltInRoles() {
		for _, p := range role.Permissions {
			known[p] = true
		}
	}
	return known
}()

func (r *Route) validate() error {
	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("unsupported method %q", r.Method)
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path must start with /")
	}
	if r.Service == "" {
		return fmt.Errorf("service is required")
	}

	switch r.Tenant {
	case TenantNone, TenantList, TenantCreate, TenantUpdate:
	default:
		return fmt.Errorf("unknown tenant mode %q", r.Tenant)
	}
	if r.Caller != "" && r.Tenant == TenantNone {
		return fmt.Errorf("caller requires a tenant mode")
	}

	if r.Public && (!r.Requirement.IsZero() || r.Tenant != TenantNone) {
		return fmt.Errorf("public routes cannot carry access rules")
	}
	for _, role := range r.Roles {
		if !role.Valid() {
			return fmt.Errorf("unknown role %q", role)
		}
	}
	for _, perm := range r.Permissions {
		if !knownPermissions[perm] {
			return fmt.Errorf("unknown permission %q", perm)
		}
	}
	return nil
}
