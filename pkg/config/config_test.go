package config

import (
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/observability"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CAMPUS_TEST_STR", "custom")
	t.Setenv("CAMPUS_TEST_BOOL", "1")
	t.Setenv("CAMPUS_TEST_INT", "42")
	t.Setenv("CAMPUS_TEST_BAD_INT", "forty")
	t.Setenv("CAMPUS_TEST_DUR", "90s")
	t.Setenv("CAMPUS_TEST_LIST", " a, ,b ")

	if got := getEnv("CAMPUS_TEST_STR", "default"); got != "custom" {
		t.Errorf("getEnv() = %v, want custom", got)
	}
	if got := getEnv("CAMPUS_TEST_UNSET", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
	if got := getEnvBool("CAMPUS_TEST_BOOL", false); !got {
		t.Error("getEnvBool() = false, want true")
	}
	if got := getEnvInt("CAMPUS_TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	if got := getEnvInt("CAMPUS_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with invalid value = %d, want 7", got)
	}
	if got := getEnvDuration("CAMPUS_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	got := getEnvList("CAMPUS_TEST_LIST", nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("getEnvList() = %v, want [a b]", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CAMPUS_JWT_SECRET", testSecret)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "3001" {
		t.Errorf("Server.Port = %s, want 3001", cfg.Server.Port)
	}
	if cfg.JWT.AccessTTL != auth.DefaultAccessTTL {
		t.Errorf("JWT.AccessTTL = %v, want %v", cfg.JWT.AccessTTL, auth.DefaultAccessTTL)
	}
	if cfg.JWT.RefreshTTL != auth.DefaultRefreshTTL {
		t.Errorf("JWT.RefreshTTL = %v, want %v", cfg.JWT.RefreshTTL, auth.DefaultRefreshTTL)
	}
	if cfg.Gateway.RemoteValidateTimeout != 2*time.Second {
		t.Errorf("Gateway.RemoteValidateTimeout = %v, want 2s", cfg.Gateway.RemoteValidateTimeout)
	}
	if cfg.Gateway.Upstreams["exam"] != "http://localhost:3007" {
		t.Errorf("exam upstream = %s", cfg.Gateway.Upstreams["exam"])
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("LogLevel = %v, want INFO", cfg.Observability.LogLevel)
	}
	if len(cfg.Server.TrustedProxies) != 0 {
		t.Errorf("Server.TrustedProxies = %v, want none", cfg.Server.TrustedProxies)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("CAMPUS_JWT_SECRET", testSecret)
	t.Setenv("CAMPUS_STUDENT_SERVICE_URL", "http://students.internal:8080")
	t.Setenv("CAMPUS_LOG_LEVEL", "debug")
	t.Setenv("CAMPUS_DB_DRIVER", "sqlite3")
	t.Setenv("CAMPUS_JWT_ACCESS_TTL", "15m")
	t.Setenv("CAMPUS_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.10")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Gateway.Upstreams["student"] != "http://students.internal:8080" {
		t.Errorf("student upstream = %s", cfg.Gateway.Upstreams["student"])
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v, want DEBUG", cfg.Observability.LogLevel)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database.Driver = %s", cfg.Database.Driver)
	}
	if cfg.JWT.AccessTTL != 15*time.Minute {
		t.Errorf("JWT.AccessTTL = %v", cfg.JWT.AccessTTL)
	}
	if len(cfg.Server.TrustedProxies) != 2 || cfg.Server.TrustedProxies[1] != "192.0.2.10" {
		t.Errorf("Server.TrustedProxies = %v", cfg.Server.TrustedProxies)
	}
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "3001", HealthPort: "9090"},
		Database: DatabaseConfig{Driver: "postgres"},
		JWT: JWTConfig{
			Secret:     testSecret,
			AccessTTL:  time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
			BcryptCost: 10,
		},
		Gateway: GatewayConfig{
			Port:       "3000",
			HealthPort: "9091",
			Upstreams:  map[string]string{"auth": "http://localhost:3001"},
		},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server port is required"},
		{name: "same ports", mutate: func(c *Config) { c.Server.HealthPort = "3001" }, wantErr: "must be different"},
		{name: "short secret", mutate: func(c *Config) { c.JWT.Secret = "short" }, wantErr: "CAMPUS_JWT_SECRET"},
		{name: "access not shorter than refresh", mutate: func(c *Config) { c.JWT.AccessTTL = c.JWT.RefreshTTL }, wantErr: "shorter"},
		{name: "bad bcrypt cost", mutate: func(c *Config) { c.JWT.BcryptCost = 2 }, wantErr: "bcrypt cost"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: "invalid database driver"},
		{name: "seed email without password", mutate: func(c *Config) { c.Seed.AdminEmail = "root@example.com" }, wantErr: "set together"},
		{name: "same gateway ports", mutate: func(c *Config) { c.Gateway.HealthPort = "3000" }, wantErr: "gateway port"},
		{name: "trusted proxy cidr", mutate: func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.10"} }},
		{name: "bad trusted proxy", mutate: func(c *Config) { c.Server.TrustedProxies = []string{"gateway"} }, wantErr: "CAMPUS_TRUSTED_PROXIES"},
		{name: "bad upstream", mutate: func(c *Config) { c.Gateway.Upstreams["exam"] = "::nope" }, wantErr: "exam"},
		{
			name: "otel without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "campus"
			},
			wantErr: "endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
