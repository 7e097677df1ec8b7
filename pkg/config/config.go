package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/httputil"
	"github.com/platinummonkey/campus/pkg/observability"
)

// Config holds all application configuration. Both binaries load the same
// structure and read the sections they need.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Seed          SeedConfig
	Gateway       GatewayConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	CORSOrigins []string

	// Peers allowed to supply X-Forwarded-For, as CIDRs or bare IPs. The auth
	// service must list the gateway here to see real client addresses.
	TrustedProxies []string
}

// DatabaseConfig holds the credential store connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite3
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	AutoMigrate     bool
}

// RedisConfig holds the rate limiter backend settings. An empty URL disables it.
type RedisConfig struct {
	URL              string
	LoginLimit       int
	LoginLimitWindow time.Duration
}

// JWTConfig holds token signing settings
type JWTConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
}

// SeedConfig bootstraps the first super_admin when both fields are set
type SeedConfig struct {
	AdminEmail    string
	AdminPassword string
}

// GatewayConfig holds API gateway settings
type GatewayConfig struct {
	Port                  string
	HealthPort            string
	AuthURL               string
	Upstreams             map[string]string
	RouteFile             string
	RemoteValidation      bool
	RemoteValidateTimeout time.Duration
	UpstreamTimeout       time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// upstreamDefaults maps each downstream service to its local development URL
var upstreamDefaults = map[string]string{
	"auth":          "http://localhost:3001",
	"school":        "http://localhost:3002",
	"student":       "http://localhost:3003",
	"teacher":       "http://localhost:3004",
	"parent":        "http://localhost:3005",
	"attendance":    "http://localhost:3006",
	"exam":          "http://localhost:3007",
	"fees":          "http://localhost:3008",
	"communication": "http://localhost:3009",
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		JWT:           loadJWTConfig(),
		Seed:          loadSeedConfig(),
		Gateway:       loadGatewayConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CAMPUS_HOST", "0.0.0.0"),
		Port:            getEnv("CAMPUS_PORT", "3001"),
		ReadTimeout:     getEnvDuration("CAMPUS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CAMPUS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CAMPUS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CAMPUS_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    int64(getEnvInt("CAMPUS_MAX_BODY_BYTES", 1<<20)),
		HealthPort:      getEnv("CAMPUS_HEALTH_PORT", "9090"),
		CORSOrigins:     getEnvList("CAMPUS_CORS_ORIGINS", []string{"http://localhost:5173"}),
		TrustedProxies:  getEnvList("CAMPUS_TRUSTED_PROXIES", nil),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnv("CAMPUS_DB_DRIVER", "postgres"),
		URL:             getEnv("CAMPUS_DB_URL", ""),
		MaxOpenConns:    getEnvInt("CAMPUS_DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("CAMPUS_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("CAMPUS_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		ConnectTimeout:  getEnvDuration("CAMPUS_DB_CONNECT_TIMEOUT", 5*time.Second),
		AutoMigrate:     getEnvBool("CAMPUS_DB_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:              getEnv("CAMPUS_REDIS_URL", ""),
		LoginLimit:       getEnvInt("CAMPUS_LOGIN_RATE_LIMIT", 10),
		LoginLimitWindow: getEnvDuration("CAMPUS_LOGIN_RATE_WINDOW", time.Minute),
	}
}

func loadJWTConfig() JWTConfig {
	return JWTConfig{
		Secret:     getEnv("CAMPUS_JWT_SECRET", ""),
		Issuer:     getEnv("CAMPUS_JWT_ISSUER", auth.DefaultIssuer),
		AccessTTL:  getEnvDuration("CAMPUS_JWT_ACCESS_TTL", auth.DefaultAccessTTL),
		RefreshTTL: getEnvDuration("CAMPUS_JWT_REFRESH_TTL", auth.DefaultRefreshTTL),
		BcryptCost: getEnvInt("CAMPUS_BCRYPT_COST", auth.DefaultBcryptCost),
	}
}

func loadSeedConfig() SeedConfig {
	return SeedConfig{
		AdminEmail:    getEnv("CAMPUS_SEED_ADMIN_EMAIL", ""),
		AdminPassword: getEnv("CAMPUS_SEED_ADMIN_PASSWORD", ""),
	}
}

func loadGatewayConfig() GatewayConfig {
	upstreams := make(map[string]string, len(upstreamDefaults))
	for name, def := range upstreamDefaults {
		upstreams[name] = getEnv("CAMPUS_"+strings.ToUpper(name)+"_SERVICE_URL", def)
	}
	return GatewayConfig{
		Port:                  getEnv("CAMPUS_GATEWAY_PORT", "3000"),
		HealthPort:            getEnv("CAMPUS_GATEWAY_HEALTH_PORT", "9091"),
		AuthURL:               upstreams["auth"],
		Upstreams:             upstreams,
		RouteFile:             getEnv("CAMPUS_GATEWAY_ROUTES", ""),
		RemoteValidation:      getEnvBool("CAMPUS_REMOTE_VALIDATION", true),
		RemoteValidateTimeout: getEnvDuration("CAMPUS_REMOTE_VALIDATION_TIMEOUT", 2*time.Second),
		UpstreamTimeout:       getEnvDuration("CAMPUS_UPSTREAM_TIMEOUT", 10*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("CAMPUS_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CAMPUS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CAMPUS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CAMPUS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CAMPUS_OTEL_SERVICE_NAME", "campus"),
		OTelServiceVersion: getEnv("CAMPUS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CAMPUS_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("CAMPUS_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if _, err := httputil.NewClientIPResolver(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("CAMPUS_TRUSTED_PROXIES: %w", err)
	}

	if len(c.JWT.Secret) < auth.MinSecretLength {
		return fmt.Errorf("CAMPUS_JWT_SECRET must be at least %d characters", auth.MinSecretLength)
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return fmt.Errorf("access token lifetime must be shorter than refresh token lifetime")
	}
	if c.JWT.BcryptCost < 4 || c.JWT.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 4 and 31, got %d", c.JWT.BcryptCost)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}

	if (c.Seed.AdminEmail == "") != (c.Seed.AdminPassword == "") {
		return fmt.Errorf("seed admin email and password must be set together")
	}
	if c.Seed.AdminPassword != "" && len(c.Seed.AdminPassword) < auth.MinPasswordLength {
		return fmt.Errorf("seed admin password must be at least %d characters", auth.MinPasswordLength)
	}

	if c.Gateway.Port == c.Gateway.HealthPort {
		return fmt.Errorf("gateway port and gateway health port must be different")
	}
	for name, raw := range c.Gateway.Upstreams {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("invalid URL for %s service: %w", name, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
