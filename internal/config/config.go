package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Environment      string
	AuthCookieSecure bool

	HTTPAddr           string
	Issuer             string
	TrustedProxyHeader string
	LoginURL           string
	ConsentURL         string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	StoreTimeout      time.Duration

	OAuth     OAuthConfig
	Lockout   LockoutConfig
	Limits    RateLimitConfig
	Redis     RedisConfig
	Audit     AuditConfig
	Bootstrap BootstrapConfig
	Telemetry TelemetryConfig
}

// OAuthConfig carries lifetimes and policy knobs for the token engine.
type OAuthConfig struct {
	CodeTTL             time.Duration
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	SessionTTL          time.Duration
	SessionMaxLifetime  time.Duration
	MaxVerifyFailures   int
	RequirePKCEAll      bool
	RevokeFamilyOnReuse bool
	SigningKeyFile      string
	ClientRegistryFile  string
	ClientCacheTTL      time.Duration
	PermissionCacheTTL  time.Duration
	PurgeInterval       time.Duration
}

type LockoutConfig struct {
	MaxFailures int
	Cooldown    time.Duration
}

type RateLimitConfig struct {
	Backend     string
	LoginLimit  int
	LoginWindow time.Duration
	TokenLimit  int
	TokenWindow time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuditConfig struct {
	BufferSize   int
	WriteTimeout time.Duration
}

type BootstrapConfig struct {
	AdminUsername string
	AdminPassword string
}

// TelemetryConfig drives logging, tracing and metric export.
type TelemetryConfig struct {
	LogLevel          string
	LogFormat         string
	SlowQuery         time.Duration
	LogQueries        bool
	OtelEnabled       bool
	OtelEndpoint      string
	OtelProtocol      string
	OtelSamplingRatio float64
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "railgate"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      environment,
		AuthCookieSecure: authCookieSecure,

		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		Issuer:             strings.TrimRight(getenv("OAUTH_ISSUER", "http://localhost:8080"), "/"),
		TrustedProxyHeader: strings.TrimSpace(getenv("TRUSTED_PROXY_HEADER", "X-Forwarded-For")),
		LoginURL:           getenv("LOGIN_UI_URL", "/login"),
		ConsentURL:         getenv("CONSENT_UI_URL", "/consent"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "railgate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		StoreTimeout:      getenvDuration("STORE_TIMEOUT", 3*time.Second),

		OAuth: OAuthConfig{
			CodeTTL:             getenvDuration("OAUTH_CODE_TTL", 10*time.Minute),
			AccessTokenTTL:      getenvDuration("OAUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL:     getenvDuration("OAUTH_REFRESH_TOKEN_TTL", 30*24*time.Hour),
			SessionTTL:          getenvDuration("AUTH_SESSION_TTL", 12*time.Hour),
			SessionMaxLifetime:  getenvDuration("AUTH_SESSION_MAX_LIFETIME", 24*time.Hour),
			MaxVerifyFailures:   getenvInt("OAUTH_CODE_MAX_VERIFY_FAILURES", 3),
			RequirePKCEAll:      getenvBool("OAUTH_REQUIRE_PKCE_ALL", false),
			RevokeFamilyOnReuse: getenvBool("OAUTH_REVOKE_FAMILY_ON_REUSE", true),
			SigningKeyFile:      strings.TrimSpace(getenv("OAUTH_SIGNING_KEY_FILE", "")),
			ClientRegistryFile:  strings.TrimSpace(getenv("OAUTH_CLIENTS_FILE", "")),
			ClientCacheTTL:      getenvDuration("OAUTH_CLIENT_CACHE_TTL", time.Minute),
			PermissionCacheTTL:  getenvDuration("RBAC_PERMISSION_CACHE_TTL", 5*time.Minute),
			PurgeInterval:       getenvDuration("OAUTH_PURGE_INTERVAL", time.Hour),
		},
		Lockout: LockoutConfig{
			MaxFailures: getenvInt("AUTH_LOCKOUT_MAX_FAILURES", 5),
			Cooldown:    getenvDuration("AUTH_LOCKOUT_COOLDOWN", 15*time.Minute),
		},
		Limits: RateLimitConfig{
			Backend:     strings.ToLower(getenv("RATE_LIMIT_BACKEND", BackendMemory)),
			LoginLimit:  getenvInt("RATE_LIMIT_LOGIN", 5),
			LoginWindow: getenvDuration("RATE_LIMIT_LOGIN_WINDOW", 5*time.Minute),
			TokenLimit:  getenvInt("RATE_LIMIT_TOKEN", 20),
			TokenWindow: getenvDuration("RATE_LIMIT_TOKEN_WINDOW", time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Audit: AuditConfig{
			BufferSize:   getenvInt("AUDIT_BUFFER_SIZE", 1024),
			WriteTimeout: getenvDuration("AUDIT_WRITE_TIMEOUT", 2*time.Second),
		},
		Bootstrap: BootstrapConfig{
			AdminUsername: strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_USERNAME", "")),
			AdminPassword: getenv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
		Telemetry: TelemetryConfig{
			LogLevel:          strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:         strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			SlowQuery:         getenvDuration("DATABASE_SLOW_QUERY", 200*time.Millisecond),
			LogQueries:        getenvBool("DATABASE_LOG_QUERIES", false),
			OtelEnabled:       getenvBool("OTEL_ENABLED", environment == "production"),
			OtelEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OtelProtocol:      strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("15m") or plain seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}
