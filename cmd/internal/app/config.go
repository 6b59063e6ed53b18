package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// Browser origins allowed to call the REST API (CORS).
	CORSAllowedOrigins []string

	// Identity collaborator (PASETO v4.public verify).
	AuthIssuer       string
	AuthPublicKeyHex string
	AuthClockSkew    time.Duration

	// If true, "dev:<user>" bearer tokens are accepted. Local development only.
	AuthDevMode bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, KANVA_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and invite-token hashing must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("KANVA_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("KANVA_LOG_LEVEL", "info"),
		LogFormat: EnvString("KANVA_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("KANVA_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("KANVA_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("KANVA_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("KANVA_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("KANVA_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("KANVA_DATABASE_URL", ""),
		DBSchema:    EnvString("KANVA_DB_SCHEMA", "kanva"),
		DBMaxConns:  EnvInt32("KANVA_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("KANVA_DB_MIN_CONNS", 0),

		CORSAllowedOrigins: EnvStringSlice("KANVA_CORS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),

		AuthIssuer:       EnvString("KANVA_AUTH_ISSUER", "kanva-identity"),
		AuthPublicKeyHex: EnvString("KANVA_AUTH_PASETO_PUBLIC_KEY_HEX", ""),
		AuthClockSkew:    EnvDuration("KANVA_AUTH_CLOCK_SKEW", 30*time.Second),
		AuthDevMode:      EnvBool("KANVA_AUTH_DEV_MODE", false),

		ReadinessRequireDB: EnvBool("KANVA_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("KANVA_REQUIRE_TOKEN_HMAC", false),
	}
}
