package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
)

// Key modes.
const (
	KeyModeEphemeral  = "ephemeral"
	KeyModePersistent = "persistent"
	KeyModeFile       = "file"
)

// Refresh token backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// MaxAccessTTL caps access token lifetime; access tokens are never revoked
// individually, so their lifetime is the revocation latency.
const MaxAccessTTL = 15 * time.Minute

type Config struct {
	Issuer     string        // Required: iss claim of every token
	Audience   []string      // Required: aud claim; the first entry is what this service expects
	Algorithm  string        // Optional: RS256 or ES256 (default: ES256)
	RSABits    int           // Optional: RSA modulus size for RS256 (default: 3072)
	AccessTTL  time.Duration // Optional: access token lifetime (default: 10m, max: 15m)
	RefreshTTL time.Duration // Optional: refresh token lifetime (default: 7d)
	ClockSkew  time.Duration // Optional: tolerance on exp/nbf (default: 30s)

	KeyMode             string        // Optional: ephemeral, persistent, file (default: ephemeral)
	KeyDir              string        // Required in file mode: directory of PEM private keys
	KeyLifetime         time.Duration // Optional: NotAfter of generated keys (default: 90d)
	KeyRotationInterval time.Duration // Optional: scheduled rotation, 0 disables (default: 0)
	MasterKeyPath       string        // Optional: master key file for sealing persisted keys

	DatabaseFile   string // Optional: path to SQLite database file (default: ./tokend.db)
	RefreshBackend string // Optional: sqlite or redis (default: sqlite)
	RedisAddr      string // Required with the redis backend
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string // Optional: key prefix (default: tokend)

	LoginToken string // Optional: bearer trusted callers present to POST /v1/sessions; logins are disabled when empty

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	return Config{
		Issuer:     os.Getenv("AUTH_ISSUER"),
		Audience:   getEnvListOrDefault("AUTH_AUDIENCE", nil),
		Algorithm:  getEnvOrDefault("AUTH_ALGORITHM", jwtx.ES256.String()),
		RSABits:    getEnvIntOrDefault("AUTH_RSA_BITS", 3072),
		AccessTTL:  getEnvDurationOrDefault("AUTH_ACCESS_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTTL: getEnvDurationOrDefault("AUTH_REFRESH_TTL", jwtx.DefaultRefreshTokenTTL),
		ClockSkew:  getEnvDurationOrDefault("AUTH_CLOCK_SKEW", 30*time.Second),

		KeyMode:             getEnvOrDefault("AUTH_KEY_MODE", KeyModeEphemeral),
		KeyDir:              os.Getenv("AUTH_KEY_DIR"),
		KeyLifetime:         getEnvDurationOrDefault("AUTH_KEY_LIFETIME", 90*24*time.Hour),
		KeyRotationInterval: getEnvDurationOrDefault("AUTH_KEY_ROTATION_INTERVAL", 0),
		MasterKeyPath:       os.Getenv("AUTH_MASTER_KEY_PATH"),

		DatabaseFile:   getEnvOrDefault("AUTH_DATABASE_FILE", "tokend.db"),
		RefreshBackend: getEnvOrDefault("AUTH_REFRESH_BACKEND", BackendSQLite),
		RedisAddr:      os.Getenv("AUTH_REDIS_ADDR"),
		RedisPassword:  os.Getenv("AUTH_REDIS_PASSWORD"),
		RedisDB:        getEnvIntOrDefault("AUTH_REDIS_DB", 0),
		RedisPrefix:    getEnvOrDefault("AUTH_REDIS_PREFIX", "tokend"),

		LoginToken: os.Getenv("AUTH_LOGIN_TOKEN"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}
}

// KeyGrace is how long a demoted key stays verifiable: long enough for the
// last refresh token it signed to expire.
func (c Config) KeyGrace() time.Duration {
	return c.RefreshTTL + c.ClockSkew
}

// IsProduction reports whether dev conveniences (ephemeral master key,
// swagger UI) must be off.
func (c Config) IsProduction() bool {
	return c.Env == "prod" || c.Env == "production"
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Issuer == "" {
		add("AUTH_ISSUER is required")
	}
	if len(c.Audience) == 0 {
		add("AUTH_AUDIENCE is required")
	}
	alg, err := jwtx.ParseAlgorithm(c.Algorithm)
	if err != nil {
		add("AUTH_ALGORITHM: %v", err)
	}
	if alg == jwtx.RS256 && c.RSABits < cryptox.MinRSABits {
		add("AUTH_RSA_BITS must be at least %d", cryptox.MinRSABits)
	}

	switch {
	case c.AccessTTL <= 0:
		add("AUTH_ACCESS_TTL must be positive")
	case c.AccessTTL > MaxAccessTTL:
		add("AUTH_ACCESS_TTL must be at most %s", MaxAccessTTL)
	}
	if c.RefreshTTL <= c.AccessTTL {
		add("AUTH_REFRESH_TTL must be longer than AUTH_ACCESS_TTL")
	}
	if c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute {
		add("AUTH_CLOCK_SKEW must be between 0 and 5m")
	}

	switch c.KeyMode {
	case KeyModeEphemeral, KeyModePersistent:
		if c.KeyLifetime <= c.KeyGrace()+c.HousekeepingInterval {
			add("AUTH_KEY_LIFETIME must exceed AUTH_REFRESH_TTL plus AUTH_CLOCK_SKEW plus HOUSEKEEPING_INTERVAL")
		}
		if c.KeyRotationInterval > 0 && c.KeyRotationInterval+c.KeyGrace() > c.KeyLifetime {
			add("AUTH_KEY_ROTATION_INTERVAL plus the retire grace must fit in AUTH_KEY_LIFETIME")
		}
	case KeyModeFile:
		if c.KeyDir == "" {
			add("AUTH_KEY_DIR is required in file key mode")
		}
		if c.KeyRotationInterval > 0 {
			add("AUTH_KEY_ROTATION_INTERVAL is not supported in file key mode")
		}
	default:
		add("AUTH_KEY_MODE must be one of ephemeral, persistent, file")
	}

	switch c.RefreshBackend {
	case BackendSQLite:
	case BackendRedis:
		if c.RedisAddr == "" {
			add("AUTH_REDIS_ADDR is required with the redis refresh backend")
		}
	default:
		add("AUTH_REFRESH_BACKEND must be sqlite or redis")
	}

	if c.IsProduction() && c.KeyMode == KeyModeEphemeral {
		add("ephemeral keys are not allowed in production")
	}
	if c.LoginToken != "" && len(c.LoginToken) < 32 {
		add("AUTH_LOGIN_TOKEN must be at least 32 characters")
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}

// getEnvListOrDefault splits a comma-separated value, dropping empty items.
func getEnvListOrDefault(key string, defaultValue []string) []string {
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
