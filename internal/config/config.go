package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Lockout  LockoutConfig
	Alert    AlertConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	RunMigrations     bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
}

type AuthConfig struct {
	TokenSecret        string
	SessionIdleTimeout time.Duration // sliding window, renewed on use
	SessionMaxLifetime time.Duration // absolute cap, baked into the token exp
	TouchInterval      time.Duration // minimum gap between renewal writes
	MfaTokenExpiry     time.Duration
	TotpEncryptionKey  []byte // 32 bytes, AES-256
	TotpIssuer         string
	CookieSecure       bool
	CleanupInterval    time.Duration
	AttemptRetention   time.Duration
}

type LockoutConfig struct {
	AccountThreshold int           // failed attempts per account before lockout
	IPThreshold      int           // failed attempts per IP before lockout
	Window           time.Duration // rolling window for counting failures
	AccountSteps     []time.Duration
	IPBaseLockout    time.Duration
	MaxLockout       time.Duration
}

type AlertConfig struct {
	AWSRegion       string
	FromAddress     string
	OperatorAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	tokenSecret := getEnv("TOKEN_SECRET", "")
	if tokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET is required")
	}

	env := getEnv("ENV", "development")

	totpKey, err := parseTotpKey(getEnv("TOTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatehouse"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			RunMigrations:     getEnvAsBool("DB_RUN_MIGRATIONS", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
		},
		Auth: AuthConfig{
			TokenSecret:        tokenSecret,
			SessionIdleTimeout: getEnvAsDuration("SESSION_IDLE_TIMEOUT", 2*time.Hour),
			SessionMaxLifetime: getEnvAsDuration("SESSION_MAX_LIFETIME", 24*time.Hour),
			TouchInterval:      getEnvAsDuration("SESSION_TOUCH_INTERVAL", 1*time.Minute),
			MfaTokenExpiry:     getEnvAsDuration("MFA_TOKEN_EXPIRY", 5*time.Minute),
			TotpEncryptionKey:  totpKey,
			TotpIssuer:         getEnv("TOTP_ISSUER", "Gatehouse Admin"),
			CookieSecure:       env == "production" || getEnvAsBool("COOKIE_SECURE", false),
			CleanupInterval:    getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			AttemptRetention:   getEnvAsDuration("ATTEMPT_RETENTION", 48*time.Hour),
		},
		Lockout: LockoutConfig{
			AccountThreshold: getEnvAsInt("LOCKOUT_ACCOUNT_THRESHOLD", 5),
			IPThreshold:      getEnvAsInt("LOCKOUT_IP_THRESHOLD", 10),
			Window:           getEnvAsDuration("LOCKOUT_WINDOW", 15*time.Minute),
			AccountSteps: []time.Duration{
				1 * time.Minute,
				5 * time.Minute,
				30 * time.Minute,
				24 * time.Hour,
			},
			IPBaseLockout: getEnvAsDuration("LOCKOUT_IP_BASE", 15*time.Minute),
			MaxLockout:    getEnvAsDuration("LOCKOUT_MAX", 24*time.Hour),
		},
		Alert: AlertConfig{
			AWSRegion:       getEnv("ALERT_AWS_REGION", ""),
			FromAddress:     getEnv("ALERT_FROM_ADDRESS", ""),
			OperatorAddress: getEnv("ALERT_OPERATOR_ADDRESS", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateTokenSecret(tokenSecret, env); err != nil {
		return nil, err
	}

	if cfg.Auth.SessionIdleTimeout > cfg.Auth.SessionMaxLifetime {
		return nil, fmt.Errorf("SESSION_IDLE_TIMEOUT cannot exceed SESSION_MAX_LIFETIME")
	}

	return cfg, nil
}

// validateTokenSecret enforces minimum strength for the signing secret
func validateTokenSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("TOKEN_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("TOKEN_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// parseTotpKey decodes the optional hex-encoded AES-256 key for TOTP secret
// storage. Empty means MFA setup is disabled.
func parseTotpKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{}
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: admin UI dev servers
	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
