// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP auth API listens on (e.g. :8081).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// SessionStore selects the session backend: memory, postgres or redis.
	SessionStore string `mapstructure:"SESSION_STORE"`
	// DatabaseURL is the Postgres DSN. Required for the postgres store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is a redis:// URL. Required for the redis store.
	RedisURL string `mapstructure:"REDIS_URL"`
	// RedisRetention keeps claimed session records in Redis past their expiry (e.g. "24h").
	RedisRetention string `mapstructure:"REDIS_RETENTION"`

	// JWTAccessSecret signs access tokens: an inline secret, inline PEM private key, or a path to either.
	JWTAccessSecret string `mapstructure:"JWT_ACCESS_SECRET"`
	// JWTRefreshSecret signs refresh tokens. Must differ from JWTAccessSecret.
	JWTRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// JWTLeeway is the clock-skew tolerance for exp checks (e.g. "30s").
	JWTLeeway string `mapstructure:"JWT_LEEWAY"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// CookieName is the refresh token cookie name.
	CookieName string `mapstructure:"COOKIE_NAME"`
	// CookieSecure sets the Secure attribute. Must be true in production.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`
	// CookieSameSite is strict, lax or none.
	CookieSameSite string `mapstructure:"COOKIE_SAMESITE"`
	// CookiePath scopes the refresh cookie.
	CookiePath string `mapstructure:"COOKIE_PATH"`

	// OTLPEndpoint is the OTLP gRPC collector (e.g. localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. Empty disables the audit stream.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the topic for session audit events.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabaseURL reads only DATABASE_URL, for tools such as cmd/migrate that
// run without signing secrets.
func LoadDatabaseURL() (string, error) {
	cfg, err := read()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return "", errors.New("config: DATABASE_URL must be set")
	}
	return cfg.DatabaseURL, nil
}

func read() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("SESSION_STORE", StoreMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_RETENTION", "24h")
	v.SetDefault("JWT_ACCESS_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_ISSUER", "refreshguard")
	v.SetDefault("JWT_AUDIENCE", "refreshguard-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("JWT_LEEWAY", "0s")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("COOKIE_NAME", "refresh_token")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("COOKIE_SAMESITE", "strict")
	v.SetDefault("COOKIE_PATH", "/")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "refreshguard-audit")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.JWTAccessSecret == "" || c.JWTRefreshSecret == "" {
		return errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be set")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	for name, raw := range map[string]string{
		"JWT_ACCESS_TTL":  c.JWTAccessTTL,
		"JWT_REFRESH_TTL": c.JWTRefreshTTL,
	} {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("config: %s must be a positive duration, got %q", name, raw)
		}
	}
	if c.AccessTTL() >= c.RefreshTTL() {
		return errors.New("config: JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL")
	}
	if d, err := time.ParseDuration(c.JWTLeeway); err != nil || d < 0 {
		return fmt.Errorf("config: JWT_LEEWAY must be a non-negative duration, got %q", c.JWTLeeway)
	}

	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	c.SessionStore = strings.ToLower(strings.TrimSpace(c.SessionStore))
	switch c.SessionStore {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: SESSION_STORE=postgres requires DATABASE_URL")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("config: SESSION_STORE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("config: SESSION_STORE must be memory, postgres or redis, got %q", c.SessionStore)
	}

	if c.CookieName == "" {
		return errors.New("config: COOKIE_NAME must be set")
	}
	if _, err := parseSameSite(c.CookieSameSite); err != nil {
		return err
	}
	if c.IsProduction() && !c.CookieSecure {
		return errors.New("config: COOKIE_SECURE must be true when APP_ENV=production")
	}
	if strings.EqualFold(c.CookieSameSite, "none") && !c.CookieSecure {
		return errors.New("config: COOKIE_SAMESITE=none requires COOKIE_SECURE=true")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// Leeway parses JWTLeeway. Returns 0 if unset or invalid.
func (c *Config) Leeway() time.Duration {
	d, err := time.ParseDuration(c.JWTLeeway)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// RedisRetentionDuration parses RedisRetention. Returns 24h if unset or invalid.
func (c *Config) RedisRetentionDuration() time.Duration {
	d, err := time.ParseDuration(c.RedisRetention)
	if err != nil || d < 0 {
		return 24 * time.Hour
	}
	return d
}

// SameSite returns the cookie SameSite mode. Validated at Load.
func (c *Config) SameSite() http.SameSite {
	mode, _ := parseSameSite(c.CookieSameSite)
	return mode
}

func parseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	}
	return 0, fmt.Errorf("config: COOKIE_SAMESITE must be strict, lax or none, got %q", s)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka audit stream.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
