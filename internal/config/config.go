package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (or an optional .env file).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Bolna    BolnaConfig
	Plivo    PlivoConfig
	Dispatch DispatchConfig
	CORS     CORSConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	// URL, when set, takes precedence over the discrete fields below.
	URL string

	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// MaxConns caps the shared pool. Overlapping invocations share one
	// small pool, so keep this conservative.
	MaxConns int
}

type RedisConfig struct {
	Host string
	Port int
}

// AuthConfig drives the session-cookie auth paths.
// Secret doubles as the X-Admin-Key value for operational access.
type AuthConfig struct {
	Secret      string
	SessionTTL  time.Duration
	DisableAuth bool

	// DemoUsers is the login allow-list, parsed from DEMO_USERS
	// (JSON array of {email, password}).
	DemoUsers []DemoUser
}

type DemoUser struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type BolnaConfig struct {
	Base       string
	APIVersion string
	APIKey     string

	// AgentID is the fallback agent used when a dispatch request names none.
	AgentID string

	// WebhookURL, when set, is passed on every start-call request so the
	// provider pushes execution updates back to /webhooks/bolna.
	WebhookURL string

	// OutboundCallerID is the configured caller id used both as the dispatch
	// from-number default and for analytics direction inference.
	OutboundCallerID string
}

// PlivoConfig drives the second-provider inbound sync. The whole feature is
// optional: with no credentials the endpoint reports a validation error and
// the periodic sync never starts.
type PlivoConfig struct {
	AuthID    string
	AuthToken string

	// LookbackMin is the default sync window in minutes.
	LookbackMin int
	// PageLimit is the page size for call listing.
	PageLimit int
	// SyncInterval, when positive, runs the inbound sync on a timer.
	SyncInterval time.Duration
}

func (c PlivoConfig) Enabled() bool {
	return c.AuthID != "" && c.AuthToken != ""
}

type DispatchConfig struct {
	// MaxConcurrent bounds in-flight start-call requests per dispatch.
	MaxConcurrent int
}

type CORSConfig struct {
	Origins  []string
	AllowAll bool
}

func Load() (Config, error) {
	// Best effort; the env-file is optional outside local development.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	if c.App.Env == "" {
		c.App.Env = "local"
	}
	c.App.Port = optInt("APP_PORT", 8080)

	c.DB.URL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = optInt("DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.MaxConns = optInt("DB_MAX_CONNS", 3)

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = optInt("REDIS_PORT", 6379)

	c.Auth.Secret = os.Getenv("JWT_SECRET")
	c.Auth.SessionTTL = optDuration("SESSION_TTL", 12*time.Hour)
	c.Auth.DisableAuth = os.Getenv("DISABLE_AUTH") == "1"
	if raw := strings.TrimSpace(os.Getenv("DEMO_USERS")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Auth.DemoUsers); err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("DEMO_USERS must be a JSON array: %w", err))
		}
	}

	c.Bolna.Base = strings.TrimSpace(os.Getenv("BOLNA_BASE"))
	if c.Bolna.Base == "" {
		c.Bolna.Base = "https://api.bolna.ai"
	}
	c.Bolna.APIVersion = strings.TrimSpace(os.Getenv("BOLNA_API_VERSION"))
	c.Bolna.APIKey = os.Getenv("BOLNA_API_KEY")
	c.Bolna.AgentID = strings.TrimSpace(os.Getenv("BOLNA_AGENT_ID"))
	c.Bolna.WebhookURL = strings.TrimSpace(os.Getenv("BOLNA_WEBHOOK_URL"))
	c.Bolna.OutboundCallerID = strings.TrimSpace(os.Getenv("OUTBOUND_CALLER_ID"))

	c.Plivo.AuthID = strings.TrimSpace(os.Getenv("PLIVO_AUTH_ID"))
	c.Plivo.AuthToken = os.Getenv("PLIVO_AUTH_TOKEN")
	c.Plivo.LookbackMin = optInt("PLIVO_SYNC_LOOKBACK_MIN", 240)
	c.Plivo.PageLimit = optInt("PLIVO_SYNC_PAGE_LIMIT", 50)
	c.Plivo.SyncInterval = optDuration("PLIVO_SYNC_INTERVAL", 0)

	c.Dispatch.MaxConcurrent = optInt("DISPATCH_MAX_CONCURRENT", 3)

	c.CORS.Origins = splitCSV(os.Getenv("CORS_ORIGINS"))
	for _, o := range c.CORS.Origins {
		if o == "*" {
			c.CORS.AllowAll = true
		}
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.URL == "" {
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DATABASE_URL or DB_HOST is required"))
		}
		if c.DB.Host != "" && c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Host != "" && c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	if c.DB.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be > 0, got %d", c.DB.MaxConns))
	}

	// Redis is optional; the agent cache and sync lock degrade without it.
	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.Secret == "" && !c.Auth.DisableAuth {
		errs = append(errs, errors.New("JWT_SECRET is required unless DISABLE_AUTH=1"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be a positive duration"))
	}

	if c.Bolna.APIKey == "" {
		errs = append(errs, errors.New("BOLNA_API_KEY is required"))
	}

	if (c.Plivo.AuthID == "") != (c.Plivo.AuthToken == "") {
		errs = append(errs, errors.New("PLIVO_AUTH_ID and PLIVO_AUTH_TOKEN must be set together"))
	}

	if c.Dispatch.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_CONCURRENT must be > 0, got %d", c.Dispatch.MaxConcurrent))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	if c.DB.URL != "" {
		return c.DB.URL
	}
	sslMode := c.DB.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		sslMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func optInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func optDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
