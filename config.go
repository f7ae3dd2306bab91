package goSession

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/MrEthical07/goSession/cookie"
)

// EnvPrefix is the prefix of every variable read by ConfigFromEnv, e.g.
// GOSESSION_SESSION_DEFAULT_MAX_INACTIVE_INTERVAL=45m.
const EnvPrefix = "GOSESSION"

// Config defines a public type used by goSession APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Session SessionConfig `envconfig:"session"`
	Redis   RedisConfig   `envconfig:"redis"`
	Cookie  CookieConfig  `envconfig:"cookie"`
	Audit   AuditConfig   `envconfig:"audit"`
	Metrics MetricsConfig `envconfig:"metrics"`
	Log     LogConfig     `envconfig:"log"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime and attribute limits.
type SessionConfig struct {
	// DefaultMaxInactiveInterval is applied to every new session. Individual sessions may
	// override it through Manager.SetMaxInactiveInterval.
	DefaultMaxInactiveInterval time.Duration `envconfig:"default_max_inactive_interval"`
	// SweepInterval is the period of the background sweeper. Zero disables StartSweeper.
	SweepInterval time.Duration `envconfig:"sweep_interval"`
	// MaxAttributes caps attributes per session. Zero means unlimited.
	MaxAttributes int `envconfig:"max_attributes"`
	// MaxKeyLength caps attribute key length in bytes.
	MaxKeyLength int `envconfig:"max_key_length"`
}

/*
====================================
REDIS CONFIG
====================================
*/

// RedisConfig is used only when the Manager runs on a session.RedisStore built by the caller
// through NewRedisStore.
type RedisConfig struct {
	Addr       string        `envconfig:"addr"`
	Prefix     string        `envconfig:"prefix"`
	TTLGrace   time.Duration `envconfig:"ttl_grace"`
	MaxRetries int           `envconfig:"max_retries"`
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig describes the cookie that carries the session token.
type CookieConfig struct {
	Name     string `envconfig:"name"`
	Path     string `envconfig:"path"`
	Domain   string `envconfig:"domain"`
	Secure   bool   `envconfig:"secure"`
	SameSite string `envconfig:"same_site"` // "lax", "strict" or "none"
	// SigningKey enables the signed cookie envelope when non-empty.
	SigningKey string `envconfig:"signing_key"`
}

/*
====================================
AUDIT / METRICS / LOG CONFIG
====================================
*/

// AuditConfig defines a public type used by goSession APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool `envconfig:"enabled"`
	BufferSize int  `envconfig:"buffer_size"`
	DropIfFull bool `envconfig:"drop_if_full"`
}

// MetricsConfig defines a public type used by goSession APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool `envconfig:"enabled"`
	EnableLatencyHistograms bool `envconfig:"enable_latency_histograms"`
}

// LogConfig feeds NewLogger.
type LogConfig struct {
	Format string `envconfig:"format"` // "text" or "json"
	Level  string `envconfig:"level"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used when the Builder is given none.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			DefaultMaxInactiveInterval: 30 * time.Minute,
			SweepInterval:              time.Minute,
			MaxAttributes:              0,
			MaxKeyLength:               256,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			Prefix:     "gs",
			TTLGrace:   time.Minute,
			MaxRetries: 16,
		},
		Cookie: CookieConfig{
			Name:     "__Host-session",
			Path:     "/",
			Secure:   true,
			SameSite: "lax",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// ConfigFromEnv overlays GOSESSION_* environment variables on DefaultConfig and validates
// the result.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation fails.
// Validate does not mutate shared global state.
func (c *Config) Validate() error {
	// Session
	if c.Session.DefaultMaxInactiveInterval <= 0 {
		return errors.New("Session DefaultMaxInactiveInterval must be > 0")
	}
	if c.Session.SweepInterval < 0 {
		return errors.New("Session SweepInterval must be >= 0")
	}
	if c.Session.MaxAttributes < 0 {
		return errors.New("Session MaxAttributes must be >= 0")
	}
	if c.Session.MaxKeyLength <= 0 {
		return errors.New("Session MaxKeyLength must be > 0")
	}

	// Redis
	if c.Redis.Prefix == "" {
		return errors.New("Redis Prefix must not be empty")
	}
	if strings.ContainsAny(c.Redis.Prefix, " *?[]") {
		return errors.New("Redis Prefix must not contain spaces or glob characters")
	}
	if c.Redis.TTLGrace < 0 {
		return errors.New("Redis TTLGrace must be >= 0")
	}
	if c.Redis.MaxRetries < 0 {
		return errors.New("Redis MaxRetries must be >= 0")
	}

	// Cookie
	if c.Cookie.Name == "" {
		return errors.New("Cookie Name must not be empty")
	}
	if _, err := parseSameSite(c.Cookie.SameSite); err != nil {
		return err
	}
	if strings.HasPrefix(c.Cookie.Name, "__Host-") {
		if !c.Cookie.Secure || c.Cookie.Domain != "" || (c.Cookie.Path != "" && c.Cookie.Path != "/") {
			return errors.New("Cookie __Host- prefix requires Secure, Path=/ and no Domain")
		}
	}
	if strings.EqualFold(c.Cookie.SameSite, "none") && !c.Cookie.Secure {
		return errors.New("Cookie SameSite=None requires Secure")
	}
	if c.Cookie.SigningKey != "" && len(c.Cookie.SigningKey) < 32 {
		return errors.New("Cookie SigningKey must be at least 32 bytes")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

func parseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(s) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("Cookie SameSite %q must be lax, strict or none", s)
	}
}

// Options converts the cookie section to cookie.Options.
func (c CookieConfig) Options() cookie.Options {
	sameSite, err := parseSameSite(c.SameSite)
	if err != nil {
		sameSite = http.SameSiteLaxMode
	}
	return cookie.Options{
		Name:     c.Name,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		SameSite: sameSite,
		HTTPOnly: true,
	}
}

// Signer returns the cookie signer for SigningKey, or nil when signing is disabled.
func (c CookieConfig) Signer() (*cookie.Signer, error) {
	if c.SigningKey == "" {
		return nil, nil
	}
	return cookie.NewSigner(cookie.SignerConfig{
		Method: cookie.MethodHS256,
		Key:    []byte(c.SigningKey),
	})
}
