// Package config handles loading and managing maileyo configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	BindAddr     string   `toml:"bind_addr"`     // Listen address (default: 127.0.0.1)
	Port         int      `toml:"port"`          // HTTP server port (default: 8000)
	CORSOrigins  []string `toml:"cors_origins"`  // Origins allowed to send credentialed requests
	CookieDomain string   `toml:"cookie_domain"` // Domain attribute for session cookies
	CookieSecure bool     `toml:"cookie_secure"` // Secure attribute for session cookies
	FrontendURL  string   `toml:"frontend_url"`  // Redirect target after login
	AdminAPIKey  string   `toml:"admin_api_key"` // Key for /admin endpoints; empty disables them
	RateLimitRPS float64  `toml:"rate_limit_rps"`
	RateBurst    int      `toml:"rate_burst"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable only behind a reverse proxy that sets them.
	TrustProxyHeaders bool `toml:"trust_proxy_headers"`
}

// OAuthConfig holds Google OAuth client configuration.
type OAuthConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// AuthConfig holds session and token-custody secrets.
type AuthConfig struct {
	JWTSecret         string `toml:"jwt_secret"`
	EncryptionSecret  string `toml:"encryption_secret"`
	SessionTTLMinutes int    `toml:"session_ttl_minutes"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"`
}

// GmailConfig tunes the Gmail API client.
type GmailConfig struct {
	RateLimitQPS float64 `toml:"rate_limit_qps"`
	Concurrency  int     `toml:"concurrency"`
	UseBatch     bool    `toml:"use_batch"`
	MaxRetries   int     `toml:"max_retries"` // Retries for 429, 5xx and network errors
}

// MaintenanceConfig defines cron schedules for housekeeping jobs.
type MaintenanceConfig struct {
	Enabled        bool   `toml:"enabled"`
	PruneSessions  string `toml:"prune_sessions"` // Cron expression
	PruneTokens    string `toml:"prune_tokens"`   // Cron expression
	RunImmediately bool   `toml:"run_immediately"`
}

// Config represents the maileyo configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	OAuth       OAuthConfig       `toml:"oauth"`
	Auth        AuthConfig        `toml:"auth"`
	Data        DataConfig        `toml:"data"`
	Gmail       GmailConfig       `toml:"gmail"`
	Maintenance MaintenanceConfig `toml:"maintenance"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	ConfigPath string `toml:"-"`
}

// DefaultHome returns the default maileyo home directory.
// Respects MAILEYO_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MAILEYO_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maileyo"
	}
	return filepath.Join(home, ".maileyo")
}

// Defaults returns a configuration populated with default values rooted at homeDir.
func Defaults(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Server: ServerConfig{
			BindAddr:     "127.0.0.1",
			Port:         8000,
			CookieSecure: true,
			FrontendURL:  "http://localhost:5173",
			CORSOrigins: []string{
				"http://localhost:5173",
				"http://localhost:8000",
				"http://localhost:8080",
			},
			RateLimitRPS: 10,
			RateBurst:    20,
		},
		OAuth: OAuthConfig{
			RedirectURI: "http://localhost:8000/auth/google/callback",
		},
		Auth: AuthConfig{
			SessionTTLMinutes: 7 * 24 * 60,
		},
		Data: DataConfig{
			DataDir: homeDir,
		},
		Gmail: GmailConfig{
			RateLimitQPS: 5,
			Concurrency:  10,
			UseBatch:     true,
			MaxRetries:   5,
		},
		Maintenance: MaintenanceConfig{
			Enabled:       true,
			PruneSessions: "0 * * * *",
			PruneTokens:   "30 3 * * *",
		},
	}
}

// Load reads the configuration from the specified file.
// If path is empty, uses <home>/config.toml. If homeDir is empty,
// DefaultHome is used. A missing config file is not an error; environment
// overrides are applied either way.
func Load(path, homeDir string) (*Config, error) {
	if homeDir == "" {
		homeDir = DefaultHome()
	} else {
		homeDir = expandPath(homeDir)
	}

	explicit := path != ""
	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}
	path = expandPath(path)

	cfg := Defaults(homeDir)
	cfg.ConfigPath = path

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) || explicit {
			return nil, fmt.Errorf("config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyEnv()

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.Server.FrontendURL = strings.TrimRight(cfg.Server.FrontendURL, "/")

	return cfg, nil
}

// applyEnv overrides secrets and deployment URLs from the environment.
func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.OAuth.ClientID, "GOOGLE_CLIENT_ID")
	set(&c.OAuth.ClientSecret, "GOOGLE_CLIENT_SECRET")
	set(&c.OAuth.RedirectURI, "GOOGLE_REDIRECT_URI")
	set(&c.Auth.JWTSecret, "JWT_SECRET_KEY")
	set(&c.Auth.EncryptionSecret, "FERNET_KEY")
	set(&c.Server.FrontendURL, "FRONTEND_URL")
	set(&c.Server.CookieDomain, "COOKIE_DOMAIN")
	set(&c.Data.DatabaseURL, "DATABASE_URL")
	set(&c.Server.AdminAPIKey, "MAILEYO_ADMIN_KEY")
}

// Validate reports configuration that would make the server unusable
// or insecure. All problems are returned joined together.
func (c *Config) Validate() error {
	var errs []error
	if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
		errs = append(errs, errors.New("oauth client_id and client_secret are required"))
	}
	if c.OAuth.RedirectURI == "" {
		errs = append(errs, errors.New("oauth redirect_uri is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth jwt_secret is required"))
	}
	if c.Auth.EncryptionSecret == "" {
		errs = append(errs, errors.New("auth encryption_secret is required"))
	}
	if !c.Server.CookieSecure {
		// Browsers drop SameSite=None cookies that are not Secure.
		errs = append(errs, errors.New("server cookie_secure=false breaks the SameSite=None session cookie"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.Gmail.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("gmail max_retries %d is negative", c.Gmail.MaxRetries))
	}
	if c.Maintenance.Enabled {
		for _, sched := range []struct{ key, expr string }{
			{"prune_sessions", c.Maintenance.PruneSessions},
			{"prune_tokens", c.Maintenance.PruneTokens},
		} {
			if sched.expr == "" {
				continue
			}
			if _, err := cron.ParseStandard(sched.expr); err != nil {
				errs = append(errs, fmt.Errorf("maintenance %s %q: %w", sched.key, sched.expr, err))
			}
		}
	}
	return errors.Join(errs...)
}

// SessionTTL returns the lifetime of issued session tokens.
func (c *Config) SessionTTL() time.Duration {
	if c.Auth.SessionTTLMinutes <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.Auth.SessionTTLMinutes) * time.Minute
}

// DatabaseDSN returns the database connection string.
// A configured URL wins (it may be PostgreSQL); otherwise the SQLite file in DataDir.
func (c *Config) DatabaseDSN() string {
	if c.Data.DatabaseURL != "" {
		return c.Data.DatabaseURL
	}
	return filepath.Join(c.Data.DataDir, "maileyo.db")
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddr, c.Server.Port)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
