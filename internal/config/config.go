// internal/config/config.go
// Package config loads tiltboard configuration from (highest precedence
// first) explicitly set flags, TILTBOARD_* environment variables, a
// config.{yaml,yml,json,toml} file, and built-in defaults.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// HTTPConfig groups HTTP/HTTPS port and timeout settings.
type HTTPConfig struct {
	HTTPPort  int  `mapstructure:"http_port"`
	HTTPSPort int  `mapstructure:"https_port"`
	UseHTTPS  bool `mapstructure:"use_https"`

	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
}

// TLSConfig groups TLS / ACME settings.
type TLSConfig struct {
	CertFile            string `mapstructure:"cert_file"`
	KeyFile             string `mapstructure:"key_file"`
	UseLetsEncrypt      bool   `mapstructure:"use_lets_encrypt"`
	LetsEncryptEmail    string `mapstructure:"lets_encrypt_email"`
	LetsEncryptCacheDir string `mapstructure:"lets_encrypt_cache_dir"`
	Domain              string `mapstructure:"domain"`
}

// CORSConfig groups CORS behavior and lists.
type CORSConfig struct {
	EnableCORS           bool     `mapstructure:"enable_cors"`
	CORSAllowedOrigins   []string `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string `mapstructure:"cors_allowed_headers"`
	CORSAllowCredentials bool     `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int      `mapstructure:"cors_max_age"`
}

// DBConfig selects the SQL backend.
type DBConfig struct {
	// Driver is "sqlite", "postgres", or "mysql".
	Driver string `mapstructure:"db_driver"`
	// DSN is the driver-specific connection string. For sqlite it is a
	// file path (default "tiltboard.db").
	DSN            string        `mapstructure:"db_dsn"`
	ConnectTimeout time.Duration `mapstructure:"db_connect_timeout"`
}

// AuthConfig holds login, session, and reset-token settings.
type AuthConfig struct {
	GoogleClientID     string        `mapstructure:"google_client_id"`
	GoogleClientSecret string        `mapstructure:"google_client_secret"`
	SessionCookie      string        `mapstructure:"session_cookie"`
	SessionTTL         time.Duration `mapstructure:"session_ttl"`
	// RedisAddr, when set, switches session storage from memory to Redis.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	// ResetSecret signs password-reset tokens. Required for local accounts.
	ResetSecret string        `mapstructure:"reset_secret"`
	ResetTTL    time.Duration `mapstructure:"reset_ttl"`
}

// SMTPConfig configures outbound notification mail. Leaving Host empty
// disables email entirely.
type SMTPConfig struct {
	Host     string `mapstructure:"smtp_host"`
	Port     int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"smtp_username"`
	Password string `mapstructure:"smtp_password"`
	From     string `mapstructure:"smtp_from"`
	FromName string `mapstructure:"smtp_from_name"`
}

// Config is the full tiltboard configuration.
type Config struct {
	// runtime
	Env      string `mapstructure:"env"`       // "dev" | "prod"
	LogLevel string `mapstructure:"log_level"` // debug, info, warn, error …

	// BaseURL is the canonical origin of this deployment, e.g.
	// "https://pin.example.com". It is the only source of truth for
	// building absolute redirect targets; request Host headers are never
	// used for that purpose.
	BaseURL string `mapstructure:"base_url"`

	HTTP HTTPConfig `mapstructure:",squash"`
	TLS  TLSConfig  `mapstructure:",squash"`
	CORS CORSConfig `mapstructure:",squash"`
	DB   DBConfig   `mapstructure:",squash"`
	Auth AuthConfig `mapstructure:",squash"`
	SMTP SMTPConfig `mapstructure:",squash"`

	MaxRequestBodyBytes int64 `mapstructure:"max_request_body_bytes"`
}

// CanonicalHost returns the host[:port] component of BaseURL. Load
// guarantees BaseURL parses, so this never fails after a successful Load.
func (c *Config) CanonicalHost() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Load merges defaults → config file → env vars → explicit flags into one
// Config. Final precedence (highest wins): flags(explicit) > env > config > defaults.
func Load(logger *zap.Logger) (*Config, error) {
	// Optionally load .env (real env still wins over .env).
	if err := godotenv.Load(); err == nil && logger != nil {
		logger.Info("Loaded .env file")
	}

	defineFlags()
	pflag.Parse()

	v := viper.New()
	v.SetEnvPrefix("TILTBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, k := range allKeys() {
		_ = v.BindEnv(k)
	}

	// Optional config.* files (yaml|yml|json|toml).
	for _, ext := range [...]string{"yaml", "yml", "json", "toml"} {
		file := "config." + ext
		if _, err := os.Stat(file); err != nil {
			continue
		}
		b, err := os.ReadFile(file)
		if err != nil {
			if logger != nil {
				logger.Warn("cannot read config file", zap.String("file", file), zap.Error(err))
			}
			continue
		}
		v.SetConfigType(ext)
		if err := v.MergeConfig(bytes.NewReader(b)); err != nil {
			if logger != nil {
				logger.Warn("cannot decode config file", zap.String("file", file), zap.Error(err))
			}
			continue
		}
		if logger != nil {
			logger.Info("Loaded config file", zap.String("file", file))
		}
	}

	setDefaults(v)

	// Only explicitly set flags override.
	pflag.CommandLine.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Duration keys may arrive as strings or bare seconds.
	cfg.DB.ConnectTimeout = durationKey(logger, v, "db_connect_timeout", 10*time.Second)
	cfg.Auth.SessionTTL = durationKey(logger, v, "session_ttl", 24*time.Hour)
	cfg.Auth.ResetTTL = durationKey(logger, v, "reset_ttl", 30*time.Minute)
	cfg.HTTP.ReadTimeout = durationKey(logger, v, "read_timeout", 15*time.Second)
	cfg.HTTP.ReadHeaderTimeout = durationKey(logger, v, "read_header_timeout", 5*time.Second)
	cfg.HTTP.WriteTimeout = durationKey(logger, v, "write_timeout", 30*time.Second)
	cfg.HTTP.IdleTimeout = durationKey(logger, v, "idle_timeout", 60*time.Second)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defineFlags() {
	pflag.String("env", "dev", `Runtime environment "dev"|"prod"`)
	pflag.String("log_level", "debug", "Log level")

	pflag.String("base_url", "http://localhost:8080", "Canonical origin of this deployment")

	pflag.Int("http_port", 8080, "HTTP port")
	pflag.Int("https_port", 443, "HTTPS port")
	pflag.Bool("use_https", false, "Serve HTTPS")

	pflag.Bool("use_lets_encrypt", false, "Use Let's Encrypt")
	pflag.String("lets_encrypt_email", "", "ACME account e-mail")
	pflag.String("lets_encrypt_cache_dir", "letsencrypt-cache", "ACME cache dir")
	pflag.String("cert_file", "", "TLS cert file (manual TLS)")
	pflag.String("key_file", "", "TLS key file  (manual TLS)")
	pflag.String("domain", "", "Domain for TLS or ACME")

	pflag.Bool("enable_cors", false, "Enable CORS")
	pflag.StringSlice("cors_allowed_origins", nil, "CORS allowed origins")
	pflag.StringSlice("cors_allowed_methods", nil, "CORS allowed methods")
	pflag.StringSlice("cors_allowed_headers", nil, "CORS allowed headers")
	pflag.Bool("cors_allow_credentials", false, "CORS: allow credentials")
	pflag.Int("cors_max_age", 0, "CORS: max age seconds")

	pflag.String("db_driver", "sqlite", `Database driver: "sqlite"|"postgres"|"mysql"`)
	pflag.String("db_dsn", "tiltboard.db", "Database connection string")
	pflag.String("db_connect_timeout", "10s", "Startup timeout for DB connection")

	pflag.String("google_client_id", "", "Google OAuth2 client ID")
	pflag.String("google_client_secret", "", "Google OAuth2 client secret")
	pflag.String("session_cookie", "tiltboard_session", "Session cookie name")
	pflag.String("session_ttl", "24h", "Session lifetime")
	pflag.String("redis_addr", "", "Redis address for session storage (empty = in-memory)")
	pflag.String("redis_password", "", "Redis password")
	pflag.String("reset_secret", "", "Secret for signing password-reset tokens")
	pflag.String("reset_ttl", "30m", "Password-reset token lifetime")

	pflag.String("smtp_host", "", "SMTP host (empty disables email)")
	pflag.Int("smtp_port", 587, "SMTP port")
	pflag.String("smtp_username", "", "SMTP username")
	pflag.String("smtp_password", "", "SMTP password")
	pflag.String("smtp_from", "", "Notification sender address")
	pflag.String("smtp_from_name", "tiltboard", "Notification sender display name")

	pflag.Int64("max_request_body_bytes", 2<<20, "Max HTTP request body size in bytes (0 = unlimited)")
}

func allKeys() []string {
	return []string{
		"env", "log_level", "base_url",
		"http_port", "https_port", "use_https",
		"read_timeout", "read_header_timeout", "write_timeout", "idle_timeout",
		"use_lets_encrypt", "lets_encrypt_email", "lets_encrypt_cache_dir",
		"cert_file", "key_file", "domain",
		"enable_cors", "cors_allowed_origins", "cors_allowed_methods",
		"cors_allowed_headers", "cors_allow_credentials", "cors_max_age",
		"db_driver", "db_dsn", "db_connect_timeout",
		"google_client_id", "google_client_secret",
		"session_cookie", "session_ttl", "redis_addr", "redis_password",
		"reset_secret", "reset_ttl",
		"smtp_host", "smtp_port", "smtp_username", "smtp_password",
		"smtp_from", "smtp_from_name",
		"max_request_body_bytes",
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "debug")
	v.SetDefault("base_url", "http://localhost:8080")

	v.SetDefault("http_port", 8080)
	v.SetDefault("https_port", 443)
	v.SetDefault("use_https", false)
	v.SetDefault("read_timeout", "15s")
	v.SetDefault("read_header_timeout", "5s")
	v.SetDefault("write_timeout", "30s")
	v.SetDefault("idle_timeout", "60s")

	v.SetDefault("use_lets_encrypt", false)
	v.SetDefault("lets_encrypt_email", "")
	v.SetDefault("lets_encrypt_cache_dir", "letsencrypt-cache")
	v.SetDefault("cert_file", "")
	v.SetDefault("key_file", "")
	v.SetDefault("domain", "")

	v.SetDefault("enable_cors", false)
	v.SetDefault("cors_allowed_origins", []string{})
	v.SetDefault("cors_allowed_methods", []string{})
	v.SetDefault("cors_allowed_headers", []string{})
	v.SetDefault("cors_allow_credentials", false)
	v.SetDefault("cors_max_age", 0)

	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "tiltboard.db")
	v.SetDefault("db_connect_timeout", "10s")

	v.SetDefault("google_client_id", "")
	v.SetDefault("google_client_secret", "")
	v.SetDefault("session_cookie", "tiltboard_session")
	v.SetDefault("session_ttl", "24h")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("reset_secret", "")
	v.SetDefault("reset_ttl", "30m")

	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_username", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("smtp_from", "")
	v.SetDefault("smtp_from_name", "tiltboard")

	v.SetDefault("max_request_body_bytes", int64(2<<20))
}

func durationKey(logger *zap.Logger, v *viper.Viper, key string, def time.Duration) time.Duration {
	dur, err := parseDurationFlexible(v.Get(key), def)
	if err != nil && logger != nil {
		logger.Warn("invalid duration; using default",
			zap.String("key", key),
			zap.Any("value", v.Get(key)),
			zap.Duration("default", def),
			zap.Error(err))
	}
	return dur
}

// Validate checks cross-field consistency and reports every problem at
// once so operators can fix a config file in a single pass.
func Validate(cfg *Config) error {
	var missing []string
	var invalid []string

	// Canonical origin. This is what the auth flow trusts, so it is held
	// to a strict shape: absolute http(s) URL, host, nothing else.
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		missing = append(missing, "TILTBOARD_BASE_URL (or --base_url)")
	} else if u, err := url.Parse(base); err != nil {
		invalid = append(invalid, fmt.Sprintf("base_url does not parse: %v", err))
	} else {
		if u.Scheme != "http" && u.Scheme != "https" {
			invalid = append(invalid, `base_url must use "http" or "https"`)
		}
		if u.Host == "" {
			invalid = append(invalid, "base_url must include a host")
		}
		if u.User != nil {
			invalid = append(invalid, "base_url must not carry credentials")
		}
		if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
			invalid = append(invalid, "base_url must be a bare origin (no path, query, or fragment)")
		}
	}

	switch cfg.DB.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		invalid = append(invalid, fmt.Sprintf("db_driver %q must be sqlite, postgres, or mysql", cfg.DB.Driver))
	}
	if strings.TrimSpace(cfg.DB.DSN) == "" {
		missing = append(missing, "TILTBOARD_DB_DSN (or --db_dsn)")
	}
	if cfg.DB.ConnectTimeout <= 0 {
		invalid = append(invalid, "db_connect_timeout must be > 0")
	}

	// Google login is optional, but half a credential pair is a mistake.
	if (cfg.Auth.GoogleClientID == "") != (cfg.Auth.GoogleClientSecret == "") {
		invalid = append(invalid, "google_client_id and google_client_secret must be set together")
	}
	if cfg.Auth.SessionTTL <= 0 {
		invalid = append(invalid, "session_ttl must be > 0")
	}
	if cfg.Auth.ResetTTL <= 0 {
		invalid = append(invalid, "reset_ttl must be > 0")
	}

	// TLS / ACME consistency.
	if cfg.TLS.UseLetsEncrypt && !cfg.HTTP.UseHTTPS {
		invalid = append(invalid, "use_lets_encrypt=true requires use_https=true")
	}
	if cfg.TLS.UseLetsEncrypt && (strings.TrimSpace(cfg.TLS.CertFile) != "" || strings.TrimSpace(cfg.TLS.KeyFile) != "") {
		invalid = append(invalid, "use_lets_encrypt=true cannot be combined with cert_file/key_file")
	}
	if cfg.TLS.UseLetsEncrypt {
		if strings.TrimSpace(cfg.TLS.Domain) == "" {
			missing = append(missing, "TILTBOARD_DOMAIN (or --domain) for Let's Encrypt")
		}
		if s := strings.TrimSpace(cfg.TLS.LetsEncryptEmail); s == "" {
			missing = append(missing, "TILTBOARD_LETS_ENCRYPT_EMAIL (or --lets_encrypt_email)")
		} else if !strings.Contains(s, "@") {
			invalid = append(invalid, "lets_encrypt_email must look like an email address")
		}
	}
	if cfg.HTTP.UseHTTPS && !cfg.TLS.UseLetsEncrypt {
		if strings.TrimSpace(cfg.TLS.CertFile) == "" || strings.TrimSpace(cfg.TLS.KeyFile) == "" {
			missing = append(missing, "TILTBOARD_CERT_FILE and TILTBOARD_KEY_FILE for manual TLS")
		}
	}

	if cfg.HTTP.HTTPPort <= 0 || cfg.HTTP.HTTPPort > 65535 {
		invalid = append(invalid, "http_port must be in 1..65535")
	}
	if cfg.HTTP.HTTPSPort <= 0 || cfg.HTTP.HTTPSPort > 65535 {
		invalid = append(invalid, "https_port must be in 1..65535")
	}
	if cfg.HTTP.UseHTTPS && cfg.HTTP.HTTPPort == cfg.HTTP.HTTPSPort {
		invalid = append(invalid, "http_port and https_port cannot be equal when use_https=true")
	}

	if cfg.CORS.EnableCORS {
		if len(cfg.CORS.CORSAllowedOrigins) == 0 {
			missing = append(missing, "cors_allowed_origins required when enable_cors=true")
		}
		for _, o := range cfg.CORS.CORSAllowedOrigins {
			if o == "*" && cfg.CORS.CORSAllowCredentials {
				invalid = append(invalid, `CORS: cannot use "*" in cors_allowed_origins when cors_allow_credentials=true`)
				break
			}
		}
	}

	// SMTP is all-or-nothing.
	if cfg.SMTP.Host != "" && strings.TrimSpace(cfg.SMTP.From) == "" {
		missing = append(missing, "TILTBOARD_SMTP_FROM when smtp_host is set")
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(invalid, ", "))
	}
	return fmt.Errorf("configuration errors: %s", strings.Join(parts, " | "))
}
