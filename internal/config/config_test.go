package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Env:      "dev",
		LogLevel: "debug",
		BaseURL:  "https://pin.example.com",
		HTTP: HTTPConfig{
			HTTPPort:  8080,
			HTTPSPort: 443,
		},
		DB: DBConfig{
			Driver:         "sqlite",
			DSN:            "tiltboard.db",
			ConnectTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			SessionCookie: "tiltboard_session",
			SessionTTL:    24 * time.Hour,
			ResetTTL:      30 * time.Minute,
		},
	}
}

func TestValidateOK(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr string
	}{
		{"empty", "", "missing"},
		{"no scheme", "pin.example.com", `must use "http" or "https"`},
		{"bad scheme", "ftp://pin.example.com", `must use "http" or "https"`},
		{"with path", "https://pin.example.com/app", "bare origin"},
		{"with query", "https://pin.example.com?x=1", "bare origin"},
		{"with credentials", "https://user:pw@pin.example.com", "credentials"},
		{"ok with port", "http://localhost:8080", ""},
		{"ok with trailing slash", "https://pin.example.com/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.BaseURL = tt.baseURL
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateGoogleCredentialsPaired(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.GoogleClientID = "id-only"
	if err := Validate(cfg); err == nil {
		t.Fatal("Validate() = nil, want error for unpaired google credentials")
	}
	cfg.Auth.GoogleClientSecret = "secret"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateDriver(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Driver = "oracle"
	if err := Validate(cfg); err == nil {
		t.Fatal("Validate() = nil, want error for unknown db_driver")
	}
}

func TestValidateTLSConsistency(t *testing.T) {
	cfg := validConfig()
	cfg.TLS.UseLetsEncrypt = true
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "use_https") {
		t.Fatalf("Validate() = %v, want use_https consistency error", err)
	}

	cfg = validConfig()
	cfg.HTTP.UseHTTPS = true
	err = Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "CERT_FILE") {
		t.Fatalf("Validate() = %v, want manual TLS cert error", err)
	}
}

func TestValidateSMTPNeedsFrom(t *testing.T) {
	cfg := validConfig()
	cfg.SMTP.Host = "smtp.example.com"
	if err := Validate(cfg); err == nil {
		t.Fatal("Validate() = nil, want error for smtp_host without smtp_from")
	}
	cfg.SMTP.From = "noreply@example.com"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestCanonicalHost(t *testing.T) {
	cfg := validConfig()
	if got := cfg.CanonicalHost(); got != "pin.example.com" {
		t.Errorf("CanonicalHost() = %q, want %q", got, "pin.example.com")
	}
	cfg.BaseURL = "http://localhost:8080"
	if got := cfg.CanonicalHost(); got != "localhost:8080" {
		t.Errorf("CanonicalHost() = %q, want %q", got, "localhost:8080")
	}
}

func TestParseDurationFlexible(t *testing.T) {
	def := 10 * time.Second
	tests := []struct {
		raw  interface{}
		want time.Duration
		err  bool
	}{
		{"90s", 90 * time.Second, false},
		{"2m", 2 * time.Minute, false},
		{"120", 120 * time.Second, false},
		{"", def, false},
		{"nope", def, true},
		{int(5), 5 * time.Second, false},
		{int64(7), 7 * time.Second, false},
		{float64(1.5), 1500 * time.Millisecond, false},
		{nil, def, false},
		{"-3s", def, true},
	}
	for _, tt := range tests {
		got, err := parseDurationFlexible(tt.raw, def)
		if got != tt.want {
			t.Errorf("parseDurationFlexible(%v) = %v, want %v", tt.raw, got, tt.want)
		}
		if (err != nil) != tt.err {
			t.Errorf("parseDurationFlexible(%v) error = %v, want err=%v", tt.raw, err, tt.err)
		}
	}
}
