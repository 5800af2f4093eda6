package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTempConfig(t, `{
		"server": {"addr": ":8080"},
		"auth": {"jwt_secret": "test-secret-at-least-32-chars-long"},
		"storage": {"driver": "sqlite", "dsn": "test.db"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected addr :8080, got %q", cfg.Server.Addr)
	}
	if cfg.Storage.DSN != "test.db" {
		t.Errorf("expected dsn test.db, got %q", cfg.Storage.DSN)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTempConfig(t, `{
		"server": {"addr": ":8080"},
		"auth": {"jwt_secret": "test-secret-at-least-32-chars-long"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.JWTExpiry.Duration != 24*time.Hour {
		t.Errorf("expected default JWT expiry 24h, got %v", cfg.Auth.JWTExpiry.Duration)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("expected default driver sqlite, got %q", cfg.Storage.Driver)
	}
	if cfg.Relay.CommandTimeout.Duration != 30*time.Second {
		t.Errorf("expected default command timeout 30s, got %v", cfg.Relay.CommandTimeout.Duration)
	}
	if cfg.Relay.MaxConnsPerUser != 10 {
		t.Errorf("expected default max conns per user 10, got %d", cfg.Relay.MaxConnsPerUser)
	}
	if cfg.Storage.AuditRetention.Duration != 30*24*time.Hour {
		t.Errorf("expected default audit retention 30d, got %v", cfg.Storage.AuditRetention.Duration)
	}
	if cfg.RateLimit.RequestsPerSecond != 10 || cfg.RateLimit.Burst != 20 {
		t.Errorf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoad_MissingAddr(t *testing.T) {
	path := writeTempConfig(t, `{
		"auth": {"jwt_secret": "test-secret-at-least-32-chars-long"}
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing server.addr")
	}
}

func TestLoad_MissingSecret(t *testing.T) {
	path := writeTempConfig(t, `{"server": {"addr": ":8080"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing jwt_secret with builtin auth")
	}
}

func TestLoad_ShortSecret(t *testing.T) {
	path := writeTempConfig(t, `{
		"server": {"addr": ":8080"},
		"auth": {"jwt_secret": "too-short"}
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for short jwt_secret")
	}
}

func TestLoad_WeakSecretBlocklist(t *testing.T) {
	path := writeTempConfig(t, `{
		"server": {"addr": ":8080"},
		"auth": {"jwt_secret": "cms-dev-secret-do-not-use-in-production!!"}
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for a well-known weak secret")
	}
}

func TestLoad_OIDCRequiresIssuer(t *testing.T) {
	path := writeTempConfig(t, `{
		"server": {"addr": ":8080"},
		"auth": {"provider": "oidc"}
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for oidc provider without issuer")
	}
}

func TestLoad_OIDCWithoutJWTSecret(t *testing.T) {
	// An external identity provider means no local secret is needed.
	path := writeTempConfig(t, `{
		"server": {"addr": ":8080"},
		"auth": {"provider": "oidc", "oidc_issuer": "https://id.example.com"}
	}`)
	if _, err := Load(path); err != nil {
		t.Fatalf("expected oidc config without jwt_secret to load, got %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := writeTempConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestDuration_UnmarshalString(t *testing.T) {
	path := writeTempConfig(t, `{
		"server": {"addr": ":8080"},
		"auth": {"jwt_secret": "test-secret-at-least-32-chars-long", "jwt_expiry": "2h"},
		"relay": {"command_timeout": "45s"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.JWTExpiry.Duration != 2*time.Hour {
		t.Errorf("expected 2h expiry, got %v", cfg.Auth.JWTExpiry.Duration)
	}
	if cfg.Relay.CommandTimeout.Duration != 45*time.Second {
		t.Errorf("expected 45s timeout, got %v", cfg.Relay.CommandTimeout.Duration)
	}
}

func TestDuration_UnmarshalNumberIsSeconds(t *testing.T) {
	path := writeTempConfig(t, `{
		"server": {"addr": ":8080"},
		"auth": {"jwt_secret": "test-secret-at-least-32-chars-long"},
		"relay": {"command_timeout": 10}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Relay.CommandTimeout.Duration != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.Relay.CommandTimeout.Duration)
	}
}

func TestGenerateRandomSecret(t *testing.T) {
	a, err := GenerateRandomSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateRandomSecret()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if a == b {
		t.Error("expected distinct secrets")
	}
}
