package auth

import (
	"context"
	"testing"
	"time"

	"github.com/LoGGGG2402/computer-management-system-sub001/internal/config"
	"github.com/LoGGGG2402/computer-management-system-sub001/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := config.AuthConfig{
		JWTSecret: "test-secret-at-least-32-chars-long",
		JWTExpiry: config.Duration{Duration: 1 * time.Hour},
	}
	return NewService(s, cfg), s
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "bob", "correct-horse-battery", "user")
	if err != nil {
		t.Fatal(err)
	}
	if user.ID == "" || user.Username != "bob" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.PasswordHash == "correct-horse-battery" {
		t.Fatal("password must not be stored in plaintext")
	}

	token, err := svc.Login(ctx, "bob", "correct-horse-battery")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}

	identity, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("token validation failed: %v", err)
	}
	if identity.UserID != user.ID || identity.Username != "bob" || identity.Role != "user" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "carol", "the-right-password", "user"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Login(ctx, "carol", "the-wrong-password"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "no-such-user", "whatever-pass"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "dave", "password12345", "user"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, "dave", "password12345", "user"); err != ErrUserExists {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.ValidateToken(context.Background(), "not.a.jwt"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "eve", "password12345", "user"); err != nil {
		t.Fatal(err)
	}
	token, err := svc.Login(ctx, "eve", "password12345")
	if err != nil {
		t.Fatal(err)
	}

	other := NewService(s, config.AuthConfig{
		JWTSecret: "another-secret-at-least-32-chars!!",
		JWTExpiry: config.Duration{Duration: 1 * time.Hour},
	})
	if _, err := other.ValidateToken(ctx, token); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized with a different secret, got %v", err)
	}
}

func TestBootstrapAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	admin := &config.InitialAdmin{Username: "root", Password: "bootstrap-pass"}
	if err := svc.BootstrapAdmin(ctx, admin); err != nil {
		t.Fatal(err)
	}

	token, err := svc.Login(ctx, "root", "bootstrap-pass")
	if err != nil {
		t.Fatalf("bootstrapped admin cannot log in: %v", err)
	}
	identity, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if identity.Role != "admin" {
		t.Errorf("expected admin role, got %q", identity.Role)
	}

	// Bootstrapping again must not overwrite the existing user.
	admin.Password = "different-pass"
	if err := svc.BootstrapAdmin(ctx, admin); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Login(ctx, "root", "bootstrap-pass"); err != nil {
		t.Error("original password must survive a repeated bootstrap")
	}
}

func TestAgentTokenRoundTrip(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	token, hash, err := svc.GenerateAgentToken()
	if err != nil {
		t.Fatal(err)
	}
	if token == "" || hash == "" || token == hash {
		t.Fatalf("unexpected token material: token=%q hash=%q", token, hash)
	}
	if svc.HashAgentToken(token) != hash {
		t.Fatal("hash must be deterministic")
	}

	if err := s.CreateRoom(ctx, &store.Room{ID: "r1", Name: "lab", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateComputer(ctx, &store.Computer{
		ID: "c1", RoomID: "r1", Name: "pc", TokenHash: hash,
		LastSeen: time.Now(), CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	if !svc.ValidateAgentToken(ctx, "c1", token) {
		t.Error("valid token must be accepted")
	}
	if svc.ValidateAgentToken(ctx, "c1", "wrong-token") {
		t.Error("wrong token must be rejected")
	}
	if svc.ValidateAgentToken(ctx, "no-such-computer", token) {
		t.Error("unknown computer must be rejected")
	}
}

func TestGenerateAgentToken_Unique(t *testing.T) {
	svc, _ := newTestService(t)
	a, _, err := svc.GenerateAgentToken()
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := svc.GenerateAgentToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected distinct tokens")
	}
}
