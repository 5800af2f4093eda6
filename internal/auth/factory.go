package auth

import (
	"fmt"

	"github.com/LoGGGG2402/computer-management-system-sub001/internal/config"
	"github.com/LoGGGG2402/computer-management-system-sub001/internal/store"
)

// NewProvider creates an auth Provider based on configuration.
func NewProvider(cfg config.AuthConfig, s store.Store) (Provider, error) {
	switch cfg.Provider {
	case "", "builtin":
		return NewService(s, cfg), nil
	case "oidc":
		return NewOIDCProvider(cfg.OIDCIssuer)
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}
