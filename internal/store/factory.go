package store

import (
	"fmt"

	"github.com/LoGGGG2402/computer-management-system-sub001/internal/config"
)

// New creates a Store based on the configured driver.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Driver)
	}
}
