package state

import (
	"context"
	"fmt"
)

// Backend stores and locks run records.
type Backend interface {
	// Read loads the last record, or nil when none exists yet.
	Read(ctx context.Context) (*Record, error)

	// Write persists a record, replacing any previous one.
	Write(ctx context.Context, rec *Record) error

	// Lock acquires an exclusive lock for the duration of a run.
	Lock() error

	// Unlock releases the lock.
	Unlock() error
}

// BackendConfig selects and configures a record backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local" or "s3"
	Config map[string]string `json:"config"`
}

// NewBackend creates a record backend from configuration.
func NewBackend(cfg *BackendConfig) (Backend, error) {
	if cfg == nil || cfg.Type == "" || cfg.Type == "local" {
		path := ""
		if cfg != nil {
			path = cfg.Config["path"]
		}
		return NewLocal(path), nil
	}
	switch cfg.Type {
	case "s3":
		return newS3Backend(cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
