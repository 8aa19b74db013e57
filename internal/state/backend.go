package state

import (
	"context"
	"fmt"

	"github.com/reef-io/reef/internal/ir"
)

// Backend defines the interface for durable state storage.
type Backend interface {
	// Read loads the state document. A missing document yields an empty
	// state, not an error.
	Read(ctx context.Context) (*ir.State, error)

	// Write persists the state document atomically: a concurrent reader
	// sees either the previous document or the new one, never a partial
	// write.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires an exclusive lock on the state.
	Lock() error

	// Unlock releases the lock on the state.
	Unlock() error
}

// BackendConfig selects and configures a state backend.
type BackendConfig struct {
	Type    string            `json:"type"` // "local", "s3"
	Options map[string]string `json:"options"`
}

// NewBackend creates a state backend from configuration.
func NewBackend(cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Options["path"]
		if path == "" {
			return nil, fmt.Errorf("local backend requires 'path' configuration")
		}
		return NewLocalBackend(path), nil
	case "s3":
		return newS3Backend(cfg.Options)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
