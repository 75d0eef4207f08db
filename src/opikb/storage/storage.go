// Package storage provides the artifact stores the archive stage publishes
// build outputs to.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Backend defines the interface for artifact stores
type Backend interface {
	// Upload stores size bytes from reader under key
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// List lists objects with the given prefix
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete deletes an object
	Delete(ctx context.Context, key string) error

	// Ping checks if the store is reachable
	Ping(ctx context.Context) error

	// Type returns the backend type
	Type() string

	// Location returns a human-readable location description
	Location() string
}

// ObjectInfo holds metadata about a stored artifact
type ObjectInfo struct {
	Key          string    `json:"key" yaml:"key"`
	Size         int64     `json:"size" yaml:"size"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
}

// Config holds the artifact store configuration. An empty Type disables
// archiving altogether.
type Config struct {
	// Type is the backend type: "local", "s3" or empty
	Type string

	// Local storage configuration
	Local LocalConfig

	// S3 storage configuration
	S3 S3Config
}

// Enabled reports whether an artifact store is configured
func (c Config) Enabled() bool {
	return c.Type != ""
}

// New creates a new storage backend based on configuration
func New(cfg Config) (Backend, error) {
	switch cfg.Type {
	case "s3":
		return NewS3(cfg.S3)
	case "local":
		return NewLocal(cfg.Local)
	default:
		return nil, fmt.Errorf("unknown artifact store type %q", cfg.Type)
	}
}
