// Package storage provides object storage for media uploads and job
// exports, backed by the local filesystem or S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned when the named object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// Store is the object storage contract.
type Store interface {
	Put(ctx context.Context, key string, contentType string, body io.Reader) (*ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Config selects and configures a storage backend.
type Config struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // "local" or "s3"
	Path    string `yaml:"path" mapstructure:"path"`       // local root directory
	Bucket  string `yaml:"bucket" mapstructure:"bucket"`   // s3 bucket
	Prefix  string `yaml:"prefix" mapstructure:"prefix"`   // s3 key prefix
	Region  string `yaml:"region" mapstructure:"region"`
}

// Open creates a Store from the config. The default backend is local.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.Path)
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
