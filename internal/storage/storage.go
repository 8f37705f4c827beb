// Package storage keeps image blobs by file name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"muistot/api/internal/config"
)

var ErrNotFound = errors.New("file not found")

type Store interface {
	Save(ctx context.Context, name string, r io.Reader, size int64, mime string) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
}

// New builds the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.FilesConfig) (Store, error) {
	switch cfg.Driver {
	case "disk":
		return NewDiskStore(cfg.Location)
	case "s3":
		store, err := NewObjectStore(cfg.S3)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown files driver %q", cfg.Driver)
	}
}
