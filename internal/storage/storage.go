package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/studynotes/internal/config"
)

// ErrNotFound is returned by Open when the key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore abstracts blob storage backends.
type ObjectStore interface {
	// Save stores data under key, replacing any previous object.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for the object, or ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// New creates an ObjectStore based on config: local disk by default, S3
// when a bucket is set, or local-primary with S3 backup when LocalCache is on.
// Returns an error if S3 is configured but unreachable.
func New(ctx context.Context, cfg config.S3Config, dir string, log zerolog.Logger) (ObjectStore, error) {
	if !cfg.Enabled() {
		return NewLocalStore(dir), nil
	}

	s3store, err := NewS3Store(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(checkCtx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, nil
	}
	return NewTieredStore(s3store, NewLocalStore(dir), log), nil
}
