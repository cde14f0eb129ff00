package storage

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
)

// TieredStore keeps the archive on local disk and mirrors it to a remote
// store. Local disk answers reads; the remote fills in after a restart on
// a fresh volume.
type TieredStore struct {
	remote ObjectStore
	local  *LocalStore
	log    zerolog.Logger
}

func NewTieredStore(remote ObjectStore, local *LocalStore, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		remote: remote,
		local:  local,
		log:    log.With().Str("component", "tiered-store").Logger(),
	}
}

// Save fails only when the local write fails. A failed mirror write is
// logged.
func (s *TieredStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.local.Save(ctx, key, data, contentType); err != nil {
		return err
	}
	if err := s.remote.Save(ctx, key, data, contentType); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("remote mirror write failed")
	}
	return nil
}

// Open prefers the local copy. A remote hit is written back locally.
func (s *TieredStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.local.Open(ctx, key)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, ErrNotFound) {
		s.log.Debug().Err(err).Str("key", key).Msg("local read failed, trying remote")
	}

	rr, err := s.remote.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rr.Close()
	data, err := io.ReadAll(rr)
	if err != nil {
		return nil, err
	}
	if err := s.local.Save(ctx, key, data, ""); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache remote object locally")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *TieredStore) Exists(ctx context.Context, key string) bool {
	return s.local.Exists(ctx, key) || s.remote.Exists(ctx, key)
}

func (s *TieredStore) Type() string { return "tiered" }
