package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a row does not exist or belongs to another user.
var ErrNotFound = errors.New("not found")

const (
	maxConns       = 10
	minConns       = 2
	connectTimeout = 30 * time.Second
)

// DB is the note store: generated notes, their study aids and per-user
// preferences.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect opens the pool and waits up to 30s for Postgres to accept
// connections, so the service can start alongside its database.
func Connect(ctx context.Context, databaseURL string, log zerolog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	masked := maskDSN(databaseURL)
	ping := func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return struct{}{}, pool.Ping(pingCtx)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("url", masked).Dur("retry_in", wait).Msg("database not ready")
	}
	if _, err := backoff.Retry(ctx, ping,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(connectTimeout),
		backoff.WithNotify(notify),
	); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", masked, err)
	}

	log.Info().
		Str("url", masked).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("database connected")

	return &DB{Pool: pool, log: log}, nil
}

// HealthCheck pings the database with a short deadline.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

// maskDSN hides the password in a connection URL for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User == nil {
		return u.String()
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (db *DB) Close() {
	db.log.Info().Msg("closing database pool")
	db.Pool.Close()
}
