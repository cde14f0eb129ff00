package keyrotation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/studynotes/internal/metrics"
)

// RetryPolicy controls same-key retries for transient failures
// (network errors, HTTP 429 and 5xx). Quota and auth failures never
// use it; they move on to the next key instead.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is suitable for quota-limited Google and OpenAI style APIs.
var DefaultRetryPolicy = RetryPolicy{
	MaxTries:        3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// Pool is an ordered list of credentials for one quota-limited service.
// The cursor points at the key that last succeeded, so the next call
// starts there instead of re-burning exhausted keys.
type Pool struct {
	name  string
	keys  []string
	retry RetryPolicy
	log   zerolog.Logger

	mu      sync.Mutex
	current int
}

// Option customizes a Pool.
type Option func(*Pool)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(rp RetryPolicy) Option {
	return func(p *Pool) { p.retry = rp }
}

// NewPool creates a pool named name (used in logs and metrics).
// Blank keys are dropped. An empty pool is allowed here but every call
// on it fails with ConfigurationError before touching the network.
func NewPool(name string, keys []string, log zerolog.Logger, opts ...Option) *Pool {
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	p := &Pool{
		name:  name,
		keys:  clean,
		retry: DefaultRetryPolicy,
		log:   log.With().Str("component", "keyrotation").Str("pool", name).Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Len returns the number of usable keys.
func (p *Pool) Len() int { return len(p.keys) }

// Current returns the cursor: the index of the key that last succeeded.
func (p *Pool) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Pool) setCurrent(idx int) {
	p.mu.Lock()
	p.current = idx
	p.mu.Unlock()
}

// Call invokes fn with each key in pool order starting at the cursor,
// wrapping around, at most once per key.
//
// A quota/auth failure advances to the next key. A transient failure is
// retried on the same key per the pool's RetryPolicy. Any other failure
// is returned as-is without trying further keys. If every key fails with
// a quota/auth error, Call returns *AllKeysExhaustedError after exactly
// Len() key attempts.
func Call[T any](ctx context.Context, p *Pool, endpoint string, fn func(ctx context.Context, key string) (T, error)) (T, error) {
	var zero T
	n := len(p.keys)
	if n == 0 {
		return zero, &ConfigurationError{Pool: p.name}
	}

	start := p.Current()
	var causes []error
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		res, err := attempt(ctx, p, idx, fn)
		if err == nil {
			p.setCurrent(idx)
			return res, nil
		}
		if !IsQuotaError(err) {
			return zero, err
		}
		causes = append(causes, err)

		if i < n-1 {
			next := (idx + 1) % n
			metrics.KeyRotationsTotal.WithLabelValues(p.name, endpoint).Inc()
			p.log.Warn().
				Err(err).
				Str("endpoint", endpoint).
				Int("from", idx).
				Int("to", next).
				Msg("key rejected, switching to next key")
		}
	}

	p.log.Error().Str("endpoint", endpoint).Int("keys", n).Msg("all keys exhausted")
	return zero, &AllKeysExhaustedError{Pool: p.name, Endpoint: endpoint, Attempts: n, Causes: causes}
}

// Do is Call for operations without a result value.
func (p *Pool) Do(ctx context.Context, endpoint string, fn func(ctx context.Context, key string) error) error {
	_, err := Call(ctx, p, endpoint, func(ctx context.Context, key string) (struct{}, error) {
		return struct{}{}, fn(ctx, key)
	})
	return err
}

// attempt runs fn with one key, retrying transient failures on that key.
func attempt[T any](ctx context.Context, p *Pool, idx int, fn func(ctx context.Context, key string) (T, error)) (T, error) {
	key := p.keys[idx]
	op := func() (T, error) {
		res, err := fn(ctx, key)
		if err == nil {
			return res, nil
		}
		if IsTransient(err) {
			return res, err
		}
		return res, backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retry.InitialInterval
	bo.MaxInterval = p.retry.MaxInterval

	tries := p.retry.MaxTries
	if tries == 0 {
		tries = 1
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(tries))
}
