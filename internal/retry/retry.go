// Package retry drives the Retry Driver: it reclassifies each failure from
// a completion attempt via IsRetryable and sequences retries with
// exponential backoff on top of github.com/cenkalti/backoff/v5.
package retry

import (
	"context"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config configures the Retry Driver.
type Config struct {
	// MaxRetryAttempts is the number of additional attempts after the first.
	MaxRetryAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// BackoffFactor scales the delay between attempts.
	BackoffFactor float64
	// MaxDelay caps the computed delay, if set. Zero means uncapped.
	MaxDelay time.Duration
	// MinDelay is the floor every computed delay is raised to.
	MinDelay time.Duration
	// RetryStatusCodes are the HTTP status codes treated as retryable.
	RetryStatusCodes []int
}

// DefaultConfig mirrors the retry driver's documented production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetryAttempts: 3,
		InitialBackoff:   1000 * time.Millisecond,
		BackoffFactor:    2,
		MinDelay:         500 * time.Millisecond,
		RetryStatusCodes: []int{429, 500, 502, 503, 504},
	}
}

// ConfigFromEnv returns DefaultConfig with any of the four FORGE_RETRY_*
// environment variables overriding their corresponding field. An unset or
// unparsable variable leaves the default in place.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("FORGE_RETRY_INITIAL_BACKOFF_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.InitialBackoff = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("FORGE_RETRY_BACKOFF_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.BackoffFactor = f
		}
	}
	if v := os.Getenv("FORGE_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetryAttempts = n
		}
	}
	if v := os.Getenv("FORGE_RETRY_STATUS_CODES"); v != "" {
		var codes []int
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if n, err := strconv.Atoi(part); err == nil {
				codes = append(codes, n)
			}
		}
		if len(codes) > 0 {
			cfg.RetryStatusCodes = codes
		}
	}

	return cfg
}

// Delay computes the exact deterministic delay before retry attempt n
// (1-indexed): min(MaxDelay?, max(MinDelay, InitialBackoff * BackoffFactor^(n-1))).
func (c Config) Delay(n int) time.Duration {
	raw := float64(c.InitialBackoff) * math.Pow(c.BackoffFactor, float64(n-1))
	d := time.Duration(raw)
	if d < c.MinDelay {
		d = c.MinDelay
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// deterministicBackOff implements backoff.BackOff against Config.Delay,
// replacing backoff/v5's jittered ExponentialBackOff so the delay sequence
// stays exactly reproducible: the delay sequence is non-decreasing.
type deterministicBackOff struct {
	cfg     Config
	attempt int
}

func (d *deterministicBackOff) NextBackOff() time.Duration {
	d.attempt++
	return d.cfg.Delay(d.attempt)
}

// Reset restores the backoff to its initial state.
func (d *deterministicBackOff) Reset() {
	d.attempt = 0
}

// OnRetry is invoked once per retried attempt, before its backoff sleep, so
// a caller can surface a RetryAttempt chunk on the response stream. It is
// never invoked before the first attempt.
type OnRetry func(err error, nextDelay time.Duration)

// Do runs op, retrying on classifier-retryable errors with the deterministic
// backoff sequence described by cfg. A non-retryable error is returned
// immediately without consuming an attempt from MaxRetryAttempts. The final
// error, retryable or not, is returned unwrapped once attempts are
// exhausted.
func Do[T any](ctx context.Context, cfg Config, onRetry OnRetry, op func(ctx context.Context) (T, error)) (T, error) {
	b := &deterministicBackOff{cfg: cfg}

	wrapped := func() (T, error) {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		if !IsRetryable(err, cfg.RetryStatusCodes) {
			return val, backoff.Permanent(err)
		}
		// b.attempt+1 is the retry that would follow this failure; when the
		// attempt budget is already spent no retry follows, so onRetry must
		// not fire either.
		if onRetry != nil && b.attempt+1 <= cfg.MaxRetryAttempts {
			onRetry(err, cfg.Delay(b.attempt+1))
		}
		return val, err
	}

	maxTries := uint(cfg.MaxRetryAttempts) + 1
	return backoff.Retry(ctx, wrapped, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
}
