package providers

import (
	"context"
	"time"

	"github.com/forgewright/coreloop/internal/retry"
)

// BaseProvider carries the Retry Driver's backoff schedule shared by every
// concrete provider's own retry loop, so a rate-limited Anthropic request
// and a rate-limited OpenAI request back off on the same deterministic
// curve as internal/retry.Do rather than each provider hand-rolling its own
// exponential-backoff math.
type BaseProvider struct {
	name string
	cfg  retry.Config
}

// NewBaseProvider builds a BaseProvider with an exponential (factor 2)
// backoff schedule starting at retryDelay, capped at maxRetries attempts
// after the first.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{
		name: name,
		cfg: retry.Config{
			MaxRetryAttempts: maxRetries,
			InitialBackoff:   retryDelay,
			BackoffFactor:    2,
			MinDelay:         retryDelay,
		},
	}
}

// MaxRetries returns the number of retry attempts after the first.
func (b *BaseProvider) MaxRetries() int {
	return b.cfg.MaxRetryAttempts
}

// Delay returns the Retry Driver's deterministic backoff before retry
// attempt n (1-indexed): see retry.Config.Delay.
func (b *BaseProvider) Delay(attempt int) time.Duration {
	return b.cfg.Delay(attempt)
}

// Retry executes op, retrying up to MaxRetries additional times while
// isRetryable(err) holds, sleeping the Retry Driver's backoff delay between
// attempts.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxRetryAttempts+1; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt > b.cfg.MaxRetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.Delay(attempt)):
		}
	}
	return lastErr
}
