package provider

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Retry configuration defaults.
const (
	defaultMaxRetries  = 5
	defaultInitBackoff = 1 * time.Second
	defaultMaxBackoff  = 60 * time.Second
	backoffFactor      = 2.0
	jitterFraction     = 0.25
)

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxRetries  int
	InitBackoff time.Duration
	MaxBackoff  time.Duration

	// rng overrides the jitter source in tests.
	rng func() float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.InitBackoff <= 0 {
		c.InitBackoff = defaultInitBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.rng == nil {
		c.rng = rand.Float64
	}
	return c
}

// Delay returns the backoff for a 0-based attempt number: exponential
// growth capped at MaxBackoff, with up to ±25% jitter. Pure with
// respect to everything except the jitter source, so schedules are
// testable independent of any transport.
func (c RetryConfig) Delay(attempt int) time.Duration {
	c = c.withDefaults()
	backoff := float64(c.InitBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= backoffFactor
		if backoff >= float64(c.MaxBackoff) {
			backoff = float64(c.MaxBackoff)
			break
		}
	}
	jitter := 1 + jitterFraction*(2*c.rng()-1)
	d := time.Duration(backoff * jitter)
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// Retrying wraps a Provider with bounded retry on transient failures.
type Retrying struct {
	inner Provider
	cfg   RetryConfig
}

// NewRetrying wraps p with the given retry bounds.
func NewRetrying(p Provider, cfg RetryConfig) *Retrying {
	return &Retrying{inner: p, cfg: cfg.withDefaults()}
}

// Chat invokes the wrapped provider, retrying transient failures with
// exponential backoff and jitter. Fatal errors return immediately. The
// context is checked before every sleep so cancellation is honored at
// the suspension point.
func (r *Retrying) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		resp, err := r.inner.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if IsFatal(err) {
			return nil, fmt.Errorf("fatal provider error: %w", err)
		}
		if !IsTransient(err) {
			return nil, fmt.Errorf("provider chat failed: %w", err)
		}
		if attempt == r.cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.Delay(attempt)):
		}
	}
	return nil, fmt.Errorf("provider chat failed after %d retries: %w", r.cfg.MaxRetries, lastErr)
}
