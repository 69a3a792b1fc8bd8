package llm

import (
	"context"
	"time"

	"github.com/haasonsaas/agentengine/internal/backoff"
)

// ResilientClient wraps a Client with C10's retry policy: terminal
// errors propagate immediately, transient errors retry up to maxRetries
// additional attempts with exponential backoff, honoring a
// classifier-supplied retryAfterMs override over the computed delay.
type ResilientClient struct {
	inner      Client
	maxRetries int
	baseDelay  time.Duration

	// sleep is the injection point for deterministic tests; it defaults
	// to a context-aware real sleep.
	sleep func(ctx context.Context, d time.Duration) error
}

// ResilientConfig configures a ResilientClient.
type ResilientConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultResilientConfig matches the specification's defaults:
// maxRetries=3, baseDelay=1s.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{MaxRetries: 3, BaseDelay: time.Second}
}

// NewResilientClient wraps inner with the given retry policy.
func NewResilientClient(inner Client, config ResilientConfig) *ResilientClient {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	return &ResilientClient{
		inner:      inner,
		maxRetries: config.MaxRetries,
		baseDelay:  config.BaseDelay,
		sleep:      backoff.SleepWithContext,
	}
}

// NewResilientClientWithSleep is NewResilientClient with an injectable
// sleep function, used by tests to assert exact retry delays without
// real waits.
func NewResilientClientWithSleep(inner Client, config ResilientConfig, sleep func(ctx context.Context, d time.Duration) error) *ResilientClient {
	c := NewResilientClient(inner, config)
	c.sleep = sleep
	return c
}

// Complete retries inner.Complete per the policy described above.
func (c *ResilientClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		result, err := c.inner.Complete(ctx, req)
		if err == nil {
			return result, nil
		}

		classified := Classify(err)
		lastErr = classified

		if classified.Kind == KindTerminal {
			return CompletionResult{}, classified
		}
		if attempt >= c.maxRetries {
			return CompletionResult{}, classified
		}

		delay := c.delayFor(classified, attempt+1)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return CompletionResult{}, sleepErr
		}
	}
	return CompletionResult{}, lastErr
}

// delayFor computes baseDelay * 2^(attempt-1), overridden by the
// classifier's retryAfterMs when it supplies one (e.g. a rate-limit
// response with a Retry-After header).
func (c *ResilientClient) delayFor(classified *ClassifiedError, attempt int) time.Duration {
	if classified.RetryAfterMs > 0 {
		return time.Duration(classified.RetryAfterMs) * time.Millisecond
	}
	policy := backoff.BackoffPolicy{
		InitialMs: float64(c.baseDelay.Milliseconds()),
		MaxMs:     float64(c.baseDelay.Milliseconds()) * (1 << 20),
		Factor:    2,
		Jitter:    0,
	}
	return backoff.ComputeBackoffWithRand(policy, attempt, 0)
}

// CountTokens delegates to the wrapped client.
func (c *ResilientClient) CountTokens(text string) int {
	return c.inner.CountTokens(text)
}
