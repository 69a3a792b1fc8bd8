package llm

import (
	"context"
	"testing"
	"time"
)

func noopSleep(ctx context.Context, d time.Duration) error { return nil }

func TestResilientClientSucceedsWithoutRetry(t *testing.T) {
	inner := NewMockClient()
	client := NewResilientClientWithSleep(inner, DefaultResilientConfig(), noopSleep)

	result, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content == "" {
		t.Fatalf("expected non-empty content")
	}
}

func TestResilientClientRetriesTransientThenSucceeds(t *testing.T) {
	inner := NewScriptedMockClient(func(attempt int, req CompletionRequest) (CompletionResult, error) {
		if attempt < 3 {
			return CompletionResult{}, ProviderFailure{Status: 503}
		}
		return CompletionResult{Content: "ok", TokensUsed: 10}, nil
	})

	var delays []time.Duration
	client := NewResilientClientWithSleep(inner, DefaultResilientConfig(), func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})

	result, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "ok" {
		t.Fatalf("expected eventual success, got %+v", result)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 retry delays, got %d", len(delays))
	}
	if delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("expected delays [1s, 2s], got %v", delays)
	}
}

func TestResilientClientPropagatesTerminalImmediately(t *testing.T) {
	attempts := 0
	inner := NewScriptedMockClient(func(attempt int, req CompletionRequest) (CompletionResult, error) {
		attempts++
		return CompletionResult{}, ProviderFailure{Status: 401}
	})
	client := NewResilientClientWithSleep(inner, DefaultResilientConfig(), noopSleep)

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err == nil {
		t.Fatalf("expected terminal error to propagate")
	}
	classified := Classify(err)
	if classified.Kind != KindTerminal || classified.Code != "INVALID_API_KEY" {
		t.Fatalf("expected Terminal{INVALID_API_KEY}, got %+v", classified)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a terminal error, got %d", attempts)
	}
}

func TestResilientClientExhaustsRetriesAndPropagates(t *testing.T) {
	attempts := 0
	inner := NewScriptedMockClient(func(attempt int, req CompletionRequest) (CompletionResult, error) {
		attempts++
		return CompletionResult{}, ProviderFailure{Status: 503}
	})
	client := NewResilientClientWithSleep(inner, ResilientConfig{MaxRetries: 2, BaseDelay: time.Second}, noopSleep)

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err == nil {
		t.Fatalf("expected exhausted transient error to propagate")
	}
	if attempts != 3 {
		t.Fatalf("expected 1 initial + 2 retries = 3 attempts, got %d", attempts)
	}
}

func TestResilientClientHonorsRetryAfterOverride(t *testing.T) {
	inner := NewScriptedMockClient(func(attempt int, req CompletionRequest) (CompletionResult, error) {
		if attempt < 2 {
			return CompletionResult{}, ProviderFailure{Status: 429, RetryAfterSeconds: 5}
		}
		return CompletionResult{Content: "ok"}, nil
	})
	var delays []time.Duration
	client := NewResilientClientWithSleep(inner, DefaultResilientConfig(), func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})

	if _, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(delays) != 1 || delays[0] != 5*time.Second {
		t.Fatalf("expected retryAfter override of 5s, got %v", delays)
	}
}

func TestCountTokensDelegates(t *testing.T) {
	client := NewResilientClientWithSleep(NewMockClient(), DefaultResilientConfig(), noopSleep)
	if client.CountTokens("abcd") != 1 {
		t.Fatalf("expected 1 token for 4 chars")
	}
}
