// Package llm wraps model-provider calls behind a single Client
// interface, classifying every failure into the Transient/Terminal
// taxonomy (C9) and retrying transient failures with exponential
// backoff (C10).
package llm

import (
	"errors"
	"strings"
)

// ErrorKind distinguishes a retryable failure from one that should
// propagate immediately.
type ErrorKind string

const (
	KindTransient ErrorKind = "TRANSIENT"
	KindTerminal  ErrorKind = "TERMINAL"
)

// ClassifiedError is the tagged Transient{code, retryAfterMs?} /
// Terminal{code} variant the error classifier produces.
type ClassifiedError struct {
	Kind         ErrorKind
	Code         string
	RetryAfterMs int64 // only meaningful when Kind == KindTransient
	Cause        error
}

func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + "[" + e.Code + "]: " + e.Cause.Error()
	}
	return string(e.Kind) + "[" + e.Code + "]"
}

func (e *ClassifiedError) Unwrap() error { return e.Cause }

// IsTransient reports whether err classifies as transient.
func IsTransient(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Kind == KindTransient
}

// ProviderFailure is the raw shape a provider adapter reports before
// classification: an HTTP-like status, a provider error code, and a
// message, mirroring what every adapter (Anthropic, OpenAI, mock) can
// extract from its own SDK error type.
type ProviderFailure struct {
	Status  int
	Code    string
	Message string

	// RetryAfterSeconds is populated from a provider's Retry-After
	// header, when present.
	RetryAfterSeconds int64
}

func (f ProviderFailure) Error() string { return f.Message }

// Classify implements C9's classification rules in the fixed order the
// specification lists them; the first matching rule wins.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*ClassifiedError); ok {
		return ce
	}

	var f ProviderFailure
	if !errors.As(err, &f) {
		f = ProviderFailure{Message: err.Error()}
	}
	code := strings.ToLower(f.Code)
	msg := strings.ToLower(f.Message)

	switch {
	case f.Status == 429 || code == "rate_limit_exceeded":
		retryAfter := int64(0)
		if f.RetryAfterSeconds > 0 {
			retryAfter = f.RetryAfterSeconds * 1000
		}
		return &ClassifiedError{Kind: KindTransient, Code: "RATE_LIMIT", RetryAfterMs: retryAfter, Cause: err}

	case isNetworkCode(code):
		return &ClassifiedError{Kind: KindTransient, Code: "NETWORK_ERROR", Cause: err}

	case code == "timeout" || strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return &ClassifiedError{Kind: KindTransient, Code: "TIMEOUT", Cause: err}

	case f.Status == 500 || f.Status == 502 || f.Status == 503 || f.Status == 504:
		return &ClassifiedError{Kind: KindTransient, Code: "SERVER_ERROR", Cause: err}

	case f.Status == 401 || code == "invalid_api_key" || code == "unauthorized":
		return &ClassifiedError{Kind: KindTerminal, Code: "INVALID_API_KEY", Cause: err}

	case f.Status == 400 || code == "invalid_request_error" || code == "invalid_request":
		return &ClassifiedError{Kind: KindTerminal, Code: "INVALID_REQUEST", Cause: err}

	case f.Status == 404 || code == "not_found":
		if strings.Contains(msg, "model") {
			return &ClassifiedError{Kind: KindTerminal, Code: "INVALID_MODEL", Cause: err}
		}
		return &ClassifiedError{Kind: KindTerminal, Code: "NOT_FOUND", Cause: err}

	case code == "content_policy_violation" || code == "content_filter" ||
		strings.Contains(msg, "content policy") || strings.Contains(msg, "content filter"):
		return &ClassifiedError{Kind: KindTerminal, Code: "CONTENT_POLICY_VIOLATION", Cause: err}

	default:
		outCode := f.Code
		if outCode == "" {
			outCode = "UNKNOWN"
		}
		return &ClassifiedError{Kind: KindTerminal, Code: outCode, Cause: err}
	}
}

var networkCodes = map[string]bool{
	"econnreset":   true,
	"etimedout":    true,
	"econnrefused": true,
	"enotfound":    true,
	"eai_again":    true,
	"enetunreach":  true,
	"ehostunreach": true,
}

func isNetworkCode(code string) bool {
	return networkCodes[code]
}
