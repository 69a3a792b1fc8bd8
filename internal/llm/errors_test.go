package llm

import (
	"testing"
)

func TestClassifyRateLimit(t *testing.T) {
	err := Classify(ProviderFailure{Status: 429, RetryAfterSeconds: 2})
	if err.Kind != KindTransient || err.Code != "RATE_LIMIT" {
		t.Fatalf("expected Transient{RATE_LIMIT}, got %+v", err)
	}
	if err.RetryAfterMs != 2000 {
		t.Fatalf("expected retryAfterMs=2000, got %d", err.RetryAfterMs)
	}
}

func TestClassifyRateLimitByCode(t *testing.T) {
	err := Classify(ProviderFailure{Code: "rate_limit_exceeded"})
	if err.Kind != KindTransient || err.Code != "RATE_LIMIT" {
		t.Fatalf("expected Transient{RATE_LIMIT}, got %+v", err)
	}
}

func TestClassifyNetworkCodes(t *testing.T) {
	for _, code := range []string{"ECONNRESET", "ETIMEDOUT", "ECONNREFUSED", "ENOTFOUND", "EAI_AGAIN", "ENETUNREACH", "EHOSTUNREACH"} {
		err := Classify(ProviderFailure{Code: code})
		if err.Kind != KindTransient || err.Code != "NETWORK_ERROR" {
			t.Errorf("code %s: expected Transient{NETWORK_ERROR}, got %+v", code, err)
		}
	}
}

func TestClassifyTimeoutByMessage(t *testing.T) {
	err := Classify(ProviderFailure{Message: "request timed out"})
	if err.Kind != KindTransient || err.Code != "TIMEOUT" {
		t.Fatalf("expected Transient{TIMEOUT}, got %+v", err)
	}
}

func TestClassifyServerError(t *testing.T) {
	for _, status := range []int{500, 502, 503, 504} {
		err := Classify(ProviderFailure{Status: status})
		if err.Kind != KindTransient || err.Code != "SERVER_ERROR" {
			t.Errorf("status %d: expected Transient{SERVER_ERROR}, got %+v", status, err)
		}
	}
}

func TestClassifyInvalidAPIKey(t *testing.T) {
	err := Classify(ProviderFailure{Status: 401})
	if err.Kind != KindTerminal || err.Code != "INVALID_API_KEY" {
		t.Fatalf("expected Terminal{INVALID_API_KEY}, got %+v", err)
	}
}

func TestClassifyInvalidRequest(t *testing.T) {
	err := Classify(ProviderFailure{Status: 400})
	if err.Kind != KindTerminal || err.Code != "INVALID_REQUEST" {
		t.Fatalf("expected Terminal{INVALID_REQUEST}, got %+v", err)
	}
}

func TestClassifyNotFoundVsInvalidModel(t *testing.T) {
	notFound := Classify(ProviderFailure{Status: 404, Message: "resource missing"})
	if notFound.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %+v", notFound)
	}
	invalidModel := Classify(ProviderFailure{Status: 404, Message: "model claude-x does not exist"})
	if invalidModel.Code != "INVALID_MODEL" {
		t.Fatalf("expected INVALID_MODEL, got %+v", invalidModel)
	}
}

func TestClassifyContentPolicy(t *testing.T) {
	err := Classify(ProviderFailure{Code: "content_policy_violation"})
	if err.Kind != KindTerminal || err.Code != "CONTENT_POLICY_VIOLATION" {
		t.Fatalf("expected Terminal{CONTENT_POLICY_VIOLATION}, got %+v", err)
	}
}

func TestClassifyUnknownFallsBackToTerminal(t *testing.T) {
	err := Classify(ProviderFailure{Message: "something unexpected"})
	if err.Kind != KindTerminal || err.Code != "UNKNOWN" {
		t.Fatalf("expected Terminal{UNKNOWN}, got %+v", err)
	}
}

func TestIsTransientHelper(t *testing.T) {
	if !IsTransient(Classify(ProviderFailure{Status: 503})) {
		t.Fatalf("expected a 503 to classify as transient")
	}
	if IsTransient(Classify(ProviderFailure{Status: 401})) {
		t.Fatalf("expected a 401 to classify as terminal")
	}
}
